package state_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/serroba/collab-engine/internal/room"
	"github.com/serroba/collab-engine/internal/state"
)

// addComment seeds a segment with one comment and returns the comment ID.
func addComment(t *testing.T, m *state.Manager, text string) string {
	t.Helper()

	segID := insertSegment(t, m, "segment text")

	result, err := m.Apply(testRoomID, room.Operation{
		Type:      room.OpAddComment,
		SegmentID: segID,
		Text:      text,
	}, "author")
	require.NoError(t, err)

	return result.Result["comment_id"].(string)
}

func TestResolveComment(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t)
	commentID := addComment(t, manager, "needs a look")

	before := manager.GetState(testRoomID).Version

	comment, err := manager.ResolveComment(testRoomID, commentID, "reviewer", "fixed in r2")
	require.NoError(t, err)
	require.True(t, comment.Resolved)
	require.Equal(t, "reviewer", comment.ResolvedBy)
	require.Equal(t, "fixed in r2", comment.ResolutionNote)

	// Threading extras do not advance the document version.
	require.Equal(t, before, manager.GetState(testRoomID).Version)
}

func TestResolveComment_WithoutNote(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t)
	commentID := addComment(t, manager, "ok")

	comment, err := manager.ResolveComment(testRoomID, commentID, "reviewer", "")
	require.NoError(t, err)
	require.True(t, comment.Resolved)
	require.Empty(t, comment.ResolutionNote)
}

func TestResolveComment_Unknown(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t)

	_, err := manager.ResolveComment(testRoomID, "missing", "reviewer", "")
	require.ErrorIs(t, err, state.ErrNotFound)
}

func TestAddReaction(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t)
	commentID := addComment(t, manager, "nice")

	comment, err := manager.AddReaction(testRoomID, commentID, "👍", "user1")
	require.NoError(t, err)
	require.Equal(t, []string{"user1"}, comment.Reactions["👍"])

	// Adding the same reaction twice is idempotent.
	comment, err = manager.AddReaction(testRoomID, commentID, "👍", "user1")
	require.NoError(t, err)
	require.Equal(t, []string{"user1"}, comment.Reactions["👍"])

	comment, err = manager.AddReaction(testRoomID, commentID, "👍", "user2")
	require.NoError(t, err)
	require.Len(t, comment.Reactions["👍"], 2)
}

func TestAddReaction_InvalidSymbol(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t)
	commentID := addComment(t, manager, "nice")

	_, err := manager.AddReaction(testRoomID, commentID, "🤖", "user1")
	require.ErrorIs(t, err, state.ErrInvalidInput)
}

func TestRemoveReaction(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t)
	commentID := addComment(t, manager, "nice")

	_, err := manager.AddReaction(testRoomID, commentID, "❤️", "user1")
	require.NoError(t, err)

	comment, err := manager.RemoveReaction(testRoomID, commentID, "❤️", "user1")
	require.NoError(t, err)
	require.Empty(t, comment.Reactions["❤️"])

	// Removing a reaction that was never added is a no-op success.
	_, err = manager.RemoveReaction(testRoomID, commentID, "❤️", "user2")
	require.NoError(t, err)
}

func TestReactionResult_IsACopy(t *testing.T) {
	t.Parallel()

	manager, _ := newManager(t)
	commentID := addComment(t, manager, "nice")

	comment, err := manager.AddReaction(testRoomID, commentID, "👍", "user1")
	require.NoError(t, err)

	comment.Reactions["👍"][0] = "tampered"

	st := manager.GetState(testRoomID)
	require.Equal(t, []string{"user1"}, st.Comments[0].Reactions["👍"])
}
