package snapshot

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/serroba/collab-engine/internal/room"
)

func TestCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	st := room.NewState("room1", time.Now().UTC())
	st.Version = 7
	st.Segments = append(st.Segments, room.Segment{ID: "s1", Text: "hello"})
	st.Comments = append(st.Comments, room.Comment{
		ID:        "c1",
		SegmentID: "s1",
		Text:      "ping @alice",
		Reactions: map[string][]string{"👍": {"user1"}},
		Mentions:  []string{"alice"},
	})

	payload, err := encodeState(st)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(payload, formatPrefix))

	decoded, err := decodeState(payload)
	require.NoError(t, err)
	require.Equal(t, 7, decoded.Version)
	require.Equal(t, "hello", decoded.Segments[0].Text)
	require.Equal(t, []string{"user1"}, decoded.Comments[0].Reactions["👍"])
}

func TestCodec_RawJSONFallback(t *testing.T) {
	t.Parallel()

	// Rows written before the format tag existed hold bare JSON.
	raw, err := json.Marshal(room.NewState("room1", time.Now()))
	require.NoError(t, err)

	decoded, err := decodeState(string(raw))
	require.NoError(t, err)
	require.Equal(t, "room1", decoded.RoomID)
}

func TestCodec_CorruptPayloads(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{
		formatPrefix + "not-base64!!!",
		formatPrefix + "bm90IGpzb24=", // base64 of "not json"
		"plain garbage",
	} {
		_, err := decodeState(payload)
		require.Error(t, err, "payload %q should fail to decode", payload)
	}
}

func TestEmptyState(t *testing.T) {
	t.Parallel()

	now := time.Now()
	st := emptyState("room1", now)

	require.Equal(t, "room1", st.RoomID)
	require.Equal(t, 1, st.Version)
	require.Empty(t, st.Segments)
}
