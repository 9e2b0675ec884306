package state

import (
	"fmt"

	"github.com/serroba/collab-engine/internal/room"
)

// The comment-threading mutators below run under the same per-room mutex as
// Apply but sit outside the nine logged operation types: they do not append
// to the operation log or advance the room version.

// ResolveComment marks a comment resolved with an optional free-text note.
// Resolution is one-way and does not cascade to replies.
func (m *Manager) ResolveComment(roomID, commentID, userID, note string) (room.Comment, error) {
	e := m.entry(roomID)

	e.mu.Lock()
	defer e.mu.Unlock()

	m.initLocked(e, roomID)

	idx := e.state.CommentIndex(commentID)
	if idx < 0 {
		return room.Comment{}, fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
	}

	comment := &e.state.Comments[idx]
	comment.Resolved = true
	comment.ResolvedBy = userID

	if note != "" {
		comment.ResolutionNote = note
	}

	comment.UpdatedAt = m.clock()

	return *comment, nil
}

// AddReaction records a reaction by a user on a comment. The symbol must be
// one of the enumerated reactions; adding the same reaction twice is
// idempotent.
func (m *Manager) AddReaction(roomID, commentID, symbol, userID string) (room.Comment, error) {
	if !room.ValidReaction(symbol) {
		return room.Comment{}, fmt.Errorf("reaction %q: %w", symbol, ErrInvalidInput)
	}

	e := m.entry(roomID)

	e.mu.Lock()
	defer e.mu.Unlock()

	m.initLocked(e, roomID)

	idx := e.state.CommentIndex(commentID)
	if idx < 0 {
		return room.Comment{}, fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
	}

	comment := &e.state.Comments[idx]
	if comment.Reactions == nil {
		comment.Reactions = map[string][]string{}
	}

	for _, existing := range comment.Reactions[symbol] {
		if existing == userID {
			return cloneComment(comment), nil
		}
	}

	comment.Reactions[symbol] = append(comment.Reactions[symbol], userID)

	return cloneComment(comment), nil
}

// RemoveReaction removes a user's reaction from a comment. Removing a
// reaction the user never added is a no-op success.
func (m *Manager) RemoveReaction(roomID, commentID, symbol, userID string) (room.Comment, error) {
	e := m.entry(roomID)

	e.mu.Lock()
	defer e.mu.Unlock()

	m.initLocked(e, roomID)

	idx := e.state.CommentIndex(commentID)
	if idx < 0 {
		return room.Comment{}, fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
	}

	comment := &e.state.Comments[idx]

	users := comment.Reactions[symbol]
	for i, existing := range users {
		if existing == userID {
			comment.Reactions[symbol] = append(users[:i], users[i+1:]...)

			break
		}
	}

	return cloneComment(comment), nil
}

// cloneComment copies a comment so callers cannot alias live state.
func cloneComment(c *room.Comment) room.Comment {
	out := *c

	if c.Reactions != nil {
		out.Reactions = make(map[string][]string, len(c.Reactions))
		for symbol, users := range c.Reactions {
			out.Reactions[symbol] = append([]string(nil), users...)
		}
	}

	if c.Mentions != nil {
		out.Mentions = append([]string(nil), c.Mentions...)
	}

	return out
}
