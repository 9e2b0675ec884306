package room

import "time"

// OpType identifies the kind of room operation.
type OpType string

// The nine operation types the state manager dispatches on.
const (
	OpInsertSegment    OpType = "insert_segment"
	OpUpdateSegment    OpType = "update_segment"
	OpDeleteSegment    OpType = "delete_segment"
	OpAddComment       OpType = "add_comment"
	OpUpdateComment    OpType = "update_comment"
	OpDeleteComment    OpType = "delete_comment"
	OpAddSuggestion    OpType = "add_suggestion"
	OpAcceptSuggestion OpType = "accept_suggestion"
	OpRejectSuggestion OpType = "reject_suggestion"
)

// Valid reports whether t is one of the recognized operation types.
func (t OpType) Valid() bool {
	switch t {
	case OpInsertSegment, OpUpdateSegment, OpDeleteSegment,
		OpAddComment, OpUpdateComment, OpDeleteComment,
		OpAddSuggestion, OpAcceptSuggestion, OpRejectSuggestion:
		return true
	}

	return false
}

// Operation is one entry in a room's append-only operation log. The ID,
// RoomID, UserID, and Timestamp fields are assigned by the state manager at
// apply time; the remaining fields carry the type-specific payload.
type Operation struct {
	ID        string    `json:"id"`
	Type      OpType    `json:"type"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`

	SegmentID       string `json:"segment_id,omitempty"`
	Text            string `json:"text,omitempty"`
	Position        int    `json:"position,omitempty"`
	CommentID       string `json:"comment_id,omitempty"`
	ParentCommentID string `json:"parent_comment_id,omitempty"`
	SuggestionID    string `json:"suggestion_id,omitempty"`
	OriginalText    string `json:"original_text,omitempty"`
	SuggestedText   string `json:"suggested_text,omitempty"`
}
