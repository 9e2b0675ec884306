package room

import (
	"regexp"
	"time"
)

// Suggestion status values. Transitions are one-way: pending to accepted
// or pending to rejected.
const (
	SuggestionPending  = "pending"
	SuggestionAccepted = "accepted"
	SuggestionRejected = "rejected"
)

// validReactions is the enumerated set of reaction symbols a comment accepts.
var validReactions = map[string]struct{}{
	"👍": {}, "👎": {}, "❤️": {}, "😂": {}, "😮": {}, "😢": {}, "😡": {},
}

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// Metadata tracks room-level modification bookkeeping.
type Metadata struct {
	CreatedAt      time.Time `json:"created_at"`
	LastModified   time.Time `json:"last_modified"`
	LastModifiedBy string    `json:"last_modified_by,omitempty"`
}

// Segment is one ordered unit of document text within a room.
type Segment struct {
	ID             string     `json:"id"`
	Text           string     `json:"text"`
	Position       int        `json:"position"`
	CreatedAt      time.Time  `json:"created_at"`
	CreatedBy      string     `json:"created_by"`
	Version        int        `json:"version"`
	LastModified   *time.Time `json:"last_modified,omitempty"`
	LastModifiedBy string     `json:"last_modified_by,omitempty"`
}

// Comment is an annotation attached to a segment. A comment with a
// ParentCommentID is a reply; replies nest exactly one level deep.
type Comment struct {
	ID              string              `json:"id"`
	SegmentID       string              `json:"segment_id"`
	Text            string              `json:"text"`
	AuthorID        string              `json:"author_id"`
	ParentCommentID string              `json:"parent_comment_id,omitempty"`
	Resolved        bool                `json:"resolved"`
	ResolvedBy      string              `json:"resolved_by,omitempty"`
	ResolutionNote  string              `json:"resolution_note,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	Reactions       map[string][]string `json:"reactions"`
	Mentions        []string            `json:"mentions,omitempty"`
}

// Suggestion is a proposed replacement for a segment's text.
type Suggestion struct {
	ID            string     `json:"id"`
	SegmentID     string     `json:"segment_id"`
	OriginalText  string     `json:"original_text"`
	SuggestedText string     `json:"suggested_text"`
	AuthorID      string     `json:"author_id"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	AcceptedAt    *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy    string     `json:"accepted_by,omitempty"`
	RejectedAt    *time.Time `json:"rejected_at,omitempty"`
	RejectedBy    string     `json:"rejected_by,omitempty"`
}

// State is the authoritative document state for one collaboration room.
// Version increases by exactly one per successfully applied operation.
type State struct {
	RoomID      string       `json:"room_id"`
	Version     int          `json:"version"`
	Segments    []Segment    `json:"segments"`
	Comments    []Comment    `json:"comments"`
	Suggestions []Suggestion `json:"suggestions"`
	Metadata    Metadata     `json:"metadata"`
}

// NewState constructs an empty room state at version 1.
func NewState(roomID string, now time.Time) *State {
	return &State{
		RoomID:      roomID,
		Version:     1,
		Segments:    []Segment{},
		Comments:    []Comment{},
		Suggestions: []Suggestion{},
		Metadata: Metadata{
			CreatedAt:    now,
			LastModified: now,
		},
	}
}

// Clone returns a deep copy of the state. Snapshots and read accessors use
// clones so callers can never alias the live state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}

	out := &State{
		RoomID:      s.RoomID,
		Version:     s.Version,
		Segments:    make([]Segment, len(s.Segments)),
		Comments:    make([]Comment, len(s.Comments)),
		Suggestions: make([]Suggestion, len(s.Suggestions)),
		Metadata:    s.Metadata,
	}

	copy(out.Segments, s.Segments)
	copy(out.Suggestions, s.Suggestions)

	for i, c := range s.Comments {
		cc := c

		if c.Reactions != nil {
			cc.Reactions = make(map[string][]string, len(c.Reactions))
			for symbol, users := range c.Reactions {
				cc.Reactions[symbol] = append([]string(nil), users...)
			}
		}

		if c.Mentions != nil {
			cc.Mentions = append([]string(nil), c.Mentions...)
		}

		out.Comments[i] = cc
	}

	return out
}

// SegmentIndex returns the index of the segment with the given ID, or -1.
func (s *State) SegmentIndex(id string) int {
	for i := range s.Segments {
		if s.Segments[i].ID == id {
			return i
		}
	}

	return -1
}

// CommentIndex returns the index of the comment with the given ID, or -1.
func (s *State) CommentIndex(id string) int {
	for i := range s.Comments {
		if s.Comments[i].ID == id {
			return i
		}
	}

	return -1
}

// SuggestionIndex returns the index of the suggestion with the given ID, or -1.
func (s *State) SuggestionIndex(id string) int {
	for i := range s.Suggestions {
		if s.Suggestions[i].ID == id {
			return i
		}
	}

	return -1
}

// ExtractMentions returns the @handles referenced in text, in order of
// appearance, without the leading @.
func ExtractMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	mentions := make([]string, 0, len(matches))
	for _, m := range matches {
		mentions = append(mentions, m[1])
	}

	return mentions
}

// ValidReaction reports whether symbol is an accepted reaction.
func ValidReaction(symbol string) bool {
	_, ok := validReactions[symbol]

	return ok
}
