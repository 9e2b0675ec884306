package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/serroba/collab-engine/internal/room"
	"github.com/serroba/collab-engine/internal/snapshot"
	"go.uber.org/zap"
)

// DefaultSnapshotInterval is the operation count between automatic snapshots.
const DefaultSnapshotInterval = 10

// ApplyResult is the outcome of a successfully applied operation.
type ApplyResult struct {
	OperationID string         `json:"operation_id"`
	NewVersion  int            `json:"new_version"`
	Result      map[string]any `json:"result,omitempty"`
}

// roomEntry holds one room's live state and operation log. Its mutex covers
// the whole read-mutate-write span of every apply, so operations on the same
// room are applied as if serialized; operations on different rooms proceed
// independently.
type roomEntry struct {
	mu    sync.Mutex
	state *room.State
	log   []room.Operation
}

// Manager owns the authoritative in-memory state per room. All mutations go
// through Apply (or the comment-threading methods); readers get deep copies.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*roomEntry

	store            snapshot.Store
	snapshotInterval int
	clock            func() time.Time
	idgen            func() string
	logger           *zap.Logger
}

// ManagerConfig holds configuration for creating a manager.
type ManagerConfig struct {
	Store            snapshot.Store
	SnapshotInterval int
	Clock            func() time.Time
	IDGen            func() string
	Logger           *zap.Logger
}

// NewManager creates a state manager over the given snapshot store.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = DefaultSnapshotInterval
	}

	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	if cfg.IDGen == nil {
		cfg.IDGen = func() string { return uuid.New().String() }
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Manager{
		rooms:            make(map[string]*roomEntry),
		store:            cfg.Store,
		snapshotInterval: cfg.SnapshotInterval,
		clock:            cfg.Clock,
		idgen:            cfg.IDGen,
		logger:           cfg.Logger,
	}
}

// entry returns the room's entry, creating an empty container on first use.
func (m *Manager) entry(roomID string) *roomEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.rooms[roomID]
	if !ok {
		e = &roomEntry{}
		m.rooms[roomID] = e
	}

	return e
}

// initLocked loads the room's state if not yet loaded: from the latest
// snapshot when one exists (preserving its version), otherwise a fresh empty
// state at version 1. Idempotent. Caller holds the entry mutex.
func (m *Manager) initLocked(e *roomEntry, roomID string) {
	if e.state != nil {
		return
	}

	snap, err := m.store.Latest(roomID)

	switch {
	case err == nil:
		e.state = snap.State.Clone()
		e.state.RoomID = roomID

		m.logger.Info("room state restored from snapshot",
			zap.String("room_id", roomID),
			zap.String("snapshot_id", snap.ID),
			zap.Int("version", e.state.Version))
	case errors.Is(err, snapshot.ErrSnapshotNotFound):
		e.state = room.NewState(roomID, m.clock())

		m.logger.Info("room state initialized", zap.String("room_id", roomID))
	default:
		// Store trouble must not take the room down; start empty and log.
		m.logger.Warn("snapshot restore failed, starting empty",
			zap.String("room_id", roomID), zap.Error(err))

		e.state = room.NewState(roomID, m.clock())
	}
}

// Initialize loads (or restores) the room's state and returns a copy.
// Calling it again while state is already loaded is a no-op.
func (m *Manager) Initialize(roomID string) *room.State {
	e := m.entry(roomID)

	e.mu.Lock()
	defer e.mu.Unlock()

	m.initLocked(e, roomID)

	return e.state.Clone()
}

// GetState returns a copy of the room's current state, initializing if
// absent.
func (m *Manager) GetState(roomID string) *room.State {
	return m.Initialize(roomID)
}

// Apply executes one operation against the room's state as a single logical
// unit: metadata assignment, dispatch by type, log append, version bump, and
// the periodic snapshot trigger. Failed operations leave the room untouched
// and do not advance the version.
func (m *Manager) Apply(roomID string, op room.Operation, userID string) (ApplyResult, error) {
	if !op.Type.Valid() {
		return ApplyResult{}, fmt.Errorf("%w: %q", ErrUnsupportedOperation, op.Type)
	}

	e := m.entry(roomID)

	e.mu.Lock()
	defer e.mu.Unlock()

	m.initLocked(e, roomID)

	now := m.clock()
	op.ID = m.idgen()
	op.RoomID = roomID
	op.UserID = userID
	op.Timestamp = now

	result, err := m.applyToState(e.state, &op, now)
	if err != nil {
		return ApplyResult{}, err
	}

	e.log = append(e.log, op)
	e.state.Version++
	e.state.Metadata.LastModified = now
	e.state.Metadata.LastModifiedBy = userID

	if e.state.Version%m.snapshotInterval == 0 {
		// Snapshot asynchronously so the caller's response is not blocked.
		st := e.state.Clone()
		version := e.state.Version

		go func() {
			if _, err := m.store.Create(roomID, st, userID, version); err != nil {
				m.logger.Warn("periodic snapshot failed",
					zap.String("room_id", roomID), zap.Error(err))
			}
		}()
	}

	return ApplyResult{
		OperationID: op.ID,
		NewVersion:  e.state.Version,
		Result:      result,
	}, nil
}

// applyToState dispatches an operation to its handler. Handlers validate
// every reference before mutating, so a failed operation cannot leave a
// partial write behind.
func (m *Manager) applyToState(st *room.State, op *room.Operation, now time.Time) (map[string]any, error) {
	switch op.Type {
	case room.OpInsertSegment:
		return m.insertSegment(st, op, now)
	case room.OpUpdateSegment:
		return m.updateSegment(st, op, now)
	case room.OpDeleteSegment:
		return m.deleteSegment(st, op)
	case room.OpAddComment:
		return m.addComment(st, op, now)
	case room.OpUpdateComment:
		return m.updateComment(st, op, now)
	case room.OpDeleteComment:
		return m.deleteComment(st, op)
	case room.OpAddSuggestion:
		return m.addSuggestion(st, op, now)
	case room.OpAcceptSuggestion:
		return m.acceptSuggestion(st, op, now)
	case room.OpRejectSuggestion:
		return m.rejectSuggestion(st, op, now)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedOperation, op.Type)
	}
}

func (m *Manager) insertSegment(st *room.State, op *room.Operation, now time.Time) (map[string]any, error) {
	id := op.SegmentID
	if id == "" {
		id = m.idgen()
	}

	st.Segments = append(st.Segments, room.Segment{
		ID:        id,
		Text:      op.Text,
		Position:  op.Position,
		CreatedAt: now,
		CreatedBy: op.UserID,
		Version:   1,
	})

	return map[string]any{"segment_id": id, "position": op.Position}, nil
}

func (m *Manager) updateSegment(st *room.State, op *room.Operation, now time.Time) (map[string]any, error) {
	idx := st.SegmentIndex(op.SegmentID)
	if idx < 0 {
		return nil, fmt.Errorf("segment %s: %w", op.SegmentID, ErrNotFound)
	}

	seg := &st.Segments[idx]
	seg.Text = op.Text
	seg.Version++
	seg.LastModified = &now
	seg.LastModifiedBy = op.UserID

	return map[string]any{"segment_id": op.SegmentID, "updated": true}, nil
}

func (m *Manager) deleteSegment(st *room.State, op *room.Operation) (map[string]any, error) {
	idx := st.SegmentIndex(op.SegmentID)
	if idx < 0 {
		return nil, fmt.Errorf("segment %s: %w", op.SegmentID, ErrNotFound)
	}

	st.Segments = append(st.Segments[:idx], st.Segments[idx+1:]...)

	return map[string]any{"segment_id": op.SegmentID, "deleted": true}, nil
}

func (m *Manager) addComment(st *room.State, op *room.Operation, now time.Time) (map[string]any, error) {
	if op.Text == "" {
		return nil, fmt.Errorf("comment text must not be empty: %w", ErrInvalidInput)
	}

	if st.SegmentIndex(op.SegmentID) < 0 {
		return nil, fmt.Errorf("segment %s: %w", op.SegmentID, ErrNotFound)
	}

	if op.ParentCommentID != "" {
		parentIdx := st.CommentIndex(op.ParentCommentID)
		if parentIdx < 0 {
			return nil, fmt.Errorf("comment %s: %w", op.ParentCommentID, ErrNotFound)
		}

		// Replies nest exactly one level: a reply's parent must itself be
		// a top-level comment.
		if st.Comments[parentIdx].ParentCommentID != "" {
			return nil, fmt.Errorf("parent %s is itself a reply: %w", op.ParentCommentID, ErrInvalidInput)
		}
	}

	id := op.CommentID
	if id == "" {
		id = m.idgen()
	}

	st.Comments = append(st.Comments, room.Comment{
		ID:              id,
		SegmentID:       op.SegmentID,
		Text:            op.Text,
		AuthorID:        op.UserID,
		ParentCommentID: op.ParentCommentID,
		CreatedAt:       now,
		UpdatedAt:       now,
		Reactions:       map[string][]string{},
		Mentions:        room.ExtractMentions(op.Text),
	})

	return map[string]any{"comment_id": id}, nil
}

func (m *Manager) updateComment(st *room.State, op *room.Operation, now time.Time) (map[string]any, error) {
	idx := st.CommentIndex(op.CommentID)
	if idx < 0 {
		return nil, fmt.Errorf("comment %s: %w", op.CommentID, ErrNotFound)
	}

	comment := &st.Comments[idx]
	comment.Text = op.Text
	comment.Mentions = room.ExtractMentions(op.Text)
	comment.UpdatedAt = now

	return map[string]any{"comment_id": op.CommentID, "updated": true}, nil
}

func (m *Manager) deleteComment(st *room.State, op *room.Operation) (map[string]any, error) {
	idx := st.CommentIndex(op.CommentID)
	if idx < 0 {
		return nil, fmt.Errorf("comment %s: %w", op.CommentID, ErrNotFound)
	}

	st.Comments = append(st.Comments[:idx], st.Comments[idx+1:]...)

	return map[string]any{"comment_id": op.CommentID, "deleted": true}, nil
}

func (m *Manager) addSuggestion(st *room.State, op *room.Operation, now time.Time) (map[string]any, error) {
	if st.SegmentIndex(op.SegmentID) < 0 {
		return nil, fmt.Errorf("segment %s: %w", op.SegmentID, ErrNotFound)
	}

	id := op.SuggestionID
	if id == "" {
		id = m.idgen()
	}

	st.Suggestions = append(st.Suggestions, room.Suggestion{
		ID:            id,
		SegmentID:     op.SegmentID,
		OriginalText:  op.OriginalText,
		SuggestedText: op.SuggestedText,
		AuthorID:      op.UserID,
		Status:        room.SuggestionPending,
		CreatedAt:     now,
	})

	return map[string]any{"suggestion_id": id}, nil
}

func (m *Manager) acceptSuggestion(st *room.State, op *room.Operation, now time.Time) (map[string]any, error) {
	idx := st.SuggestionIndex(op.SuggestionID)
	if idx < 0 {
		return nil, fmt.Errorf("suggestion %s: %w", op.SuggestionID, ErrNotFound)
	}

	sug := &st.Suggestions[idx]
	if sug.Status != room.SuggestionPending {
		return nil, fmt.Errorf("suggestion %s is already %s: %w", op.SuggestionID, sug.Status, ErrConflict)
	}

	sug.Status = room.SuggestionAccepted
	sug.AcceptedAt = &now
	sug.AcceptedBy = op.UserID

	return map[string]any{"suggestion_id": op.SuggestionID, "accepted": true}, nil
}

func (m *Manager) rejectSuggestion(st *room.State, op *room.Operation, now time.Time) (map[string]any, error) {
	idx := st.SuggestionIndex(op.SuggestionID)
	if idx < 0 {
		return nil, fmt.Errorf("suggestion %s: %w", op.SuggestionID, ErrNotFound)
	}

	sug := &st.Suggestions[idx]
	if sug.Status != room.SuggestionPending {
		return nil, fmt.Errorf("suggestion %s is already %s: %w", op.SuggestionID, sug.Status, ErrConflict)
	}

	sug.Status = room.SuggestionRejected
	sug.RejectedAt = &now
	sug.RejectedBy = op.UserID

	return map[string]any{"suggestion_id": op.SuggestionID, "rejected": true}, nil
}

// History returns a positionally paginated slice of the room's operation
// log in original apply order.
func (m *Manager) History(roomID string, limit, offset int) []room.Operation {
	e := m.entry(roomID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if offset >= len(e.log) {
		return []room.Operation{}
	}

	ops := e.log[offset:]
	if limit > 0 && limit < len(ops) {
		ops = ops[:limit]
	}

	out := make([]room.Operation, len(ops))
	copy(out, ops)

	return out
}

// CreateSnapshot forces an immediate snapshot of the room's current state,
// regardless of the interval counter.
func (m *Manager) CreateSnapshot(roomID, userID string) (string, error) {
	e := m.entry(roomID)

	e.mu.Lock()
	defer e.mu.Unlock()

	m.initLocked(e, roomID)

	return m.store.Create(roomID, e.state.Clone(), userID, e.state.Version)
}

// RestoreFromSnapshot replaces the room's in-memory state wholesale with the
// snapshot payload and clears the in-memory operation log. History before
// the restore point is not reconstructed.
// Returns snapshot.ErrSnapshotNotFound when the snapshot ID is unknown.
func (m *Manager) RestoreFromSnapshot(roomID, snapshotID string) error {
	snap, err := m.store.Get(snapshotID)
	if err != nil {
		return err
	}

	e := m.entry(roomID)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = snap.State.Clone()
	e.state.RoomID = roomID
	e.log = nil

	m.logger.Info("room state restored",
		zap.String("room_id", roomID),
		zap.String("snapshot_id", snapshotID),
		zap.Int("version", e.state.Version))

	return nil
}

// Cleanup takes a final forced snapshot and evicts all in-memory state for
// the room. Called when the room's last participant disconnects so memory
// does not grow without bound.
func (m *Manager) Cleanup(roomID string) {
	m.mu.Lock()
	e, ok := m.rooms[roomID]
	delete(m.rooms, roomID)
	m.mu.Unlock()

	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == nil {
		return
	}

	if _, err := m.store.Create(roomID, e.state.Clone(), "system", e.state.Version); err != nil {
		m.logger.Warn("final snapshot failed",
			zap.String("room_id", roomID), zap.Error(err))
	}

	e.state = nil
	e.log = nil

	m.logger.Info("room state evicted", zap.String("room_id", roomID))
}

// RoomCount returns the number of rooms with loaded state.
func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.rooms)
}
