package snapshot

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/serroba/collab-engine/internal/room"
	"go.uber.org/zap"
)

// record holds one stored snapshot: metadata plus the encoded payload.
type record struct {
	meta    Metadata
	payload string
}

// MemoryStore is an in-memory implementation of the Store interface.
// The default backend; state survives only as long as the process.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*record

	logger *zap.Logger
	clock  func() time.Time
}

// NewMemoryStore creates a new in-memory snapshot store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MemoryStore{
		snapshots: make(map[string]*record),
		logger:    logger,
		clock:     time.Now,
	}
}

// Create encodes state and stores it under a fresh snapshot ID.
func (m *MemoryStore) Create(roomID string, state *room.State, createdBy string, version int) (string, error) {
	payload, err := encodeState(state)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[id] = &record{
		meta: Metadata{
			ID:        id,
			RoomID:    roomID,
			Version:   version,
			CreatedBy: createdBy,
			CreatedAt: m.clock(),
			SizeBytes: len(payload),
		},
		payload: payload,
	}

	m.logger.Info("snapshot created",
		zap.String("snapshot_id", id),
		zap.String("room_id", roomID),
		zap.Int("version", version))

	return id, nil
}

// Get returns the fully decoded snapshot.
func (m *MemoryStore) Get(id string) (Snapshot, error) {
	m.mu.RLock()
	rec, ok := m.snapshots[id]
	m.mu.RUnlock()

	if !ok {
		return Snapshot{}, ErrSnapshotNotFound
	}

	return m.decode(rec), nil
}

// Latest returns the newest snapshot for the room by (created_at, version).
func (m *MemoryStore) Latest(roomID string) (Snapshot, error) {
	m.mu.RLock()

	var best *record

	for _, rec := range m.snapshots {
		if rec.meta.RoomID != roomID {
			continue
		}

		if best == nil || newerThan(rec.meta, best.meta) {
			best = rec
		}
	}
	m.mu.RUnlock()

	if best == nil {
		return Snapshot{}, ErrSnapshotNotFound
	}

	return m.decode(best), nil
}

// newerThan orders metadata by (created_at, version).
func newerThan(a, b Metadata) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}

	return a.Version > b.Version
}

// List returns snapshot metadata for the room, newest first.
func (m *MemoryStore) List(roomID string, limit, offset int) ([]Metadata, error) {
	m.mu.RLock()

	metas := make([]Metadata, 0)

	for _, rec := range m.snapshots {
		if rec.meta.RoomID == roomID {
			metas = append(metas, rec.meta)
		}
	}
	m.mu.RUnlock()

	sort.Slice(metas, func(i, j int) bool {
		return newerThan(metas[i], metas[j])
	})

	return paginate(metas, limit, offset), nil
}

// paginate applies positional limit/offset to a metadata slice.
func paginate(metas []Metadata, limit, offset int) []Metadata {
	if offset >= len(metas) {
		return []Metadata{}
	}

	metas = metas[offset:]

	if limit > 0 && limit < len(metas) {
		metas = metas[:limit]
	}

	return metas
}

// Delete removes a snapshot.
func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.snapshots[id]; !ok {
		return ErrSnapshotNotFound
	}

	delete(m.snapshots, id)

	return nil
}

// Compact keeps only the keepCount most recent snapshots for the room.
func (m *MemoryStore) Compact(roomID string, keepCount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metas := make([]Metadata, 0)

	for _, rec := range m.snapshots {
		if rec.meta.RoomID == roomID {
			metas = append(metas, rec.meta)
		}
	}

	if len(metas) <= keepCount {
		return 0, nil
	}

	sort.Slice(metas, func(i, j int) bool {
		return newerThan(metas[i], metas[j])
	})

	deleted := 0

	for _, meta := range metas[keepCount:] {
		delete(m.snapshots, meta.ID)
		deleted++
	}

	return deleted, nil
}

// PurgeOlderThan deletes snapshots past the retention age across all rooms.
func (m *MemoryStore) PurgeOlderThan(maxAge time.Duration) (int, error) {
	cutoff := m.clock().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0

	for id, rec := range m.snapshots {
		if rec.meta.CreatedAt.Before(cutoff) {
			delete(m.snapshots, id)
			deleted++
		}
	}

	return deleted, nil
}

// Rooms returns the distinct room IDs with stored snapshots.
func (m *MemoryStore) Rooms() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	rooms := make([]string, 0)

	for _, rec := range m.snapshots {
		if _, ok := seen[rec.meta.RoomID]; !ok {
			seen[rec.meta.RoomID] = struct{}{}
			rooms = append(rooms, rec.meta.RoomID)
		}
	}

	return rooms, nil
}

// Stats reports aggregate storage usage.
func (m *MemoryStore) Stats() (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{TotalSnapshots: len(m.snapshots)}
	rooms := make(map[string]struct{})

	for _, rec := range m.snapshots {
		stats.TotalBytes += int64(rec.meta.SizeBytes)
		rooms[rec.meta.RoomID] = struct{}{}
	}

	stats.RoomCount = len(rooms)

	return stats, nil
}

// decode builds a full Snapshot from a record, falling back to an empty
// state when the payload cannot be parsed. Corruption degrades, never
// crashes a room.
func (m *MemoryStore) decode(rec *record) Snapshot {
	state, err := decodeState(rec.payload)
	if err != nil {
		m.logger.Warn("snapshot decode failed, using empty state",
			zap.String("snapshot_id", rec.meta.ID),
			zap.String("room_id", rec.meta.RoomID),
			zap.Error(err))

		state = emptyState(rec.meta.RoomID, m.clock())
	}

	return Snapshot{
		ID:        rec.meta.ID,
		RoomID:    rec.meta.RoomID,
		Version:   rec.meta.Version,
		State:     state,
		CreatedBy: rec.meta.CreatedBy,
		CreatedAt: rec.meta.CreatedAt,
		SizeBytes: rec.meta.SizeBytes,
	}
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
