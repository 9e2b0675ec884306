package snapshot

import (
	"errors"
	"time"

	"github.com/serroba/collab-engine/internal/room"
)

// Common errors.
var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// Snapshot is a point-in-time capture of a room's state, fully decoded.
type Snapshot struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"room_id"`
	Version   int         `json:"version"`
	State     *room.State `json:"state"`
	CreatedBy string      `json:"created_by"`
	CreatedAt time.Time   `json:"created_at"`
	SizeBytes int         `json:"size_bytes"`
}

// Metadata describes a stored snapshot without its state payload. Listing
// returns metadata only so response size stays bounded.
type Metadata struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Version   int       `json:"version"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int       `json:"size_bytes"`
}

// Stats aggregates storage usage across all rooms.
type Stats struct {
	TotalSnapshots int   `json:"total_snapshots"`
	TotalBytes     int64 `json:"total_size_bytes"`
	RoomCount      int   `json:"rooms_with_snapshots"`
}

// Store persists versioned room state blobs. Implementations must be safe
// for concurrent use by multiple rooms; every write and read is keyed by an
// independent snapshot ID.
type Store interface {
	// Create encodes state and stores it, returning a fresh snapshot ID.
	Create(roomID string, state *room.State, createdBy string, version int) (string, error)

	// Get returns the fully decoded snapshot.
	// Returns ErrSnapshotNotFound if absent.
	Get(id string) (Snapshot, error)

	// Latest returns the snapshot with the greatest (created_at, version)
	// for the room. Returns ErrSnapshotNotFound if the room has none.
	Latest(roomID string) (Snapshot, error)

	// List returns snapshot metadata for the room, newest first, paginated.
	List(roomID string, limit, offset int) ([]Metadata, error)

	// Delete removes a snapshot. Returns ErrSnapshotNotFound if absent.
	Delete(id string) error

	// Compact retains only the keepCount most recent snapshots for the room
	// and deletes the rest, returning the number deleted.
	Compact(roomID string, keepCount int) (int, error)

	// PurgeOlderThan deletes every snapshot older than maxAge regardless of
	// room, returning the number deleted.
	PurgeOlderThan(maxAge time.Duration) (int, error)

	// Rooms returns the distinct room IDs that have stored snapshots.
	Rooms() ([]string, error)

	// Stats reports aggregate storage usage.
	Stats() (Stats, error)
}
