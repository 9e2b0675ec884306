package snapshot

import (
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/serroba/collab-engine/internal/room"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// snapshotRow is the gorm model backing the SQLite store.
type snapshotRow struct {
	ID        string    `gorm:"primaryKey;column:id"`
	RoomID    string    `gorm:"index;column:room_id"`
	Version   int       `gorm:"column:version"`
	Payload   string    `gorm:"column:payload"`
	CreatedBy string    `gorm:"column:created_by"`
	CreatedAt time.Time `gorm:"index;column:created_at"`
	SizeBytes int       `gorm:"column:size_bytes"`
}

// TableName names the backing table.
func (snapshotRow) TableName() string { return "room_snapshots" }

// OpenSQLite establishes a SQLite connection and migrates the snapshot schema.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("snapshot database initialized", zap.String("path", path))
	}

	return db, nil
}

// SQLiteStore persists snapshots to SQLite through gorm, so room state
// survives process restarts.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
	clock  func() time.Time
}

// NewSQLiteStore creates a SQLite-backed snapshot store over an open
// connection (see OpenSQLite).
func NewSQLiteStore(db *gorm.DB, logger *zap.Logger) *SQLiteStore {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SQLiteStore{db: db, logger: logger, clock: time.Now}
}

// Create encodes state and inserts it under a fresh snapshot ID.
func (s *SQLiteStore) Create(roomID string, state *room.State, createdBy string, version int) (string, error) {
	payload, err := encodeState(state)
	if err != nil {
		return "", err
	}

	row := snapshotRow{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Version:   version,
		Payload:   payload,
		CreatedBy: createdBy,
		CreatedAt: s.clock(),
		SizeBytes: len(payload),
	}

	if err := s.db.Create(&row).Error; err != nil {
		return "", err
	}

	s.logger.Info("snapshot created",
		zap.String("snapshot_id", row.ID),
		zap.String("room_id", roomID),
		zap.Int("version", version))

	return row.ID, nil
}

// Get returns the fully decoded snapshot.
func (s *SQLiteStore) Get(id string) (Snapshot, error) {
	var row snapshotRow

	err := s.db.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}

	return s.decode(row), nil
}

// Latest returns the newest snapshot for the room by (created_at, version).
func (s *SQLiteStore) Latest(roomID string) (Snapshot, error) {
	var row snapshotRow

	err := s.db.Where("room_id = ?", roomID).
		Order("created_at DESC, version DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}

	return s.decode(row), nil
}

// List returns snapshot metadata for the room, newest first.
func (s *SQLiteStore) List(roomID string, limit, offset int) ([]Metadata, error) {
	query := s.db.Model(&snapshotRow{}).
		Select("id", "room_id", "version", "created_by", "created_at", "size_bytes").
		Where("room_id = ?", roomID).
		Order("created_at DESC, version DESC").
		Offset(offset)

	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []snapshotRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	metas := make([]Metadata, 0, len(rows))
	for _, row := range rows {
		metas = append(metas, Metadata{
			ID:        row.ID,
			RoomID:    row.RoomID,
			Version:   row.Version,
			CreatedBy: row.CreatedBy,
			CreatedAt: row.CreatedAt,
			SizeBytes: row.SizeBytes,
		})
	}

	return metas, nil
}

// Delete removes a snapshot.
func (s *SQLiteStore) Delete(id string) error {
	result := s.db.Where("id = ?", id).Delete(&snapshotRow{})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrSnapshotNotFound
	}

	return nil
}

// Compact keeps only the keepCount most recent snapshots for the room.
func (s *SQLiteStore) Compact(roomID string, keepCount int) (int, error) {
	var ids []string

	err := s.db.Model(&snapshotRow{}).
		Select("id").
		Where("room_id = ?", roomID).
		Order("created_at DESC, version DESC").
		Offset(keepCount).
		Find(&ids).Error
	if err != nil {
		return 0, err
	}

	if len(ids) == 0 {
		return 0, nil
	}

	result := s.db.Where("id IN ?", ids).Delete(&snapshotRow{})
	if result.Error != nil {
		return 0, result.Error
	}

	return int(result.RowsAffected), nil
}

// PurgeOlderThan deletes snapshots past the retention age across all rooms.
func (s *SQLiteStore) PurgeOlderThan(maxAge time.Duration) (int, error) {
	cutoff := s.clock().Add(-maxAge)

	result := s.db.Where("created_at < ?", cutoff).Delete(&snapshotRow{})
	if result.Error != nil {
		return 0, result.Error
	}

	return int(result.RowsAffected), nil
}

// Rooms returns the distinct room IDs with stored snapshots.
func (s *SQLiteStore) Rooms() ([]string, error) {
	var rooms []string

	err := s.db.Model(&snapshotRow{}).
		Distinct("room_id").
		Pluck("room_id", &rooms).Error
	if err != nil {
		return nil, err
	}

	return rooms, nil
}

// Stats reports aggregate storage usage.
func (s *SQLiteStore) Stats() (Stats, error) {
	var stats Stats

	row := s.db.Model(&snapshotRow{}).
		Select("COUNT(*) AS total_snapshots, COALESCE(SUM(size_bytes), 0) AS total_bytes, COUNT(DISTINCT room_id) AS room_count").
		Row()

	if err := row.Scan(&stats.TotalSnapshots, &stats.TotalBytes, &stats.RoomCount); err != nil {
		return Stats{}, err
	}

	return stats, nil
}

// decode builds a full Snapshot from a row, degrading to an empty state on
// payload corruption.
func (s *SQLiteStore) decode(row snapshotRow) Snapshot {
	state, err := decodeState(row.Payload)
	if err != nil {
		s.logger.Warn("snapshot decode failed, using empty state",
			zap.String("snapshot_id", row.ID),
			zap.String("room_id", row.RoomID),
			zap.Error(err))

		state = emptyState(row.RoomID, s.clock())
	}

	return Snapshot{
		ID:        row.ID,
		RoomID:    row.RoomID,
		Version:   row.Version,
		State:     state,
		CreatedBy: row.CreatedBy,
		CreatedAt: row.CreatedAt,
		SizeBytes: row.SizeBytes,
	}
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
