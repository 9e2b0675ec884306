package presence

import (
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Defaults for lease and staleness thresholds.
const (
	DefaultLockTTL    = 5 * time.Minute
	DefaultStaleAfter = 5 * time.Minute
)

// userColors is the palette assigned deterministically by user ID so a
// user's color is stable across reconnects.
var userColors = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7",
	"#DDA0DD", "#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E9",
}

// UserInfo is the caller-supplied identity attached to a presence entry.
// The tracker does not authenticate; these are display values.
type UserInfo struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Color    string `json:"color,omitempty"`
}

// Entry is the presence record for one user in one room.
type Entry struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
	Color    string    `json:"color"`
	JoinedAt time.Time `json:"joined_at"`
	LastSeen time.Time `json:"last_seen"`
	IsTyping bool      `json:"is_typing"`
}

// Lock is a short-lived advisory mutual-exclusion lease over a named
// resource. Expired locks are passively invalid.
type Lock struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Resource   string    `json:"resource"`
	LockType   string    `json:"lock_type"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// JoinResult reports the room roster after a join.
type JoinResult struct {
	RoomID      string   `json:"room_id"`
	UserID      string   `json:"user_id"`
	ActiveUsers []string `json:"active_users"`
	UserCount   int      `json:"user_count"`
}

// LeaveResult reports the room roster after a leave.
type LeaveResult struct {
	RoomID      string   `json:"room_id"`
	UserID      string   `json:"user_id"`
	ActiveUsers []string `json:"active_users"`
	UserCount   int      `json:"user_count"`
}

// AcquireResult reports the outcome of a lock acquisition. On conflict,
// LockedBy and ExpiresAt describe the current holder so the caller can show
// "locked by X until T".
type AcquireResult struct {
	Acquired  bool      `json:"acquired"`
	LockID    string    `json:"lock_id,omitempty"`
	Resource  string    `json:"resource"`
	LockType  string    `json:"lock_type,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	LockedBy  string    `json:"locked_by,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// ReleaseResult reports the outcome of a lock release.
type ReleaseResult struct {
	Released bool   `json:"released"`
	Resource string `json:"resource"`
	Reason   string `json:"reason,omitempty"`
}

// RenewResult reports the outcome of a lock renewal.
type RenewResult struct {
	Renewed   bool      `json:"renewed"`
	Resource  string    `json:"resource"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// RoomPresence is the read-time view of a room: active users, cursors,
// selections, and only the currently valid locks.
type RoomPresence struct {
	RoomID      string                     `json:"room_id"`
	ActiveUsers []Entry                    `json:"active_users"`
	UserCount   int                        `json:"user_count"`
	Cursors     map[string]json.RawMessage `json:"cursor_positions"`
	Selections  map[string]json.RawMessage `json:"selection_ranges"`
	Locks       map[string]Lock            `json:"soft_locks"`
	LastUpdated time.Time                  `json:"last_updated"`
}

// GlobalStats aggregates presence across all rooms.
type GlobalStats struct {
	TotalActiveUsers int            `json:"total_active_users"`
	TotalRooms       int            `json:"total_rooms"`
	TotalLocks       int            `json:"total_locks"`
	RoleCounts       map[string]int `json:"role_distribution"`
	Timestamp        time.Time      `json:"timestamp"`
}

// Tracker manages per-room presence entries, cursor/selection positions,
// and soft locks. Nothing here is authoritative document state; loss on
// crash is acceptable.
type Tracker struct {
	mu         sync.Mutex
	users      map[string]map[string]*Entry          // room -> user -> entry
	cursors    map[string]map[string]json.RawMessage // room -> user -> position
	selections map[string]map[string]json.RawMessage // room -> user -> range
	locks      map[string]map[string]Lock            // room -> resource -> lock

	lockTTL    time.Duration
	staleAfter time.Duration
	clock      func() time.Time
	idgen      func() string
	logger     *zap.Logger
}

// TrackerConfig holds configuration for creating a tracker.
type TrackerConfig struct {
	LockTTL    time.Duration
	StaleAfter time.Duration
	Clock      func() time.Time
	IDGen      func() string
	Logger     *zap.Logger
}

// NewTracker creates a presence tracker. Zero-valued config fields fall
// back to defaults.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.LockTTL == 0 {
		cfg.LockTTL = DefaultLockTTL
	}

	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}

	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Tracker{
		users:      make(map[string]map[string]*Entry),
		cursors:    make(map[string]map[string]json.RawMessage),
		selections: make(map[string]map[string]json.RawMessage),
		locks:      make(map[string]map[string]Lock),
		lockTTL:    cfg.LockTTL,
		staleAfter: cfg.StaleAfter,
		clock:      cfg.Clock,
		idgen:      cfg.IDGen,
		logger:     cfg.Logger,
	}
}

// Join registers (or overwrites) a presence entry and returns the room
// roster. Re-joining with the same user ID updates rather than duplicates.
func (t *Tracker) Join(roomID, userID string, info UserInfo) JoinResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()

	if t.users[roomID] == nil {
		t.users[roomID] = make(map[string]*Entry)
		t.cursors[roomID] = make(map[string]json.RawMessage)
		t.selections[roomID] = make(map[string]json.RawMessage)
		t.locks[roomID] = make(map[string]Lock)
	}

	username := info.Username
	if username == "" {
		username = "Unknown"
	}

	role := info.Role
	if role == "" {
		role = "editor"
	}

	color := info.Color
	if color == "" {
		color = ColorFor(userID)
	}

	t.users[roomID][userID] = &Entry{
		UserID:   userID,
		Username: username,
		Role:     role,
		Color:    color,
		JoinedAt: now,
		LastSeen: now,
	}

	t.logger.Info("user joined room",
		zap.String("room_id", roomID), zap.String("user_id", userID))

	return JoinResult{
		RoomID:      roomID,
		UserID:      userID,
		ActiveUsers: t.activeUserIDs(roomID),
		UserCount:   len(t.users[roomID]),
	}
}

// Leave removes a presence entry, releases every soft lock the user holds
// in the room, and clears their cursor/selection. When the room empties,
// its per-room maps are deleted entirely.
func (t *Tracker) Leave(roomID, userID string) LeaveResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entries, ok := t.users[roomID]; ok {
		delete(entries, userID)
	}

	for resource, lock := range t.locks[roomID] {
		if lock.UserID == userID {
			delete(t.locks[roomID], resource)
		}
	}

	delete(t.cursors[roomID], userID)
	delete(t.selections[roomID], userID)

	if len(t.users[roomID]) == 0 {
		delete(t.users, roomID)
		delete(t.cursors, roomID)
		delete(t.selections, roomID)
		delete(t.locks, roomID)
	}

	t.logger.Info("user left room",
		zap.String("room_id", roomID), zap.String("user_id", userID))

	return LeaveResult{
		RoomID:      roomID,
		UserID:      userID,
		ActiveUsers: t.activeUserIDs(roomID),
		UserCount:   len(t.users[roomID]),
	}
}

// Get returns the presence entry for a user, if present.
func (t *Tracker) Get(roomID, userID string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.users[roomID][userID]
	if !ok {
		return Entry{}, false
	}

	return *entry, true
}

// UpdateCursor overwrites the user's cursor position (last write wins) and
// refreshes their last-seen timestamp.
func (t *Tracker) UpdateCursor(roomID, userID string, position json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cursors[roomID] == nil {
		t.cursors[roomID] = make(map[string]json.RawMessage)
	}

	t.cursors[roomID][userID] = position
	t.touch(roomID, userID)
}

// UpdateSelection overwrites the user's selection range (last write wins)
// and refreshes their last-seen timestamp.
func (t *Tracker) UpdateSelection(roomID, userID string, selection json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.selections[roomID] == nil {
		t.selections[roomID] = make(map[string]json.RawMessage)
	}

	t.selections[roomID][userID] = selection
	t.touch(roomID, userID)
}

// SetTyping updates the typing flag and refreshes last-seen.
func (t *Tracker) SetTyping(roomID, userID string, typing bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.users[roomID][userID]; ok {
		entry.IsTyping = typing
		entry.LastSeen = t.clock()
	}
}

// UpdateInfo overwrites the display identity on an existing entry and
// refreshes last-seen. Empty fields are left unchanged.
func (t *Tracker) UpdateInfo(roomID, userID string, info UserInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.users[roomID][userID]
	if !ok {
		return
	}

	if info.Username != "" {
		entry.Username = info.Username
	}

	if info.Role != "" {
		entry.Role = info.Role
	}

	if info.Color != "" {
		entry.Color = info.Color
	}

	entry.LastSeen = t.clock()
}

// AcquireLock takes a soft lock on a resource. It fails without mutation if
// another user holds a non-expired lock; an expired lock is silently
// displaced.
func (t *Tracker) AcquireLock(roomID, userID, resource, lockType string) AcquireResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()

	if t.locks[roomID] == nil {
		t.locks[roomID] = make(map[string]Lock)
	}

	if existing, ok := t.locks[roomID][resource]; ok {
		if existing.UserID != userID && now.Before(existing.ExpiresAt) {
			return AcquireResult{
				Acquired:  false,
				Resource:  resource,
				LockedBy:  existing.UserID,
				ExpiresAt: existing.ExpiresAt,
				Reason:    "resource is already locked by another user",
			}
		}
	}

	lock := Lock{
		ID:         t.newID(),
		UserID:     userID,
		Resource:   resource,
		LockType:   lockType,
		AcquiredAt: now,
		ExpiresAt:  now.Add(t.lockTTL),
	}
	t.locks[roomID][resource] = lock

	t.logger.Info("soft lock acquired",
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
		zap.String("resource", resource))

	return AcquireResult{
		Acquired:  true,
		LockID:    lock.ID,
		Resource:  resource,
		LockType:  lockType,
		ExpiresAt: lock.ExpiresAt,
	}
}

// ReleaseLock releases a soft lock. Only the holder may release; the lock
// entry is deleted entirely on success.
func (t *Tracker) ReleaseLock(roomID, userID, resource string) ReleaseResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	lock, ok := t.locks[roomID][resource]
	if !ok {
		return ReleaseResult{Released: false, Resource: resource, Reason: "resource not locked"}
	}

	if lock.UserID != userID {
		return ReleaseResult{Released: false, Resource: resource, Reason: "lock not owned by user"}
	}

	delete(t.locks[roomID], resource)

	t.logger.Info("soft lock released",
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
		zap.String("resource", resource))

	return ReleaseResult{Released: true, Resource: resource}
}

// RenewLock extends a held lock by the full TTL from the renewal moment.
// Only the holder may renew.
func (t *Tracker) RenewLock(roomID, userID, resource string) RenewResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	lock, ok := t.locks[roomID][resource]
	if !ok {
		return RenewResult{Renewed: false, Resource: resource, Reason: "resource not locked"}
	}

	if lock.UserID != userID {
		return RenewResult{Renewed: false, Resource: resource, Reason: "lock not owned by user"}
	}

	lock.ExpiresAt = t.clock().Add(t.lockTTL)
	t.locks[roomID][resource] = lock

	return RenewResult{Renewed: true, Resource: resource, ExpiresAt: lock.ExpiresAt}
}

// Snapshot returns the room's presence view. Expired locks are filtered at
// read time, never returned.
func (t *Tracker) Snapshot(roomID string) RoomPresence {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()

	entries := make([]Entry, 0, len(t.users[roomID]))
	for _, entry := range t.users[roomID] {
		entries = append(entries, *entry)
	}

	cursors := make(map[string]json.RawMessage, len(t.cursors[roomID]))
	for userID, position := range t.cursors[roomID] {
		cursors[userID] = position
	}

	selections := make(map[string]json.RawMessage, len(t.selections[roomID]))
	for userID, sel := range t.selections[roomID] {
		selections[userID] = sel
	}

	validLocks := make(map[string]Lock)
	for resource, lock := range t.locks[roomID] {
		if now.Before(lock.ExpiresAt) {
			validLocks[resource] = lock
		}
	}

	return RoomPresence{
		RoomID:      roomID,
		ActiveUsers: entries,
		UserCount:   len(entries),
		Cursors:     cursors,
		Selections:  selections,
		Locks:       validLocks,
		LastUpdated: now,
	}
}

// Stale reports whether a user's last-seen timestamp exceeds the staleness
// threshold. Unknown users are stale.
func (t *Tracker) Stale(roomID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.users[roomID][userID]
	if !ok {
		return true
	}

	return t.clock().Sub(entry.LastSeen) > t.staleAfter
}

// SweepExpiredLocks deletes every expired lock across all rooms and returns
// the number removed.
func (t *Tracker) SweepExpiredLocks() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	removed := 0

	for _, locks := range t.locks {
		for resource, lock := range locks {
			if !now.Before(lock.ExpiresAt) {
				delete(locks, resource)
				removed++
			}
		}
	}

	return removed
}

// Stats aggregates presence across all rooms.
func (t *Tracker) Stats() GlobalStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := GlobalStats{
		TotalRooms: len(t.users),
		RoleCounts: make(map[string]int),
		Timestamp:  t.clock(),
	}

	for _, entries := range t.users {
		stats.TotalActiveUsers += len(entries)

		for _, entry := range entries {
			stats.RoleCounts[entry.Role]++
		}
	}

	for _, locks := range t.locks {
		stats.TotalLocks += len(locks)
	}

	return stats
}

// Touch refreshes a user's last-seen timestamp, keeping the connection out
// of the reaper's reach. Unknown users are ignored.
func (t *Tracker) Touch(roomID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.touch(roomID, userID)
}

// touch refreshes a user's last-seen timestamp. Caller holds the mutex.
func (t *Tracker) touch(roomID, userID string) {
	if entry, ok := t.users[roomID][userID]; ok {
		entry.LastSeen = t.clock()
	}
}

// activeUserIDs lists user IDs in a room. Caller holds the mutex.
func (t *Tracker) activeUserIDs(roomID string) []string {
	ids := make([]string, 0, len(t.users[roomID]))
	for userID := range t.users[roomID] {
		ids = append(ids, userID)
	}

	return ids
}

func (t *Tracker) newID() string {
	if t.idgen != nil {
		return t.idgen()
	}

	return uuid.New().String()
}

// ColorFor deterministically assigns a palette color from the user ID, so
// the color is stable across reconnects.
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))

	return userColors[h.Sum32()%uint32(len(userColors))]
}
