package presence_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/serroba/collab-engine/internal/presence"
)

const testRoomID = "room1"

// fakeClock is a manually advanced clock for lease expiry tests.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTracker(clock *fakeClock) *presence.Tracker {
	return presence.NewTracker(presence.TrackerConfig{Clock: clock.Now})
}

func TestJoin_DefaultsAndRoster(t *testing.T) {
	t.Parallel()

	tracker := newTracker(newFakeClock())

	result := tracker.Join(testRoomID, "user1", presence.UserInfo{})
	require.Equal(t, 1, result.UserCount)
	require.Equal(t, []string{"user1"}, result.ActiveUsers)

	entry, ok := tracker.Get(testRoomID, "user1")
	require.True(t, ok)
	require.Equal(t, "Unknown", entry.Username)
	require.Equal(t, "editor", entry.Role)
	require.NotEmpty(t, entry.Color)
}

func TestJoin_RejoinUpdatesInsteadOfDuplicating(t *testing.T) {
	t.Parallel()

	tracker := newTracker(newFakeClock())

	tracker.Join(testRoomID, "user1", presence.UserInfo{Username: "Ada"})
	result := tracker.Join(testRoomID, "user1", presence.UserInfo{Username: "Ada L."})

	require.Equal(t, 1, result.UserCount)

	entry, _ := tracker.Get(testRoomID, "user1")
	require.Equal(t, "Ada L.", entry.Username)
}

func TestLeave_ReleasesLocksAndClearsPresence(t *testing.T) {
	t.Parallel()

	tracker := newTracker(newFakeClock())

	tracker.Join(testRoomID, "user1", presence.UserInfo{})
	tracker.Join(testRoomID, "user2", presence.UserInfo{})

	tracker.UpdateCursor(testRoomID, "user1", json.RawMessage(`{"line":3}`))
	require.True(t, tracker.AcquireLock(testRoomID, "user1", "segment:s1", "edit").Acquired)

	result := tracker.Leave(testRoomID, "user1")
	require.Equal(t, 1, result.UserCount)

	view := tracker.Snapshot(testRoomID)
	require.NotContains(t, view.Cursors, "user1")
	require.NotContains(t, view.Locks, "segment:s1")

	// user2's lock on the same resource now succeeds.
	require.True(t, tracker.AcquireLock(testRoomID, "user2", "segment:s1", "edit").Acquired)
}

func TestLeave_LastUserTearsDownRoom(t *testing.T) {
	t.Parallel()

	tracker := newTracker(newFakeClock())

	tracker.Join(testRoomID, "user1", presence.UserInfo{})
	tracker.Leave(testRoomID, "user1")

	require.Equal(t, 0, tracker.Stats().TotalRooms)
}

func TestAcquireLock_MutualExclusion(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	tracker := newTracker(clock)

	tracker.Join(testRoomID, "user1", presence.UserInfo{})
	tracker.Join(testRoomID, "user2", presence.UserInfo{})

	first := tracker.AcquireLock(testRoomID, "user1", "segment:s1", "edit")
	require.True(t, first.Acquired)
	require.NotEmpty(t, first.LockID)

	second := tracker.AcquireLock(testRoomID, "user2", "segment:s1", "edit")
	require.False(t, second.Acquired)
	require.Equal(t, "user1", second.LockedBy)
	require.Equal(t, first.ExpiresAt, second.ExpiresAt)
	require.NotEmpty(t, second.Reason)

	// The failed attempt must not disturb the holder's lock.
	view := tracker.Snapshot(testRoomID)
	require.Equal(t, "user1", view.Locks["segment:s1"].UserID)
}

func TestAcquireLock_ExpiredLockIsDisplaced(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	tracker := newTracker(clock)

	tracker.Join(testRoomID, "user1", presence.UserInfo{})
	tracker.Join(testRoomID, "user2", presence.UserInfo{})

	require.True(t, tracker.AcquireLock(testRoomID, "user1", "segment:s1", "edit").Acquired)

	clock.Advance(presence.DefaultLockTTL + time.Second)

	result := tracker.AcquireLock(testRoomID, "user2", "segment:s1", "edit")
	require.True(t, result.Acquired, "expired lock should be displaced")
}

func TestReleaseLock_OwnershipEnforced(t *testing.T) {
	t.Parallel()

	tracker := newTracker(newFakeClock())

	tracker.Join(testRoomID, "user1", presence.UserInfo{})
	require.True(t, tracker.AcquireLock(testRoomID, "user1", "segment:s1", "edit").Acquired)

	denied := tracker.ReleaseLock(testRoomID, "user2", "segment:s1")
	require.False(t, denied.Released)
	require.Equal(t, "lock not owned by user", denied.Reason)

	missing := tracker.ReleaseLock(testRoomID, "user1", "segment:other")
	require.False(t, missing.Released)
	require.Equal(t, "resource not locked", missing.Reason)

	ok := tracker.ReleaseLock(testRoomID, "user1", "segment:s1")
	require.True(t, ok.Released)
}

func TestRenewLock_ExtendsFromRenewalMoment(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	tracker := newTracker(clock)

	tracker.Join(testRoomID, "user1", presence.UserInfo{})
	first := tracker.AcquireLock(testRoomID, "user1", "segment:s1", "edit")
	require.True(t, first.Acquired)

	clock.Advance(2 * time.Minute)

	renewed := tracker.RenewLock(testRoomID, "user1", "segment:s1")
	require.True(t, renewed.Renewed)
	require.Equal(t, clock.Now().Add(presence.DefaultLockTTL), renewed.ExpiresAt)

	denied := tracker.RenewLock(testRoomID, "user2", "segment:s1")
	require.False(t, denied.Renewed)
}

func TestSnapshot_FiltersExpiredLocks(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	tracker := newTracker(clock)

	tracker.Join(testRoomID, "user1", presence.UserInfo{})
	require.True(t, tracker.AcquireLock(testRoomID, "user1", "segment:s1", "edit").Acquired)

	clock.Advance(presence.DefaultLockTTL + time.Second)

	view := tracker.Snapshot(testRoomID)
	require.Empty(t, view.Locks, "expired locks must not appear in reads")
	require.Equal(t, 1, view.UserCount)
}

func TestSweepExpiredLocks(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	tracker := newTracker(clock)

	tracker.Join(testRoomID, "user1", presence.UserInfo{})
	require.True(t, tracker.AcquireLock(testRoomID, "user1", "segment:s1", "edit").Acquired)
	require.True(t, tracker.AcquireLock(testRoomID, "user1", "segment:s2", "edit").Acquired)

	require.Equal(t, 0, tracker.SweepExpiredLocks())

	clock.Advance(presence.DefaultLockTTL + time.Second)

	require.Equal(t, 2, tracker.SweepExpiredLocks())
	require.Equal(t, 0, tracker.Stats().TotalLocks)
}

func TestStale(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	tracker := newTracker(clock)

	tracker.Join(testRoomID, "user1", presence.UserInfo{})
	require.False(t, tracker.Stale(testRoomID, "user1"))

	clock.Advance(presence.DefaultStaleAfter + time.Second)
	require.True(t, tracker.Stale(testRoomID, "user1"))

	// Activity refreshes last-seen.
	tracker.Touch(testRoomID, "user1")
	require.False(t, tracker.Stale(testRoomID, "user1"))

	require.True(t, tracker.Stale(testRoomID, "ghost"), "unknown users are stale")
}

func TestUpdateCursorAndSelection_LastWriteWins(t *testing.T) {
	t.Parallel()

	tracker := newTracker(newFakeClock())
	tracker.Join(testRoomID, "user1", presence.UserInfo{})

	tracker.UpdateCursor(testRoomID, "user1", json.RawMessage(`{"line":1}`))
	tracker.UpdateCursor(testRoomID, "user1", json.RawMessage(`{"line":9}`))
	tracker.UpdateSelection(testRoomID, "user1", json.RawMessage(`{"from":0,"to":4}`))

	view := tracker.Snapshot(testRoomID)
	require.JSONEq(t, `{"line":9}`, string(view.Cursors["user1"]))
	require.JSONEq(t, `{"from":0,"to":4}`, string(view.Selections["user1"]))
}

func TestSetTyping(t *testing.T) {
	t.Parallel()

	tracker := newTracker(newFakeClock())
	tracker.Join(testRoomID, "user1", presence.UserInfo{})

	tracker.SetTyping(testRoomID, "user1", true)

	entry, _ := tracker.Get(testRoomID, "user1")
	require.True(t, entry.IsTyping)

	tracker.SetTyping(testRoomID, "user1", false)

	entry, _ = tracker.Get(testRoomID, "user1")
	require.False(t, entry.IsTyping)
}

func TestStats(t *testing.T) {
	t.Parallel()

	tracker := newTracker(newFakeClock())

	tracker.Join("room1", "user1", presence.UserInfo{Role: "editor"})
	tracker.Join("room1", "user2", presence.UserInfo{Role: "viewer"})
	tracker.Join("room2", "user3", presence.UserInfo{Role: "editor"})
	tracker.AcquireLock("room1", "user1", "segment:s1", "edit")

	stats := tracker.Stats()
	require.Equal(t, 3, stats.TotalActiveUsers)
	require.Equal(t, 2, stats.TotalRooms)
	require.Equal(t, 1, stats.TotalLocks)
	require.Equal(t, 2, stats.RoleCounts["editor"])
	require.Equal(t, 1, stats.RoleCounts["viewer"])
}

func TestColorFor_DeterministicAndInPalette(t *testing.T) {
	t.Parallel()

	first := presence.ColorFor("user1")
	require.Equal(t, first, presence.ColorFor("user1"), "color must be stable per user")
	require.Regexp(t, `^#[0-9A-F]{6}$`, first)
}
