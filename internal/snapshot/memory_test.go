package snapshot_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/serroba/collab-engine/internal/room"
	"github.com/serroba/collab-engine/internal/snapshot"
)

const testRoomID = "room1"

func stateAtVersion(version int) *room.State {
	st := room.NewState(testRoomID, time.Now())
	st.Version = version
	st.Segments = append(st.Segments, room.Segment{
		ID:   fmt.Sprintf("s%d", version),
		Text: fmt.Sprintf("text at v%d", version),
	})

	return st
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	store := snapshot.NewMemoryStore(nil)

	id, err := store.Create(testRoomID, stateAtVersion(3), "user1", 3)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	snap, err := store.Get(id)
	require.NoError(t, err)
	require.Equal(t, testRoomID, snap.RoomID)
	require.Equal(t, 3, snap.Version)
	require.Equal(t, "user1", snap.CreatedBy)
	require.Equal(t, "text at v3", snap.State.Segments[0].Text)
	require.Positive(t, snap.SizeBytes)
}

func TestMemoryStore_GetUnknown(t *testing.T) {
	t.Parallel()

	store := snapshot.NewMemoryStore(nil)

	_, err := store.Get("missing")
	require.ErrorIs(t, err, snapshot.ErrSnapshotNotFound)

	_, err = store.Latest(testRoomID)
	require.ErrorIs(t, err, snapshot.ErrSnapshotNotFound)

	require.ErrorIs(t, store.Delete("missing"), snapshot.ErrSnapshotNotFound)
}

func TestMemoryStore_LatestPicksNewest(t *testing.T) {
	t.Parallel()

	store := snapshot.NewMemoryStore(nil)

	for v := 1; v <= 3; v++ {
		_, err := store.Create(testRoomID, stateAtVersion(v), "user1", v)
		require.NoError(t, err)
	}

	snap, err := store.Latest(testRoomID)
	require.NoError(t, err)
	require.Equal(t, 3, snap.Version)
}

func TestMemoryStore_ListNewestFirstPaginated(t *testing.T) {
	t.Parallel()

	store := snapshot.NewMemoryStore(nil)

	for v := 1; v <= 5; v++ {
		_, err := store.Create(testRoomID, stateAtVersion(v), "user1", v)
		require.NoError(t, err)
	}

	all, err := store.List(testRoomID, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)

	for i := 1; i < len(all); i++ {
		require.GreaterOrEqual(t, all[i-1].Version, all[i].Version, "list must be newest first")
	}

	page, err := store.List(testRoomID, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, all[1].ID, page[0].ID)

	empty, err := store.List(testRoomID, 10, 99)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestMemoryStore_Compact(t *testing.T) {
	t.Parallel()

	store := snapshot.NewMemoryStore(nil)

	for v := 1; v <= 7; v++ {
		_, err := store.Create(testRoomID, stateAtVersion(v), "user1", v)
		require.NoError(t, err)
	}

	deleted, err := store.Compact(testRoomID, 3)
	require.NoError(t, err)
	require.Equal(t, 4, deleted)

	remaining, err := store.List(testRoomID, 0, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 3)

	// The newest snapshots survive.
	latest, err := store.Latest(testRoomID)
	require.NoError(t, err)
	require.Equal(t, 7, latest.Version)

	// Compacting again is a no-op.
	deleted, err = store.Compact(testRoomID, 3)
	require.NoError(t, err)
	require.Zero(t, deleted)
}

func TestMemoryStore_PurgeOlderThan(t *testing.T) {
	t.Parallel()

	store := snapshot.NewMemoryStore(nil)

	_, err := store.Create(testRoomID, stateAtVersion(1), "user1", 1)
	require.NoError(t, err)

	// Nothing is older than an hour.
	deleted, err := store.PurgeOlderThan(time.Hour)
	require.NoError(t, err)
	require.Zero(t, deleted)

	// Everything is older than a zero-age cutoff.
	deleted, err = store.PurgeOlderThan(-time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
}

func TestMemoryStore_RoomsAndStats(t *testing.T) {
	t.Parallel()

	store := snapshot.NewMemoryStore(nil)

	_, err := store.Create("room1", stateAtVersion(1), "user1", 1)
	require.NoError(t, err)
	_, err = store.Create("room1", stateAtVersion(2), "user1", 2)
	require.NoError(t, err)
	_, err = store.Create("room2", stateAtVersion(1), "user1", 1)
	require.NoError(t, err)

	rooms, err := store.Rooms()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"room1", "room2"}, rooms)

	stats, err := store.Stats()
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalSnapshots)
	require.Equal(t, 2, stats.RoomCount)
	require.Positive(t, stats.TotalBytes)
}

func TestMemoryStore_SnapshotIsIsolatedFromCaller(t *testing.T) {
	t.Parallel()

	store := snapshot.NewMemoryStore(nil)

	st := stateAtVersion(1)
	id, err := store.Create(testRoomID, st, "user1", 1)
	require.NoError(t, err)

	// Mutating the source state after Create must not affect the stored copy.
	st.Segments[0].Text = "mutated"

	snap, err := store.Get(id)
	require.NoError(t, err)
	require.Equal(t, "text at v1", snap.State.Segments[0].Text)
}
