package snapshot_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/serroba/collab-engine/internal/snapshot"
)

func TestSweepOnce_CompactsPerRoom(t *testing.T) {
	t.Parallel()

	store := snapshot.NewMemoryStore(nil)

	for v := 1; v <= 6; v++ {
		_, err := store.Create("room1", stateAtVersion(v), "user1", v)
		require.NoError(t, err)
	}

	for v := 1; v <= 2; v++ {
		_, err := store.Create("room2", stateAtVersion(v), "user1", v)
		require.NoError(t, err)
	}

	sweeper := snapshot.NewSweeper(store, snapshot.SweepConfig{
		Interval:  time.Hour,
		KeepCount: 4,
		MaxAge:    24 * time.Hour,
	}, nil)

	deleted := sweeper.SweepOnce()
	require.Equal(t, 2, deleted, "only room1 exceeds the keep count")

	room1, err := store.List("room1", 0, 0)
	require.NoError(t, err)
	require.Len(t, room1, 4)

	room2, err := store.List("room2", 0, 0)
	require.NoError(t, err)
	require.Len(t, room2, 2)
}

func TestSweepOnce_PurgesByAge(t *testing.T) {
	t.Parallel()

	store := snapshot.NewMemoryStore(nil)

	_, err := store.Create("room1", stateAtVersion(1), "user1", 1)
	require.NoError(t, err)

	sweeper := snapshot.NewSweeper(store, snapshot.SweepConfig{
		Interval:  time.Hour,
		KeepCount: 10,
		MaxAge:    -time.Second, // everything qualifies
	}, nil)

	require.Equal(t, 1, sweeper.SweepOnce())

	_, err = store.Latest("room1")
	require.ErrorIs(t, err, snapshot.ErrSnapshotNotFound)
}

func TestSweeper_StartStop(t *testing.T) {
	t.Parallel()

	store := snapshot.NewMemoryStore(nil)
	sweeper := snapshot.NewSweeper(store, snapshot.DefaultSweepConfig(), nil)

	sweeper.Start()
	sweeper.Stop()
}

func TestDefaultSweepConfig(t *testing.T) {
	t.Parallel()

	cfg := snapshot.DefaultSweepConfig()
	require.Equal(t, time.Hour, cfg.Interval)
	require.Equal(t, 10, cfg.KeepCount)
	require.Equal(t, 7*24*time.Hour, cfg.MaxAge)
}
