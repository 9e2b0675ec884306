package snapshot

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SweepConfig tunes the background retention sweep.
type SweepConfig struct {
	Interval  time.Duration // how often the sweep runs
	KeepCount int           // snapshots retained per room
	MaxAge    time.Duration // snapshots older than this are purged
}

// DefaultSweepConfig returns the standard retention policy: hourly sweeps,
// ten snapshots per room, seven days maximum age.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:  time.Hour,
		KeepCount: 10,
		MaxAge:    7 * 24 * time.Hour,
	}
}

// Sweeper periodically enforces snapshot retention: per-room keep-count
// compaction plus a global maximum-age purge, whichever is stricter.
type Sweeper struct {
	store  Store
	config SweepConfig
	logger *zap.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSweeper creates a retention sweeper over the given store.
func NewSweeper(store Store, config SweepConfig, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweeper{
		store:  store,
		config: config,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()

	s.logger.Info("snapshot sweeper started",
		zap.Duration("interval", s.config.Interval),
		zap.Int("keep_count", s.config.KeepCount),
		zap.Duration("max_age", s.config.MaxAge))
}

// Stop halts the sweep loop and waits for it to finish.
func (s *Sweeper) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce runs a single retention pass and returns the number of
// snapshots deleted.
func (s *Sweeper) SweepOnce() int {
	deleted := 0

	purged, err := s.store.PurgeOlderThan(s.config.MaxAge)
	if err != nil {
		s.logger.Warn("snapshot age purge failed", zap.Error(err))
	} else {
		deleted += purged
	}

	rooms, err := s.store.Rooms()
	if err != nil {
		s.logger.Warn("snapshot room listing failed", zap.Error(err))

		return deleted
	}

	for _, roomID := range rooms {
		compacted, err := s.store.Compact(roomID, s.config.KeepCount)
		if err != nil {
			s.logger.Warn("snapshot compaction failed",
				zap.String("room_id", roomID), zap.Error(err))

			continue
		}

		deleted += compacted
	}

	if deleted > 0 {
		s.logger.Info("snapshot retention sweep", zap.Int("deleted", deleted))
	}

	return deleted
}
