// Package sweeper runs the dylib runtime's periodic maintenance jobs on a
// robfig/cron/v3 schedule: reclaiming orphaned asset chunks left behind by
// a partially-failed insert, and logging library cache occupancy.
package sweeper

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/goatkit/goatflow/internal/assetstore"
	"github.com/goatkit/goatflow/internal/dylib/cache"
)

// Sweeper owns a cron scheduler running the dylib runtime's background jobs.
type Sweeper struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New creates a Sweeper. logger may be nil, in which case slog.Default is used.
func New(logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{cron: cron.New(), logger: logger}
}

// RegisterOrphanChunkSweep schedules store.SweepOrphanChunks on spec, e.g.
// "@every 1h". Any error it returns is logged, not propagated.
func (s *Sweeper) RegisterOrphanChunkSweep(spec string, store *assetstore.Store) error {
	_, err := s.cron.AddFunc(spec, func() {
		n, err := store.SweepOrphanChunks()
		if err != nil {
			s.logger.Error("orphan chunk sweep failed", "error", err)
			return
		}
		if n > 0 {
			s.logger.Info("orphan chunk sweep removed rows", "count", n)
		}
	})
	return err
}

// RegisterCacheStatsLog schedules a periodic log line reporting the
// library cache's current occupancy, on spec, e.g. "@every 5m".
func (s *Sweeper) RegisterCacheStatsLog(spec string, libCache *cache.Cache) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.logger.Info("plugin library cache stats", "cached_libraries", libCache.Count())
	})
	return err
}

// Start begins running scheduled jobs in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
