// Package retention runs the periodic sweep that evicts screenshots older
// than the configured retention window. It wraps the same gocron scheduler
// the teacher uses for cron-scheduled backup jobs, but with a single
// fixed-interval job rather than per-policy cron expressions.
package retention

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/remoshot/coordinator/internal/imagestore"
)

// sweepInterval is how often the sweeper checks for expired images,
// matching the original Rust implementation's fixed tick
// (original_source/remoshot-server/src/cleanup.rs).
const sweepInterval = 60 * time.Second

// Sweeper periodically evicts images older than its retention window from an
// imagestore.Store.
type Sweeper struct {
	cron   gocron.Scheduler
	store  *imagestore.Store
	window time.Duration
	logger *zap.Logger
}

// New creates a Sweeper that evicts images older than window, checking every
// sweepInterval. Call Start to begin running.
func New(store *imagestore.Store, window time.Duration, logger *zap.Logger) (*Sweeper, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("retention: creating scheduler: %w", err)
	}

	return &Sweeper{
		cron:   cron,
		store:  store,
		window: window,
		logger: logger.Named("retention"),
	}, nil
}

// Start schedules the recurring sweep job and starts the underlying
// scheduler. Safe to call once; call Stop to shut down.
func (s *Sweeper) Start() error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(sweepInterval),
		gocron.NewTask(s.sweepOnce),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("retention: scheduling sweep job: %w", err)
	}

	s.logger.Info("retention sweeper started",
		zap.Duration("window", s.window),
		zap.Duration("interval", sweepInterval),
	)
	s.cron.Start()
	return nil
}

// Stop gracefully shuts down the scheduler, waiting for an in-flight sweep
// to finish.
func (s *Sweeper) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("retention: shutdown: %w", err)
	}
	s.logger.Info("retention sweeper stopped")
	return nil
}

// sweepOnce runs a single sweep pass, logging what it evicted.
func (s *Sweeper) sweepOnce() {
	cutoff := time.Now().Add(-s.window)
	evicted := s.store.Sweep(cutoff, func(path string, err error) {
		s.logger.Warn("retention: failed to delete expired image",
			zap.String("path", path),
			zap.Error(err),
		)
	})
	if evicted > 0 {
		s.logger.Info("retention sweep complete",
			zap.Int("evicted", evicted),
			zap.Int("remaining", s.store.Count()),
		)
	}
}
