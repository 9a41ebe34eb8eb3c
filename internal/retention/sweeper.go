// Package retention prunes aged records from the event stores on a fixed
// interval so the in-memory dataset stays inside the 30-day rolling window.
package retention

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lenko-d/workforce-monitoring-agent/internal/observability"
)

// Pruner is the slice of the engine the sweeper needs.
type Pruner interface {
	SweepOlderThan(cutoff time.Time) map[string]int
}

// Config configures the sweeper.
type Config struct {
	Interval time.Duration `yaml:"interval"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// DefaultConfig sweeps every five minutes with a 30-day horizon.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		MaxAge:   30 * 24 * time.Hour,
	}
}

// Sweeper runs the periodic retention sweep. Sweeps never overlap; a tick
// arriving while a sweep is still running is skipped and retried at the next
// interval.
type Sweeper struct {
	cfg     Config
	pruner  Pruner
	metrics *observability.Metrics
	logger  *zap.Logger
	mu      sync.Mutex
	now     func() time.Time
}

// New creates a sweeper. metrics may be nil.
func New(cfg Config, pruner Pruner, metrics *observability.Metrics, logger *zap.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		cfg:     cfg,
		pruner:  pruner,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Run blocks until ctx is canceled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("retention sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("max_age", s.cfg.MaxAge))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce performs a single sweep. It reports false if a sweep was already
// in progress and this one was skipped.
func (s *Sweeper) SweepOnce() bool {
	if !s.mu.TryLock() {
		s.logger.Warn("sweep still in progress, skipping tick")
		return false
	}
	defer s.mu.Unlock()

	start := s.now()
	cutoff := start.Add(-s.cfg.MaxAge)
	removed := s.pruner.SweepOlderThan(cutoff)

	total := 0
	for _, n := range removed {
		total += n
	}
	elapsed := s.now().Sub(start)
	if s.metrics != nil {
		s.metrics.SweepDuration.Observe(elapsed.Seconds())
	}
	if total > 0 {
		s.logger.Info("retention sweep completed",
			zap.Time("cutoff", cutoff),
			zap.Int("removed", total),
			zap.Duration("elapsed", elapsed))
	}
	return true
}
