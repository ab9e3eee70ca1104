package cache

import (
	"context"
	"log/slog"
	"time"

	"vaultbot/internal/metrics"
)

const (
	defaultSweepInterval = 10 * time.Minute
	defaultRetention     = 30 * time.Minute
)

// Evictable is anything swept on the cache cadence. The "already notified"
// dedup markers share the same TTL discipline as the message store.
type Evictable interface {
	Evict(maxAge time.Duration) int
}

// SweeperConfig configures the periodic eviction sweep.
type SweeperConfig struct {
	Interval  time.Duration
	Retention time.Duration
	Logger    *slog.Logger
}

// Sweeper runs age-based eviction on a fixed interval. The ticker is the
// only automatically retried work in the core; a failed sweep simply runs
// again next tick.
type Sweeper struct {
	interval  time.Duration
	retention time.Duration
	targets   []Evictable
	logger    *slog.Logger
}

// NewSweeper creates a sweeper over the given eviction targets.
func NewSweeper(cfg SweeperConfig, targets ...Evictable) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sweeper{
		interval:  cfg.Interval,
		retention: cfg.Retention,
		targets:   targets,
		logger:    cfg.Logger,
	}
}

// Start begins the sweep loop. Blocks until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("cache sweeper started",
		"interval", s.interval,
		"retention", s.retention,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("cache sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce evicts everything older than the retention window from all
// targets and returns the total removed.
func (s *Sweeper) SweepOnce() int {
	total := 0
	for _, t := range s.targets {
		total += t.Evict(s.retention)
	}
	if total > 0 {
		metrics.CacheEvicted.Add(int64(total))
		s.logger.Debug("cache sweep complete", "removed", total)
	}
	return total
}
