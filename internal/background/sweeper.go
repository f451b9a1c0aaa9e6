// Package background runs the periodic decay work that keeps the
// in-memory signal state bounded: expired popularity observations and
// fully-replenished IP credit buckets.
package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/gatewatch/gatewatch/internal/credit"
	"github.com/gatewatch/gatewatch/internal/popularity"
)

// SweepManager periodically expires stale popularity observations and
// idle IP credit buckets.
type SweepManager struct {
	tracker   *popularity.Tracker
	ipLimiter *credit.IPLimiter
	logger    *slog.Logger
	interval  time.Duration
	stopCh    chan struct{}
}

// NewSweepManager creates a new sweep manager
func NewSweepManager(
	tracker *popularity.Tracker,
	ipLimiter *credit.IPLimiter,
	logger *slog.Logger,
	interval time.Duration,
) *SweepManager {
	return &SweepManager{
		tracker:   tracker,
		ipLimiter: ipLimiter,
		logger:    logger,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic sweep task
func (sm *SweepManager) Start(ctx context.Context) {
	ticker := time.NewTicker(sm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	sm.runSweep()

	for {
		select {
		case <-ticker.C:
			sm.runSweep()
		case <-sm.stopCh:
			sm.logger.Info("sweep manager stopped")
			return
		case <-ctx.Done():
			sm.logger.Info("sweep manager context cancelled")
			return
		}
	}
}

// runSweep expires stale observations and idle buckets
func (sm *SweepManager) runSweep() {
	now := time.Now()

	passwordsRemoved := sm.tracker.Sweep(now)
	bucketsRemoved := sm.ipLimiter.Sweep(now)

	if passwordsRemoved > 0 || bucketsRemoved > 0 {
		sm.logger.Info("decay sweep completed",
			slog.Int("password_keys_removed", passwordsRemoved),
			slog.Int("ip_buckets_removed", bucketsRemoved))
	}
}

// Stop signals the sweep manager to stop
func (sm *SweepManager) Stop() {
	close(sm.stopCh)
}
