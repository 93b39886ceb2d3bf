// Package reaper recovers tasks claimed by workers that died mid-flight.
package reaper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/awaisasif1-byte/internal-link-optimizer/internal/crawler"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/progress"
)

// Config controls sweep cadence and reclaim policy.
type Config struct {
	// StaleAfter is how long a claimed task may go without an update
	// before it is considered abandoned.
	StaleAfter time.Duration
	// MaxAttempts caps how often a task may be reclaimed before it is
	// failed outright.
	MaxAttempts int
	Interval    time.Duration
}

// Reaper periodically returns stale claimed tasks to pending so a crashed
// worker never wedges a session.
type Reaper struct {
	store   crawler.FrontierStore
	clock   crawler.Clock
	emitter progress.Emitter
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Reaper.
func New(store crawler.FrontierStore, clock crawler.Clock, emitter progress.Emitter, cfg Config, logger *zap.Logger) *Reaper {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{store: store, clock: clock, emitter: emitter, cfg: cfg, logger: logger}
}

// Run sweeps once immediately, then on every tick until the context ends.
func (r *Reaper) Run(ctx context.Context) {
	if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("reaper sweep failed", zap.Error(err))
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("reaper sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep reclaims stale claimed tasks and reports how many were touched.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.clock.Now()
	n, err := r.store.ReclaimStale(ctx, r.cfg.StaleAfter, r.cfg.MaxAttempts, now)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale tasks: %w", err)
	}
	if n > 0 {
		r.logger.Info("reclaimed stale tasks", zap.Int("count", n))
		r.emitter.Emit(progress.Event{
			TS:    now,
			Stage: progress.StageReaperSweep,
			Count: n,
		})
	}
	return n, nil
}
