package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stakecast/stakecast/pkg/config"
)

// Runner drives the periodic full re-sync
type Runner struct {
	syncer     *Syncer
	interval   time.Duration
	timeBudget time.Duration
	logger     *zap.Logger
}

// NewRunner creates a runner over the given syncer
func NewRunner(syncer *Syncer, cfg *config.SyncerConfig) *Runner {
	return &Runner{
		syncer:     syncer,
		interval:   cfg.Interval,
		timeBudget: cfg.TimeBudget,
		logger:     syncer.logger,
	}
}

// Run executes sync passes on the configured interval until the
// context is cancelled. Each pass gets a bounded time budget; a pass
// that exceeds it is abandoned and the next scheduled run retries. A
// failed pass is never retried immediately.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Starting reconciliation loop",
		zap.Duration("interval", r.interval),
		zap.Duration("time_budget", r.timeBudget))

	for {
		r.runOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.interval):
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, r.timeBudget)
	defer cancel()

	started := time.Now()
	result, err := r.syncer.SyncAll(passCtx)
	if err != nil {
		r.logger.Error("Sync pass failed; relying on next scheduled run",
			zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return
	}

	r.logger.Info("Sync pass finished",
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("entries_upserted", result.EntriesUpserted))
}
