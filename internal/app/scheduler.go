package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/trailpass/platform/internal/ledger"
)

// ReconcileRunner is the periodic stats reconciliation pass.
type ReconcileRunner interface {
	Run(ctx context.Context) (ledger.RunSummary, error)
}

// StartReconcileScheduler runs runner every interval, starting immediately.
// Runs never overlap: a tick that arrives while a pass is in flight is skipped.
// The caller must Shutdown the returned scheduler.
func StartReconcileScheduler(ctx context.Context, runner ReconcileRunner, interval time.Duration, logger *slog.Logger) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			start := time.Now()
			summary, err := runner.Run(ctx)
			if err != nil {
				logger.Error("reconcile pass failed", "error", err)
				return
			}
			logger.Info("reconcile pass finished",
				"checked", summary.Checked,
				"failed", summary.Failed,
				"repaired", summary.Repaired,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}),
		gocron.WithName("stats-reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule reconcile job: %w", err)
	}

	sched.Start()
	return sched, nil
}

// Sweeper drops expired per-key state and reports how many keys it removed.
type Sweeper interface {
	Sweep() int
}

// StartSweepScheduler runs sweeper every interval so per-user limiter windows
// do not accumulate for users who stopped submitting.
// The caller must Shutdown the returned scheduler.
func StartSweepScheduler(sweeper Sweeper, interval time.Duration, logger *slog.Logger) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if dropped := sweeper.Sweep(); dropped > 0 {
				logger.Debug("rate limiter swept", "dropped", dropped)
			}
		}),
		gocron.WithName("rate-limit-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule sweep job: %w", err)
	}

	sched.Start()
	return sched, nil
}
