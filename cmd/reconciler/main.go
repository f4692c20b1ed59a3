package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/trailpass/platform/internal/app"
	"github.com/trailpass/platform/internal/infra"
	"github.com/trailpass/platform/internal/ledger"
	"github.com/trailpass/platform/internal/projection"
	"github.com/trailpass/platform/internal/repository"
	"github.com/trailpass/platform/internal/stats"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("reconciler failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	repos := repository.NewPostgres(pool)
	reconciler := ledger.NewReconciler(ledger.NewEngine(repos), repos, logger, cfg.ReconcileRepair)

	// Repaired users must not keep reading pre-repair stats from the shared cache.
	if cfg.RedisEnabled {
		rdb, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		statsSvc := stats.NewService(repos, projection.NewRedisStore(rdb, "trailpass:"), cfg.StatsCacheTTL, logger)
		reconciler.OnRepair(statsSvc.Invalidate)
	}

	sched, err := app.StartReconcileScheduler(ctx, reconciler, cfg.ReconcileInterval, logger)
	if err != nil {
		return err
	}
	logger.Info("reconciler started", "interval", cfg.ReconcileInterval, "repair", cfg.ReconcileRepair)

	<-ctx.Done()
	logger.Info("reconciler shutting down")
	return sched.Shutdown()
}
