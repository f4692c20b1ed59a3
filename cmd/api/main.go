package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trailpass/platform/internal/app"
	"github.com/trailpass/platform/internal/auth"
	"github.com/trailpass/platform/internal/handler"
	"github.com/trailpass/platform/internal/infra"
	"github.com/trailpass/platform/internal/projection"
	"github.com/trailpass/platform/internal/repository"
	"github.com/trailpass/platform/internal/repository/memory"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	shutdownTracing := infra.InitTracing(ctx, cfg, "trailpass-api", logger)
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	// Store
	var repos repository.Repositories
	var health handler.HealthChecker
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("using in-memory store; state is lost on restart and transactions are serialized across users")
		repos = memory.New().Repositories()
	default:
		if cfg.AutoMigrate {
			if err := infra.RunMigrations(cfg.DSN(), logger); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}
		pool, err := infra.NewPostgresPool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		logger.Info("connected to postgres")
		repos = repository.NewPostgres(pool)
		health = func(ctx context.Context) error { return infra.HealthCheck(ctx, pool) }
	}

	// Stats cache
	var cache projection.Store = projection.NewInMemoryStore()
	if cfg.RedisEnabled {
		rdb, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		cache = projection.NewRedisStore(rdb, "trailpass:")
		logger.Info("connected to redis")
	}

	engine := app.NewEngine(repos, cache, cfg, logger)
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTUserExpiry, cfg.JWTOperatorExpiry)

	r := app.NewRouter(app.RouterDeps{
		Engine:      engine,
		JWTMgr:      jwtMgr,
		Health:      health,
		Logger:      logger,
		CORSOrigins: cfg.CORSAllowedOrigins,
	})

	sweeper, err := app.StartSweepScheduler(engine.SubmitLimiter, time.Minute, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sweeper.Shutdown(); err != nil {
			logger.Warn("sweep scheduler shutdown failed", "error", err)
		}
	}()

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", addr, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
