package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trailpass/platform/internal/guard"
	"github.com/trailpass/platform/internal/infra"
	"github.com/trailpass/platform/internal/outbox"
	"github.com/trailpass/platform/internal/repository"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("outbox consumer failed", "error", err)
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
	logger.Info("outbox-consumer connected to postgres")

	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaEnabled, logger)
	defer producer.Close()

	relay := outbox.NewRelay(
		repository.NewPostgres(pool),
		producer,
		guard.NewCircuitBreaker(5, 30*time.Second),
		cfg.OutboxBatchSize,
		logger,
	)

	logger.Info("outbox-consumer starting", "poll_interval", cfg.OutboxPollInterval, "batch_size", cfg.OutboxBatchSize)
	relay.Run(ctx, cfg.OutboxPollInterval)
	logger.Info("outbox-consumer shutting down")
	return nil
}
