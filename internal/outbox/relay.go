// Package outbox relays committed progression events from the event_outbox
// table to the message broker.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/guard"
	"github.com/trailpass/platform/internal/repository"
)

// Publisher delivers a batch of events; it must be all-or-error.
type Publisher interface {
	Topic() string
	PublishEvents(ctx context.Context, events []domain.OutboxRow) error
}

// Relay drains unpublished outbox rows in batches. Fetching, publishing and
// marking happen in one transaction, so a failed publish leaves the batch
// for the next poll (at-least-once delivery).
type Relay struct {
	tx        repository.TxManager
	outbox    repository.OutboxRepository
	publisher Publisher
	breaker   *guard.CircuitBreaker
	logger    *slog.Logger
	batchSize int
}

// NewRelay creates a relay.
func NewRelay(repos repository.Repositories, publisher Publisher, breaker *guard.CircuitBreaker, batchSize int, logger *slog.Logger) *Relay {
	return &Relay{
		tx:        repos.Tx,
		outbox:    repos.Outbox,
		publisher: publisher,
		breaker:   breaker,
		logger:    logger,
		batchSize: batchSize,
	}
}

// PollOnce relays at most one batch and returns how many events were published.
func (r *Relay) PollOnce(ctx context.Context) (int, error) {
	topic := r.publisher.Topic()
	if res := r.breaker.Check(ctx, topic); !res.Allowed {
		r.logger.Debug("outbox relay paused", "reason", res.Reason)
		return 0, nil
	}

	published := 0
	err := r.tx.InTx(ctx, func(tx repository.DBTX) error {
		events, err := r.outbox.FetchUnpublished(ctx, tx, r.batchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		if err := r.publisher.PublishEvents(ctx, events); err != nil {
			r.breaker.RecordFailure(topic)
			return fmt.Errorf("publish %d events: %w", len(events), err)
		}
		ids := make([]int64, len(events))
		for i, e := range events {
			ids[i] = e.SeqID
		}
		if err := r.outbox.MarkPublished(ctx, tx, ids); err != nil {
			return err
		}
		published = len(events)
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.breaker.RecordSuccess(topic)
	if published > 0 {
		r.logger.Info("processed outbox batch", "count", published, "topic", topic)
	}
	return published, nil
}

// Drain polls until a batch comes back short of the batch size.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.PollOnce(ctx)
		total += n
		if err != nil || n < r.batchSize {
			return total, err
		}
	}
}

// Run polls every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	r.logger.Info("outbox relay started", "interval", interval, "batch_size", r.batchSize)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil {
				r.logger.Error("outbox poll error", "error", err)
			}
		}
	}
}
