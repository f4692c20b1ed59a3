package ledger

import (
	"context"
	"fmt"

	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/repository"
)

// AwardCurrency credits XP or EP to a user exactly once per source.
// Pattern: Lock → Idempotency → PostEntry
func (e *Engine) AwardCurrency(ctx context.Context, tx repository.DBTX, params domain.AwardParams) (*domain.AwardResult, error) {
	if err := domain.ValidatePositiveAmount(params.Amount); err != nil {
		return nil, err
	}
	if err := domain.ValidateCurrencyKind(params.Currency); err != nil {
		return nil, err
	}
	if params.SourceType == "" || params.SourceID == "" {
		return nil, domain.ErrValidation("source type and source id are required")
	}

	// Lock
	stats, err := e.LockUser(ctx, tx, params.UserID)
	if err != nil {
		return nil, fmt.Errorf("award: %w", err)
	}

	// Idempotency check
	existing, err := e.FindExistingEntry(ctx, tx, params.Key())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &domain.AwardResult{Entry: existing, Stats: stats, Idempotent: true}, nil
	}

	// Post ledger entry: total += amount
	fromLevel := stats.Level()
	entry, updated, err := e.PostEntry(ctx, tx, params)
	if err != nil {
		return nil, fmt.Errorf("award post: %w", err)
	}

	result := &domain.AwardResult{
		Entry:  entry,
		Stats:  updated,
		Events: []domain.OutboxDraft{domain.NewCurrencyAwardedEvent(entry)},
	}

	if toLevel := updated.Level(); toLevel > fromLevel {
		evt := domain.NewLevelUpEvent(params.UserID, fromLevel, toLevel, updated.TotalXP)
		if err := e.outbox.Insert(ctx, tx, evt); err != nil {
			return nil, fmt.Errorf("insert level-up event: %w", err)
		}
		result.LeveledUp = true
		result.Events = append(result.Events, evt)
	}

	return result, nil
}
