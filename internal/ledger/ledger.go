package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/repository"
)

// Engine provides the foundational progression operations:
//  1. LockUser: row-level pessimistic lock on the user's stats row
//  2. FindExistingEntry: source idempotency check
//  3. PostEntry: atomic total update + append-only insert + outbox event
//
// Every command runs inside the caller's transaction.
type Engine struct {
	catalog     repository.CatalogRepository
	completions repository.CompletionRepository
	grants      repository.GrantRepository
	progression repository.ProgressionRepository
	stats       repository.StatsRepository
	outbox      repository.OutboxRepository
}

// NewEngine creates a ledger engine over the given repositories.
func NewEngine(repos repository.Repositories) *Engine {
	return &Engine{
		catalog:     repos.Catalog,
		completions: repos.Completions,
		grants:      repos.Grants,
		progression: repos.Progression,
		stats:       repos.Stats,
		outbox:      repos.Outbox,
	}
}

// LockUser acquires the user's row-level lock and returns the current stats.
// Must be called within a transaction. Locking again in the same transaction is a no-op.
func (e *Engine) LockUser(ctx context.Context, tx repository.DBTX, userID uuid.UUID) (*domain.UserStats, error) {
	stats, err := e.stats.LockForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}
	if stats == nil {
		return nil, domain.ErrNotFound("user", userID.String())
	}
	return stats, nil
}

// FindExistingEntry checks whether the source already credited the currency.
// Returns nil if no entry exists.
func (e *Engine) FindExistingEntry(ctx context.Context, tx repository.DBTX, key domain.SourceKey) (*domain.ProgressionEntry, error) {
	existing, err := e.progression.FindBySource(ctx, tx, key)
	if err != nil {
		return nil, fmt.Errorf("find existing entry: %w", err)
	}
	return existing, nil
}

// PostEntry atomically updates the user's totals and appends a ledger entry.
// All award paths delegate to this.
//
// Steps:
//  1. Update user_stats using server-side arithmetic
//  2. Insert the progression entry with the post-update total snapshot
//  3. Insert the outbox event
func (e *Engine) PostEntry(ctx context.Context, tx repository.DBTX, params domain.AwardParams) (*domain.ProgressionEntry, *domain.UserStats, error) {
	updated, err := e.stats.AddTotals(ctx, tx, params.UserID, params.Currency.Delta(params.Amount))
	if err != nil {
		return nil, nil, fmt.Errorf("update totals: %w", err)
	}

	totalAfter := updated.TotalXP
	if params.Currency == domain.CurrencyEP {
		totalAfter = updated.TotalEP
	}
	entry, err := e.progression.Insert(ctx, tx, params, totalAfter)
	if err != nil {
		return nil, nil, fmt.Errorf("insert progression entry: %w", err)
	}

	if err := e.outbox.Insert(ctx, tx, domain.NewCurrencyAwardedEvent(entry)); err != nil {
		return nil, nil, fmt.Errorf("insert outbox event: %w", err)
	}

	return entry, updated, nil
}
