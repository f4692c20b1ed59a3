// Package progress maintains per-user category and attraction progress and
// fires the rewards attached to tier unlocks and attraction completions.
package progress

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/ledger"
	"github.com/trailpass/platform/internal/repository"
	"github.com/trailpass/platform/internal/rules"
)

// TierRewards evaluates the rewards attached to a tier unlock.
type TierRewards interface {
	EvaluateCategoryTier(ctx context.Context, tx repository.DBTX, userID uuid.UUID, category string, tier domain.Tier) (*rules.Summary, error)
}

// TierBonus is the EP credited when a tier is first unlocked.
type TierBonus struct {
	Bronze int64
	Silver int64
	Gold   int64
}

// DefaultTierBonus returns 50/100/200 EP.
func DefaultTierBonus() TierBonus {
	return TierBonus{Bronze: 50, Silver: 100, Gold: 200}
}

// For returns the bonus for a tier.
func (b TierBonus) For(t domain.Tier) int64 {
	switch t {
	case domain.TierBronze:
		return b.Bronze
	case domain.TierSilver:
		return b.Silver
	case domain.TierGold:
		return b.Gold
	}
	return 0
}

// Refresh is the outcome of recomputing one category.
type Refresh struct {
	Progress  *domain.CategoryProgress
	Unlocked  []domain.Tier
	EPAwarded int64
	Rewards   *rules.Summary
}

// CategoryAggregator recomputes category completion and handles tier unlocks.
type CategoryAggregator struct {
	engine      *ledger.Engine
	catalog     repository.CatalogRepository
	completions repository.CompletionRepository
	progress    repository.CategoryProgressRepository
	outbox      repository.OutboxRepository
	rewards     TierRewards
	bonus       TierBonus
	logger      *slog.Logger
}

// NewCategoryAggregator creates an aggregator.
func NewCategoryAggregator(engine *ledger.Engine, repos repository.Repositories, rewards TierRewards, bonus TierBonus, logger *slog.Logger) *CategoryAggregator {
	return &CategoryAggregator{
		engine:      engine,
		catalog:     repos.Catalog,
		completions: repos.Completions,
		progress:    repos.CategoryProgress,
		outbox:      repos.Outbox,
		rewards:     rewards,
		bonus:       bonus,
		logger:      logger,
	}
}

// RefreshCategoryProgress recomputes the user's progress in category inside
// the caller's transaction. Tier flags only ever turn on; each newly unlocked
// tier emits an event, credits its EP bonus and evaluates its rewards.
func (a *CategoryAggregator) RefreshCategoryProgress(ctx context.Context, tx repository.DBTX, userID uuid.UUID, category string) (*Refresh, error) {
	if _, err := a.engine.LockUser(ctx, tx, userID); err != nil {
		return nil, fmt.Errorf("refresh category: %w", err)
	}

	cat, err := a.catalog.FindCategory(ctx, tx, category)
	if err != nil {
		return nil, fmt.Errorf("find category: %w", err)
	}
	if cat == nil {
		return nil, domain.ErrNotFound("category", category)
	}

	completed, err := a.completions.CountCompletedAttractions(ctx, tx, userID, category)
	if err != nil {
		return nil, fmt.Errorf("count completed attractions: %w", err)
	}
	total := cat.TotalAttractions
	if total > 0 && completed > total {
		completed = total
	}

	prev, err := a.progress.Find(ctx, tx, userID, category)
	if err != nil {
		return nil, fmt.Errorf("find category progress: %w", err)
	}
	var prevFlags domain.TierFlags
	if prev != nil {
		prevFlags = prev.TierFlags
	}

	stored, err := a.progress.Upsert(ctx, tx, &domain.CategoryProgress{
		UserID:               userID,
		Category:             category,
		CompletedAttractions: completed,
		TotalAttractions:     total,
		CompletionPercentage: domain.CompletionPercentage(completed, total),
		TierFlags:            domain.TiersFor(completed, total),
	})
	if err != nil {
		return nil, fmt.Errorf("upsert category progress: %w", err)
	}

	refresh := &Refresh{Progress: stored, Rewards: &rules.Summary{}}
	for _, tier := range prevFlags.NewlyUnlocked(stored.TierFlags) {
		if err := a.unlock(ctx, tx, userID, stored, tier, refresh); err != nil {
			return nil, fmt.Errorf("unlock %s %s: %w", category, tier, err)
		}
	}
	return refresh, nil
}

func (a *CategoryAggregator) unlock(ctx context.Context, tx repository.DBTX, userID uuid.UUID, p *domain.CategoryProgress, tier domain.Tier, refresh *Refresh) error {
	evt := domain.NewTierUnlockedEvent(userID, p.Category, tier, p.CompletionPercentage)
	if err := a.outbox.Insert(ctx, tx, evt); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	if amount := a.bonus.For(tier); amount > 0 {
		award, err := a.engine.AwardCurrency(ctx, tx, domain.AwardParams{
			UserID:     userID,
			Currency:   domain.CurrencyEP,
			Amount:     amount,
			Reason:     fmt.Sprintf("category tier unlocked: %s %s", p.Category, tier),
			SourceType: domain.SourceCategoryTier,
			SourceID:   p.Category + ":" + string(tier),
		})
		if err != nil {
			return err
		}
		if !award.Idempotent {
			refresh.EPAwarded += amount
		}
	}

	summary, err := a.rewards.EvaluateCategoryTier(ctx, tx, userID, p.Category, tier)
	if err != nil {
		return err
	}
	refresh.Rewards.Merge(summary)
	refresh.Unlocked = append(refresh.Unlocked, tier)

	a.logger.Info("category tier unlocked",
		"user_id", userID,
		"category", p.Category,
		"tier", tier,
		"completion_percentage", p.CompletionPercentage,
	)
	return nil
}
