package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/ledger"
	"github.com/trailpass/platform/internal/repository"
	"github.com/trailpass/platform/internal/rules"
)

// AttractionRewards evaluates the rewards attached to an attraction completion.
type AttractionRewards interface {
	EvaluateAttractionCompletion(ctx context.Context, tx repository.DBTX, userID uuid.UUID, attractionID int64, quality int) (*rules.Summary, error)
}

// AttractionOutcome is the result of evaluating one attraction.
type AttractionOutcome struct {
	Progress      *domain.AttractionProgress
	JustCompleted bool
	Stamp         *domain.Grant
	Award         *domain.AwardResult
	Category      *Refresh
	Rewards       *rules.Summary
}

// AttractionConfig holds the completion XP and artifact tier thresholds.
type AttractionConfig struct {
	CompletionXP int64
	Quality      domain.QualityThresholds
}

// AttractionEvaluator tracks per-attraction progress and processes the
// first time a user completes every task of an attraction.
type AttractionEvaluator struct {
	engine      *ledger.Engine
	catalog     repository.CatalogRepository
	completions repository.CompletionRepository
	progress    repository.AttractionProgressRepository
	outbox      repository.OutboxRepository
	categories  *CategoryAggregator
	rewards     AttractionRewards
	cfg         AttractionConfig
	logger      *slog.Logger
}

// NewAttractionEvaluator creates an evaluator.
func NewAttractionEvaluator(
	engine *ledger.Engine,
	repos repository.Repositories,
	categories *CategoryAggregator,
	rewards AttractionRewards,
	cfg AttractionConfig,
	logger *slog.Logger,
) *AttractionEvaluator {
	return &AttractionEvaluator{
		engine:      engine,
		catalog:     repos.Catalog,
		completions: repos.Completions,
		progress:    repos.AttractionProgress,
		outbox:      repos.Outbox,
		categories:  categories,
		rewards:     rewards,
		cfg:         cfg,
		logger:      logger,
	}
}

// StampIdentifier is the grant identifier of an attraction's completion stamp.
func StampIdentifier(attractionID int64) string {
	return "stamp:attraction:" + strconv.FormatInt(attractionID, 10)
}

// PhotoCardIdentifier is the grant identifier of an attraction's photo card.
func PhotoCardIdentifier(attractionID int64) string {
	return "photo_card:attraction:" + strconv.FormatInt(attractionID, 10)
}

// Evaluate updates the cached progress and, on first reaching 100%, grants
// the stamp, credits completion XP, refreshes the owning category and
// evaluates attraction rewards. Once completed_at is set it is a no-op.
func (e *AttractionEvaluator) Evaluate(ctx context.Context, tx repository.DBTX, userID uuid.UUID, attractionID int64) (*AttractionOutcome, error) {
	if _, err := e.engine.LockUser(ctx, tx, userID); err != nil {
		return nil, fmt.Errorf("evaluate attraction: %w", err)
	}

	a, err := e.catalog.FindAttraction(ctx, tx, attractionID)
	if err != nil {
		return nil, fmt.Errorf("find attraction: %w", err)
	}
	if a == nil {
		return nil, domain.ErrNotFound("attraction", strconv.FormatInt(attractionID, 10))
	}

	prev, err := e.progress.Find(ctx, tx, userID, attractionID)
	if err != nil {
		return nil, fmt.Errorf("find attraction progress: %w", err)
	}
	if prev.Completed() {
		return &AttractionOutcome{Progress: prev}, nil
	}

	completions, err := e.completions.ListByAttraction(ctx, tx, userID, attractionID)
	if err != nil {
		return nil, fmt.Errorf("list attraction completions: %w", err)
	}

	p := &domain.AttractionProgress{
		UserID:             userID,
		AttractionID:       attractionID,
		CompletedTasks:     len(completions),
		TotalTasks:         a.TotalTasks,
		ProgressPercentage: domain.CompletionPercentage(len(completions), a.TotalTasks),
	}
	complete := a.TotalTasks > 0 && len(completions) >= a.TotalTasks
	if complete {
		quality := domain.QualityScore(completions)
		now := time.Now().UTC()
		p.ProgressPercentage = 100
		p.QualityScore = &quality
		p.CompletedAt = &now
	}
	if err := e.progress.Upsert(ctx, tx, p); err != nil {
		return nil, fmt.Errorf("upsert attraction progress: %w", err)
	}

	out := &AttractionOutcome{Progress: p}
	if !complete {
		return out, nil
	}
	out.JustCompleted = true
	if err := e.complete(ctx, tx, a, p, out); err != nil {
		return nil, fmt.Errorf("complete attraction %d: %w", attractionID, err)
	}
	return out, nil
}

func (e *AttractionEvaluator) complete(ctx context.Context, tx repository.DBTX, a *domain.Attraction, p *domain.AttractionProgress, out *AttractionOutcome) error {
	quality := *p.QualityScore
	tier := e.cfg.Quality.TierFor(quality)

	if err := e.outbox.Insert(ctx, tx, domain.NewAttractionCompletedEvent(p)); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	meta, _ := json.Marshal(map[string]interface{}{
		"attraction_id": a.ID,
		"quality_score": quality,
		"quality_tier":  tier,
	})
	stamp, _, err := e.engine.GrantReward(ctx, tx, domain.GrantParams{
		UserID:           p.UserID,
		RewardType:       domain.RewardStamp,
		RewardIdentifier: StampIdentifier(a.ID),
		Name:             a.Name + " Stamp",
		Description:      fmt.Sprintf("Completed every task at %s", a.Name),
		Metadata:         meta,
	})
	if err != nil {
		return fmt.Errorf("grant stamp: %w", err)
	}
	out.Stamp = stamp

	if e.cfg.CompletionXP > 0 {
		out.Award, err = e.engine.AwardCurrency(ctx, tx, domain.AwardParams{
			UserID:     p.UserID,
			Currency:   domain.CurrencyXP,
			Amount:     e.cfg.CompletionXP,
			Reason:     "attraction completion: " + a.Name,
			SourceType: domain.SourceAttraction,
			SourceID:   strconv.FormatInt(a.ID, 10),
		})
		if err != nil {
			return fmt.Errorf("award completion xp: %w", err)
		}
	}

	if a.Category != nil && *a.Category != "" {
		out.Category, err = e.categories.RefreshCategoryProgress(ctx, tx, p.UserID, *a.Category)
		if err != nil {
			return err
		}
	}

	out.Rewards, err = e.rewards.EvaluateAttractionCompletion(ctx, tx, p.UserID, a.ID, quality)
	if err != nil {
		return fmt.Errorf("evaluate attraction rewards: %w", err)
	}

	e.logger.Info("attraction completed",
		"user_id", p.UserID,
		"attraction_id", a.ID,
		"quality_score", quality,
		"quality_tier", tier,
	)
	return nil
}

// RecordQuality grants the attraction's photo card for an uploaded artifact.
// The attraction must already be completed; repeated uploads keep the first card.
func (e *AttractionEvaluator) RecordQuality(ctx context.Context, tx repository.DBTX, userID uuid.UUID, attractionID int64, quality int, artifactRef string) (*domain.Grant, bool, error) {
	if err := domain.ValidateScore(&quality); err != nil {
		return nil, false, err
	}
	if _, err := e.engine.LockUser(ctx, tx, userID); err != nil {
		return nil, false, fmt.Errorf("record quality: %w", err)
	}

	a, err := e.catalog.FindAttraction(ctx, tx, attractionID)
	if err != nil {
		return nil, false, fmt.Errorf("find attraction: %w", err)
	}
	if a == nil {
		return nil, false, domain.ErrNotFound("attraction", strconv.FormatInt(attractionID, 10))
	}
	p, err := e.progress.Find(ctx, tx, userID, attractionID)
	if err != nil {
		return nil, false, fmt.Errorf("find attraction progress: %w", err)
	}
	if !p.Completed() {
		return nil, false, domain.ErrConflict(fmt.Sprintf("attraction %d is not completed", attractionID))
	}

	meta, _ := json.Marshal(map[string]interface{}{
		"attraction_id": a.ID,
		"quality_score": quality,
		"quality_tier":  e.cfg.Quality.TierFor(quality),
		"artifact_ref":  artifactRef,
	})
	g, granted, err := e.engine.GrantReward(ctx, tx, domain.GrantParams{
		UserID:           userID,
		RewardType:       domain.RewardPhotoCard,
		RewardIdentifier: PhotoCardIdentifier(a.ID),
		Name:             a.Name + " Photo Card",
		Description:      fmt.Sprintf("Captured a moment at %s", a.Name),
		Metadata:         meta,
	})
	if err != nil {
		return nil, false, fmt.Errorf("grant photo card: %w", err)
	}
	return g, granted, nil
}
