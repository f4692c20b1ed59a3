// Package rules decides which catalog rewards a user has earned and grants
// them exactly once.
package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/trailpass/platform/internal/catalog"
	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/ledger"
	"github.com/trailpass/platform/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CatalogSource supplies the current reward catalog.
type CatalogSource interface {
	Load(ctx context.Context) (*catalog.Catalog, []catalog.Warning, error)
}

// errAlreadyGranted rolls back a candidate's savepoint when the grant insert
// loses to an existing grant.
var errAlreadyGranted = errors.New("already granted")

// Evaluator runs the candidate pipeline for each trigger type. Every
// candidate runs in its own savepoint so a failure never undoes another
// candidate's grant.
type Evaluator struct {
	engine      *ledger.Engine
	tx          repository.TxManager
	completions repository.CompletionRepository
	catalog     CatalogSource
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewEvaluator creates an evaluator.
func NewEvaluator(engine *ledger.Engine, repos repository.Repositories, source CatalogSource, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		engine:      engine,
		tx:          repos.Tx,
		completions: repos.Completions,
		catalog:     source,
		logger:      logger,
		tracer:      otel.Tracer("github.com/trailpass/platform/internal/rules"),
	}
}

// condition decides whether a candidate fires. A false result carries the skip reason.
type condition func(ctx context.Context, tx repository.DBTX, r domain.Reward) (fired bool, reason string, meta map[string]interface{}, err error)

// EvaluateRewards evaluates the task-set rewards containing taskID in one
// per-user transaction. Only a failure to load the catalog or to open or
// commit the transaction is returned as an error; candidate failures are
// reported in the summary.
func (e *Evaluator) EvaluateRewards(ctx context.Context, userID uuid.UUID, taskID int64) (*Summary, error) {
	ctx, span := e.tracer.Start(ctx, "rules.EvaluateRewards", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
		attribute.Int64("task_id", taskID),
	))
	defer span.End()

	cat, _, err := e.catalog.Load(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, domain.ErrUnavailable("reward catalog unavailable", err)
	}
	candidates := cat.ForTask(taskID)
	summary := &Summary{}
	if len(candidates) == 0 {
		return summary, nil
	}

	err = e.tx.InTx(ctx, func(tx repository.DBTX) error {
		if _, err := e.engine.LockUser(ctx, tx, userID); err != nil {
			return err
		}
		summary = e.evaluate(ctx, tx, userID, candidates, "task set completion", e.taskSetCondition(userID))
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if _, ok := domain.AsAppError(err); ok {
			return nil, err
		}
		return nil, domain.ErrUnavailable("evaluate rewards", err)
	}

	span.SetAttributes(attribute.Int("rewards.granted", len(summary.Granted)))
	return summary, nil
}

// EvaluateCategoryTier evaluates the rewards fired by unlocking tier in
// category. It runs inside the caller's transaction, which must hold the user lock.
func (e *Evaluator) EvaluateCategoryTier(ctx context.Context, tx repository.DBTX, userID uuid.UUID, category string, tier domain.Tier) (*Summary, error) {
	ctx, span := e.tracer.Start(ctx, "rules.EvaluateCategoryTier", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
		attribute.String("category", category),
		attribute.String("tier", string(tier)),
	))
	defer span.End()

	cat, _, err := e.catalog.Load(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	always := func(context.Context, repository.DBTX, domain.Reward) (bool, string, map[string]interface{}, error) {
		return true, "", map[string]interface{}{"category": category, "tier": tier}, nil
	}
	return e.evaluate(ctx, tx, userID, cat.ForCategoryTier(category, tier), "category tier reward", always), nil
}

// EvaluateAttractionCompletion evaluates the rewards fired by completing the
// attraction with the given quality score. Rewards with a min_quality above
// the score are skipped. Runs inside the caller's transaction.
func (e *Evaluator) EvaluateAttractionCompletion(ctx context.Context, tx repository.DBTX, userID uuid.UUID, attractionID int64, quality int) (*Summary, error) {
	ctx, span := e.tracer.Start(ctx, "rules.EvaluateAttractionCompletion", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
		attribute.Int64("attraction_id", attractionID),
		attribute.Int("quality_score", quality),
	))
	defer span.End()

	cat, _, err := e.catalog.Load(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	minQuality := func(_ context.Context, _ repository.DBTX, r domain.Reward) (bool, string, map[string]interface{}, error) {
		cond, ok := r.Condition.(domain.AttractionCompletionCondition)
		if !ok {
			return false, ReasonConditionNotMet, nil, nil
		}
		if quality < cond.MinQuality {
			return false, ReasonQualityTooLow, nil, nil
		}
		return true, "", map[string]interface{}{"attraction_id": attractionID, "quality_score": quality}, nil
	}
	return e.evaluate(ctx, tx, userID, cat.ForAttraction(attractionID), "attraction reward", minQuality), nil
}

func (e *Evaluator) taskSetCondition(userID uuid.UUID) condition {
	return func(ctx context.Context, tx repository.DBTX, r domain.Reward) (bool, string, map[string]interface{}, error) {
		cond, ok := r.Condition.(domain.TaskSetCondition)
		if !ok {
			return false, ReasonConditionNotMet, nil, nil
		}
		n, err := e.completions.CountCompletedInSet(ctx, tx, userID, cond.TaskIDs)
		if err != nil {
			return false, "", nil, fmt.Errorf("count completed tasks: %w", err)
		}
		if n < len(cond.TaskIDs) {
			return false, ReasonConditionNotMet, nil, nil
		}
		return true, "", map[string]interface{}{
			"task_ids":     cond.TaskIDs,
			"completed_at": time.Now().UTC(),
		}, nil
	}
}

func (e *Evaluator) evaluate(ctx context.Context, tx repository.DBTX, userID uuid.UUID, candidates []domain.Reward, label string, cond condition) *Summary {
	summary := &Summary{}
	for _, r := range candidates {
		res := e.evaluateCandidate(ctx, tx, userID, r, label, cond)
		if res.Status == StatusFailed {
			e.logger.Error("reward evaluation failed",
				"user_id", userID,
				"reward", r.RewardIdentifier,
				"error", res.Err,
			)
		}
		summary.add(res)
	}
	return summary
}

// evaluateCandidate runs gate → trigger → award → grant in one savepoint.
func (e *Evaluator) evaluateCandidate(ctx context.Context, tx repository.DBTX, userID uuid.UUID, r domain.Reward, label string, cond condition) CandidateResult {
	res := CandidateResult{RewardIdentifier: r.RewardIdentifier}
	grantParams := domain.GrantParams{
		UserID:           userID,
		RewardType:       r.RewardType,
		RewardIdentifier: r.RewardIdentifier,
		Name:             r.Name,
		Description:      r.Description,
		DefinitionID:     &r.ID,
	}

	err := e.tx.Savepoint(ctx, tx, func(sp repository.DBTX) error {
		// Idempotency gate
		held, err := e.engine.HasGrant(ctx, sp, grantParams)
		if err != nil {
			return err
		}
		if held {
			res.Status, res.Reason = StatusSkipped, ReasonAlreadyGranted
			return nil
		}

		// Trigger
		fired, reason, meta, err := cond(ctx, sp, r)
		if err != nil {
			return err
		}
		if !fired {
			res.Status, res.Reason = StatusSkipped, reason
			return nil
		}

		// Award
		for _, a := range []struct {
			kind   domain.CurrencyKind
			amount int64
			total  *int64
		}{
			{domain.CurrencyXP, r.XPAmount, &res.XPAwarded},
			{domain.CurrencyEP, r.EPAmount, &res.EPAwarded},
		} {
			if a.amount <= 0 {
				continue
			}
			award, err := e.engine.AwardCurrency(ctx, sp, domain.AwardParams{
				UserID:     userID,
				Currency:   a.kind,
				Amount:     a.amount,
				Reason:     label + ": " + r.Name,
				SourceType: domain.SourceReward,
				SourceID:   r.RewardIdentifier,
			})
			if err != nil {
				return err
			}
			if !award.Idempotent {
				*a.total = a.amount
			}
		}

		// Grant
		grantParams.Metadata = rewardMetadata(r, meta)
		g, granted, err := e.engine.GrantReward(ctx, sp, grantParams)
		if err != nil {
			return err
		}
		if !granted {
			return errAlreadyGranted
		}
		res.Status, res.Grant = StatusGranted, g
		return nil
	})

	switch {
	case errors.Is(err, errAlreadyGranted):
		return CandidateResult{RewardIdentifier: r.RewardIdentifier, Status: StatusSkipped, Reason: ReasonAlreadyGranted}
	case err != nil:
		return CandidateResult{RewardIdentifier: r.RewardIdentifier, Status: StatusFailed, Reason: "error", Err: err}
	}
	return res
}

func rewardMetadata(r domain.Reward, meta map[string]interface{}) json.RawMessage {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["trigger_type"] = r.TriggerType
	meta["definition_version"] = r.Version
	raw, err := json.Marshal(meta)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
