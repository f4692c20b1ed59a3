package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/guard"
	"github.com/trailpass/platform/internal/ledger"
	"github.com/trailpass/platform/internal/progress"
	"github.com/trailpass/platform/internal/repository"
	"github.com/trailpass/platform/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RewardEvaluator evaluates the task-set rewards touched by a completion.
type RewardEvaluator interface {
	EvaluateRewards(ctx context.Context, userID uuid.UUID, taskID int64) (*rules.Summary, error)
}

// StatsInvalidator drops cached read models after a write.
type StatsInvalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID)
}

// ProgressionService is the task-submission entry point: it records the
// completion and then drives reward evaluation and the aggregators.
type ProgressionService struct {
	tx          repository.TxManager
	completions repository.CompletionRepository
	catalog     repository.CatalogRepository
	engine      *ledger.Engine
	rewards     RewardEvaluator
	attractions *progress.AttractionEvaluator
	stats       StatsInvalidator
	locks       *guard.UserLocks
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewProgressionService creates a ProgressionService.
func NewProgressionService(
	repos repository.Repositories,
	engine *ledger.Engine,
	rewards RewardEvaluator,
	attractions *progress.AttractionEvaluator,
	stats StatsInvalidator,
	locks *guard.UserLocks,
	logger *slog.Logger,
) *ProgressionService {
	return &ProgressionService{
		tx:          repos.Tx,
		completions: repos.Completions,
		catalog:     repos.Catalog,
		engine:      engine,
		rewards:     rewards,
		attractions: attractions,
		stats:       stats,
		locks:       locks,
		logger:      logger,
		tracer:      otel.Tracer("github.com/trailpass/platform/internal/service"),
	}
}

// StepFailure reports a downstream step that failed after the completion
// was recorded. Replaying the completion retries it.
type StepFailure struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// SubmissionResult summarizes everything one completion caused.
type SubmissionResult struct {
	Completion          *domain.Completion `json:"completion"`
	IsNew               bool               `json:"is_new"`
	BaseXP              int64              `json:"base_xp"`
	XPAwarded           int64              `json:"xp_awarded"`
	EPAwarded           int64              `json:"ep_awarded"`
	LeveledUp           bool               `json:"leveled_up"`
	GrantedRewards      []string           `json:"granted_rewards"`
	AttractionCompleted bool               `json:"attraction_completed"`
	UnlockedTiers       []domain.Tier      `json:"unlocked_tiers,omitempty"`
	Failures            []StepFailure      `json:"failures,omitempty"`

	Rewards    *rules.Summary              `json:"-"`
	Attraction *progress.AttractionOutcome `json:"-"`
}

func (r *SubmissionResult) fail(step string, err error) {
	r.Failures = append(r.Failures, StepFailure{Step: step, Error: err.Error()})
}

func (r *SubmissionResult) addAward(a *domain.AwardResult) {
	if a == nil || a.Idempotent || a.Entry == nil {
		return
	}
	switch a.Entry.Currency {
	case domain.CurrencyXP:
		r.XPAwarded += a.Entry.Amount
	case domain.CurrencyEP:
		r.EPAwarded += a.Entry.Amount
	}
	r.LeveledUp = r.LeveledUp || a.LeveledUp
}

func (r *SubmissionResult) addRewards(s *rules.Summary) {
	if s == nil {
		return
	}
	r.Rewards.Merge(s)
	r.GrantedRewards = append(r.GrantedRewards, s.Granted...)
	r.XPAwarded += s.XPAwarded
	r.EPAwarded += s.EPAwarded
	for _, c := range s.Failed() {
		r.fail("reward:"+c.RewardIdentifier, c.Err)
	}
}

// SubmitCompletion records a task completion and processes its consequences.
// Only the completion write itself can fail the call; reward and aggregate
// failures are logged and reported in the result.
func (s *ProgressionService) SubmitCompletion(ctx context.Context, userID uuid.UUID, taskID int64, score *int) (*SubmissionResult, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	ctx, span := s.tracer.Start(ctx, "service.SubmitCompletion", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
		attribute.Int64("task_id", taskID),
	))
	defer span.End()

	var rec *domain.CompletionResult
	err := s.tx.InTx(ctx, func(tx repository.DBTX) error {
		var err error
		rec, err = s.engine.RecordCompletion(ctx, tx, domain.CompletionParams{UserID: userID, TaskID: taskID, Score: score})
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if _, ok := domain.AsAppError(err); ok {
			return nil, err
		}
		return nil, domain.ErrUnavailable("record completion", err)
	}

	result := &SubmissionResult{Completion: rec.Completion, IsNew: rec.IsNew, Rewards: &rules.Summary{}}
	if !rec.IsNew {
		s.logger.Info("duplicate completion ignored", "user_id", userID, "task_id", taskID)
		return result, nil
	}
	if rec.Award != nil && rec.Award.Entry != nil {
		result.BaseXP = rec.Award.Entry.Amount
	}
	result.addAward(rec.Award)
	s.stats.Invalidate(ctx, userID)

	s.downstream(ctx, userID, rec.Task, result)
	span.SetAttributes(
		attribute.Int("rewards.granted", len(result.GrantedRewards)),
		attribute.Int("steps.failed", len(result.Failures)),
	)

	s.logger.Info("completion processed",
		"user_id", userID,
		"task_id", taskID,
		"xp_awarded", result.XPAwarded,
		"ep_awarded", result.EPAwarded,
		"granted", len(result.GrantedRewards),
		"failures", len(result.Failures),
	)
	return result, nil
}

// ReplayCompletion re-runs reward evaluation and aggregation for a completion
// that is already recorded. Every step is idempotent, so replays only fill in
// what an earlier partial failure left out.
func (s *ProgressionService) ReplayCompletion(ctx context.Context, userID uuid.UUID, taskID int64) (*SubmissionResult, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	ctx, span := s.tracer.Start(ctx, "service.ReplayCompletion", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
		attribute.Int64("task_id", taskID),
	))
	defer span.End()

	db := s.tx.DB()
	c, err := s.completions.Find(ctx, db, userID, taskID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, domain.ErrUnavailable("find completion", err)
	}
	if c == nil {
		return nil, domain.ErrNotFound("completion", fmt.Sprintf("%s/%d", userID, taskID))
	}
	task, err := s.catalog.FindTask(ctx, db, taskID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, domain.ErrUnavailable("find task", err)
	}
	if task == nil {
		return nil, domain.ErrNotFound("task", strconv.FormatInt(taskID, 10))
	}

	result := &SubmissionResult{Completion: c, Rewards: &rules.Summary{}}
	s.downstream(ctx, userID, task, result)
	s.logger.Info("completion replayed",
		"user_id", userID,
		"task_id", taskID,
		"granted", len(result.GrantedRewards),
		"failures", len(result.Failures),
	)
	return result, nil
}

// downstream runs the steps that follow a recorded completion. Each step
// commits on its own; a failed step is logged and reported, never fatal.
func (s *ProgressionService) downstream(ctx context.Context, userID uuid.UUID, task *domain.Task, result *SubmissionResult) {
	defer s.stats.Invalidate(ctx, userID)

	summary, err := s.rewards.EvaluateRewards(ctx, userID, task.ID)
	if err != nil {
		s.logger.Error("reward evaluation failed", "user_id", userID, "task_id", task.ID, "error", err)
		result.fail("rewards", err)
	} else {
		result.addRewards(summary)
	}

	var outcome *progress.AttractionOutcome
	err = s.tx.InTx(ctx, func(tx repository.DBTX) error {
		var err error
		outcome, err = s.attractions.Evaluate(ctx, tx, userID, task.AttractionID)
		return err
	})
	if err != nil {
		s.logger.Error("attraction evaluation failed",
			"user_id", userID,
			"attraction_id", task.AttractionID,
			"error", err,
		)
		result.fail("attraction", err)
		return
	}

	result.Attraction = outcome
	if !outcome.JustCompleted {
		return
	}
	result.AttractionCompleted = true
	if outcome.Stamp != nil {
		result.GrantedRewards = append(result.GrantedRewards, outcome.Stamp.RewardIdentifier)
	}
	result.addAward(outcome.Award)
	if cat := outcome.Category; cat != nil {
		result.UnlockedTiers = append(result.UnlockedTiers, cat.Unlocked...)
		result.EPAwarded += cat.EPAwarded
		result.addRewards(cat.Rewards)
	}
	result.addRewards(outcome.Rewards)
}

// RecordPhotoQuality is the photo-upload hook: it grants the attraction's
// photo card for a completed attraction.
func (s *ProgressionService) RecordPhotoQuality(ctx context.Context, userID uuid.UUID, attractionID int64, quality int, artifactRef string) (*domain.Grant, bool, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	var (
		g       *domain.Grant
		granted bool
	)
	err := s.tx.InTx(ctx, func(tx repository.DBTX) error {
		var err error
		g, granted, err = s.attractions.RecordQuality(ctx, tx, userID, attractionID, quality, artifactRef)
		return err
	})
	if err != nil {
		if _, ok := domain.AsAppError(err); ok {
			return nil, false, err
		}
		return nil, false, domain.ErrUnavailable("record photo quality", err)
	}
	if granted {
		s.stats.Invalidate(ctx, userID)
		s.logger.Info("photo card granted", "user_id", userID, "attraction_id", attractionID, "quality_score", quality)
	}
	return g, granted, nil
}
