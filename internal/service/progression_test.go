package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trailpass/platform/internal/catalog"
	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/guard"
	"github.com/trailpass/platform/internal/ledger"
	"github.com/trailpass/platform/internal/progress"
	"github.com/trailpass/platform/internal/projection"
	"github.com/trailpass/platform/internal/repository"
	"github.com/trailpass/platform/internal/repository/memory"
	"github.com/trailpass/platform/internal/rules"
	"github.com/trailpass/platform/internal/stats"
)

type fixture struct {
	store *memory.Store
	repos repository.Repositories
	svc   *ProgressionService
	stats *stats.Service
	user  domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	repos := store.Repositories()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := ledger.NewEngine(repos)
	evaluator := rules.NewEvaluator(engine, repos, catalog.NewLoader(repos.Rewards, repos.Tx, 0, logger), logger)
	categories := progress.NewCategoryAggregator(engine, repos, evaluator, progress.DefaultTierBonus(), logger)
	attractions := progress.NewAttractionEvaluator(engine, repos, categories, evaluator, progress.AttractionConfig{
		CompletionXP: 50,
		Quality:      domain.DefaultQualityThresholds(),
	}, logger)
	statsSvc := stats.NewService(repos, projection.NewInMemoryStore(), time.Minute, logger)

	return &fixture{
		store: store,
		repos: repos,
		svc:   NewProgressionService(repos, engine, evaluator, attractions, statsSvc, guard.NewUserLocks(), logger),
		stats: statsSvc,
		user:  store.PutUser(domain.User{DisplayName: "kai"}),
	}
}

func (f *fixture) submit(t *testing.T, taskID int64, score *int) *SubmissionResult {
	t.Helper()
	res, err := f.svc.SubmitCompletion(context.Background(), f.user.ID, taskID, score)
	require.NoError(t, err)
	return res
}

func (f *fixture) entriesFrom(source domain.SourceType) []domain.ProgressionEntry {
	var out []domain.ProgressionEntry
	for _, e := range f.store.Entries() {
		if e.UserID == f.user.ID && e.SourceType == source {
			out = append(out, e)
		}
	}
	return out
}

func TestSubmitCompletion_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.PutCategory("temples", 3)
	a, tasks := f.store.PutAttraction("Wat Arun", "temples", domain.TaskCheckin, domain.TaskQuiz, domain.TaskRiddle)
	f.store.PutAttraction("Wat Pho", "temples", domain.TaskCheckin)
	f.store.PutAttraction("Wat Saket", "temples", domain.TaskCheckin)
	f.store.PutReward(domain.RewardDefinition{
		RewardType:       domain.RewardBadge,
		RewardIdentifier: "badge:temples-bronze",
		Name:             "Temple Wanderer",
		XPAmount:         20,
		IsActive:         true,
	}, domain.CategoryTierCondition{Category: "temples", Tier: domain.TierBronze})

	first := f.submit(t, tasks[0].ID, nil)
	assert.True(t, first.IsNew)
	assert.Equal(t, int64(15), first.BaseXP)
	assert.False(t, first.AttractionCompleted)

	f.submit(t, tasks[1].ID, nil)
	p, err := f.repos.AttractionProgress.Find(ctx, f.store.DB(), f.user.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 66.67, p.ProgressPercentage)

	last := f.submit(t, tasks[2].ID, nil)
	assert.Empty(t, last.Failures)
	assert.True(t, last.AttractionCompleted)
	assert.Equal(t, []domain.Tier{domain.TierBronze}, last.UnlockedTiers)
	assert.Equal(t, []string{"stamp:attraction:1", "badge:temples-bronze"}, last.GrantedRewards)
	assert.Equal(t, int64(30+50+20), last.XPAwarded)
	assert.Equal(t, int64(50), last.EPAwarded)
	assert.True(t, last.LeveledUp)

	assert.Len(t, f.entriesFrom(domain.SourceAttraction), 1)

	recent, err := f.stats.GetRecentGrants(ctx, f.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	ids := []string{recent[0].RewardIdentifier, recent[1].RewardIdentifier}
	assert.ElementsMatch(t, []string{"stamp:attraction:1", "badge:temples-bronze"}, ids)

	view, err := f.stats.GetStats(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(140), view.TotalXP)
	assert.Equal(t, int64(50), view.TotalEP)
	assert.Equal(t, 2, view.CurrentLevel)
	assert.Equal(t, domain.GrantCounts{Badges: 1, Stamps: 1}, view.GrantCounts)

	rows, err := f.stats.GetCategoryProgress(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 33.33, rows[0].CompletionPercentage)
	assert.True(t, rows[0].Bronze)
}

func TestSubmitCompletion_DuplicateIsNoOp(t *testing.T) {
	f := newFixture(t)
	_, tasks := f.store.PutAttraction("Pier", "", domain.TaskCheckin, domain.TaskQuiz)

	first := f.submit(t, tasks[0].ID, nil)
	require.True(t, first.IsNew)

	again := f.submit(t, tasks[0].ID, nil)
	assert.False(t, again.IsNew)
	assert.Zero(t, again.XPAwarded)
	assert.Len(t, f.entriesFrom(domain.SourceTask), 1)
}

func TestSubmitCompletion_RecordErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, tasks := f.store.PutAttraction("Fort", "", domain.TaskQuiz)

	t.Run("unknown task", func(t *testing.T) {
		_, err := f.svc.SubmitCompletion(ctx, f.user.ID, 999, nil)
		appErr, ok := domain.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, 404, appErr.Status)
	})

	t.Run("invalid score", func(t *testing.T) {
		bad := 120
		_, err := f.svc.SubmitCompletion(ctx, f.user.ID, tasks[0].ID, &bad)
		appErr, ok := domain.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, 400, appErr.Status)
	})

	t.Run("store unavailable", func(t *testing.T) {
		f.store.InjectFault("completions.insert", errors.New("connection refused"))
		defer f.store.ClearFaults()
		_, err := f.svc.SubmitCompletion(ctx, f.user.ID, tasks[0].ID, nil)
		appErr, ok := domain.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, 503, appErr.Status)
	})
}

func TestSubmitCompletion_RewardFailureIsReportedAndReplayable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, tasks := f.store.PutAttraction("Market", "", domain.TaskCheckin, domain.TaskCheckin)
	f.store.PutReward(domain.RewardDefinition{
		RewardType:       domain.RewardBadge,
		RewardIdentifier: "badge:first-step",
		Name:             "First Step",
		EPAmount:         5,
		IsActive:         true,
	}, domain.TaskSetCondition{TaskIDs: []int64{tasks[0].ID}})

	f.store.InjectFault("grants.insert:badge:first-step", errors.New("disk full"))
	res := f.submit(t, tasks[0].ID, nil)
	f.store.ClearFaults()

	assert.True(t, res.IsNew)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "reward:badge:first-step", res.Failures[0].Step)
	assert.Empty(t, res.GrantedRewards)
	assert.Empty(t, f.entriesFrom(domain.SourceReward), "failed candidate rolled back its award")

	replay, err := f.svc.ReplayCompletion(ctx, f.user.ID, tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"badge:first-step"}, replay.GrantedRewards)
	assert.Equal(t, int64(5), replay.EPAwarded)

	again, err := f.svc.ReplayCompletion(ctx, f.user.ID, tasks[0].ID)
	require.NoError(t, err)
	assert.Empty(t, again.GrantedRewards)
	assert.Len(t, f.entriesFrom(domain.SourceReward), 1)
}

func TestSubmitCompletion_AttractionFailureIsReportedAndReplayable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, tasks := f.store.PutAttraction("Lighthouse", "", domain.TaskCheckin)

	f.store.InjectFault("attraction_progress.upsert", errors.New("timeout"))
	res := f.submit(t, tasks[0].ID, nil)
	f.store.ClearFaults()

	assert.True(t, res.IsNew)
	assert.Equal(t, int64(15), res.XPAwarded)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "attraction", res.Failures[0].Step)
	assert.False(t, res.AttractionCompleted)

	replay, err := f.svc.ReplayCompletion(ctx, f.user.ID, tasks[0].ID)
	require.NoError(t, err)
	assert.True(t, replay.AttractionCompleted)
	assert.Contains(t, replay.GrantedRewards, progress.StampIdentifier(a.ID))

	replay, err = f.svc.ReplayCompletion(ctx, f.user.ID, tasks[0].ID)
	require.NoError(t, err)
	assert.False(t, replay.AttractionCompleted)
	assert.Len(t, f.entriesFrom(domain.SourceAttraction), 1)
}

func TestReplayCompletion_Unknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ReplayCompletion(context.Background(), f.user.ID, 42)
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, 404, appErr.Status)
}

func TestSubmitCompletion_ConcurrentSameUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, tasks := f.store.PutAttraction("Bridge", "", domain.TaskCheckin, domain.TaskQuiz, domain.TaskRiddle)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, task := range tasks {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				_, err := f.svc.SubmitCompletion(ctx, f.user.ID, id, nil)
				assert.NoError(t, err)
			}(task.ID)
		}
	}
	wg.Wait()

	assert.Len(t, f.entriesFrom(domain.SourceTask), 3)
	assert.Len(t, f.entriesFrom(domain.SourceAttraction), 1)

	view, err := f.stats.GetStats(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15+25+30+50), view.TotalXP)
	assert.Equal(t, 1, view.Stamps)

	rec := ledger.NewReconciler(ledger.NewEngine(f.repos), f.repos, slog.New(slog.NewTextHandler(io.Discard, nil)), false)
	check, err := rec.Check(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, check.AllPassed)
}

func TestRecordPhotoQuality(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, tasks := f.store.PutAttraction("Old Town", "", domain.TaskObservationMatch)

	_, _, err := f.svc.RecordPhotoQuality(ctx, f.user.ID, a.ID, 92, "uploads/a.jpg")
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, 409, appErr.Status)

	f.submit(t, tasks[0].ID, nil)

	g, granted, err := f.svc.RecordPhotoQuality(ctx, f.user.ID, a.ID, 92, "uploads/a.jpg")
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, domain.RewardPhotoCard, g.RewardType)

	_, granted, err = f.svc.RecordPhotoQuality(ctx, f.user.ID, a.ID, 40, "uploads/b.jpg")
	require.NoError(t, err)
	assert.False(t, granted)

	view, err := f.stats.GetStats(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.PhotoCards)
}
