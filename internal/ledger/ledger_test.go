package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/repository"
	"github.com/trailpass/platform/internal/repository/memory"
)

type fixture struct {
	store  *memory.Store
	repos  repository.Repositories
	engine *Engine
	user   domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	repos := store.Repositories()
	return &fixture{
		store:  store,
		repos:  repos,
		engine: NewEngine(repos),
		user:   store.PutUser(domain.User{DisplayName: "mika"}),
	}
}

func (f *fixture) award(t *testing.T, params domain.AwardParams) (*domain.AwardResult, error) {
	t.Helper()
	var res *domain.AwardResult
	err := f.repos.Tx.InTx(context.Background(), func(tx repository.DBTX) error {
		var err error
		res, err = f.engine.AwardCurrency(context.Background(), tx, params)
		return err
	})
	return res, err
}

func intPtr(v int) *int { return &v }

func TestAwardCurrency(t *testing.T) {
	t.Run("credits and snapshots total", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.award(t, domain.AwardParams{
			UserID: f.user.ID, Currency: domain.CurrencyXP, Amount: 40,
			Reason: "test", SourceType: domain.SourceTask, SourceID: "1",
		})
		require.NoError(t, err)
		assert.False(t, res.Idempotent)
		assert.Equal(t, int64(40), res.Entry.TotalAfter)
		assert.Equal(t, int64(40), res.Stats.TotalXP)
		assert.Len(t, f.store.EventsOfType(domain.EventCurrencyAwarded), 1)
	})

	t.Run("same source credits once", func(t *testing.T) {
		f := newFixture(t)
		params := domain.AwardParams{
			UserID: f.user.ID, Currency: domain.CurrencyEP, Amount: 50,
			Reason: "tier", SourceType: domain.SourceCategoryTier, SourceID: "museums:bronze",
		}
		_, err := f.award(t, params)
		require.NoError(t, err)
		again, err := f.award(t, params)
		require.NoError(t, err)

		assert.True(t, again.Idempotent)
		assert.Equal(t, int64(50), again.Stats.TotalEP)
		assert.Len(t, f.store.Entries(), 1)
	})

	t.Run("same source id in the other currency is distinct", func(t *testing.T) {
		f := newFixture(t)
		base := domain.AwardParams{
			UserID: f.user.ID, Amount: 10, Reason: "reward",
			SourceType: domain.SourceReward, SourceID: "badge:x",
		}
		xp, ep := base, base
		xp.Currency, ep.Currency = domain.CurrencyXP, domain.CurrencyEP
		_, err := f.award(t, xp)
		require.NoError(t, err)
		res, err := f.award(t, ep)
		require.NoError(t, err)
		assert.False(t, res.Idempotent)
		assert.Equal(t, domain.Totals{TotalXP: 10, TotalEP: 10}, res.Stats.Totals)
	})

	t.Run("level up emits event", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.award(t, domain.AwardParams{
			UserID: f.user.ID, Currency: domain.CurrencyXP, Amount: 90,
			Reason: "a", SourceType: domain.SourceTask, SourceID: "1",
		})
		require.NoError(t, err)
		res, err := f.award(t, domain.AwardParams{
			UserID: f.user.ID, Currency: domain.CurrencyXP, Amount: 15,
			Reason: "b", SourceType: domain.SourceTask, SourceID: "2",
		})
		require.NoError(t, err)
		assert.True(t, res.LeveledUp)
		assert.Equal(t, 2, res.Stats.Level())
		assert.Len(t, f.store.EventsOfType(domain.EventLevelUp), 1)
	})

	t.Run("EP never levels up", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.award(t, domain.AwardParams{
			UserID: f.user.ID, Currency: domain.CurrencyEP, Amount: 500,
			Reason: "ep", SourceType: domain.SourceCategoryTier, SourceID: "x:gold",
		})
		require.NoError(t, err)
		assert.False(t, res.LeveledUp)
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t)
		tests := []struct {
			name   string
			params domain.AwardParams
		}{
			{"zero amount", domain.AwardParams{UserID: f.user.ID, Currency: domain.CurrencyXP, Amount: 0, SourceType: domain.SourceTask, SourceID: "1"}},
			{"negative amount", domain.AwardParams{UserID: f.user.ID, Currency: domain.CurrencyXP, Amount: -5, SourceType: domain.SourceTask, SourceID: "1"}},
			{"unknown currency", domain.AwardParams{UserID: f.user.ID, Currency: "gold", Amount: 5, SourceType: domain.SourceTask, SourceID: "1"}},
			{"missing source", domain.AwardParams{UserID: f.user.ID, Currency: domain.CurrencyXP, Amount: 5}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.award(t, tt.params)
				appErr, ok := domain.AsAppError(err)
				require.True(t, ok)
				assert.Equal(t, 400, appErr.Status)
			})
		}
		assert.Empty(t, f.store.Entries())
	})

	t.Run("unknown user is not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.award(t, domain.AwardParams{
			UserID: uuid.New(), Currency: domain.CurrencyXP, Amount: 5,
			Reason: "x", SourceType: domain.SourceTask, SourceID: "1",
		})
		appErr, ok := domain.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, "NOT_FOUND", appErr.Code)
	})
}

func TestRecordCompletion(t *testing.T) {
	record := func(f *fixture, params domain.CompletionParams) (*domain.CompletionResult, error) {
		var res *domain.CompletionResult
		err := f.repos.Tx.InTx(context.Background(), func(tx repository.DBTX) error {
			var err error
			res, err = f.engine.RecordCompletion(context.Background(), tx, params)
			return err
		})
		return res, err
	}

	t.Run("new completion awards base xp", func(t *testing.T) {
		f := newFixture(t)
		_, tasks := f.store.PutAttraction("Old Bridge", "", domain.TaskRiddle)

		res, err := record(f, domain.CompletionParams{UserID: f.user.ID, TaskID: tasks[0].ID})
		require.NoError(t, err)
		assert.True(t, res.IsNew)
		require.NotNil(t, res.Award)
		assert.Equal(t, int64(30), res.Award.Entry.Amount)
		assert.Equal(t, "task completion: "+tasks[0].Title, res.Award.Entry.Reason)
		assert.Len(t, f.store.EventsOfType(domain.EventCompletionRecorded), 1)
	})

	t.Run("duplicate is a no-op", func(t *testing.T) {
		f := newFixture(t)
		_, tasks := f.store.PutAttraction("Old Bridge", "", domain.TaskCheckin)
		params := domain.CompletionParams{UserID: f.user.ID, TaskID: tasks[0].ID}

		_, err := record(f, params)
		require.NoError(t, err)
		res, err := record(f, params)
		require.NoError(t, err)

		assert.False(t, res.IsNew)
		assert.Nil(t, res.Award)
		assert.Len(t, f.store.Entries(), 1)
		assert.Len(t, f.store.EventsOfType(domain.EventCompletionRecorded), 1)
	})

	t.Run("perfect quiz adds bonus", func(t *testing.T) {
		f := newFixture(t)
		_, tasks := f.store.PutAttraction("Museum", "", domain.TaskQuiz, domain.TaskQuiz)

		perfect, err := record(f, domain.CompletionParams{UserID: f.user.ID, TaskID: tasks[0].ID, Score: intPtr(100)})
		require.NoError(t, err)
		partial, err := record(f, domain.CompletionParams{UserID: f.user.ID, TaskID: tasks[1].ID, Score: intPtr(80)})
		require.NoError(t, err)

		assert.Equal(t, int64(35), perfect.Award.Entry.Amount)
		assert.Equal(t, int64(25), partial.Award.Entry.Amount)
	})

	t.Run("unknown task", func(t *testing.T) {
		f := newFixture(t)
		_, err := record(f, domain.CompletionParams{UserID: f.user.ID, TaskID: 999})
		appErr, ok := domain.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, 404, appErr.Status)
	})

	t.Run("score out of range", func(t *testing.T) {
		f := newFixture(t)
		_, tasks := f.store.PutAttraction("Museum", "", domain.TaskQuiz)
		_, err := record(f, domain.CompletionParams{UserID: f.user.ID, TaskID: tasks[0].ID, Score: intPtr(101)})
		appErr, ok := domain.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, 400, appErr.Status)
	})

	t.Run("award failure rolls back the completion", func(t *testing.T) {
		f := newFixture(t)
		_, tasks := f.store.PutAttraction("Museum", "", domain.TaskQuiz)
		f.store.InjectFault("stats.add", errors.New("disk full"))

		_, err := record(f, domain.CompletionParams{UserID: f.user.ID, TaskID: tasks[0].ID})
		require.Error(t, err)

		c, err := f.repos.Completions.Find(context.Background(), f.repos.Tx.DB(), f.user.ID, tasks[0].ID)
		require.NoError(t, err)
		assert.Nil(t, c)
		assert.Empty(t, f.store.Events())
	})
}

func TestGrantReward(t *testing.T) {
	grant := func(f *fixture, params domain.GrantParams) (*domain.Grant, bool, error) {
		var g *domain.Grant
		var granted bool
		err := f.repos.Tx.InTx(context.Background(), func(tx repository.DBTX) error {
			var err error
			g, granted, err = f.engine.GrantReward(context.Background(), tx, params)
			return err
		})
		return g, granted, err
	}

	f := newFixture(t)
	params := domain.GrantParams{
		UserID: f.user.ID, RewardType: domain.RewardBadge,
		RewardIdentifier: "badge:first_steps", Name: "First Steps",
	}

	g, granted, err := grant(f, params)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, "First Steps", g.RewardName)
	assert.JSONEq(t, `{}`, string(g.Metadata))

	g, granted, err = grant(f, params)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Nil(t, g)
	assert.Len(t, f.store.EventsOfType(domain.EventRewardGranted), 1)

	_, _, err = grant(f, domain.GrantParams{UserID: f.user.ID})
	assert.Error(t, err)
}

func TestReconciler(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("clean ledger passes", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.award(t, domain.AwardParams{
			UserID: f.user.ID, Currency: domain.CurrencyXP, Amount: 120,
			Reason: "x", SourceType: domain.SourceTask, SourceID: "1",
		})
		require.NoError(t, err)

		res, err := NewReconciler(f.engine, f.repos, logger, false).Check(ctx, f.user.ID)
		require.NoError(t, err)
		assert.True(t, res.AllPassed)
		assert.Equal(t, int64(120), res.Ledger.TotalXP)
	})

	t.Run("drift detected and repaired", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.award(t, domain.AwardParams{
			UserID: f.user.ID, Currency: domain.CurrencyXP, Amount: 60,
			Reason: "x", SourceType: domain.SourceTask, SourceID: "1",
		})
		require.NoError(t, err)
		f.store.CorruptTotals(f.user.ID, domain.Totals{TotalXP: 999})

		summary, err := NewReconciler(f.engine, f.repos, logger, true).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, RunSummary{Checked: 1, Failed: 1, Repaired: 1}, summary)

		stats, err := f.repos.Stats.Find(ctx, f.repos.Tx.DB(), f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(60), stats.TotalXP)
	})

	t.Run("repair converges when snapshots are stale", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.award(t, domain.AwardParams{
			UserID: f.user.ID, Currency: domain.CurrencyXP, Amount: 60,
			Reason: "x", SourceType: domain.SourceTask, SourceID: "1",
		})
		require.NoError(t, err)
		f.store.CorruptTotals(f.user.ID, domain.Totals{TotalXP: 999})
		// The next award builds its snapshot on the corrupted total.
		_, err = f.award(t, domain.AwardParams{
			UserID: f.user.ID, Currency: domain.CurrencyXP, Amount: 10,
			Reason: "x", SourceType: domain.SourceTask, SourceID: "2",
		})
		require.NoError(t, err)

		var repaired []uuid.UUID
		rec := NewReconciler(f.engine, f.repos, logger, true)
		rec.OnRepair(func(_ context.Context, id uuid.UUID) { repaired = append(repaired, id) })

		summary, err := rec.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, RunSummary{Checked: 1, Failed: 1, Repaired: 1}, summary)
		assert.Equal(t, []uuid.UUID{f.user.ID}, repaired)

		for i := 0; i < 2; i++ {
			summary, err = rec.Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, RunSummary{Checked: 1}, summary)
		}
		assert.Len(t, repaired, 1)

		last, err := f.repos.Progression.LastByUser(ctx, f.repos.Tx.DB(), f.user.ID, domain.CurrencyXP)
		require.NoError(t, err)
		assert.Equal(t, domain.SourceReconcile, last.SourceType)
		assert.Equal(t, int64(70), last.TotalAfter)
		assert.Zero(t, last.Amount)

		sum, err := f.repos.Progression.SumByUser(ctx, f.repos.Tx.DB(), f.user.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.Totals{TotalXP: 70}, sum)
	})

	t.Run("drift reported without repair", func(t *testing.T) {
		f := newFixture(t)
		f.store.CorruptTotals(f.user.ID, domain.Totals{TotalEP: 7})

		res, err := NewReconciler(f.engine, f.repos, logger, false).Check(ctx, f.user.ID)
		require.NoError(t, err)
		assert.False(t, res.AllPassed)
		assert.False(t, res.Repaired)
	})
}
