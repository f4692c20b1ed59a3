package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/repository"
)

func TestInTx_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	repos := s.Repositories()
	u := s.PutUser(domain.User{DisplayName: "ana"})

	boom := errors.New("boom")
	err := repos.Tx.InTx(ctx, func(tx repository.DBTX) error {
		_, err := repos.Stats.LockForUpdate(ctx, tx, u.ID)
		require.NoError(t, err)
		_, err = repos.Stats.AddTotals(ctx, tx, u.ID, domain.Totals{TotalXP: 40})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stats, err := repos.Stats.Find(ctx, repos.Tx.DB(), u.ID)
	require.NoError(t, err)
	assert.Nil(t, stats)
}

func TestSavepoint_FailureKeepsOuterWork(t *testing.T) {
	ctx := context.Background()
	s := New()
	repos := s.Repositories()
	u := s.PutUser(domain.User{DisplayName: "ana"})

	err := repos.Tx.InTx(ctx, func(tx repository.DBTX) error {
		_, err := repos.Stats.LockForUpdate(ctx, tx, u.ID)
		require.NoError(t, err)

		spErr := repos.Tx.Savepoint(ctx, tx, func(sp repository.DBTX) error {
			_, err := repos.Grants.Insert(ctx, sp, domain.GrantParams{
				UserID: u.ID, RewardType: domain.RewardBadge, RewardIdentifier: "badge:first", Name: "First",
			})
			require.NoError(t, err)
			return errors.New("later step failed")
		})
		assert.Error(t, spErr)

		return repos.Tx.Savepoint(ctx, tx, func(sp repository.DBTX) error {
			_, err := repos.Grants.Insert(ctx, sp, domain.GrantParams{
				UserID: u.ID, RewardType: domain.RewardBadge, RewardIdentifier: "badge:second", Name: "Second",
			})
			return err
		})
	})
	require.NoError(t, err)

	db := repos.Tx.DB()
	first, err := repos.Grants.Exists(ctx, db, u.ID, "badge:first")
	require.NoError(t, err)
	second, err := repos.Grants.Exists(ctx, db, u.ID, "badge:second")
	require.NoError(t, err)
	assert.False(t, first)
	assert.True(t, second)
}

func TestGrantInsert_ConflictReturnsNil(t *testing.T) {
	ctx := context.Background()
	s := New()
	repos := s.Repositories()
	u := s.PutUser(domain.User{})
	params := domain.GrantParams{UserID: u.ID, RewardType: domain.RewardStamp, RewardIdentifier: "stamp:attraction:1", Name: "Stamp"}

	g, err := repos.Grants.Insert(ctx, repos.Tx.DB(), params)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.JSONEq(t, `{}`, string(g.Metadata))

	again, err := repos.Grants.Insert(ctx, repos.Tx.DB(), params)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestInjectFault(t *testing.T) {
	ctx := context.Background()
	s := New()
	repos := s.Repositories()
	u := s.PutUser(domain.User{})
	boom := errors.New("disk full")

	s.InjectFault("grants.insert:badge:broken", boom)
	_, err := repos.Grants.Insert(ctx, s.DB(), domain.GrantParams{UserID: u.ID, RewardIdentifier: "badge:broken"})
	assert.ErrorIs(t, err, boom)

	_, err = repos.Grants.Insert(ctx, s.DB(), domain.GrantParams{UserID: u.ID, RewardIdentifier: "badge:fine"})
	assert.NoError(t, err)

	s.ClearFaults()
	_, err = repos.Grants.Insert(ctx, s.DB(), domain.GrantParams{UserID: u.ID, RewardIdentifier: "badge:broken"})
	assert.NoError(t, err)
}

func TestCategoryUpsert_FlagsNeverRevert(t *testing.T) {
	ctx := context.Background()
	s := New()
	repos := s.Repositories()
	u := s.PutUser(domain.User{})

	_, err := repos.CategoryProgress.Upsert(ctx, s.DB(), &domain.CategoryProgress{
		UserID: u.ID, Category: "museums", CompletedAttractions: 2, TotalAttractions: 3,
		CompletionPercentage: 66.666, TierFlags: domain.TierFlags{Bronze: true, Silver: true},
	})
	require.NoError(t, err)

	stored, err := repos.CategoryProgress.Upsert(ctx, s.DB(), &domain.CategoryProgress{
		UserID: u.ID, Category: "museums", CompletedAttractions: 1, TotalAttractions: 4,
		CompletionPercentage: 25,
	})
	require.NoError(t, err)
	assert.True(t, stored.Bronze)
	assert.True(t, stored.Silver)
	assert.False(t, stored.Gold)
	assert.Equal(t, 25.0, stored.CompletionPercentage)
}

func TestRawSQLRejected(t *testing.T) {
	s := New()
	_, err := s.Exec(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrRawSQL)
}
