// Package stats serves the read side of progression: user stats, category
// progress, recent grants and the XP leaderboard.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/projection"
	"github.com/trailpass/platform/internal/repository"
)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
	MaxRecentSeconds        = 86400
)

// Service is the stats facade.
type Service struct {
	tx         repository.TxManager
	users      repository.UserRepository
	catalog    repository.CatalogRepository
	stats      repository.StatsRepository
	grants     repository.GrantRepository
	categories repository.CategoryProgressRepository
	cache      projection.Store
	cacheTTL   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a stats facade. cache may be nil to disable caching.
func NewService(repos repository.Repositories, cache projection.Store, cacheTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		tx:         repos.Tx,
		users:      repos.Users,
		catalog:    repos.Catalog,
		stats:      repos.Stats,
		grants:     repos.Grants,
		categories: repos.CategoryProgress,
		cache:      cache,
		cacheTTL:   cacheTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// GetStats returns the user's totals, level and per-type grant counts.
// Users without any progression yet get a zero view.
func (s *Service) GetStats(ctx context.Context, userID uuid.UUID) (*domain.StatsView, error) {
	fill := false
	var gen int64
	if s.cache != nil {
		cached, g, err := projection.GetStats(ctx, s.cache, userID)
		switch {
		case err == nil:
			return &cached.Stats, nil
		case errors.Is(err, projection.ErrMiss):
			fill, gen = true, g
		default:
			s.logger.Warn("stats cache read failed", "user_id", userID, "error", err)
		}
	}

	db := s.tx.DB()
	var (
		user   *domain.User
		row    *domain.UserStats
		counts domain.GrantCounts
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		user, err = s.users.FindByID(gctx, db, userID)
		return err
	})
	g.Go(func() error {
		var err error
		row, err = s.stats.Find(gctx, db, userID)
		return err
	})
	g.Go(func() error {
		var err error
		counts, err = s.grants.CountByType(gctx, db, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	if user == nil {
		return nil, domain.ErrNotFound("user", userID.String())
	}

	var totals domain.Totals
	if row != nil {
		totals = row.Totals
	}
	view := domain.NewStatsView(totals, counts)

	if fill {
		if err := projection.UpdateStats(ctx, s.cache, userID, view, gen, s.cacheTTL); err != nil {
			s.logger.Warn("stats cache write failed", "user_id", userID, "error", err)
		}
	}
	return &view, nil
}

// Invalidate drops the user's cached stats. Called after every award or grant
// commits; a read that loaded its view before the commit cannot re-cache it.
func (s *Service) Invalidate(ctx context.Context, userID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := projection.InvalidateStats(ctx, s.cache, userID); err != nil {
		s.logger.Warn("stats cache invalidation failed", "user_id", userID, "error", err)
	}
}

// GetCategoryProgress returns one row per catalog category, ordered by name.
// Categories the user has not started are reported with zero progress.
func (s *Service) GetCategoryProgress(ctx context.Context, userID uuid.UUID) ([]domain.CategoryProgress, error) {
	db := s.tx.DB()
	var (
		cats []domain.Category
		rows []domain.CategoryProgress
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cats, err = s.catalog.ListCategories(gctx, db)
		return err
	})
	g.Go(func() error {
		var err error
		rows, err = s.categories.ListByUser(gctx, db, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load category progress: %w", err)
	}

	byName := make(map[string]domain.CategoryProgress, len(rows))
	for _, r := range rows {
		byName[r.Category] = r
	}
	out := make([]domain.CategoryProgress, 0, len(cats))
	for _, c := range cats {
		p, ok := byName[c.Name]
		if !ok {
			p = domain.CategoryProgress{UserID: userID, Category: c.Name, TotalAttractions: c.TotalAttractions}
		}
		out = append(out, p)
	}
	return out, nil
}

// GetRecentGrants returns grants earned within the last withinSeconds,
// newest first. withinSeconds is clamped to 1..86400.
func (s *Service) GetRecentGrants(ctx context.Context, userID uuid.UUID, withinSeconds int) ([]domain.Grant, error) {
	withinSeconds = clamp(withinSeconds, 1, MaxRecentSeconds)
	since := s.now().Add(-time.Duration(withinSeconds) * time.Second)
	grants, err := s.grants.ListSince(ctx, s.tx.DB(), userID, since)
	if err != nil {
		return nil, fmt.Errorf("list recent grants: %w", err)
	}
	if grants == nil {
		grants = []domain.Grant{}
	}
	return grants, nil
}

// GetLeaderboard ranks users by XP. Ties are broken by account age, then id.
// A zero limit selects the default; anything else is clamped to 1..100.
func (s *Service) GetLeaderboard(ctx context.Context, filter domain.LeaderboardFilter, limit int) ([]domain.LeaderboardEntry, error) {
	if limit == 0 {
		limit = DefaultLeaderboardLimit
	}
	limit = clamp(limit, 1, MaxLeaderboardLimit)
	entries, err := s.stats.Leaderboard(ctx, s.tx.DB(), filter, limit)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	return entries, nil
}

// ParseLeaderboardFilter accepts "", "all" or "category:<name>".
func ParseLeaderboardFilter(raw string) (domain.LeaderboardFilter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "all" {
		return domain.LeaderboardFilter{}, nil
	}
	if name, ok := strings.CutPrefix(raw, "category:"); ok && strings.TrimSpace(name) != "" {
		return domain.LeaderboardFilter{Category: strings.TrimSpace(name)}, nil
	}
	return domain.LeaderboardFilter{}, domain.ErrValidation(fmt.Sprintf("invalid leaderboard filter %q", raw))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
