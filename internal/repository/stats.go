package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/trailpass/platform/internal/domain"
)

type statsRepo struct{}

// NewStatsRepository returns a pgx-backed StatsRepository.
func NewStatsRepository() StatsRepository {
	return &statsRepo{}
}

// LockForUpdate materializes the stats row on first use so that every user
// has a row to lock, then takes the row lock for the rest of the transaction.
func (r *statsRepo) LockForUpdate(ctx context.Context, db DBTX, userID uuid.UUID) (*domain.UserStats, error) {
	_, err := db.Exec(ctx, `
		INSERT INTO user_stats (user_id)
		SELECT id FROM users WHERE id = $1
		ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return nil, fmt.Errorf("ensure user stats: %w", err)
	}

	row := db.QueryRow(ctx, `
		SELECT user_id, total_xp, total_ep, updated_at
		FROM user_stats WHERE user_id = $1 FOR UPDATE`, userID)
	return scanUserStats(row)
}

func (r *statsRepo) Find(ctx context.Context, db DBTX, userID uuid.UUID) (*domain.UserStats, error) {
	row := db.QueryRow(ctx, `
		SELECT user_id, total_xp, total_ep, updated_at
		FROM user_stats WHERE user_id = $1`, userID)
	return scanUserStats(row)
}

// AddTotals uses server-side arithmetic with dynamic SET clauses.
func (r *statsRepo) AddTotals(ctx context.Context, db DBTX, userID uuid.UUID, delta domain.Totals) (*domain.UserStats, error) {
	setClauses := []string{"updated_at = now()"}
	args := []interface{}{}
	argIdx := 1

	if delta.TotalXP != 0 {
		setClauses = append(setClauses, fmt.Sprintf("total_xp = total_xp + $%d", argIdx))
		args = append(args, delta.TotalXP)
		argIdx++
	}
	if delta.TotalEP != 0 {
		setClauses = append(setClauses, fmt.Sprintf("total_ep = total_ep + $%d", argIdx))
		args = append(args, delta.TotalEP)
		argIdx++
	}

	args = append(args, userID)
	query := fmt.Sprintf(`
		UPDATE user_stats SET %s
		WHERE user_id = $%d
		RETURNING user_id, total_xp, total_ep, updated_at`,
		strings.Join(setClauses, ", "), argIdx)

	s, err := scanUserStats(db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("update user stats: no stats row for %s", userID)
	}
	return s, nil
}

func (r *statsRepo) SetTotals(ctx context.Context, db DBTX, userID uuid.UUID, totals domain.Totals) error {
	tag, err := db.Exec(ctx, `
		UPDATE user_stats SET total_xp = $1, total_ep = $2, updated_at = now()
		WHERE user_id = $3`, totals.TotalXP, totals.TotalEP, userID)
	if err != nil {
		return fmt.Errorf("set user stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set user stats: no stats row for %s", userID)
	}
	return nil
}

func (r *statsRepo) ListUserIDs(ctx context.Context, db DBTX, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	rows, err := db.Query(ctx, `
		SELECT user_id FROM user_stats
		WHERE user_id > $1
		ORDER BY user_id ASC
		LIMIT $2`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query stats users: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stats user: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Leaderboard ties are broken by account age, then by id, so equal XP always
// produces the same order.
func (r *statsRepo) Leaderboard(ctx context.Context, db DBTX, filter domain.LeaderboardFilter, limit int) ([]domain.LeaderboardEntry, error) {
	var rows pgx.Rows
	var err error
	if filter.Category != "" {
		rows, err = db.Query(ctx, `
			SELECT s.user_id, u.display_name, s.total_xp, u.created_at
			FROM user_stats s
			JOIN users u ON u.id = s.user_id
			WHERE EXISTS (
			    SELECT 1 FROM category_progress cp
			    WHERE cp.user_id = s.user_id AND cp.category = $2)
			ORDER BY s.total_xp DESC, u.created_at ASC, s.user_id ASC
			LIMIT $1`, limit, filter.Category)
	} else {
		rows, err = db.Query(ctx, `
			SELECT s.user_id, u.display_name, s.total_xp, u.created_at
			FROM user_stats s
			JOIN users u ON u.id = s.user_id
			ORDER BY s.total_xp DESC, u.created_at ASC, s.user_id ASC
			LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []domain.LeaderboardEntry
	for rows.Next() {
		e := domain.LeaderboardEntry{Rank: len(out) + 1}
		if err := rows.Scan(&e.UserID, &e.DisplayName, &e.TotalXP, &e.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanUserStats(row pgx.Row) (*domain.UserStats, error) {
	var s domain.UserStats
	if err := row.Scan(&s.UserID, &s.TotalXP, &s.TotalEP, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user stats: %w", err)
	}
	return &s, nil
}
