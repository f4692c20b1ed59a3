package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/trailpass/platform/internal/domain"
)

type completionRepo struct{}

// NewCompletionRepository returns a pgx-backed CompletionRepository.
func NewCompletionRepository() CompletionRepository {
	return &completionRepo{}
}

// Insert relies on the (user_id, task_id) primary key; a conflict returns no row.
func (r *completionRepo) Insert(ctx context.Context, db DBTX, params domain.CompletionParams) (*domain.Completion, bool, error) {
	row := db.QueryRow(ctx, `
		INSERT INTO completions (user_id, task_id, score)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, task_id) DO NOTHING
		RETURNING user_id, task_id, score, completed_at`,
		params.UserID, params.TaskID, params.Score)
	c, err := scanCompletion(row)
	if err != nil {
		return nil, false, fmt.Errorf("insert completion: %w", err)
	}
	if c != nil {
		return c, true, nil
	}

	existing, err := r.Find(ctx, db, params.UserID, params.TaskID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *completionRepo) Find(ctx context.Context, db DBTX, userID uuid.UUID, taskID int64) (*domain.Completion, error) {
	row := db.QueryRow(ctx, `
		SELECT user_id, task_id, score, completed_at
		FROM completions WHERE user_id = $1 AND task_id = $2`, userID, taskID)
	return scanCompletion(row)
}

func (r *completionRepo) CountCompletedInSet(ctx context.Context, db DBTX, userID uuid.UUID, taskIDs []int64) (int, error) {
	if len(taskIDs) == 0 {
		return 0, nil
	}
	var n int
	err := db.QueryRow(ctx, `
		SELECT count(DISTINCT task_id) FROM completions
		WHERE user_id = $1 AND task_id = ANY($2)`, userID, taskIDs).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count completed in set: %w", err)
	}
	return n, nil
}

func (r *completionRepo) ListByAttraction(ctx context.Context, db DBTX, userID uuid.UUID, attractionID int64) ([]domain.Completion, error) {
	rows, err := db.Query(ctx, `
		SELECT c.user_id, c.task_id, c.score, c.completed_at
		FROM completions c
		JOIN tasks t ON t.id = c.task_id
		WHERE c.user_id = $1 AND t.attraction_id = $2
		ORDER BY c.task_id ASC`, userID, attractionID)
	if err != nil {
		return nil, fmt.Errorf("query attraction completions: %w", err)
	}
	defer rows.Close()

	var out []domain.Completion
	for rows.Next() {
		var c domain.Completion
		if err := rows.Scan(&c.UserID, &c.TaskID, &c.Score, &c.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan completion row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *completionRepo) CountCompletedAttractions(ctx context.Context, db DBTX, userID uuid.UUID, category string) (int, error) {
	var n int
	err := db.QueryRow(ctx, `
		SELECT count(*)
		FROM attractions a
		WHERE a.category = $2
		  AND a.total_tasks > 0
		  AND (SELECT count(DISTINCT c.task_id)
		       FROM completions c
		       JOIN tasks t ON t.id = c.task_id
		       WHERE c.user_id = $1 AND t.attraction_id = a.id) >= a.total_tasks`,
		userID, category).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count completed attractions: %w", err)
	}
	return n, nil
}

func scanCompletion(row pgx.Row) (*domain.Completion, error) {
	var c domain.Completion
	if err := row.Scan(&c.UserID, &c.TaskID, &c.Score, &c.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan completion: %w", err)
	}
	return &c, nil
}
