package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/infra"
)

type categoryProgressRepo struct{}

// NewCategoryProgressRepository returns a pgx-backed CategoryProgressRepository.
func NewCategoryProgressRepository() CategoryProgressRepository {
	return &categoryProgressRepo{}
}

const categoryProgressColumns = `user_id, category, completed_attractions, total_attractions,
		       completion_percentage, bronze_unlocked, silver_unlocked, gold_unlocked, updated_at`

func (r *categoryProgressRepo) Find(ctx context.Context, db DBTX, userID uuid.UUID, category string) (*domain.CategoryProgress, error) {
	row := db.QueryRow(ctx, `
		SELECT `+categoryProgressColumns+`
		FROM category_progress WHERE user_id = $1 AND category = $2`, userID, category)
	return scanCategoryProgress(row)
}

// Upsert ORs the stored flags with the incoming ones so a tier never relocks,
// even if the catalog shrinks or a stale writer computes lower counts.
func (r *categoryProgressRepo) Upsert(ctx context.Context, db DBTX, p *domain.CategoryProgress) (*domain.CategoryProgress, error) {
	row := db.QueryRow(ctx, `
		INSERT INTO category_progress
		  (user_id, category, completed_attractions, total_attractions, completion_percentage,
		   bronze_unlocked, silver_unlocked, gold_unlocked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, category) DO UPDATE SET
		  completed_attractions = EXCLUDED.completed_attractions,
		  total_attractions     = EXCLUDED.total_attractions,
		  completion_percentage = EXCLUDED.completion_percentage,
		  bronze_unlocked       = category_progress.bronze_unlocked OR EXCLUDED.bronze_unlocked,
		  silver_unlocked       = category_progress.silver_unlocked OR EXCLUDED.silver_unlocked,
		  gold_unlocked         = category_progress.gold_unlocked OR EXCLUDED.gold_unlocked,
		  updated_at            = now()
		RETURNING `+categoryProgressColumns,
		p.UserID,
		p.Category,
		p.CompletedAttractions,
		p.TotalAttractions,
		infra.PercentToNumeric(p.CompletionPercentage),
		p.Bronze,
		p.Silver,
		p.Gold,
	)
	stored, err := scanCategoryProgress(row)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("upsert category progress: no row returned")
	}
	return stored, nil
}

func (r *categoryProgressRepo) ListByUser(ctx context.Context, db DBTX, userID uuid.UUID) ([]domain.CategoryProgress, error) {
	rows, err := db.Query(ctx, `
		SELECT `+categoryProgressColumns+`
		FROM category_progress WHERE user_id = $1
		ORDER BY category ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query category progress: %w", err)
	}
	defer rows.Close()

	var out []domain.CategoryProgress
	for rows.Next() {
		var p domain.CategoryProgress
		if err := scanCategoryProgressInto(rows, &p); err != nil {
			return nil, fmt.Errorf("scan category progress row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanCategoryProgress(row pgx.Row) (*domain.CategoryProgress, error) {
	var p domain.CategoryProgress
	if err := scanCategoryProgressInto(row, &p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan category progress: %w", err)
	}
	return &p, nil
}

func scanCategoryProgressInto(row pgx.Row, p *domain.CategoryProgress) error {
	var pct pgtype.Numeric
	err := row.Scan(&p.UserID, &p.Category, &p.CompletedAttractions, &p.TotalAttractions,
		&pct, &p.Bronze, &p.Silver, &p.Gold, &p.UpdatedAt)
	if err != nil {
		return err
	}
	p.CompletionPercentage, err = infra.NumericToPercent(pct)
	if err != nil {
		return fmt.Errorf("convert completion_percentage: %w", err)
	}
	return nil
}

type attractionProgressRepo struct{}

// NewAttractionProgressRepository returns a pgx-backed AttractionProgressRepository.
func NewAttractionProgressRepository() AttractionProgressRepository {
	return &attractionProgressRepo{}
}

func (r *attractionProgressRepo) Find(ctx context.Context, db DBTX, userID uuid.UUID, attractionID int64) (*domain.AttractionProgress, error) {
	var p domain.AttractionProgress
	var pct pgtype.Numeric
	err := db.QueryRow(ctx, `
		SELECT user_id, attraction_id, completed_tasks, total_tasks, progress_percentage,
		       quality_score, completed_at, updated_at
		FROM attraction_progress WHERE user_id = $1 AND attraction_id = $2`, userID, attractionID).
		Scan(&p.UserID, &p.AttractionID, &p.CompletedTasks, &p.TotalTasks, &pct,
			&p.QualityScore, &p.CompletedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan attraction progress: %w", err)
	}
	if p.ProgressPercentage, err = infra.NumericToPercent(pct); err != nil {
		return nil, fmt.Errorf("convert progress_percentage: %w", err)
	}
	return &p, nil
}

// Upsert keeps the first completed_at and quality_score ever written.
func (r *attractionProgressRepo) Upsert(ctx context.Context, db DBTX, p *domain.AttractionProgress) error {
	_, err := db.Exec(ctx, `
		INSERT INTO attraction_progress
		  (user_id, attraction_id, completed_tasks, total_tasks, progress_percentage,
		   quality_score, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, attraction_id) DO UPDATE SET
		  completed_tasks     = EXCLUDED.completed_tasks,
		  total_tasks         = EXCLUDED.total_tasks,
		  progress_percentage = EXCLUDED.progress_percentage,
		  quality_score       = COALESCE(attraction_progress.quality_score, EXCLUDED.quality_score),
		  completed_at        = COALESCE(attraction_progress.completed_at, EXCLUDED.completed_at),
		  updated_at          = now()`,
		p.UserID,
		p.AttractionID,
		p.CompletedTasks,
		p.TotalTasks,
		infra.PercentToNumeric(p.ProgressPercentage),
		p.QualityScore,
		p.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert attraction progress: %w", err)
	}
	return nil
}
