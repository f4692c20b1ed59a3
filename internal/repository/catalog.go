package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/trailpass/platform/internal/domain"
)

type catalogRepo struct{}

// NewCatalogRepository returns a pgx-backed CatalogRepository.
func NewCatalogRepository() CatalogRepository {
	return &catalogRepo{}
}

func (r *catalogRepo) FindTask(ctx context.Context, db DBTX, id int64) (*domain.Task, error) {
	var t domain.Task
	err := db.QueryRow(ctx, `
		SELECT id, attraction_id, title, type, created_at FROM tasks WHERE id = $1`, id).
		Scan(&t.ID, &t.AttractionID, &t.Title, &t.Type, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return &t, nil
}

func (r *catalogRepo) FindAttraction(ctx context.Context, db DBTX, id int64) (*domain.Attraction, error) {
	row := db.QueryRow(ctx, `
		SELECT id, name, category, total_tasks, created_at FROM attractions WHERE id = $1`, id)
	var a domain.Attraction
	if err := row.Scan(&a.ID, &a.Name, &a.Category, &a.TotalTasks, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan attraction: %w", err)
	}
	return &a, nil
}

func (r *catalogRepo) FindCategory(ctx context.Context, db DBTX, name string) (*domain.Category, error) {
	var c domain.Category
	err := db.QueryRow(ctx, `
		SELECT name, total_attractions, created_at FROM categories WHERE name = $1`, name).
		Scan(&c.Name, &c.TotalAttractions, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan category: %w", err)
	}
	return &c, nil
}

func (r *catalogRepo) ListCategories(ctx context.Context, db DBTX) ([]domain.Category, error) {
	rows, err := db.Query(ctx, `
		SELECT name, total_attractions, created_at FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.Name, &c.TotalAttractions, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *catalogRepo) ListAttractionsByCategory(ctx context.Context, db DBTX, category string) ([]domain.Attraction, error) {
	rows, err := db.Query(ctx, `
		SELECT id, name, category, total_tasks, created_at
		FROM attractions WHERE category = $1 ORDER BY id ASC`, category)
	if err != nil {
		return nil, fmt.Errorf("query attractions: %w", err)
	}
	defer rows.Close()

	var out []domain.Attraction
	for rows.Next() {
		var a domain.Attraction
		if err := rows.Scan(&a.ID, &a.Name, &a.Category, &a.TotalTasks, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attraction row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
