package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/trailpass/platform/internal/domain"
)

type progressionRepo struct{}

// NewProgressionRepository returns a pgx-backed ProgressionRepository.
func NewProgressionRepository() ProgressionRepository {
	return &progressionRepo{}
}

const progressionColumns = `id, user_id, currency, amount, total_after, reason, source_type, source_id, created_at`

func (r *progressionRepo) FindBySource(ctx context.Context, db DBTX, key domain.SourceKey) (*domain.ProgressionEntry, error) {
	row := db.QueryRow(ctx, `
		SELECT `+progressionColumns+`
		FROM progression_entries
		WHERE user_id = $1 AND currency = $2
		  AND source_type = $3 AND source_id = $4`,
		key.UserID, string(key.Currency), string(key.SourceType), key.SourceID)
	return scanProgressionEntry(row)
}

func (r *progressionRepo) Insert(ctx context.Context, db DBTX, params domain.AwardParams, totalAfter int64) (*domain.ProgressionEntry, error) {
	row := db.QueryRow(ctx, `
		INSERT INTO progression_entries
		  (user_id, currency, amount, total_after, reason, source_type, source_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+progressionColumns,
		params.UserID,
		string(params.Currency),
		params.Amount,
		totalAfter,
		params.Reason,
		string(params.SourceType),
		params.SourceID,
	)
	e, err := scanProgressionEntry(row)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("insert progression entry: no row returned")
	}
	return e, nil
}

func (r *progressionRepo) SumByUser(ctx context.Context, db DBTX, userID uuid.UUID) (domain.Totals, error) {
	var t domain.Totals
	err := db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount) FILTER (WHERE currency = 'xp'), 0),
		       COALESCE(SUM(amount) FILTER (WHERE currency = 'ep'), 0)
		FROM progression_entries WHERE user_id = $1`, userID).Scan(&t.TotalXP, &t.TotalEP)
	if err != nil {
		return t, fmt.Errorf("sum progression entries: %w", err)
	}
	return t, nil
}

func (r *progressionRepo) LastByUser(ctx context.Context, db DBTX, userID uuid.UUID, currency domain.CurrencyKind) (*domain.ProgressionEntry, error) {
	row := db.QueryRow(ctx, `
		SELECT `+progressionColumns+`
		FROM progression_entries
		WHERE user_id = $1 AND currency = $2
		ORDER BY created_at DESC, total_after DESC
		LIMIT 1`, userID, string(currency))
	return scanProgressionEntry(row)
}

func scanProgressionEntry(row pgx.Row) (*domain.ProgressionEntry, error) {
	var e domain.ProgressionEntry
	if err := scanProgressionInto(row, &e); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan progression entry: %w", err)
	}
	return &e, nil
}

func scanProgressionInto(row pgx.Row, e *domain.ProgressionEntry) error {
	return row.Scan(&e.ID, &e.UserID, &e.Currency, &e.Amount, &e.TotalAfter,
		&e.Reason, &e.SourceType, &e.SourceID, &e.CreatedAt)
}
