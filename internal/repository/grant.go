package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/trailpass/platform/internal/domain"
)

type grantRepo struct{}

// NewGrantRepository returns a pgx-backed GrantRepository.
func NewGrantRepository() GrantRepository {
	return &grantRepo{}
}

const grantColumns = `id, user_id, reward_type, reward_identifier, reward_name, reward_description,
		          definition_id, metadata, earned_at`

func (r *grantRepo) Exists(ctx context.Context, db DBTX, userID uuid.UUID, identifier string) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM grants WHERE user_id = $1 AND reward_identifier = $2)`,
		userID, identifier).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check grant: %w", err)
	}
	return exists, nil
}

// Insert leans on uq_grants_user_reward: a concurrent or repeated grant
// produces no row instead of a duplicate.
func (r *grantRepo) Insert(ctx context.Context, db DBTX, params domain.GrantParams) (*domain.Grant, error) {
	meta := params.Metadata
	if meta == nil {
		meta = json.RawMessage(`{}`)
	}

	row := db.QueryRow(ctx, `
		INSERT INTO grants
		  (user_id, reward_type, reward_identifier, reward_name, reward_description, definition_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT uq_grants_user_reward DO NOTHING
		RETURNING `+grantColumns,
		params.UserID,
		string(params.RewardType),
		params.RewardIdentifier,
		params.Name,
		params.Description,
		params.DefinitionID,
		meta,
	)
	return scanGrant(row)
}

func (r *grantRepo) ListSince(ctx context.Context, db DBTX, userID uuid.UUID, since time.Time) ([]domain.Grant, error) {
	rows, err := db.Query(ctx, `
		SELECT `+grantColumns+`
		FROM grants
		WHERE user_id = $1 AND earned_at >= $2
		ORDER BY earned_at DESC, reward_identifier ASC`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	var out []domain.Grant
	for rows.Next() {
		var g domain.Grant
		if err := scanGrantInto(rows, &g); err != nil {
			return nil, fmt.Errorf("scan grant row: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *grantRepo) CountByType(ctx context.Context, db DBTX, userID uuid.UUID) (domain.GrantCounts, error) {
	var counts domain.GrantCounts
	rows, err := db.Query(ctx, `
		SELECT reward_type, count(*) FROM grants WHERE user_id = $1 GROUP BY reward_type`, userID)
	if err != nil {
		return counts, fmt.Errorf("count grants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t domain.RewardType
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return counts, fmt.Errorf("scan grant count: %w", err)
		}
		counts.Add(t, n)
	}
	return counts, rows.Err()
}

func scanGrant(row pgx.Row) (*domain.Grant, error) {
	var g domain.Grant
	if err := scanGrantInto(row, &g); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan grant: %w", err)
	}
	return &g, nil
}

func scanGrantInto(row pgx.Row, g *domain.Grant) error {
	return row.Scan(&g.ID, &g.UserID, &g.RewardType, &g.RewardIdentifier, &g.RewardName,
		&g.RewardDesc, &g.DefinitionID, &g.Metadata, &g.EarnedAt)
}
