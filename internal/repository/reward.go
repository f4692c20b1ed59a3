package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/trailpass/platform/internal/domain"
)

type rewardRepo struct{}

// NewRewardRepository returns a pgx-backed RewardRepository.
func NewRewardRepository() RewardRepository {
	return &rewardRepo{}
}

const rewardColumns = `id, reward_type, reward_identifier, name, description, trigger_type,
		       trigger_condition, xp_amount, ep_amount, is_active, version, updated_at`

func (r *rewardRepo) ListActive(ctx context.Context, db DBTX) ([]domain.RewardDefinition, error) {
	rows, err := db.Query(ctx, `
		SELECT `+rewardColumns+`
		FROM reward_definitions
		WHERE is_active
		ORDER BY reward_identifier ASC`)
	if err != nil {
		return nil, fmt.Errorf("query reward definitions: %w", err)
	}
	defer rows.Close()

	var out []domain.RewardDefinition
	for rows.Next() {
		var d domain.RewardDefinition
		if err := scanRewardInto(rows, &d); err != nil {
			return nil, fmt.Errorf("scan reward definition row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *rewardRepo) FindByIdentifier(ctx context.Context, db DBTX, identifier string) (*domain.RewardDefinition, error) {
	row := db.QueryRow(ctx, `
		SELECT `+rewardColumns+`
		FROM reward_definitions WHERE reward_identifier = $1`, identifier)
	var d domain.RewardDefinition
	if err := scanRewardInto(row, &d); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan reward definition: %w", err)
	}
	return &d, nil
}

func scanRewardInto(row pgx.Row, d *domain.RewardDefinition) error {
	return row.Scan(&d.ID, &d.RewardType, &d.RewardIdentifier, &d.Name, &d.Description,
		&d.TriggerType, &d.TriggerCondition, &d.XPAmount, &d.EPAmount, &d.IsActive,
		&d.Version, &d.UpdatedAt)
}
