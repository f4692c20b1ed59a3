package ledger

import (
	"context"
	"fmt"

	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/repository"
)

// GrantReward inserts a grant unless the user already holds the identifier.
// granted=false with a nil error means the grant already existed.
func (e *Engine) GrantReward(ctx context.Context, tx repository.DBTX, params domain.GrantParams) (*domain.Grant, bool, error) {
	if err := domain.ValidateRewardIdentifier(params.RewardIdentifier); err != nil {
		return nil, false, err
	}

	if _, err := e.LockUser(ctx, tx, params.UserID); err != nil {
		return nil, false, fmt.Errorf("grant: %w", err)
	}

	params.Metadata = ensureJSON(params.Metadata)
	g, err := e.grants.Insert(ctx, tx, params)
	if err != nil {
		return nil, false, fmt.Errorf("insert grant: %w", err)
	}
	if g == nil {
		return nil, false, nil
	}

	if err := e.outbox.Insert(ctx, tx, domain.NewRewardGrantedEvent(g)); err != nil {
		return nil, false, fmt.Errorf("insert outbox event: %w", err)
	}
	return g, true, nil
}

// HasGrant reports whether the user already holds the reward identifier.
func (e *Engine) HasGrant(ctx context.Context, tx repository.DBTX, params domain.GrantParams) (bool, error) {
	ok, err := e.grants.Exists(ctx, tx, params.UserID, params.RewardIdentifier)
	if err != nil {
		return false, fmt.Errorf("check grant: %w", err)
	}
	return ok, nil
}
