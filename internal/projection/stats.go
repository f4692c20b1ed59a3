package projection

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/trailpass/platform/internal/domain"
)

// StatsProjection is a cached dashboard view of a user.
//
// Generation is the user's invalidation counter when the view was read from
// the store. A projection whose generation is behind the current counter is
// stale and reported as a miss.
type StatsProjection struct {
	UserID     string           `json:"user_id"`
	Stats      domain.StatsView `json:"stats"`
	Generation int64            `json:"generation"`
	UpdatedAt  string           `json:"updated_at"`
}

func statsKey(userID uuid.UUID) string {
	return fmt.Sprintf("projection:stats:%s", userID)
}

func statsGenKey(userID uuid.UUID) string {
	return fmt.Sprintf("projection:stats-gen:%s", userID)
}

// StatsGeneration returns the user's current invalidation counter.
func StatsGeneration(ctx context.Context, store Store, userID uuid.UUID) (int64, error) {
	raw, err := store.Get(ctx, statsGenKey(userID))
	if errors.Is(err, ErrMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	gen, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse stats generation: %w", err)
	}
	return gen, nil
}

// UpdateStats caches a user's stats view. gen must be the generation read
// before the view was loaded from the store.
func UpdateStats(ctx context.Context, store Store, userID uuid.UUID, view domain.StatsView, gen int64, ttl time.Duration) error {
	p := StatsProjection{
		UserID:     userID.String(),
		Stats:      view,
		Generation: gen,
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	return SetJSON(ctx, store, statsKey(userID), p, ttl)
}

// GetStats retrieves a cached stats view along with the current generation.
// On ErrMiss the generation is still returned so the caller can fill the
// cache with it.
func GetStats(ctx context.Context, store Store, userID uuid.UUID) (*StatsProjection, int64, error) {
	gen, err := StatsGeneration(ctx, store, userID)
	if err != nil {
		return nil, 0, err
	}
	var p StatsProjection
	if err := GetJSON(ctx, store, statsKey(userID), &p); err != nil {
		return nil, gen, err
	}
	if p.Generation != gen {
		return nil, gen, fmt.Errorf("%w: stats generation %d behind %d", ErrMiss, p.Generation, gen)
	}
	return &p, gen, nil
}

// InvalidateStats bumps the user's generation and removes the cached view.
// A fill racing with the invalidation lands with the old generation and is
// ignored by the next GetStats.
func InvalidateStats(ctx context.Context, store Store, userID uuid.UUID) error {
	if _, err := store.Incr(ctx, statsGenKey(userID)); err != nil {
		return err
	}
	return store.Delete(ctx, statsKey(userID))
}
