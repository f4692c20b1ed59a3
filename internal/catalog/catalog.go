// Package catalog loads reward definitions, decodes their triggers once and
// indexes them by what can fire them.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/repository"
)

// Warning describes a definition that was skipped while loading.
type Warning struct {
	RewardIdentifier string
	Reason           string
}

type tierKey struct {
	category string
	tier     domain.Tier
}

// Catalog is an immutable, indexed set of active rewards.
type Catalog struct {
	rewards      []domain.Reward
	byTask       map[int64][]domain.Reward
	byTier       map[tierKey][]domain.Reward
	byAttraction map[int64][]domain.Reward
}

// New indexes already-decoded rewards. Rewards keep their input order within each index.
func New(rewards []domain.Reward) *Catalog {
	c := &Catalog{
		rewards:      rewards,
		byTask:       map[int64][]domain.Reward{},
		byTier:       map[tierKey][]domain.Reward{},
		byAttraction: map[int64][]domain.Reward{},
	}
	for _, r := range rewards {
		switch cond := r.Condition.(type) {
		case domain.TaskSetCondition:
			for _, id := range cond.TaskIDs {
				c.byTask[id] = append(c.byTask[id], r)
			}
		case domain.CategoryTierCondition:
			k := tierKey{cond.Category, cond.Tier}
			c.byTier[k] = append(c.byTier[k], r)
		case domain.AttractionCompletionCondition:
			c.byAttraction[cond.AttractionID] = append(c.byAttraction[cond.AttractionID], r)
		}
	}
	return c
}

// ForTask returns the task-set rewards whose set contains taskID.
func (c *Catalog) ForTask(taskID int64) []domain.Reward { return c.byTask[taskID] }

// ForCategoryTier returns the rewards fired by unlocking tier in category.
func (c *Catalog) ForCategoryTier(category string, tier domain.Tier) []domain.Reward {
	return c.byTier[tierKey{category, tier}]
}

// ForAttraction returns the rewards fired by completing the attraction.
func (c *Catalog) ForAttraction(attractionID int64) []domain.Reward {
	return c.byAttraction[attractionID]
}

// All returns every reward in the catalog.
func (c *Catalog) All() []domain.Reward { return c.rewards }

// Len returns the number of rewards.
func (c *Catalog) Len() int { return len(c.rewards) }

// Loader reads active definitions and caches the decoded catalog for ttl.
type Loader struct {
	repo   repository.RewardRepository
	tx     repository.TxManager
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	cached   *Catalog
	warnings []Warning
	expires  time.Time
}

// NewLoader creates a loader. A non-positive ttl disables caching.
func NewLoader(repo repository.RewardRepository, tx repository.TxManager, ttl time.Duration, logger *slog.Logger) *Loader {
	return &Loader{repo: repo, tx: tx, ttl: ttl, logger: logger, now: time.Now}
}

// Load returns the cached catalog, reloading it once the ttl has passed.
// Malformed definitions are skipped and reported as warnings, never as errors.
func (l *Loader) Load(ctx context.Context) (*Catalog, []Warning, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cached != nil && l.now().Before(l.expires) {
		return l.cached, l.warnings, nil
	}

	defs, err := l.repo.ListActive(ctx, l.tx.DB())
	if err != nil {
		return nil, nil, fmt.Errorf("load reward catalog: %w", err)
	}

	rewards := make([]domain.Reward, 0, len(defs))
	var warnings []Warning
	for _, def := range defs {
		r, err := Decode(def)
		if err != nil {
			warnings = append(warnings, Warning{RewardIdentifier: def.RewardIdentifier, Reason: err.Error()})
			l.logger.Warn("skipping malformed reward definition",
				"reward", def.RewardIdentifier,
				"trigger_type", def.TriggerType,
				"error", err,
			)
			continue
		}
		rewards = append(rewards, r)
	}

	l.cached = New(rewards)
	l.warnings = warnings
	l.expires = l.now().Add(l.ttl)
	return l.cached, warnings, nil
}

// Invalidate drops the cached catalog so the next Load reads the store.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cached = nil
	l.warnings = nil
}
