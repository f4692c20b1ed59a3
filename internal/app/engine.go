package app

import (
	"log/slog"
	"time"

	"github.com/trailpass/platform/internal/catalog"
	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/guard"
	"github.com/trailpass/platform/internal/infra"
	"github.com/trailpass/platform/internal/ledger"
	"github.com/trailpass/platform/internal/progress"
	"github.com/trailpass/platform/internal/projection"
	"github.com/trailpass/platform/internal/repository"
	"github.com/trailpass/platform/internal/rules"
	"github.com/trailpass/platform/internal/service"
	"github.com/trailpass/platform/internal/stats"
)

// Engine holds the wired reward and progression components.
type Engine struct {
	Repos       repository.Repositories
	Ledger      *ledger.Engine
	Catalog     *catalog.Loader
	Rules       *rules.Evaluator
	Categories  *progress.CategoryAggregator
	Attractions *progress.AttractionEvaluator
	Stats       *stats.Service
	Progression *service.ProgressionService
	Reconciler  *ledger.Reconciler
	// SubmitLimiter caps completion submissions per user per minute.
	SubmitLimiter *guard.RateLimiter
}

// NewEngine wires every component around repos. cache may be nil to disable
// the stats read-through cache.
func NewEngine(repos repository.Repositories, cache projection.Store, cfg *infra.Config, logger *slog.Logger) *Engine {
	engine := ledger.NewEngine(repos)
	loader := catalog.NewLoader(repos.Rewards, repos.Tx, cfg.CatalogTTL, logger)
	evaluator := rules.NewEvaluator(engine, repos, loader, logger)

	categories := progress.NewCategoryAggregator(engine, repos, evaluator, progress.TierBonus{
		Bronze: cfg.TierEPBronze,
		Silver: cfg.TierEPSilver,
		Gold:   cfg.TierEPGold,
	}, logger)
	attractions := progress.NewAttractionEvaluator(engine, repos, categories, evaluator, progress.AttractionConfig{
		CompletionXP: cfg.AttractionCompletionXP,
		Quality: domain.QualityThresholds{
			GoldMin:   cfg.QualityGoldMin,
			SilverMin: cfg.QualitySilverMin,
		},
	}, logger)

	statsSvc := stats.NewService(repos, cache, cfg.StatsCacheTTL, logger)
	reconciler := ledger.NewReconciler(engine, repos, logger, cfg.ReconcileRepair)
	reconciler.OnRepair(statsSvc.Invalidate)

	return &Engine{
		Repos:       repos,
		Ledger:      engine,
		Catalog:     loader,
		Rules:       evaluator,
		Categories:  categories,
		Attractions: attractions,
		Stats:       statsSvc,
		Progression: service.NewProgressionService(repos, engine, evaluator, attractions, statsSvc, guard.NewUserLocks(), logger),
		Reconciler:  reconciler,

		SubmitLimiter: guard.NewRateLimiter(cfg.SubmitRateLimit, time.Minute),
	}
}
