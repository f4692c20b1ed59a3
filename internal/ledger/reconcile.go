package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/repository"
)

// ReconcileResult holds the outcome of reconciling one user.
type ReconcileResult struct {
	UserID       uuid.UUID
	Ledger       domain.Totals
	Materialized domain.Totals
	Counts       domain.GrantCounts
	Invariants   []InvariantCheck
	AllPassed    bool
	Repaired     bool
}

// InvariantCheck records a single invariant validation.
type InvariantCheck struct {
	Name   string
	Passed bool
	Detail string
}

// RunSummary aggregates a full reconciliation pass.
type RunSummary struct {
	Checked  int
	Failed   int
	Repaired int
}

// Reconciler re-derives each user's totals from progression_entries and
// validates 4 invariants against the materialized user_stats row.
//
// Invariants:
//  1. Totals non-negativity: total_xp and total_ep >= 0
//  2. Ledger parity: sum of entries matches the materialized totals
//  3. Snapshot parity: total_after of the newest entry per currency matches the materialized totals
//  4. Level consistency: level derived from the cache matches the level derived from the ledger
//
// With repair enabled, a failing user's cache is overwritten with the ledger
// sums, and a currency whose newest snapshot disagrees with its sum gets a
// zero-amount reconcile entry carrying the corrected total. A repaired user
// passes every invariant on the next pass.
type Reconciler struct {
	engine      *Engine
	tx          repository.TxManager
	progression repository.ProgressionRepository
	grants      repository.GrantRepository
	stats       repository.StatsRepository
	logger      *slog.Logger
	repair      bool
	pageSize    int
	onRepair    func(ctx context.Context, userID uuid.UUID)
}

// NewReconciler creates a reconciler.
func NewReconciler(engine *Engine, repos repository.Repositories, logger *slog.Logger, repair bool) *Reconciler {
	return &Reconciler{
		engine:      engine,
		tx:          repos.Tx,
		progression: repos.Progression,
		grants:      repos.Grants,
		stats:       repos.Stats,
		logger:      logger,
		repair:      repair,
		pageSize:    500,
	}
}

// OnRepair registers fn to run after a repair commits, typically to drop
// the user's cached stats.
func (r *Reconciler) OnRepair(fn func(ctx context.Context, userID uuid.UUID)) {
	r.onRepair = fn
}

// Check reconciles one user under the user lock.
func (r *Reconciler) Check(ctx context.Context, userID uuid.UUID) (*ReconcileResult, error) {
	var result *ReconcileResult
	err := r.tx.InTx(ctx, func(tx repository.DBTX) error {
		stats, err := r.engine.LockUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		ledgerTotals, err := r.progression.SumByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		lastXP, err := r.progression.LastByUser(ctx, tx, userID, domain.CurrencyXP)
		if err != nil {
			return err
		}
		lastEP, err := r.progression.LastByUser(ctx, tx, userID, domain.CurrencyEP)
		if err != nil {
			return err
		}
		counts, err := r.grants.CountByType(ctx, tx, userID)
		if err != nil {
			return err
		}

		result = &ReconcileResult{
			UserID:       userID,
			Ledger:       ledgerTotals,
			Materialized: stats.Totals,
			Counts:       counts,
			Invariants:   validateInvariants(stats.Totals, ledgerTotals, snapshot(lastXP), snapshot(lastEP)),
			AllPassed:    true,
		}
		for _, inv := range result.Invariants {
			if !inv.Passed {
				result.AllPassed = false
			}
		}

		if !result.AllPassed && r.repair && ledgerTotals.TotalXP >= 0 && ledgerTotals.TotalEP >= 0 {
			if err := r.stats.SetTotals(ctx, tx, userID, ledgerTotals); err != nil {
				return fmt.Errorf("repair totals: %w", err)
			}
			if err := r.anchorSnapshot(ctx, tx, userID, domain.CurrencyXP, lastXP, ledgerTotals.TotalXP); err != nil {
				return err
			}
			if err := r.anchorSnapshot(ctx, tx, userID, domain.CurrencyEP, lastEP, ledgerTotals.TotalEP); err != nil {
				return err
			}
			result.Repaired = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", userID, err)
	}
	if result.Repaired && r.onRepair != nil {
		r.onRepair(ctx, userID)
	}
	return result, nil
}

// anchorSnapshot appends a zero-amount entry whose total_after is the ledger
// sum when the newest entry of the currency disagrees with it.
func (r *Reconciler) anchorSnapshot(ctx context.Context, tx repository.DBTX, userID uuid.UUID, currency domain.CurrencyKind, last *domain.ProgressionEntry, sum int64) error {
	if snapshot(last) == sum {
		return nil
	}
	_, err := r.progression.Insert(ctx, tx, domain.AwardParams{
		UserID:     userID,
		Currency:   currency,
		Reason:     fmt.Sprintf("reconcile snapshot %d -> %d", snapshot(last), sum),
		SourceType: domain.SourceReconcile,
		SourceID:   uuid.NewString(),
	}, sum)
	if err != nil {
		return fmt.Errorf("anchor %s snapshot: %w", currency, err)
	}
	return nil
}

// Run reconciles every user with a stats row, one page at a time. A failure
// on one user is logged and does not stop the pass.
func (r *Reconciler) Run(ctx context.Context) (RunSummary, error) {
	var summary RunSummary
	after := uuid.Nil
	for {
		ids, err := r.stats.ListUserIDs(ctx, r.tx.DB(), after, r.pageSize)
		if err != nil {
			return summary, fmt.Errorf("list users: %w", err)
		}
		if len(ids) == 0 {
			return summary, nil
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			res, err := r.Check(ctx, id)
			summary.Checked++
			if err != nil {
				summary.Failed++
				r.logger.Error("reconcile user failed", "user_id", id, "error", err)
				continue
			}
			if !res.AllPassed {
				summary.Failed++
				r.logger.Warn("reconcile invariant violated",
					"user_id", id,
					"ledger_xp", res.Ledger.TotalXP, "cached_xp", res.Materialized.TotalXP,
					"ledger_ep", res.Ledger.TotalEP, "cached_ep", res.Materialized.TotalEP,
					"repaired", res.Repaired,
				)
			}
			if res.Repaired {
				summary.Repaired++
			}
		}
		after = ids[len(ids)-1]
	}
}

func snapshot(e *domain.ProgressionEntry) int64 {
	if e == nil {
		return 0
	}
	return e.TotalAfter
}

func validateInvariants(cached, ledger domain.Totals, lastXP, lastEP int64) []InvariantCheck {
	checks := make([]InvariantCheck, 0, 4)

	// Invariant 1: Totals non-negativity
	checks = append(checks, InvariantCheck{
		Name:   "totals_non_negative",
		Passed: cached.TotalXP >= 0 && cached.TotalEP >= 0,
		Detail: fmt.Sprintf("xp=%d ep=%d", cached.TotalXP, cached.TotalEP),
	})

	// Invariant 2: Ledger parity
	checks = append(checks, InvariantCheck{
		Name:   "ledger_parity",
		Passed: cached == ledger,
		Detail: fmt.Sprintf("cached=[%d,%d] ledger=[%d,%d]", cached.TotalXP, cached.TotalEP, ledger.TotalXP, ledger.TotalEP),
	})

	// Invariant 3: Snapshot parity
	checks = append(checks, InvariantCheck{
		Name:   "snapshot_parity",
		Passed: lastXP == cached.TotalXP && lastEP == cached.TotalEP,
		Detail: fmt.Sprintf("cached=[%d,%d] snapshot=[%d,%d]", cached.TotalXP, cached.TotalEP, lastXP, lastEP),
	})

	// Invariant 4: Level consistency
	cachedLevel, ledgerLevel := domain.LevelForXP(cached.TotalXP), domain.LevelForXP(ledger.TotalXP)
	checks = append(checks, InvariantCheck{
		Name:   "level_consistency",
		Passed: cachedLevel == ledgerLevel,
		Detail: fmt.Sprintf("cached=%d ledger=%d", cachedLevel, ledgerLevel),
	})

	return checks
}
