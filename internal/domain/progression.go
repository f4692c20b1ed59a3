package domain

import (
	"time"

	"github.com/google/uuid"
)

// CurrencyKind enumerates the two accumulating currencies.
type CurrencyKind string

const (
	CurrencyXP CurrencyKind = "xp"
	CurrencyEP CurrencyKind = "ep"
)

// XPPerLevel is the flat experience required for each level.
const XPPerLevel int64 = 100

// SourceType names what caused a progression entry.
type SourceType string

const (
	SourceTask         SourceType = "task"
	SourceReward       SourceType = "reward"
	SourceAttraction   SourceType = "attraction"
	SourceCategoryTier SourceType = "category_tier"
	// SourceReconcile marks zero-amount entries that re-anchor the running total.
	SourceReconcile SourceType = "reconcile"
)

// LevelForXP returns floor(totalXP/100)+1. There is no level cap.
func LevelForXP(totalXP int64) int {
	if totalXP < 0 {
		totalXP = 0
	}
	return int(totalXP/XPPerLevel) + 1
}

// XPToNextLevel returns the XP still needed to reach the next level.
func XPToNextLevel(totalXP int64) int64 {
	if totalXP < 0 {
		totalXP = 0
	}
	return XPPerLevel - totalXP%XPPerLevel
}

// ProgressionEntry represents a progression_entries row (append-only).
type ProgressionEntry struct {
	ID         uuid.UUID    `json:"id"`
	UserID     uuid.UUID    `json:"user_id"`
	Currency   CurrencyKind `json:"currency"`
	Amount     int64        `json:"amount"`
	TotalAfter int64        `json:"total_after"`
	Reason     string       `json:"reason"`
	SourceType SourceType   `json:"source_type"`
	SourceID   string       `json:"source_id"`
	CreatedAt  time.Time    `json:"created_at"`
}

// SourceKey is the idempotency key for progression entries: a given source
// credits a given currency to a user at most once.
type SourceKey struct {
	UserID     uuid.UUID
	Currency   CurrencyKind
	SourceType SourceType
	SourceID   string
}

// AwardParams holds the input for AwardCurrency.
type AwardParams struct {
	UserID     uuid.UUID
	Currency   CurrencyKind
	Amount     int64
	Reason     string
	SourceType SourceType
	SourceID   string
}

// Key returns the idempotency key of the award.
func (p AwardParams) Key() SourceKey {
	return SourceKey{UserID: p.UserID, Currency: p.Currency, SourceType: p.SourceType, SourceID: p.SourceID}
}

// AwardResult is returned by AwardCurrency.
type AwardResult struct {
	Entry      *ProgressionEntry
	Stats      *UserStats
	Events     []OutboxDraft
	LeveledUp  bool
	Idempotent bool // true if the source had already been credited
}

// Totals is the materialized currency state of a user.
type Totals struct {
	TotalXP int64 `json:"total_xp"`
	TotalEP int64 `json:"total_ep"`
}

// UserStats represents a user_stats row: the cached projection of the
// progression ledger. It doubles as the per-user lock row.
type UserStats struct {
	UserID uuid.UUID `json:"user_id"`
	Totals
	UpdatedAt time.Time `json:"updated_at"`
}

// Level returns the current level for the stats' XP total.
func (s UserStats) Level() int { return LevelForXP(s.TotalXP) }

// Delta returns the totals change for crediting amount of the given currency.
func (k CurrencyKind) Delta(amount int64) Totals {
	switch k {
	case CurrencyXP:
		return Totals{TotalXP: amount}
	case CurrencyEP:
		return Totals{TotalEP: amount}
	}
	return Totals{}
}

// Valid reports whether k is a known currency.
func (k CurrencyKind) Valid() bool { return k == CurrencyXP || k == CurrencyEP }

// StatsView is the read model served to dashboards.
type StatsView struct {
	TotalXP       int64 `json:"total_xp"`
	TotalEP       int64 `json:"total_ep"`
	CurrentLevel  int   `json:"current_level"`
	XPToNextLevel int64 `json:"xp_to_next_level"`
	GrantCounts
}

// NewStatsView derives the dashboard view from totals and grant counts.
func NewStatsView(t Totals, counts GrantCounts) StatsView {
	return StatsView{
		TotalXP:       t.TotalXP,
		TotalEP:       t.TotalEP,
		CurrentLevel:  LevelForXP(t.TotalXP),
		XPToNextLevel: XPToNextLevel(t.TotalXP),
		GrantCounts:   counts,
	}
}

// LeaderboardEntry is one ranked row of the XP leaderboard.
type LeaderboardEntry struct {
	Rank        int       `json:"rank"`
	UserID      uuid.UUID `json:"user"`
	DisplayName string    `json:"display_name"`
	TotalXP     int64     `json:"total_xp"`
	JoinedAt    time.Time `json:"-"`
}

// LeaderboardFilter narrows the leaderboard population.
type LeaderboardFilter struct {
	// Category limits the board to users with progress in the category; empty means all users.
	Category string
}
