package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/trailpass/platform/internal/domain"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// TxManager runs units of work.
type TxManager interface {
	// DB returns the non-transactional handle for reads.
	DB() DBTX

	// InTx runs fn in a new transaction, committing if fn returns nil.
	InTx(ctx context.Context, fn func(tx DBTX) error) error

	// Savepoint runs fn in a nested transaction of tx. An error from fn rolls
	// back only the work done inside fn; tx stays usable.
	Savepoint(ctx context.Context, tx DBTX, fn func(tx DBTX) error) error
}

// UserRepository provides access to users.
type UserRepository interface {
	// FindByID returns a user by ID, nil if absent.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.User, error)

	// Create inserts a user; existing ids are left untouched.
	Create(ctx context.Context, db DBTX, user *domain.User) error
}

// CatalogRepository provides read access to categories, attractions and tasks.
type CatalogRepository interface {
	FindTask(ctx context.Context, db DBTX, id int64) (*domain.Task, error)
	FindAttraction(ctx context.Context, db DBTX, id int64) (*domain.Attraction, error)
	FindCategory(ctx context.Context, db DBTX, name string) (*domain.Category, error)
	ListCategories(ctx context.Context, db DBTX) ([]domain.Category, error)
	ListAttractionsByCategory(ctx context.Context, db DBTX, category string) ([]domain.Attraction, error)
}

// CompletionRepository provides access to the completions ledger.
type CompletionRepository interface {
	// Insert records a completion. Returns inserted=false if (user, task) already exists.
	Insert(ctx context.Context, db DBTX, params domain.CompletionParams) (c *domain.Completion, inserted bool, err error)

	// Find returns a completion, nil if absent.
	Find(ctx context.Context, db DBTX, userID uuid.UUID, taskID int64) (*domain.Completion, error)

	// CountCompletedInSet returns how many distinct tasks of taskIDs the user completed.
	CountCompletedInSet(ctx context.Context, db DBTX, userID uuid.UUID, taskIDs []int64) (int, error)

	// ListByAttraction returns the user's completions of the attraction's tasks.
	ListByAttraction(ctx context.Context, db DBTX, userID uuid.UUID, attractionID int64) ([]domain.Completion, error)

	// CountCompletedAttractions returns how many attractions of the category have
	// every task completed by the user. Attractions with no tasks never count.
	CountCompletedAttractions(ctx context.Context, db DBTX, userID uuid.UUID, category string) (int, error)
}

// RewardRepository provides read access to reward_definitions.
type RewardRepository interface {
	// ListActive returns every active definition ordered by reward_identifier.
	ListActive(ctx context.Context, db DBTX) ([]domain.RewardDefinition, error)

	// FindByIdentifier returns a definition by its identifier, nil if absent.
	FindByIdentifier(ctx context.Context, db DBTX, identifier string) (*domain.RewardDefinition, error)
}

// GrantRepository provides access to grants.
type GrantRepository interface {
	// Exists reports whether the user already holds the reward.
	Exists(ctx context.Context, db DBTX, userID uuid.UUID, identifier string) (bool, error)

	// Insert creates a grant. Returns nil, nil if (user, identifier) already exists.
	Insert(ctx context.Context, db DBTX, params domain.GrantParams) (*domain.Grant, error)

	// ListSince returns grants earned at or after since, newest first.
	ListSince(ctx context.Context, db DBTX, userID uuid.UUID, since time.Time) ([]domain.Grant, error)

	// CountByType returns per-type grant totals.
	CountByType(ctx context.Context, db DBTX, userID uuid.UUID) (domain.GrantCounts, error)
}

// ProgressionRepository provides access to progression_entries.
type ProgressionRepository interface {
	// FindBySource checks the source idempotency index. Returns nil if absent.
	FindBySource(ctx context.Context, db DBTX, key domain.SourceKey) (*domain.ProgressionEntry, error)

	// Insert appends an entry with the post-update total snapshot.
	Insert(ctx context.Context, db DBTX, params domain.AwardParams, totalAfter int64) (*domain.ProgressionEntry, error)

	// SumByUser re-derives a user's totals from the log.
	SumByUser(ctx context.Context, db DBTX, userID uuid.UUID) (domain.Totals, error)

	// LastByUser returns the newest entry of the currency, nil if none.
	// Entries of one transaction share created_at; the highest total_after wins.
	LastByUser(ctx context.Context, db DBTX, userID uuid.UUID, currency domain.CurrencyKind) (*domain.ProgressionEntry, error)
}

// StatsRepository provides access to user_stats.
type StatsRepository interface {
	// LockForUpdate creates the user's stats row if needed and locks it
	// (SELECT FOR UPDATE). Returns nil if the user does not exist.
	LockForUpdate(ctx context.Context, db DBTX, userID uuid.UUID) (*domain.UserStats, error)

	// Find returns the stats row, nil if absent.
	Find(ctx context.Context, db DBTX, userID uuid.UUID) (*domain.UserStats, error)

	// AddTotals applies a delta using server-side arithmetic and returns the updated row.
	AddTotals(ctx context.Context, db DBTX, userID uuid.UUID, delta domain.Totals) (*domain.UserStats, error)

	// SetTotals overwrites the materialized totals (reconciliation repair).
	SetTotals(ctx context.Context, db DBTX, userID uuid.UUID, totals domain.Totals) error

	// ListUserIDs pages through users with stats rows, ordered by id.
	ListUserIDs(ctx context.Context, db DBTX, after uuid.UUID, limit int) ([]uuid.UUID, error)

	// Leaderboard ranks users by total_xp DESC, users.created_at ASC, user id ASC.
	Leaderboard(ctx context.Context, db DBTX, filter domain.LeaderboardFilter, limit int) ([]domain.LeaderboardEntry, error)
}

// CategoryProgressRepository provides access to category_progress.
type CategoryProgressRepository interface {
	Find(ctx context.Context, db DBTX, userID uuid.UUID, category string) (*domain.CategoryProgress, error)

	// Upsert writes counts and ORs the tier flags into any stored ones.
	// Returns the row as stored.
	Upsert(ctx context.Context, db DBTX, p *domain.CategoryProgress) (*domain.CategoryProgress, error)

	ListByUser(ctx context.Context, db DBTX, userID uuid.UUID) ([]domain.CategoryProgress, error)
}

// AttractionProgressRepository provides access to attraction_progress.
type AttractionProgressRepository interface {
	Find(ctx context.Context, db DBTX, userID uuid.UUID, attractionID int64) (*domain.AttractionProgress, error)

	// Upsert writes the row; a stored completed_at and quality_score are never cleared.
	Upsert(ctx context.Context, db DBTX, p *domain.AttractionProgress) error
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes an outbox event (within the same transaction as the ledger entry).
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error

	// FetchUnpublished returns unpublished events, oldest first.
	FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxRow, error)

	// MarkPublished stamps publishedAt on the given rows.
	MarkPublished(ctx context.Context, db DBTX, ids []int64) error
}

// Repositories bundles every repository with the transaction manager that
// scopes them, so the engine can run against Postgres or the memory store.
type Repositories struct {
	Tx                 TxManager
	Users              UserRepository
	Catalog            CatalogRepository
	Completions        CompletionRepository
	Rewards            RewardRepository
	Grants             GrantRepository
	Progression        ProgressionRepository
	Stats              StatsRepository
	CategoryProgress   CategoryProgressRepository
	AttractionProgress AttractionProgressRepository
	Outbox             OutboxRepository
}
