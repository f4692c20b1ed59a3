package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgTxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager returns a TxManager backed by a pgx pool.
// Transactions run at READ COMMITTED; the per-user row lock provides serialization.
func NewTxManager(pool *pgxpool.Pool) TxManager {
	return &pgTxManager{pool: pool}
}

func (m *pgTxManager) DB() DBTX { return m.pool }

func (m *pgTxManager) InTx(ctx context.Context, fn func(tx DBTX) error) error {
	return pgx.BeginTxFunc(ctx, m.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(tx)
	})
}

// Savepoint uses pgx nested transactions, which are implemented as SAVEPOINTs.
func (m *pgTxManager) Savepoint(ctx context.Context, tx DBTX, fn func(tx DBTX) error) error {
	outer, ok := tx.(pgx.Tx)
	if !ok {
		return fmt.Errorf("savepoint requires a pgx.Tx, got %T", tx)
	}
	return pgx.BeginFunc(ctx, outer, func(sp pgx.Tx) error {
		return fn(sp)
	})
}

// NewPostgres wires every pgx-backed repository around the pool.
func NewPostgres(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Tx:                 NewTxManager(pool),
		Users:              NewUserRepository(),
		Catalog:            NewCatalogRepository(),
		Completions:        NewCompletionRepository(),
		Rewards:            NewRewardRepository(),
		Grants:             NewGrantRepository(),
		Progression:        NewProgressionRepository(),
		Stats:              NewStatsRepository(),
		CategoryProgress:   NewCategoryProgressRepository(),
		AttractionProgress: NewAttractionProgressRepository(),
		Outbox:             NewOutboxRepository(),
	}
}
