// Package memory is an in-process implementation of every repository
// interface with real commit, rollback and savepoint semantics. Engine tests
// run against it; production runs against Postgres.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/repository"
)

// ErrRawSQL is returned when a caller tries to run SQL against the memory store.
var ErrRawSQL = errors.New("memory store does not execute SQL")

type completionKey struct {
	user uuid.UUID
	task int64
}

type grantKey struct {
	user       uuid.UUID
	identifier string
}

type categoryKey struct {
	user     uuid.UUID
	category string
}

type attractionKey struct {
	user       uuid.UUID
	attraction int64
}

type outboxRecord struct {
	row         domain.OutboxRow
	publishedAt *time.Time
}

// state is one immutable-between-commits snapshot of every table.
type state struct {
	users              map[uuid.UUID]domain.User
	categories         map[string]domain.Category
	attractions        map[int64]domain.Attraction
	tasks              map[int64]domain.Task
	completions        map[completionKey]domain.Completion
	rewards            map[string]domain.RewardDefinition
	grants             map[grantKey]domain.Grant
	entries            []domain.ProgressionEntry
	stats              map[uuid.UUID]domain.UserStats
	categoryProgress   map[categoryKey]domain.CategoryProgress
	attractionProgress map[attractionKey]domain.AttractionProgress
	outbox             []outboxRecord
	nextOutboxID       int64
}

func newState() *state {
	return &state{
		users:              map[uuid.UUID]domain.User{},
		categories:         map[string]domain.Category{},
		attractions:        map[int64]domain.Attraction{},
		tasks:              map[int64]domain.Task{},
		completions:        map[completionKey]domain.Completion{},
		rewards:            map[string]domain.RewardDefinition{},
		grants:             map[grantKey]domain.Grant{},
		stats:              map[uuid.UUID]domain.UserStats{},
		categoryProgress:   map[categoryKey]domain.CategoryProgress{},
		attractionProgress: map[attractionKey]domain.AttractionProgress{},
		nextOutboxID:       1,
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// clone copies the table containers. Row values are never mutated in place,
// so sharing them between snapshots is safe.
func (s *state) clone() *state {
	return &state{
		users:              cloneMap(s.users),
		categories:         cloneMap(s.categories),
		attractions:        cloneMap(s.attractions),
		tasks:              cloneMap(s.tasks),
		completions:        cloneMap(s.completions),
		rewards:            cloneMap(s.rewards),
		grants:             cloneMap(s.grants),
		entries:            append([]domain.ProgressionEntry(nil), s.entries...),
		stats:              cloneMap(s.stats),
		categoryProgress:   cloneMap(s.categoryProgress),
		attractionProgress: cloneMap(s.attractionProgress),
		outbox:             append([]outboxRecord(nil), s.outbox...),
		nextOutboxID:       s.nextOutboxID,
	}
}

// Store holds the committed state. Transactions are serialized: InTx holds
// txMu until commit or rollback. That is stricter than the per-user row lock
// taken by every write path in Postgres, so users do not progress in parallel
// here; the store backs tests and local development only.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state

	faultMu sync.Mutex
	faults  map[string]error

	clockMu sync.RWMutex
	now     func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		st:     newState(),
		faults: map[string]error{},
		now:    time.Now,
	}
}

// Tx is a transaction or savepoint handle. It satisfies repository.DBTX so it
// can be passed through the engine, but raw SQL always fails.
type Tx struct {
	st     *state
	closed bool
}

func (t *Tx) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, ErrRawSQL
}

func (t *Tx) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, ErrRawSQL
}

func (t *Tx) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return errRow{}
}

func (s *Store) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, ErrRawSQL
}

func (s *Store) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, ErrRawSQL
}

func (s *Store) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return errRow{}
}

type errRow struct{}

func (errRow) Scan(...interface{}) error { return ErrRawSQL }

// DB returns the store itself as the autocommit handle.
func (s *Store) DB() repository.DBTX { return s }

// InTx runs fn against a private copy of the state and publishes it on success.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.DBTX) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fault("tx.begin"); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	tx := &Tx{st: s.st.clone()}
	s.mu.RUnlock()

	err := fn(tx)
	tx.closed = true
	if err != nil {
		return err
	}
	if err := s.fault("tx.commit"); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	s.mu.Lock()
	s.st = tx.st
	s.mu.Unlock()
	return nil
}

// Savepoint runs fn against a copy of the parent's state; the parent adopts
// the copy only if fn succeeds.
func (s *Store) Savepoint(ctx context.Context, db repository.DBTX, fn func(tx repository.DBTX) error) error {
	parent, ok := db.(*Tx)
	if !ok {
		return fmt.Errorf("savepoint requires a memory transaction, got %T", db)
	}
	if parent.closed {
		return errors.New("savepoint on closed transaction")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sp := &Tx{st: parent.st.clone()}
	err := fn(sp)
	sp.closed = true
	if err != nil {
		return err
	}
	parent.st = sp.st
	return nil
}

// view runs a read against the transaction state, or the committed state.
func (s *Store) view(db repository.DBTX, fn func(st *state) error) error {
	if tx, ok := db.(*Tx); ok {
		if tx.closed {
			return errors.New("use of closed transaction")
		}
		return fn(tx.st)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.st)
}

// update runs a write in the transaction, or as a single-statement autocommit.
func (s *Store) update(db repository.DBTX, fn func(st *state) error) error {
	if tx, ok := db.(*Tx); ok {
		if tx.closed {
			return errors.New("use of closed transaction")
		}
		return fn(tx.st)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	next := s.st.clone()
	s.mu.RUnlock()
	if err := fn(next); err != nil {
		return err
	}
	s.mu.Lock()
	s.st = next
	s.mu.Unlock()
	return nil
}

// InjectFault makes the named operation fail with err until ClearFaults.
// Operations are named "<table>.<op>" and may carry a ":<key>" suffix, for
// example "grants.insert:badge:explorer" or "progression.insert:reward:badge:explorer".
func (s *Store) InjectFault(op string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[op] = err
}

// ClearFaults removes every injected fault.
func (s *Store) ClearFaults() {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults = map[string]error{}
}

func (s *Store) fault(op string, keys ...string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if err, ok := s.faults[op]; ok {
		return err
	}
	for _, k := range keys {
		if err, ok := s.faults[op+":"+k]; ok {
			return err
		}
	}
	return nil
}

// SetClock overrides the store's time source.
func (s *Store) SetClock(now func() time.Time) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.now = now
}

func (s *Store) clock() time.Time {
	s.clockMu.RLock()
	defer s.clockMu.RUnlock()
	return s.now().UTC()
}

// Repositories wires every repository interface to this store.
func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Tx:                 s,
		Users:              &userRepo{s},
		Catalog:            &catalogRepo{s},
		Completions:        &completionRepo{s},
		Rewards:            &rewardRepo{s},
		Grants:             &grantRepo{s},
		Progression:        &progressionRepo{s},
		Stats:              &statsRepo{s},
		CategoryProgress:   &categoryProgressRepo{s},
		AttractionProgress: &attractionProgressRepo{s},
		Outbox:             &outboxRepo{s},
	}
}
