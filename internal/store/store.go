// Package store persists copydesk state in Postgres.
//
// Every repository hangs off Store and shares one pgx pool. Schema setup
// runs through embedded goose migrations so a fresh database is usable
// with nothing but a connection URL.
package store

import (
	"context"
	"embed"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"copydesk/internal/config"
	"copydesk/internal/logging"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store wraps the connection pool and exposes one repository per table
// family.
type Store struct {
	pool *pgxpool.Pool

	Items     *ItemRepo
	Articles  *ArticleRepo
	Images    *ImageRepo
	Proofread *ProofreadRepo
	Rules     *RuleRepo
	Tasks     *TaskRepo
	Costs     *CostRepo
}

// Connect opens the pool described by cfg and optionally migrates the
// schema to head.
func Connect(ctx context.Context, cfg *config.Config) (*Store, error) {
	pc, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		pc.MaxConns = int32(cfg.Database.MaxConns)
	}
	// Runaway statements time out server-side, not just client-side.
	pc.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.QueryTimeout().Milliseconds(), 10)

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("opening database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := newStore(pool)
	if cfg.Database.MigrateOnUp {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	logging.Store("connected (max_conns=%d)", pc.MaxConns)
	return s, nil
}

func newStore(pool *pgxpool.Pool) *Store {
	s := &Store{pool: pool}
	s.Items = &ItemRepo{pool: pool}
	s.Articles = &ArticleRepo{pool: pool}
	s.Images = &ImageRepo{pool: pool}
	s.Proofread = &ProofreadRepo{pool: pool}
	s.Rules = &RuleRepo{pool: pool}
	s.Tasks = &TaskRepo{pool: pool}
	s.Costs = &CostRepo{pool: pool}
	return s
}

// Migrate applies embedded migrations up to head.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(s.pool)
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		db.Close()
		return fmt.Errorf("applying migrations: %w", err)
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("releasing migration connection: %w", err)
	}
	logging.Store("migrations applied")
	return nil
}

// Pool exposes the underlying pool for callers that need raw access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close shuts the pool down.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// WithTx runs fn inside a transaction, committing on nil and rolling
// back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// AdvisoryLock is a session-scoped Postgres advisory lock pinned to one
// pooled connection. Used by the sync job so only one process syncs the
// document store at a time.
type AdvisoryLock struct {
	conn *pgxpool.Conn
	key  int64
}

// SyncLockKey namespaces the sync job's advisory lock.
const SyncLockKey int64 = 0x636f7079 // "copy"

// TryAdvisoryLock attempts to take the lock without blocking. It returns
// (nil, nil) when another session holds it.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (*AdvisoryLock, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}

	var got bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&got); err != nil {
		conn.Release()
		return nil, fmt.Errorf("taking advisory lock: %w", err)
	}
	if !got {
		conn.Release()
		return nil, nil
	}
	return &AdvisoryLock{conn: conn, key: key}, nil
}

// Release unlocks and returns the connection to the pool.
func (l *AdvisoryLock) Release(ctx context.Context) {
	if l == nil || l.conn == nil {
		return
	}
	_, _ = l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	l.conn.Release()
	l.conn = nil
}
