// Package store implements the persistence gateway (C1): a pooled
// Postgres connection plus typed queries for every persisted entity in
// §3. Opens one pool (max ~10 connections) when DATABASE_URL is
// configured; every consumer package degrades gracefully when the pool
// is nil (reads return zero values, writes are no-ops).
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// querier is the statement surface shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store wraps a pgx connection pool. A nil *Store (or a *Store holding a
// nil pool) is a valid, inert value: every query method on it must be
// guarded by the caller, matching the teacher's nilable-Store convention
// in its Deps struct.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates a pooled Postgres connection, runs migrations, and
// returns a *Store. Pool size is capped at 10 connections per §5's
// resource model.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	cfg.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}

	if err := runMigrations(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrations: %w", err)
	}

	return &Store{pool: pool}, nil
}

// runMigrations applies embedded SQL migrations using goose over a
// plain database/sql handle (goose does not speak pgx's native
// interface), closed once migrations complete.
func runMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration handle: %w", err)
	}
	defer db.Close()

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	_, err = provider.Up(context.Background())
	return err
}

// Ping verifies connectivity. Safe to call on a nil *Store (reports not
// configured rather than panicking).
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("store: not configured")
	}
	return s.pool.Ping(ctx)
}

// Close releases the pool. No-op on a nil *Store.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Configured reports whether a live pool backs this Store.
func (s *Store) Configured() bool {
	return s != nil && s.pool != nil
}

// q returns the querier to run a statement against: the pool itself.
// Single-statement helpers run on it; the multi-statement writes
// (RotateKey, RecordUsage) run their statements on the pgx.Tx that
// WithTx passes them.
func (s *Store) q() querier { return s.pool }

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error. The caller must have already checked Configured().
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op if already committed/rolled back

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
