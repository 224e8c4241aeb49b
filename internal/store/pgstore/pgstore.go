// Package pgstore implements store.Store on PostgreSQL using pgxpool.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/b00skit/antelope-sync/internal/store"
	"github.com/b00skit/antelope-sync/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Config holds database connection settings
type Config struct {
	URI      string
	MinConns int32
	MaxConns int32
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.Store
type Store struct {
	reader
	pool   *pgxpool.Pool
	logger *logger.Logger
}

var _ store.Store = (*Store)(nil)

// New connects to PostgreSQL and verifies the connection
func New(ctx context.Context, cfg Config, l *logger.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{reader: reader{q: pool}, pool: pool, logger: l}, nil
}

// Migrate creates the tables when they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithinTx runs fn in a serializable transaction. Conflicting commits of the
// same faction fail with a serialization error instead of interleaving.
func (s *Store) WithinTx(ctx context.Context, fn store.TxFunc) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("transaction aborted: %v", p)
		}
	}()

	if err := fn(ctx, &Tx{reader: reader{q: tx}, tx: tx, logger: s.logger}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close closes the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
