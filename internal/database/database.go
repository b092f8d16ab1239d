// Package database opens the configured ledger backend: a pgx connection pool
// for PostgreSQL or a single-file SQLite database.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/eventreg/internal/config"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository/postgres"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository/sqlite"
)

// connectAttempts accommodates containers that are still starting up.
const connectAttempts = 5

// NewPool creates and validates a pgxpool connection pool.
func NewPool(ctx context.Context, cfg config.DB, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	if poolCfg.MaxConns < 2 {
		poolCfg.MaxConns = 2
	}
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	connect := func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 4 * time.Second

	pool, err := backoff.Retry(ctx, connect,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(connectAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("db connect failed, retrying", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return pool, nil
}

// Migrator is implemented by stores that carry embedded migrations.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Open returns the store selected by cfg.Driver. The returned store owns its
// connections and must be closed by the caller.
func Open(ctx context.Context, cfg config.DB, logger *slog.Logger) (repository.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverPostgres:
		pool, err := NewPool(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return postgres.New(pool), nil
	}
	return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
}

// Migrate applies pending migrations when the store supports them.
func Migrate(ctx context.Context, store repository.Store) error {
	m, ok := store.(Migrator)
	if !ok {
		return nil
	}
	return m.Migrate(ctx)
}
