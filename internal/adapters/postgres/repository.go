// Package postgres provides the PostgreSQL persistence adapter.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"researchEngine/internal/adapters/sqlstore"
	"researchEngine/internal/ports"
)

// PostgreSQL error codes
const (
	pgErrUniqueViolation = "23505" // unique_violation
)

// TimestampType is the column type used for every time column.
const TimestampType = "TIMESTAMPTZ"

// Repository implements ports.Store on a pgx connection pool.
type Repository struct {
	*sqlstore.Store
	pool *pgxpool.Pool
}

var _ ports.Store = (*Repository)(nil)

// Config holds configuration for the Postgres repository.
type Config struct {
	DSN      string
	MaxConns int32 // Zero keeps the pgxpool default
	Logger   ports.Logger
}

// Dialect returns the sqlstore dialect for Postgres.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:              "postgres",
		Rebind:            sqlstore.RebindDollar,
		IsUniqueViolation: isDuplicateKeyError,
	}
}

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}

// NewRepository connects to Postgres and creates missing tables.
func NewRepository(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Postgres repository")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("DSN is required for Postgres repository: %w", ports.ErrConfigurationError)
	}

	config, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		err = fmt.Errorf("ping postgres: %w", err)
		cfg.Logger.Error(ctx, err, "Postgres repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(ctx, "Postgres connection pool established", map[string]interface{}{
		"host":      config.ConnConfig.Host,
		"database":  config.ConnConfig.Database,
		"max_conns": config.MaxConns,
	})

	store := sqlstore.New(stdlib.OpenDBFromPool(pool), Dialect(), cfg.Logger)
	if err := store.InitializeSchema(ctx, TimestampType); err != nil {
		store.Close()
		pool.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(ctx, err, "Postgres repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(ctx, "Database schema initialized/verified")

	return &Repository{Store: store, pool: pool}, nil
}

// Pool exposes the underlying pool.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// Close closes the database handle and the pool behind it.
func (r *Repository) Close() error {
	err := r.Store.Close()
	r.pool.Close()
	return err
}
