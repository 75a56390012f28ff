// Package sqlstore implements ports.Store over database/sql. The SQLite and
// Postgres adapters share it and differ only in their Dialect and schema.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"researchEngine/internal/ports"
)

// Dialect adapts queries and errors to one database engine.
type Dialect struct {
	Name string
	// Rebind rewrites "?" placeholders; nil keeps them.
	Rebind func(query string) string
	// IsUniqueViolation reports a duplicate-key error.
	IsUniqueViolation func(err error) bool
}

// Store implements every repository port.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  ports.Logger
}

var _ ports.Store = (*Store)(nil)

// New wraps an open database. Closing the Store closes db.
func New(db *sql.DB, dialect Dialect, logger ports.Logger) *Store {
	return &Store{db: db, dialect: dialect, logger: logger}
}

// DB exposes the underlying handle for schema setup.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Info(context.Background(), "Closing database connection", map[string]interface{}{"driver": s.dialect.Name})
	return s.db.Close()
}

func (s *Store) q(query string) string {
	if s.dialect.Rebind == nil {
		return query
	}
	return s.dialect.Rebind(query)
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	return res, s.mapError(err)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.q(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	return rows, s.mapError(err)
}

// mapError wraps driver errors with the port sentinels.
func (s *Store) mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case s.dialect.IsUniqueViolation != nil && s.dialect.IsUniqueViolation(err):
		return fmt.Errorf("%w: %w", ports.ErrDuplicateEntry, err)
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ports.ErrDBConnection, err)
	default:
		return fmt.Errorf("%w: %w", ports.ErrQueryFailed, err)
	}
}

// RebindDollar rewrites "?" placeholders to "$1", "$2", ... for Postgres.
// Question marks inside single-quoted literals are left alone.
func RebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// affected returns ErrConflict-style errors for conditional writes that
// touched no row.
func affected(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return none
	}
	return nil
}
