// Package store is the persistence layer: a narrow Querier interface over
// the storage backend plus typed stores for events, decisions, and pending
// reviews. Correctness of idempotent processing rests on the UNIQUE
// constraint over decision_logs.event_id, the single serialization point.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint. The pipeline treats this as a recoverable race, never
	// as a fatal failure.
	ErrDuplicate = errors.New("store: duplicate key")
)

// Row is one result row keyed by column name.
type Row map[string]any

// Querier is the storage-backend collaborator consumed by the core.
// Implementations must surface uniqueness violations as ErrDuplicate.
type Querier interface {
	Exec(ctx context.Context, ddl string) error
	Run(ctx context.Context, query string, args ...any) error
	All(ctx context.Context, query string, args ...any) ([]Row, error)
}

// SQLite is the embedded Querier implementation.
type SQLite struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database and applies the schema.
// Path ":memory:" yields an ephemeral store for tests.
func Open(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	// Concurrent writers funnel through one connection; SQLite serializes
	// inserts, which makes insert order authoritative for the chain.
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db}
	if err := s.Exec(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// Exec runs DDL.
func (s *SQLite) Exec(ctx context.Context, ddl string) error {
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Run executes a mutating statement.
func (s *SQLite) Run(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// All executes a query and returns every row as a generic map.
func (s *SQLite) All(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				r[c] = string(b)
			} else {
				r[c] = vals[i]
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IsDuplicate reports whether err is a uniqueness-constraint violation.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
