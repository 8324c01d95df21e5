// Package catalog is the persistent store for artists, tracks and their
// per-platform links.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrConflict reports a write that would break a uniqueness rule.
var ErrConflict = errors.New("conflict")

// dbtx is the subset of *sql.DB and *sql.Tx the queries need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Service provides catalog data operations. A Service returned inside
// WithTx is bound to that transaction and must not escape it.
type Service struct {
	db    dbtx
	raw   *sql.DB
	mu    *sync.Mutex // guards find-or-create of artists
	inTx  bool
	clock func() time.Time
}

// NewService creates a catalog service.
func NewService(db *sql.DB) *Service {
	return &Service{
		db:    db,
		raw:   db,
		mu:    &sync.Mutex{},
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// WithTx runs fn inside a transaction and commits if it returns nil.
// Nested calls reuse the outer transaction.
func (s *Service) WithTx(ctx context.Context, fn func(tx *Service) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.raw.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	scoped := &Service{db: tx, raw: s.raw, mu: s.mu, inTx: true, clock: s.clock}
	if err := fn(scoped); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Service) now() time.Time { return s.clock() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

// parseTime parses a time string, handling both RFC3339 and SQLite datetime formats.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

// isUniqueViolation reports whether err came from a UNIQUE constraint.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
