// Package store is the relational persistence layer for regiments, stockpiles,
// scans, production orders and operations. Timestamps are stored as unix
// milliseconds and booleans as 0/1 integers.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup scoped to a regiment matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps a migrated *sql.DB. All methods are safe for concurrent use.
type Store struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

// New returns a Store over db. The schema must already be migrated (see db.Migrate).
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db must not be nil")
	}
	return &Store{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}, nil
}

// Now returns the store's clock reading. Handlers use it so that relative
// times agree with what was written.
func (s *Store) Now() time.Time { return s.now() }

// SetClock replaces the clock. Intended for tests and the CLI's fixed-time replay.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
