package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jbctechsolutions/offsync/internal/application/ports"
	"github.com/jbctechsolutions/offsync/internal/domain/errors"
)

var _ ports.Store = (*Store)(nil)

// Store implements the entity cache, mutation queue, session record and drain history.
type Store struct {
	conn *Connection
	now  func() time.Time
}

// New creates a store over dbPath. Call Open before use.
func New(dbPath string) (*Store, error) {
	conn, err := NewConnection(dbPath)
	if err != nil {
		return nil, err
	}
	return &Store{conn: conn, now: time.Now}, nil
}

// Open opens the database. It is idempotent.
func (s *Store) Open(ctx context.Context) error {
	if err := s.conn.Open(ctx); err != nil {
		return errors.StoreError("open store", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.conn.Path()
}

// withTx runs fn in a single transaction, committing only if fn succeeds.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	db, err := s.conn.DB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StoreError(op, fmt.Errorf("could not begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		var se *errors.SyncError
		if errors.As(err, &se) {
			return err
		}
		return errors.StoreError(op, err)
	}

	if err := tx.Commit(); err != nil {
		return errors.StoreError(op, fmt.Errorf("could not commit transaction: %w", err))
	}
	return nil
}

// query runs a read against the open database.
func (s *Store) query(ctx context.Context, op string, fn func(db *sql.DB) error) error {
	db, err := s.conn.DB()
	if err != nil {
		return err
	}
	if err := fn(db); err != nil {
		var se *errors.SyncError
		if errors.As(err, &se) {
			return err
		}
		return errors.StoreError(op, err)
	}
	return nil
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
