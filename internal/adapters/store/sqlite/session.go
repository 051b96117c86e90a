package sqlite

import (
	"context"
	"database/sql"
)

// GetSessionValue returns a stored session value.
func (s *Store) GetSessionValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	found := false
	err := s.query(ctx, "get session value", func(db *sql.DB) error {
		err := db.QueryRowContext(ctx, "SELECT value FROM session_state WHERE key = ?", key).Scan(&value)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return value, found, err
}

// SetSessionValue stores or replaces a session value.
func (s *Store) SetSessionValue(ctx context.Context, key, value string) error {
	return s.withTx(ctx, "set session value", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO session_state (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, key, value, toNanos(s.now()))
		return err
	})
}

// DeleteSessionValue removes a session value if present.
func (s *Store) DeleteSessionValue(ctx context.Context, key string) error {
	return s.withTx(ctx, "delete session value", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM session_state WHERE key = ?", key)
		return err
	})
}
