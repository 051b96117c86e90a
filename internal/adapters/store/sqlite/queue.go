package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jbctechsolutions/offsync/internal/domain/errors"
	"github.com/jbctechsolutions/offsync/internal/domain/mutation"
)

// EnqueueMutation appends m to the queue tail.
func (s *Store) EnqueueMutation(ctx context.Context, m *mutation.Mutation) error {
	if m == nil || m.ID == "" {
		return errors.NewError(errors.CodeValidation, "mutation id required", nil)
	}
	return s.withTx(ctx, "enqueue mutation", func(tx *sql.Tx) error {
		created := m.CreatedAt
		if created.IsZero() {
			created = s.now()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO queued_mutations (id, endpoint, method, payload, entity_id, created_at, retries, poisoned, last_error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.Endpoint, m.Method, m.Payload, m.EntityID, toNanos(created), m.Retries, m.Poisoned, m.LastError)
		if err != nil {
			return fmt.Errorf("could not insert mutation %s: %w", m.ID, err)
		}
		return nil
	})
}

// ListQueuedMutations returns the queue in insertion order. CreatedAt is informational;
// a wall clock stepping backwards must not reorder replay.
func (s *Store) ListQueuedMutations(ctx context.Context) ([]*mutation.Mutation, error) {
	result := []*mutation.Mutation{}
	err := s.query(ctx, "list mutations", func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT id, endpoint, method, payload, entity_id, created_at, retries, poisoned, last_error
			FROM queued_mutations
			ORDER BY seq ASC
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				m       mutation.Mutation
				created int64
			)
			if err := rows.Scan(&m.ID, &m.Endpoint, &m.Method, &m.Payload, &m.EntityID, &created, &m.Retries, &m.Poisoned, &m.LastError); err != nil {
				return err
			}
			m.CreatedAt = fromNanos(created)
			result = append(result, &m)
		}
		return rows.Err()
	})
	if err != nil {
		return []*mutation.Mutation{}, err
	}
	return result, nil
}

// DequeueMutation removes a mutation. Removing an unknown ID returns ErrMutationNotFound.
func (s *Store) DequeueMutation(ctx context.Context, id string) error {
	return s.withTx(ctx, "dequeue mutation", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM queued_mutations WHERE id = ?", id)
		if err != nil {
			return err
		}
		return requireRow(res, id)
	})
}

// RecordFailure increments the retry counter, stores errMsg and optionally dead-letters the mutation.
// A poisoned mutation stays poisoned.
func (s *Store) RecordFailure(ctx context.Context, id string, errMsg string, poisoned bool) error {
	return s.withTx(ctx, "record mutation failure", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE queued_mutations
			SET retries = retries + 1, last_error = ?, poisoned = (poisoned OR ?)
			WHERE id = ?
		`, errMsg, poisoned, id)
		if err != nil {
			return err
		}
		return requireRow(res, id)
	})
}

// ClearQueue removes every queued mutation.
func (s *Store) ClearQueue(ctx context.Context) error {
	return s.withTx(ctx, "clear queue", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM queued_mutations")
		return err
	})
}

// QueueDepth returns the number of queued and poisoned mutations.
func (s *Store) QueueDepth(ctx context.Context) (int, int, error) {
	var total, poisoned int
	err := s.query(ctx, "queue depth", func(db *sql.DB) error {
		return db.QueryRowContext(ctx,
			"SELECT COUNT(*), COALESCE(SUM(poisoned), 0) FROM queued_mutations",
		).Scan(&total, &poisoned)
	})
	return total, poisoned, err
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.WithContext(
			errors.NewError(errors.CodeNotFound, "mutation not found", errors.ErrMutationNotFound),
			"id", id,
		)
	}
	return nil
}
