package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/offsync/internal/domain/mutation"
)

// RecordDrain persists a completed replay pass. An empty ID is assigned.
func (s *Store) RecordDrain(ctx context.Context, run *mutation.DrainRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	return s.withTx(ctx, "record drain", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO drain_runs (id, trigger_kind, started_at, finished_at, synced, failed, deferred, poisoned, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, string(run.Trigger), toNanos(run.StartedAt), toNanos(run.FinishedAt),
			run.Result.Synced, run.Result.Failed, run.Result.Deferred, run.Result.Poisoned, run.Error)
		if err != nil {
			return fmt.Errorf("could not insert drain run %s: %w", run.ID, err)
		}
		return nil
	})
}

// RecentDrains returns up to limit runs, newest first.
func (s *Store) RecentDrains(ctx context.Context, limit int) ([]mutation.DrainRun, error) {
	if limit <= 0 {
		limit = 10
	}
	result := []mutation.DrainRun{}
	err := s.query(ctx, "recent drains", func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `
			SELECT id, trigger_kind, started_at, finished_at, synced, failed, deferred, poisoned, error
			FROM drain_runs
			ORDER BY started_at DESC
			LIMIT ?
		`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				r                 mutation.DrainRun
				trigger           string
				started, finished int64
			)
			if err := rows.Scan(&r.ID, &trigger, &started, &finished,
				&r.Result.Synced, &r.Result.Failed, &r.Result.Deferred, &r.Result.Poisoned, &r.Error); err != nil {
				return err
			}
			r.Trigger = mutation.Trigger(trigger)
			r.StartedAt = fromNanos(started)
			r.FinishedAt = fromNanos(finished)
			result = append(result, r)
		}
		return rows.Err()
	})
	if err != nil {
		return []mutation.DrainRun{}, err
	}
	return result, nil
}
