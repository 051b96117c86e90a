package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jbctechsolutions/offsync/internal/domain/entity"
	"github.com/jbctechsolutions/offsync/internal/domain/errors"
)

const entityColumns = "id, kind, status, title, data, updated_at, synced_at"

// UpsertEntities inserts or replaces records by ID. The last write wins.
func (s *Store) UpsertEntities(ctx context.Context, entities []entity.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	return s.withTx(ctx, "upsert entities", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO entities (`+entityColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				kind = excluded.kind,
				status = excluded.status,
				title = excluded.title,
				data = excluded.data,
				updated_at = excluded.updated_at,
				synced_at = excluded.synced_at
		`)
		if err != nil {
			return fmt.Errorf("could not prepare upsert: %w", err)
		}
		defer stmt.Close()

		now := s.now()
		for i := range entities {
			e := &entities[i]
			if strings.TrimSpace(e.ID) == "" {
				return errors.NewError(errors.CodeValidation, "entity id required", nil)
			}
			if _, err := stmt.ExecContext(ctx, entityArgs(e, now)[:7]...); err != nil {
				return fmt.Errorf("could not upsert entity %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// RefreshEntities upserts server copies, leaving alone every record a live queued
// mutation targets. The pending check and the write run as one statement.
// It returns the IDs that were held back.
func (s *Store) RefreshEntities(ctx context.Context, entities []entity.Entity) ([]string, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	var held []string
	err := s.withTx(ctx, "refresh entities", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO entities (`+entityColumns+`)
			SELECT ?, ?, ?, ?, ?, ?, ?
			WHERE NOT EXISTS (
				SELECT 1 FROM queued_mutations q
				WHERE q.entity_id = ? AND q.poisoned = 0
			)
			ON CONFLICT(id) DO UPDATE SET
				kind = excluded.kind,
				status = excluded.status,
				title = excluded.title,
				data = excluded.data,
				updated_at = excluded.updated_at,
				synced_at = excluded.synced_at
		`)
		if err != nil {
			return fmt.Errorf("could not prepare refresh: %w", err)
		}
		defer stmt.Close()

		now := s.now()
		for i := range entities {
			e := &entities[i]
			if strings.TrimSpace(e.ID) == "" {
				return errors.NewError(errors.CodeValidation, "entity id required", nil)
			}
			res, err := stmt.ExecContext(ctx, entityArgs(e, now)...)
			if err != nil {
				return fmt.Errorf("could not refresh entity %s: %w", e.ID, err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				held = append(held, e.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return held, nil
}

// QueryByStatus returns cached records in a category.
func (s *Store) QueryByStatus(ctx context.Context, status string) ([]entity.Entity, error) {
	return s.Query(ctx, entity.Filter{Status: status})
}

// QueryAll returns every cached record.
func (s *Store) QueryAll(ctx context.Context) ([]entity.Entity, error) {
	return s.Query(ctx, entity.Filter{})
}

// Query returns records matching filter. Results default to most recently updated first.
func (s *Store) Query(ctx context.Context, filter entity.Filter) ([]entity.Entity, error) {
	orderBy := filter.OrderBy
	descending := filter.Descending
	if orderBy == "" {
		orderBy = entity.SortByUpdatedAt
		descending = true
	}
	if !entity.ValidSortField(orderBy) {
		return nil, errors.WithContext(
			errors.NewError(errors.CodeValidation, "unknown sort field", nil),
			"order_by", string(orderBy),
		)
	}

	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}

	q := "SELECT " + entityColumns + " FROM entities"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	dir := "ASC"
	if descending {
		dir = "DESC"
	}
	q += fmt.Sprintf(" ORDER BY %s %s, id ASC", orderBy, dir)
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	result := []entity.Entity{}
	err := s.query(ctx, "query entities", func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEntity(rows)
			if err != nil {
				return err
			}
			result = append(result, *e)
		}
		return rows.Err()
	})
	if err != nil {
		return []entity.Entity{}, err
	}
	return result, nil
}

// GetByID returns a single record or ErrEntityNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*entity.Entity, error) {
	var e *entity.Entity
	err := s.query(ctx, "get entity", func(db *sql.DB) error {
		var err error
		e, err = getEntity(db.QueryRowContext(ctx, "SELECT "+entityColumns+" FROM entities WHERE id = ?", id), id)
		return err
	})
	return e, err
}

// UpdateEntity reads, modifies and writes a record in one transaction.
func (s *Store) UpdateEntity(ctx context.Context, id string, fn func(*entity.Entity) error) error {
	return s.withTx(ctx, "update entity", func(tx *sql.Tx) error {
		e, err := getEntity(tx.QueryRowContext(ctx, "SELECT "+entityColumns+" FROM entities WHERE id = ?", id), id)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		e.ID = id

		_, err = tx.ExecContext(ctx, `
			UPDATE entities SET kind = ?, status = ?, title = ?, data = ?, updated_at = ?, synced_at = ?
			WHERE id = ?
		`, entityArgs(e, s.now())[1:]...)
		return err
	})
}

// DeleteByID removes a record if present.
func (s *Store) DeleteByID(ctx context.Context, id string) error {
	return s.withTx(ctx, "delete entity", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", id)
		return err
	})
}

// ClearAll removes every cached record.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.withTx(ctx, "clear entities", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM entities")
		return err
	})
}

// entityArgs returns column values in entityColumns order followed by the id,
// so callers can slice off the leading id for UPDATE ... WHERE id = ?
// or keep the trailing one for the pending check in RefreshEntities.
func entityArgs(e *entity.Entity, now time.Time) []interface{} {
	updated := e.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	var synced sql.NullInt64
	if e.SyncedAt != nil && !e.SyncedAt.IsZero() {
		synced = sql.NullInt64{Int64: toNanos(*e.SyncedAt), Valid: true}
	}
	var data []byte
	if len(e.Data) > 0 {
		data = e.Data
	}
	return []interface{}{e.ID, e.Kind, e.Status, e.Title, data, toNanos(updated), synced, e.ID}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*entity.Entity, error) {
	var (
		e       entity.Entity
		data    []byte
		updated int64
		synced  sql.NullInt64
	)
	if err := row.Scan(&e.ID, &e.Kind, &e.Status, &e.Title, &data, &updated, &synced); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		e.Data = data
	}
	e.UpdatedAt = fromNanos(updated)
	if synced.Valid {
		t := fromNanos(synced.Int64)
		e.SyncedAt = &t
	}
	return &e, nil
}

func getEntity(row *sql.Row, id string) (*entity.Entity, error) {
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithContext(
			errors.NewError(errors.CodeNotFound, "entity not found", errors.ErrEntityNotFound),
			"id", id,
		)
	}
	return e, err
}
