package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "create_entities_table", createEntitiesTable},
	{2, "create_queued_mutations_table", createQueuedMutationsTable},
	{3, "create_session_state_table", createSessionStateTable},
	{4, "create_drain_runs_table", createDrainRunsTable},
	{5, "create_indices", createIndices},
	{6, "drop_queued_mutations_order_index", dropQueueOrderIndex},
}

// applyMigrations applies pending migrations in version order.
func applyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("could not create migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := isMigrationApplied(ctx, db, m.version)
		if err != nil {
			return fmt.Errorf("could not check migration %d: %w", m.version, err)
		}
		if applied {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("could not begin migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("could not apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("could not record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("could not commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

func isMigrationApplied(ctx context.Context, db *sql.DB, version int) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrations WHERE version = ?", version).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// Times are stored as unix nanoseconds so ordering is exact.
const createEntitiesTable = `
CREATE TABLE IF NOT EXISTS entities (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	data BLOB,
	updated_at INTEGER NOT NULL,
	synced_at INTEGER
)`

// seq is the replay order.
const createQueuedMutationsTable = `
CREATE TABLE IF NOT EXISTS queued_mutations (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	endpoint TEXT NOT NULL,
	method TEXT NOT NULL,
	payload BLOB,
	entity_id TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	retries INTEGER NOT NULL DEFAULT 0 CHECK (retries >= 0),
	poisoned INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT ''
)`

const createSessionStateTable = `
CREATE TABLE IF NOT EXISTS session_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

const createDrainRunsTable = `
CREATE TABLE IF NOT EXISTS drain_runs (
	id TEXT PRIMARY KEY,
	trigger_kind TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	synced INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	deferred INTEGER NOT NULL DEFAULT 0,
	poisoned INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT ''
)`

const createIndices = `
CREATE INDEX IF NOT EXISTS idx_entities_status ON entities(status);
CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
CREATE INDEX IF NOT EXISTS idx_drain_runs_started ON drain_runs(started_at DESC);
`

// The queue is ordered by seq, which is the rowid.
const dropQueueOrderIndex = `DROP INDEX IF EXISTS idx_queued_mutations_order`
