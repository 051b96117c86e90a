// Package sqlite implements the local persistent store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/jbctechsolutions/offsync/internal/domain/errors"
)

// pragmas are applied to every new connection.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
}

// Connection manages the SQLite database handle.
type Connection struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// DefaultPath returns ~/.offsync/offsync.db.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".offsync", "offsync.db"), nil
}

// NewConnection creates a connection for dbPath without opening it.
// If dbPath is empty, DefaultPath is used.
func NewConnection(dbPath string) (*Connection, error) {
	if dbPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		dbPath = p
	}
	return &Connection{dbPath: dbPath}, nil
}

// Open opens the database, applies pragmas and runs migrations.
// Opening an already open connection is a no-op.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return nil
	}

	if c.dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(c.dbPath), 0o755); err != nil {
			return fmt.Errorf("could not create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", c.dbPath)
	if err != nil {
		return fmt.Errorf("could not open database: %w", err)
	}

	// One connection serializes writers and keeps pragmas consistent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("could not ping database: %w", err)
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return fmt.Errorf("could not apply %q: %w", p, err)
		}
	}

	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("could not run migrations: %w", err)
	}

	c.db = db
	return nil
}

// Close releases the database handle. Closing a closed connection is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("could not close database: %w", err)
	}
	c.db = nil
	return nil
}

// DB returns the open handle or ErrStoreNotInitialized.
func (c *Connection) DB() (*sql.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.db == nil {
		return nil, errors.ErrStoreNotInitialized
	}
	return c.db, nil
}

// Path returns the database file path.
func (c *Connection) Path() string {
	return c.dbPath
}

// IsOpen reports whether the connection is open.
func (c *Connection) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db != nil
}
