// Package sqlite provides an embedded SQLite backend for the chain store.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"github.com/bardlex/promine/internal/database/sqlstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS mining_operations (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_type       TEXT NOT NULL,
    miner_id             TEXT NOT NULL,
    start_time           DATETIME NOT NULL,
    estimated_completion DATETIME NOT NULL,
    progress             REAL NOT NULL DEFAULT 0,
    current_result       TEXT NOT NULL,
    difficulty           INTEGER NOT NULL,
    status               TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_operations_status ON mining_operations(status);

CREATE TABLE IF NOT EXISTS discoveries (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    work_type          TEXT NOT NULL,
    difficulty         INTEGER NOT NULL,
    result             TEXT NOT NULL,
    verification_data  TEXT NOT NULL,
    computational_cost REAL NOT NULL,
    energy_efficiency  REAL NOT NULL,
    scientific_value   REAL NOT NULL,
    computation_mode   TEXT NOT NULL,
    verified           BOOLEAN NOT NULL DEFAULT 0,
    verification_score REAL,
    signature          TEXT NOT NULL,
    worker_id          TEXT NOT NULL,
    created_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS blocks (
    id                     INTEGER PRIMARY KEY AUTOINCREMENT,
    block_index            INTEGER NOT NULL,
    created_at             DATETIME NOT NULL,
    previous_hash          TEXT NOT NULL,
    merkle_root            TEXT NOT NULL,
    block_hash             TEXT NOT NULL,
    difficulty             INTEGER NOT NULL,
    nonce                  INTEGER NOT NULL,
    miner_id               TEXT NOT NULL,
    total_scientific_value REAL NOT NULL,
    energy_consumed        REAL NOT NULL,
    knowledge_created      INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_blocks_index ON blocks(block_index);

CREATE TABLE IF NOT EXISTS network_metrics (
    id                         INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at                 DATETIME NOT NULL,
    active_miners              INTEGER NOT NULL,
    blocks_per_hour            REAL NOT NULL,
    energy_efficiency          REAL NOT NULL,
    scientific_value_generated REAL NOT NULL,
    average_block_time         REAL NOT NULL,
    network_hashrate           REAL NOT NULL,
    total_knowledge_created    INTEGER NOT NULL
);
`

// Dialect is the sqlstore dialect for go-sqlite3
var Dialect = sqlstore.Dialect{
	Name:              "sqlite",
	IsUniqueViolation: IsUniqueViolation,
}

// Client wraps the SQLite database handle
type Client struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema
func Open(path string) (*Client, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// a single writer connection avoids SQLITE_BUSY between goroutines
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sql.DB for the repositories
func (c *Client) DB() *sql.DB {
	return c.db
}

// IsUniqueViolation reports whether err is a SQLite unique constraint failure
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if stderrors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
