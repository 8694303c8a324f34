// Package postgres provides the PostgreSQL client for the promine chain store.
// It opens the connection pool, applies the schema and exposes the dialect
// used by the shared SQL repositories.
package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/bardlex/promine/internal/database/sqlstore"
)

// uniqueViolation is the SQLSTATE for a unique constraint failure
const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS mining_operations (
	id                   BIGSERIAL PRIMARY KEY,
	operation_type       TEXT NOT NULL,
	miner_id             TEXT NOT NULL,
	start_time           TIMESTAMPTZ NOT NULL,
	estimated_completion TIMESTAMPTZ NOT NULL,
	progress             DOUBLE PRECISION NOT NULL DEFAULT 0,
	current_result       JSONB NOT NULL,
	difficulty           INTEGER NOT NULL,
	status               TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS mining_operations_status_idx ON mining_operations (status);

CREATE TABLE IF NOT EXISTS discoveries (
	id                 BIGSERIAL PRIMARY KEY,
	work_type          TEXT NOT NULL,
	difficulty         INTEGER NOT NULL,
	result             JSONB NOT NULL,
	verification_data  JSONB NOT NULL,
	computational_cost DOUBLE PRECISION NOT NULL,
	energy_efficiency  DOUBLE PRECISION NOT NULL,
	scientific_value   DOUBLE PRECISION NOT NULL,
	computation_mode   TEXT NOT NULL,
	verified           BOOLEAN NOT NULL DEFAULT FALSE,
	verification_score DOUBLE PRECISION,
	signature          TEXT NOT NULL,
	worker_id          TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS blocks (
	id                     BIGSERIAL PRIMARY KEY,
	block_index            BIGINT NOT NULL,
	created_at             TIMESTAMPTZ NOT NULL,
	previous_hash          TEXT NOT NULL,
	merkle_root            TEXT NOT NULL,
	block_hash             TEXT NOT NULL,
	difficulty             INTEGER NOT NULL,
	nonce                  BIGINT NOT NULL,
	miner_id               TEXT NOT NULL,
	total_scientific_value DOUBLE PRECISION NOT NULL,
	energy_consumed        DOUBLE PRECISION NOT NULL,
	knowledge_created      INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS blocks_block_index_key ON blocks (block_index);

CREATE TABLE IF NOT EXISTS network_metrics (
	id                         BIGSERIAL PRIMARY KEY,
	created_at                 TIMESTAMPTZ NOT NULL,
	active_miners              INTEGER NOT NULL,
	blocks_per_hour            DOUBLE PRECISION NOT NULL,
	energy_efficiency          DOUBLE PRECISION NOT NULL,
	scientific_value_generated DOUBLE PRECISION NOT NULL,
	average_block_time         DOUBLE PRECISION NOT NULL,
	network_hashrate           DOUBLE PRECISION NOT NULL,
	total_knowledge_created    INTEGER NOT NULL
);
`

// Dialect is the sqlstore dialect for lib/pq
var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	Positional:        true,
	IsUniqueViolation: IsUniqueViolation,
}

// Client wraps PostgreSQL database operations
type Client struct {
	db *sql.DB
}

// Config holds PostgreSQL connection configuration
type Config struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// DefaultConfig returns pool settings suitable for a single node
func DefaultConfig(url string) *Config {
	return &Config{
		URL:          url,
		MaxOpenConns: 20,
		MaxIdleConns: 5,
		MaxLifetime:  30 * time.Minute,
	}
}

// NewClient creates a new PostgreSQL client and applies the schema
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sql.DB for the repositories
func (c *Client) DB() *sql.DB {
	return c.db
}

// IsUniqueViolation reports whether err is a PostgreSQL unique violation
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
