// Package database provides the durable chain store for promine.
// It coordinates a SQL database (PostgreSQL or SQLite) with an optional Redis
// cache and an optional InfluxDB time-series sink.
package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bardlex/promine/internal/config"
	"github.com/bardlex/promine/internal/database/influx"
	"github.com/bardlex/promine/internal/database/postgres"
	"github.com/bardlex/promine/internal/database/redis"
	"github.com/bardlex/promine/internal/database/sqlite"
	"github.com/bardlex/promine/internal/database/sqlstore"
	"github.com/bardlex/promine/internal/models"
	"github.com/bardlex/promine/pkg/circuit"
	"github.com/bardlex/promine/pkg/errors"
	"github.com/bardlex/promine/pkg/log"
	"github.com/bardlex/promine/pkg/retry"
)

// Cache settings
const (
	blockCacheTTL = 24 * time.Hour
	tipCacheKey   = "chain:tip"
	rateWindow    = time.Minute
)

// Backends
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type sqlClient interface {
	DB() *sql.DB
	Health(ctx context.Context) error
	Close() error
}

// Manager coordinates all database operations across the SQL store, Redis and InfluxDB
type Manager struct {
	SQL    sqlClient
	Redis  *redis.Client  // nil when caching is disabled
	Influx *influx.Client // nil when time-series export is disabled

	// Repositories
	Operations  *sqlstore.OperationRepository
	Discoveries *sqlstore.DiscoveryRepository
	Blocks      *sqlstore.BlockRepository
	Metrics     *sqlstore.MetricsRepository

	dialect sqlstore.Dialect
	logger  *log.Logger

	// Error handling
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// Config holds configuration for all database systems
type Config struct {
	Backend    string
	Postgres   *postgres.Config
	SQLitePath string
	Redis      *redis.Config  // nil disables Redis
	Influx     *influx.Config // nil disables InfluxDB
}

// ConfigFromService derives the database configuration from the service
// configuration. Redis and InfluxDB are enabled when their URLs are set.
func ConfigFromService(cfg *config.Config) *Config {
	dbCfg := &Config{
		Backend:    cfg.StorageBackend,
		SQLitePath: cfg.SQLitePath,
	}
	if cfg.StorageBackend == BackendPostgres {
		dbCfg.Postgres = postgres.DefaultConfig(cfg.PostgresURL)
	}
	if cfg.RedisURL != "" {
		dbCfg.Redis = redis.DefaultConfig(cfg.RedisURL)
	}
	if cfg.InfluxURL != "" {
		dbCfg.Influx = &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}
	}
	return dbCfg
}

// NewManager opens every configured connection
func NewManager(cfg *Config, logger *log.Logger) (*Manager, error) {
	var (
		client  sqlClient
		dialect sqlstore.Dialect
		err     error
	)

	switch cfg.Backend {
	case BackendPostgres:
		client, err = postgres.NewClient(cfg.Postgres)
		dialect = postgres.Dialect
	case BackendSQLite:
		client, err = sqlite.Open(cfg.SQLitePath)
		dialect = sqlite.Dialect
	default:
		return nil, errors.New(errors.ErrorTypeValidation, "database_config",
			fmt.Sprintf("unsupported backend %q", cfg.Backend))
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, cfg.Backend+"_connection",
			"failed to connect to the SQL database")
	}

	m := newManager(client, dialect, logger)

	if cfg.Redis != nil {
		redisClient, err := redis.NewClient(cfg.Redis)
		if err != nil {
			origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
				"failed to connect to Redis database")
			if closeErr := client.Close(); closeErr != nil {
				return nil, origErr.WithContext("cleanup_error", closeErr.Error())
			}
			return nil, origErr
		}
		m.Redis = redisClient
	}

	if cfg.Influx != nil {
		influxClient, err := influx.NewClient(cfg.Influx)
		if err != nil {
			origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
				"failed to connect to InfluxDB database")
			var closeErrs []error
			if closeErr := client.Close(); closeErr != nil {
				closeErrs = append(closeErrs, closeErr)
			}
			if m.Redis != nil {
				if closeErr := m.Redis.Close(); closeErr != nil {
					closeErrs = append(closeErrs, closeErr)
				}
			}
			if len(closeErrs) > 0 {
				return nil, origErr.WithContext("cleanup_errors", fmt.Sprintf("%v", closeErrs))
			}
			return nil, origErr
		}
		m.Influx = influxClient
	}

	return m, nil
}

func newManager(client sqlClient, dialect sqlstore.Dialect, logger *log.Logger) *Manager {
	db := client.DB()
	return &Manager{
		SQL:         client,
		Operations:  sqlstore.NewOperationRepository(db, dialect),
		Discoveries: sqlstore.NewDiscoveryRepository(db, dialect),
		Blocks:      sqlstore.NewBlockRepository(db, dialect),
		Metrics:     sqlstore.NewMetricsRepository(db, dialect),
		dialect:     dialect,
		logger:      logger.WithComponent("database"),
		circuitBreaker: circuit.New(&circuit.Config{
			Name:            "database",
			MaxFailures:     3,
			SuccessRequired: 2,
			Timeout:         30 * time.Second,
			ResetTimeout:    60 * time.Second,
		}),
		retryConfig: retry.DatabaseConfig(),
	}
}

// Close closes all database connections
func (m *Manager) Close() error {
	var errs []error

	if m.Influx != nil {
		m.Influx.Close()
	}

	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if err := m.SQL.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%s close error: %w", m.dialect.Name, err))
	}

	return stderrors.Join(errs...)
}

// Health checks the health of all database connections
func (m *Manager) Health(ctx context.Context) error {
	if err := m.SQL.Health(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", m.dialect.Name, err)
	}

	if m.Redis != nil {
		if err := m.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}

	if m.Influx != nil {
		if err := m.Influx.Health(ctx); err != nil {
			return fmt.Errorf("InfluxDB health check failed: %w", err)
		}
	}

	return nil
}

// write runs a critical write behind the circuit breaker with retries
func (m *Manager) write(ctx context.Context, fn func() error) error {
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, fn)
	})
}

// warn logs a failed best-effort side write
func (m *Manager) warn(err error, operation, message string) {
	sideErr := errors.Wrap(err, errors.ErrorTypeDatabase, operation, message)
	sideErr.Retryable = false
	m.logger.WithError(sideErr).Warn("non-critical store write failed", "operation", operation)
}

// Operations

// CreateOperation persists a new operation and assigns its ID
func (m *Manager) CreateOperation(ctx context.Context, op *models.Operation) error {
	return m.write(ctx, func() error {
		if err := m.Operations.CreateOperation(ctx, op); err != nil {
			return errors.Wrap(err, errors.ErrorTypeDatabase, "create_operation",
				"failed to store operation").
				WithContext("work_type", op.WorkType).
				WithContext("miner_id", op.MinerID)
		}
		return nil
	})
}

// UpdateOperation records progress for an active operation
func (m *Manager) UpdateOperation(ctx context.Context, id int64, progress float64, state models.OperationState) error {
	return m.write(ctx, func() error {
		if err := m.Operations.UpdateProgress(ctx, id, progress, state); err != nil {
			return errors.Wrap(err, errors.ErrorTypeDatabase, "update_operation",
				"failed to update operation").
				WithContext("operation_id", id).
				WithContext("phase", state.Phase)
		}
		return nil
	})
}

// CompleteOperation marks an operation completed
func (m *Manager) CompleteOperation(ctx context.Context, id int64, state models.OperationState) error {
	return m.finish(ctx, id, models.StatusCompleted, state)
}

// FailOperation marks an operation failed
func (m *Manager) FailOperation(ctx context.Context, id int64, state models.OperationState) error {
	return m.finish(ctx, id, models.StatusFailed, state)
}

func (m *Manager) finish(ctx context.Context, id int64, status models.OperationStatus, state models.OperationState) error {
	return m.write(ctx, func() error {
		if err := m.Operations.Finish(ctx, id, status, state); err != nil {
			return errors.Wrap(err, errors.ErrorTypeDatabase, "finish_operation",
				"failed to finish operation").
				WithContext("operation_id", id).
				WithContext("status", status)
		}
		return nil
	})
}

// GetOperation retrieves one operation
func (m *Manager) GetOperation(ctx context.Context, id int64) (*models.Operation, error) {
	op, err := m.Operations.GetOperation(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "get_operation", "failed to load operation").
			WithContext("operation_id", id)
	}
	return op, nil
}

// GetActiveOperations lists operations that have not finished
func (m *Manager) GetActiveOperations(ctx context.Context) ([]*models.Operation, error) {
	ops, err := m.Operations.GetActiveOperations(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "get_active_operations",
			"failed to list active operations")
	}
	return ops, nil
}

// Discoveries

// CreateDiscovery persists a discovery and records its metric point
func (m *Manager) CreateDiscovery(ctx context.Context, d *models.Discovery) error {
	err := m.write(ctx, func() error {
		if err := m.Discoveries.CreateDiscovery(ctx, d); err != nil {
			return errors.Wrap(err, errors.ErrorTypeDatabase, "create_discovery",
				"failed to store discovery").
				WithContext("work_type", d.WorkType).
				WithContext("difficulty", d.Difficulty)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Record metrics in InfluxDB (best effort)
	if m.Influx != nil {
		m.Influx.WriteDiscovery(d)
	}
	return nil
}

// GetDiscovery retrieves one discovery
func (m *Manager) GetDiscovery(ctx context.Context, id int64) (*models.Discovery, error) {
	d, err := m.Discoveries.GetDiscovery(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "get_discovery", "failed to load discovery").
			WithContext("discovery_id", id)
	}
	return d, nil
}

// GetDiscoveries lists up to limit discoveries, newest first
func (m *Manager) GetDiscoveries(ctx context.Context, limit int) ([]*models.Discovery, error) {
	out, err := m.Discoveries.GetRecentDiscoveries(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "get_discoveries", "failed to list discoveries")
	}
	return out, nil
}

// Blocks

// CreateBlock appends a block to the durable chain, then caches it and
// records its metric point
func (m *Manager) CreateBlock(ctx context.Context, b *models.Block) error {
	err := m.write(ctx, func() error {
		if err := m.Blocks.CreateBlock(ctx, b); err != nil {
			if stderrors.Is(err, models.ErrBlockExists) {
				return errors.Wrap(err, errors.ErrorTypeChain, "create_block",
					"chain already has a block at this index").
					WithContext("block_index", b.Index)
			}
			return errors.Wrap(err, errors.ErrorTypeDatabase, "create_block",
				"failed to store block").
				WithContext("block_index", b.Index).
				WithContext("block_hash", b.BlockHash).
				WithContext("miner_id", b.MinerID)
		}
		return nil
	})
	if err != nil {
		if m.Redis != nil && errors.HasType(err, errors.ErrorTypeChain) {
			// the cached tip is stale if another writer got there first
			if delErr := m.Redis.DeleteCache(ctx, tipCacheKey); delErr != nil {
				m.warn(delErr, "redis_tip_invalidate", "failed to drop cached chain tip")
			}
		}
		return err
	}

	if m.Influx != nil {
		m.Influx.WriteBlock(b)
	}

	if m.Redis != nil {
		blockKey := fmt.Sprintf("block:%d", b.Index)
		if err := m.Redis.SetCache(ctx, blockKey, b, blockCacheTTL); err != nil {
			m.warn(err, "redis_block_cache", "failed to cache block in Redis")
		}
		if err := m.Redis.SetCache(ctx, tipCacheKey, b, blockCacheTTL); err != nil {
			m.warn(err, "redis_tip_cache", "failed to cache chain tip in Redis")
			if delErr := m.Redis.DeleteCache(ctx, tipCacheKey); delErr != nil {
				m.warn(delErr, "redis_tip_invalidate", "failed to drop cached chain tip")
			}
		}
	}

	return nil
}

// GetLatestBlock returns the chain tip, or nil for an empty chain
func (m *Manager) GetLatestBlock(ctx context.Context) (*models.Block, error) {
	if m.Redis != nil {
		var cached models.Block
		err := m.Redis.GetCache(ctx, tipCacheKey, &cached)
		if err == nil {
			return &cached, nil
		}
		if !stderrors.Is(err, redis.ErrCacheMiss) {
			m.warn(err, "redis_tip_read", "failed to read cached chain tip")
		}
	}

	b, err := m.Blocks.GetLatestBlock(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "get_latest_block", "failed to load chain tip")
	}

	if b != nil && m.Redis != nil {
		if err := m.Redis.SetCache(ctx, tipCacheKey, b, blockCacheTTL); err != nil {
			m.warn(err, "redis_tip_cache", "failed to cache chain tip in Redis")
		}
	}
	return b, nil
}

// GetBlock retrieves one block by id
func (m *Manager) GetBlock(ctx context.Context, id int64) (*models.Block, error) {
	b, err := m.Blocks.GetBlock(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "get_block", "failed to load block").
			WithContext("block_id", id)
	}
	return b, nil
}

// GetBlocks lists up to limit blocks, newest first
func (m *Manager) GetBlocks(ctx context.Context, limit int) ([]*models.Block, error) {
	blocks, err := m.Blocks.GetRecentBlocks(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "get_blocks", "failed to list blocks")
	}
	return blocks, nil
}

// GetBlocksFrom lists up to limit blocks starting at index from, in chain order
func (m *Manager) GetBlocksFrom(ctx context.Context, from int64, limit int) ([]*models.Block, error) {
	blocks, err := m.Blocks.GetBlocksFrom(ctx, from, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "get_blocks_from", "failed to list blocks").
			WithContext("from_index", from)
	}
	return blocks, nil
}

// Network metrics

// CreateMetricsSnapshot appends a metrics snapshot and exports it
func (m *Manager) CreateMetricsSnapshot(ctx context.Context, nm *models.NetworkMetrics) error {
	err := m.write(ctx, func() error {
		if err := m.Metrics.CreateSnapshot(ctx, nm); err != nil {
			return errors.Wrap(err, errors.ErrorTypeDatabase, "create_metrics_snapshot",
				"failed to store network metrics")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if m.Influx != nil {
		m.Influx.WriteNetworkMetrics(nm)
	}
	return nil
}

// GetLatestMetricsSnapshot returns the newest snapshot, or nil
func (m *Manager) GetLatestMetricsSnapshot(ctx context.Context) (*models.NetworkMetrics, error) {
	nm, err := m.Metrics.GetLatestSnapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "get_metrics_snapshot",
			"failed to load network metrics")
	}
	return nm, nil
}

// Stats aggregates totals across the chain tables
func (m *Manager) Stats(ctx context.Context) (*models.Stats, error) {
	s, err := sqlstore.Stats(ctx, m.SQL.DB(), m.dialect)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "stats", "failed to aggregate chain stats")
	}
	return s, nil
}

// Rate limiting

// AllowSubmission counts one submission for client against a per-minute
// limit. Without Redis every submission is allowed.
func (m *Manager) AllowSubmission(ctx context.Context, client string, limit int64) (bool, error) {
	if m.Redis == nil || limit <= 0 {
		return true, nil
	}

	if _, err := m.Redis.IncrementCounter(ctx, "submissions:total", 24*time.Hour); err != nil {
		m.warn(err, "redis_submission_counter", "failed to count submission")
	}

	allowed, err := m.Redis.CheckRateLimit(ctx, "ratelimit:submit:"+client, limit, rateWindow)
	if err != nil {
		return true, errors.Wrap(err, errors.ErrorTypeNetwork, "rate_limit",
			"failed to check submission rate limit").
			WithContext("client", client)
	}
	return allowed, nil
}

// SubmissionCount returns submissions counted in the last day
func (m *Manager) SubmissionCount(ctx context.Context) (int64, error) {
	if m.Redis == nil {
		return 0, nil
	}
	return m.Redis.GetCounter(ctx, "submissions:total")
}

// StartPeriodicTasks starts background maintenance until ctx is done
func (m *Manager) StartPeriodicTasks(ctx context.Context) {
	if m.Influx == nil {
		return
	}

	// Flush InfluxDB writes every 10 seconds
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Influx.Flush()
			}
		}
	}()

	// Surface asynchronous write failures
	go func() {
		errs := m.Influx.Errors()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errs:
				if !ok {
					return
				}
				m.warn(err, "influx_write", "failed to write points to InfluxDB")
			}
		}
	}()
}

// String identifies the backend in logs
func (m *Manager) String() string {
	return m.dialect.Name + " store (redis=" + strconv.FormatBool(m.Redis != nil) +
		", influx=" + strconv.FormatBool(m.Influx != nil) + ")"
}
