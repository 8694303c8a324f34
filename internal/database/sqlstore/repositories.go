package sqlstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/bardlex/promine/internal/engine"
	"github.com/bardlex/promine/internal/models"
	"github.com/bardlex/promine/internal/work"
)

// OperationRepository handles mining operation rows
type OperationRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewOperationRepository creates a new operation repository
func NewOperationRepository(db *sql.DB, dialect Dialect) *OperationRepository {
	return &OperationRepository{db: db, dialect: dialect}
}

const operationColumns = `id, operation_type, miner_id, start_time, estimated_completion, progress, current_result, difficulty, status`

// CreateOperation inserts op and sets its ID
func (r *OperationRepository) CreateOperation(ctx context.Context, op *models.Operation) error {
	state, err := json.Marshal(op.CurrentResult)
	if err != nil {
		return fmt.Errorf("failed to marshal operation state: %w", err)
	}

	query := `
		INSERT INTO mining_operations (operation_type, miner_id, start_time, estimated_completion, progress, current_result, difficulty, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err = r.db.QueryRowContext(ctx, r.dialect.Rebind(query),
		string(op.WorkType), op.MinerID, op.StartTime.UTC(), op.EstimatedCompletion.UTC(),
		op.Progress, string(state), op.Difficulty, string(op.Status),
	).Scan(&op.ID)
	if err != nil {
		return fmt.Errorf("failed to create operation: %w", err)
	}

	return nil
}

// UpdateProgress records progress and the current state of a running operation
func (r *OperationRepository) UpdateProgress(ctx context.Context, id int64, progress float64, state models.OperationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal operation state: %w", err)
	}

	query := `UPDATE mining_operations SET progress = $1, current_result = $2 WHERE id = $3`
	return r.exec(ctx, "update operation", query, progress, string(data), id)
}

// Finish moves an operation to a terminal status
func (r *OperationRepository) Finish(ctx context.Context, id int64, status models.OperationStatus, state models.OperationState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal operation state: %w", err)
	}

	query := `UPDATE mining_operations SET status = $1, progress = $2, current_result = $3 WHERE id = $4`
	return r.exec(ctx, "finish operation", query, string(status), models.ProgressDone, string(data), id)
}

func (r *OperationRepository) exec(ctx context.Context, what, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// GetOperation retrieves one operation by id
func (r *OperationRepository) GetOperation(ctx context.Context, id int64) (*models.Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM mining_operations WHERE id = $1`
	op, err := scanOperation(r.db.QueryRowContext(ctx, r.dialect.Rebind(query), id))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return op, nil
}

// GetActiveOperations returns operations still in progress, oldest first
func (r *OperationRepository) GetActiveOperations(ctx context.Context) ([]*models.Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM mining_operations WHERE status = $1 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), string(models.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ops []*models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}

	return ops, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(row scanner) (*models.Operation, error) {
	op := &models.Operation{}
	var workType, status string
	var state []byte
	err := row.Scan(
		&op.ID, &workType, &op.MinerID, &op.StartTime, &op.EstimatedCompletion,
		&op.Progress, &state, &op.Difficulty, &status,
	)
	if err != nil {
		return nil, err
	}
	op.WorkType = work.Type(workType)
	op.Status = models.OperationStatus(status)
	if len(state) > 0 {
		if err := json.Unmarshal(state, &op.CurrentResult); err != nil {
			return nil, fmt.Errorf("failed to decode operation state: %w", err)
		}
	}
	return op, nil
}

// DiscoveryRepository handles discovery rows
type DiscoveryRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewDiscoveryRepository creates a new discovery repository
func NewDiscoveryRepository(db *sql.DB, dialect Dialect) *DiscoveryRepository {
	return &DiscoveryRepository{db: db, dialect: dialect}
}

const discoveryColumns = `id, work_type, difficulty, result, verification_data, computational_cost, energy_efficiency,
		       scientific_value, computation_mode, verified, verification_score, signature, worker_id, created_at`

// CreateDiscovery inserts d and sets its ID
func (r *DiscoveryRepository) CreateDiscovery(ctx context.Context, d *models.Discovery) error {
	result, err := json.Marshal(d.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal discovery result: %w", err)
	}
	verification, err := json.Marshal(d.VerificationData)
	if err != nil {
		return fmt.Errorf("failed to marshal verification data: %w", err)
	}

	var score sql.NullFloat64
	if d.VerificationScore != nil {
		score = sql.NullFloat64{Float64: *d.VerificationScore, Valid: true}
	}

	query := `
		INSERT INTO discoveries (work_type, difficulty, result, verification_data, computational_cost, energy_efficiency,
		                         scientific_value, computation_mode, verified, verification_score, signature, worker_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	err = r.db.QueryRowContext(ctx, r.dialect.Rebind(query),
		string(d.WorkType), d.Difficulty, string(result), string(verification),
		d.ComputationalCost, d.EnergyEfficiency, d.ScientificValue, string(d.ComputationMode),
		d.Verified, score, d.Signature, d.WorkerID, d.Timestamp.UTC(),
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("failed to create discovery: %w", err)
	}

	return nil
}

// GetDiscovery retrieves one discovery by id
func (r *DiscoveryRepository) GetDiscovery(ctx context.Context, id int64) (*models.Discovery, error) {
	query := `SELECT ` + discoveryColumns + ` FROM discoveries WHERE id = $1`
	d, err := scanDiscovery(r.db.QueryRowContext(ctx, r.dialect.Rebind(query), id))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get discovery: %w", err)
	}
	return d, nil
}

// GetRecentDiscoveries returns up to limit discoveries, newest first
func (r *DiscoveryRepository) GetRecentDiscoveries(ctx context.Context, limit int) ([]*models.Discovery, error) {
	query := `SELECT ` + discoveryColumns + ` FROM discoveries ORDER BY id DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query discoveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Discovery
	for rows.Next() {
		d, err := scanDiscovery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan discovery: %w", err)
		}
		out = append(out, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating discoveries: %w", err)
	}

	return out, nil
}

func scanDiscovery(row scanner) (*models.Discovery, error) {
	d := &models.Discovery{}
	var workType, mode string
	var result, verification []byte
	var score sql.NullFloat64
	err := row.Scan(
		&d.ID, &workType, &d.Difficulty, &result, &verification, &d.ComputationalCost,
		&d.EnergyEfficiency, &d.ScientificValue, &mode, &d.Verified, &score,
		&d.Signature, &d.WorkerID, &d.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	d.WorkType = work.Type(workType)
	d.ComputationMode = engine.Mode(mode)
	if score.Valid {
		v := score.Float64
		d.VerificationScore = &v
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &d.Result); err != nil {
			return nil, fmt.Errorf("failed to decode discovery result: %w", err)
		}
	}
	if len(verification) > 0 {
		if err := json.Unmarshal(verification, &d.VerificationData); err != nil {
			return nil, fmt.Errorf("failed to decode verification data: %w", err)
		}
	}
	return d, nil
}

// BlockRepository handles chain block rows
type BlockRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewBlockRepository creates a new block repository
func NewBlockRepository(db *sql.DB, dialect Dialect) *BlockRepository {
	return &BlockRepository{db: db, dialect: dialect}
}

const blockColumns = `id, block_index, created_at, previous_hash, merkle_root, block_hash, difficulty, nonce,
		       miner_id, total_scientific_value, energy_consumed, knowledge_created`

// CreateBlock inserts b and sets its ID. A second block at the same index
// fails with models.ErrBlockExists.
func (r *BlockRepository) CreateBlock(ctx context.Context, b *models.Block) error {
	query := `
		INSERT INTO blocks (block_index, created_at, previous_hash, merkle_root, block_hash, difficulty, nonce,
		                    miner_id, total_scientific_value, energy_consumed, knowledge_created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(query),
		b.Index, b.Timestamp.UTC(), b.PreviousHash, b.MerkleRoot, b.BlockHash, b.Difficulty, b.Nonce,
		b.MinerID, b.TotalScientificValue, b.EnergyConsumed, b.KnowledgeCreated,
	).Scan(&b.ID)
	if err != nil {
		if r.dialect.uniqueViolation(err) {
			return fmt.Errorf("%w: index %d", models.ErrBlockExists, b.Index)
		}
		return fmt.Errorf("failed to create block: %w", err)
	}

	return nil
}

// GetLatestBlock returns the chain tip, or nil when the chain is empty
func (r *BlockRepository) GetLatestBlock(ctx context.Context) (*models.Block, error) {
	query := `SELECT ` + blockColumns + ` FROM blocks ORDER BY block_index DESC LIMIT 1`
	b, err := scanBlock(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest block: %w", err)
	}
	return b, nil
}

// GetBlock retrieves one block by id
func (r *BlockRepository) GetBlock(ctx context.Context, id int64) (*models.Block, error) {
	query := `SELECT ` + blockColumns + ` FROM blocks WHERE id = $1`
	b, err := scanBlock(r.db.QueryRowContext(ctx, r.dialect.Rebind(query), id))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get block: %w", err)
	}
	return b, nil
}

// GetRecentBlocks returns up to limit blocks, newest first
func (r *BlockRepository) GetRecentBlocks(ctx context.Context, limit int) ([]*models.Block, error) {
	query := `SELECT ` + blockColumns + ` FROM blocks ORDER BY block_index DESC LIMIT $1`
	return r.query(ctx, query, limit)
}

// GetBlocksFrom returns up to limit blocks with index >= from, in chain order
func (r *BlockRepository) GetBlocksFrom(ctx context.Context, from int64, limit int) ([]*models.Block, error) {
	query := `SELECT ` + blockColumns + ` FROM blocks WHERE block_index >= $1 ORDER BY block_index ASC LIMIT $2`
	return r.query(ctx, query, from, limit)
}

func (r *BlockRepository) query(ctx context.Context, query string, args ...any) ([]*models.Block, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var blocks []*models.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		blocks = append(blocks, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocks: %w", err)
	}

	return blocks, nil
}

func scanBlock(row scanner) (*models.Block, error) {
	b := &models.Block{}
	err := row.Scan(
		&b.ID, &b.Index, &b.Timestamp, &b.PreviousHash, &b.MerkleRoot, &b.BlockHash,
		&b.Difficulty, &b.Nonce, &b.MinerID, &b.TotalScientificValue, &b.EnergyConsumed,
		&b.KnowledgeCreated,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// MetricsRepository handles network metrics snapshots
type MetricsRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewMetricsRepository creates a new metrics repository
func NewMetricsRepository(db *sql.DB, dialect Dialect) *MetricsRepository {
	return &MetricsRepository{db: db, dialect: dialect}
}

// CreateSnapshot appends a metrics snapshot and sets its ID
func (r *MetricsRepository) CreateSnapshot(ctx context.Context, m *models.NetworkMetrics) error {
	query := `
		INSERT INTO network_metrics (created_at, active_miners, blocks_per_hour, energy_efficiency,
		                             scientific_value_generated, average_block_time, network_hashrate, total_knowledge_created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(query),
		m.Timestamp.UTC(), m.ActiveMiners, m.BlocksPerHour, m.EnergyEfficiency,
		m.ScientificValueGenerated, m.AverageBlockTime, m.NetworkHashrate, m.TotalKnowledgeCreated,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("failed to create metrics snapshot: %w", err)
	}

	return nil
}

// GetLatestSnapshot returns the newest snapshot, or nil when none exists
func (r *MetricsRepository) GetLatestSnapshot(ctx context.Context) (*models.NetworkMetrics, error) {
	query := `
		SELECT id, created_at, active_miners, blocks_per_hour, energy_efficiency,
		       scientific_value_generated, average_block_time, network_hashrate, total_knowledge_created
		FROM network_metrics ORDER BY id DESC LIMIT 1`

	m := &models.NetworkMetrics{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&m.ID, &m.Timestamp, &m.ActiveMiners, &m.BlocksPerHour, &m.EnergyEfficiency,
		&m.ScientificValueGenerated, &m.AverageBlockTime, &m.NetworkHashrate, &m.TotalKnowledgeCreated,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get metrics snapshot: %w", err)
	}
	return m, nil
}

// Stats aggregates row counts across the chain tables
func Stats(ctx context.Context, db *sql.DB, dialect Dialect) (*models.Stats, error) {
	s := &models.Stats{}

	query := `SELECT COUNT(*), COALESCE(SUM(total_scientific_value), 0) FROM blocks`
	if err := db.QueryRowContext(ctx, query).Scan(&s.TotalBlocks, &s.TotalScientificValue); err != nil {
		return nil, fmt.Errorf("failed to count blocks: %w", err)
	}

	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM discoveries`).Scan(&s.TotalDiscoveries); err != nil {
		return nil, fmt.Errorf("failed to count discoveries: %w", err)
	}

	query = `SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = $1 THEN 1 ELSE 0 END), 0) FROM mining_operations`
	err := db.QueryRowContext(ctx, dialect.Rebind(query), string(models.StatusActive)).
		Scan(&s.TotalOperations, &s.ActiveOperations)
	if err != nil {
		return nil, fmt.Errorf("failed to count operations: %w", err)
	}

	return s, nil
}
