// Package mining drives work items from submission to an appended block.
// It owns the operation lifecycle, the autonomous producers, the health
// monitor and the network metrics aggregator.
package mining

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bardlex/promine/internal/engine"
	"github.com/bardlex/promine/internal/hybrid"
	"github.com/bardlex/promine/internal/messaging"
	"github.com/bardlex/promine/internal/models"
	"github.com/bardlex/promine/internal/valuation"
	"github.com/bardlex/promine/internal/work"
	"github.com/bardlex/promine/pkg/errors"
	"github.com/bardlex/promine/pkg/log"
)

// secondsPerDifficulty is the nominal wall time per difficulty unit used for
// the estimated completion of an operation.
const secondsPerDifficulty = 2 * time.Second

// Store is the persistence the manager depends on
type Store interface {
	CreateOperation(ctx context.Context, op *models.Operation) error
	UpdateOperation(ctx context.Context, id int64, progress float64, state models.OperationState) error
	CompleteOperation(ctx context.Context, id int64, state models.OperationState) error
	FailOperation(ctx context.Context, id int64, state models.OperationState) error
	GetActiveOperations(ctx context.Context) ([]*models.Operation, error)

	CreateDiscovery(ctx context.Context, d *models.Discovery) error
	GetDiscoveries(ctx context.Context, limit int) ([]*models.Discovery, error)

	CreateBlock(ctx context.Context, b *models.Block) error
	GetLatestBlock(ctx context.Context) (*models.Block, error)
	GetBlocks(ctx context.Context, limit int) ([]*models.Block, error)

	CreateMetricsSnapshot(ctx context.Context, m *models.NetworkMetrics) error
	GetLatestMetricsSnapshot(ctx context.Context) (*models.NetworkMetrics, error)
}

// Verifier independently recomputes a result and scores it
type Verifier interface {
	Verify(ctx context.Context, res *engine.Result) (*hybrid.Report, error)
}

// Config tunes the manager
type Config struct {
	// PeerVerify recomputes every result once before it is recorded
	PeerVerify bool

	MetricsInterval time.Duration
	HealthInterval  time.Duration
	HealthMinActive int

	// Seed for producer randomness; zero seeds from the clock
	Seed uint64
}

// DefaultConfig returns the production intervals
func DefaultConfig() Config {
	return Config{
		MetricsInterval: 30 * time.Second,
		HealthInterval:  2 * time.Minute,
		HealthMinActive: 3,
	}
}

// Manager runs mining operations. It is safe for concurrent use.
type Manager struct {
	cfg       Config
	store     Store
	computer  engine.Computer
	verifier  Verifier
	publisher messaging.Publisher
	logger    *log.Logger
	now       func() time.Time

	// baseCtx outlives callers so operations finish after Submit returns
	baseCtx    context.Context
	cancelBase context.CancelFunc
	tasks      sync.WaitGroup

	writer *chainWriter

	mu       sync.Mutex
	closed   bool
	auto     *autonomous
	monitors context.CancelFunc
	monWG    sync.WaitGroup
}

// NewManager creates a manager and starts its chain writer. computer is the
// hybrid router or a plain simulated engine; verifier may be nil.
func NewManager(cfg Config, store Store, computer engine.Computer, verifier Verifier, publisher messaging.Publisher, logger *log.Logger) *Manager {
	if publisher == nil {
		publisher = messaging.Discard{}
	}
	defaults := DefaultConfig()
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = defaults.MetricsInterval
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaults.HealthInterval
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:        cfg,
		store:      store,
		computer:   computer,
		verifier:   verifier,
		publisher:  publisher,
		logger:     logger.WithComponent("mining_manager"),
		now:        time.Now,
		baseCtx:    ctx,
		cancelBase: cancel,
	}
	m.writer = newChainWriter(store, logger)
	go m.writer.run()
	return m
}

// Handle tracks one submitted operation
type Handle struct {
	Operation models.Operation

	done    chan struct{}
	outcome *Outcome
}

// Outcome is the final state of an operation
type Outcome struct {
	Status    models.OperationStatus
	Discovery *models.Discovery
	// Block is nil when the append failed after the operation completed
	Block *models.Block
	Err   error
}

// ID returns the operation id
func (h *Handle) ID() int64 {
	return h.Operation.ID
}

// Done is closed once the operation has finished
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the operation finishes or ctx is done
func (h *Handle) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-h.done:
		return h.outcome, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newMinerID() string {
	return "miner_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Submit validates a work item, records it as queued and starts it in the
// background. The returned handle reports the final outcome.
func (m *Manager) Submit(ctx context.Context, wt work.Type, difficulty int) (*Handle, error) {
	if !wt.IsMinable() {
		return nil, errors.Wrap(work.ErrUnknownWorkType, errors.ErrorTypeValidation, "submit_work",
			"work type is not minable").WithContext("work_type", string(wt))
	}
	if err := work.ValidateDifficulty(difficulty); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New(errors.ErrorTypeLifecycle, "submit_work", "manager is shut down")
	}
	m.tasks.Add(1)
	m.mu.Unlock()

	start := m.now().UTC()
	op := &models.Operation{
		WorkType:            wt,
		MinerID:             newMinerID(),
		StartTime:           start,
		EstimatedCompletion: start.Add(time.Duration(difficulty) * secondsPerDifficulty),
		Progress:            models.ProgressQueued,
		CurrentResult:       models.OperationState{Phase: models.PhaseQueued},
		Difficulty:          difficulty,
		Status:              models.StatusActive,
	}
	if err := m.store.CreateOperation(ctx, op); err != nil {
		m.tasks.Done()
		return nil, errors.Wrap(err, errors.ErrorTypeLifecycle, "submit_work", "failed to record operation").
			WithContext("work_type", string(wt))
	}

	m.logger.LogSubmission(op.ID, op.MinerID, string(wt), difficulty)
	m.publish(m.baseCtx, messaging.NewMiningUpdateEvent(op.ID, op.Progress, models.PhaseQueued))

	h := &Handle{Operation: *op, done: make(chan struct{})}
	go func() {
		defer m.tasks.Done()
		defer close(h.done)
		h.outcome = m.execute(m.baseCtx, op)
	}()
	return h, nil
}

// execute runs the phases of one operation
func (m *Manager) execute(ctx context.Context, op *models.Operation) *Outcome {
	logger := m.logger.WithOperation(op.ID, string(op.WorkType), op.Difficulty)
	started := time.Now()
	defer func() { logger.LogDuration("mining_operation", time.Since(started)) }()

	if err := m.advance(ctx, op.ID, models.ProgressComputing, models.OperationState{Phase: models.PhaseComputing}); err != nil {
		return m.fail(ctx, logger, op, err)
	}

	res, err := m.computer.Compute(ctx, op.WorkType, op.Difficulty)
	if err != nil {
		return m.fail(ctx, logger, op, err)
	}
	if res.Mode == "" {
		res.Mode = engine.ModeSimulation
	}
	val := valuation.Value(op.WorkType, op.Difficulty, res.ComputationTime, res.EnergyConsumed)
	if res.Valuation != nil {
		val = *res.Valuation
	}

	validating := models.OperationState{Phase: models.PhaseValidating, Mode: res.Mode, Result: res.Payload}
	if err := m.advance(ctx, op.ID, models.ProgressValidating, validating); err != nil {
		return m.fail(ctx, logger, op, err)
	}

	d := &models.Discovery{
		WorkType:          op.WorkType,
		Difficulty:        op.Difficulty,
		Result:            res.Payload,
		VerificationData:  res.Verification,
		ComputationalCost: val.ComputationalCost,
		EnergyEfficiency:  res.EnergyConsumed * 1000,
		ScientificValue:   val.TotalValue,
		ComputationMode:   res.Mode,
		Verified:          res.Verified,
		Signature:         res.Signature,
		WorkerID:          op.MinerID,
		Timestamp:         m.now().UTC(),
	}
	m.peerVerify(ctx, logger, res, d)

	if err := m.store.CreateDiscovery(ctx, d); err != nil {
		return m.fail(ctx, logger, op, errors.Wrap(err, errors.ErrorTypeLifecycle, "record_discovery",
			"failed to store discovery"))
	}

	completed := models.OperationState{
		Phase:           models.PhaseCompleted,
		Mode:            res.Mode,
		ScientificValue: d.ScientificValue,
		DiscoveryID:     d.ID,
	}
	if err := m.store.CompleteOperation(ctx, op.ID, completed); err != nil {
		return m.fail(ctx, logger, op, errors.Wrap(err, errors.ErrorTypeLifecycle, "complete_operation",
			"failed to mark operation completed"))
	}
	m.publish(ctx, messaging.NewMiningUpdateEvent(op.ID, models.ProgressDone, models.PhaseCompleted))
	logger.LogDiscovery(d.ID, string(d.WorkType), string(d.ComputationMode), d.Verified, d.ScientificValue)

	out := &Outcome{Status: models.StatusCompleted, Discovery: d}

	// The operation stays completed even when the append fails.
	b, err := m.writer.append(ctx, d, op.MinerID, op.Difficulty, m.now().UTC())
	if err != nil {
		logger.WithError(err).Error("failed to append block")
		out.Err = err
	} else {
		out.Block = b
		logger.LogBlockAppended(b.Index, b.BlockHash, b.MinerID, b.TotalScientificValue)
		m.publish(ctx, messaging.NewBlockEvent(b, d))
	}

	m.publish(ctx, messaging.NewMiningCompletedEvent(op.ID, d, d.ScientificValue))
	return out
}

// advance records a phase change and announces it
func (m *Manager) advance(ctx context.Context, id int64, progress float64, state models.OperationState) error {
	if err := m.store.UpdateOperation(ctx, id, progress, state); err != nil {
		return errors.Wrap(err, errors.ErrorTypeLifecycle, "update_operation", "failed to record progress").
			WithContext("phase", string(state.Phase))
	}
	m.publish(ctx, messaging.NewMiningUpdateEvent(id, progress, state.Phase))
	return nil
}

// peerVerify scores res against an independent recomputation. A failed
// recomputation leaves the discovery as the engine reported it.
func (m *Manager) peerVerify(ctx context.Context, logger *log.Logger, res *engine.Result, d *models.Discovery) {
	if !m.cfg.PeerVerify || m.verifier == nil {
		return
	}
	report, err := m.verifier.Verify(ctx, res)
	if err != nil {
		logger.WithError(err).Warn("peer verification failed")
		return
	}
	score := report.Score
	d.VerificationScore = &score
	d.Verified = d.Verified || report.Verified
}

func (m *Manager) fail(ctx context.Context, logger *log.Logger, op *models.Operation, cause error) *Outcome {
	logger.WithError(cause).Error("mining operation failed")

	state := models.OperationState{Phase: models.PhaseFailed, Error: cause.Error()}
	if err := m.store.FailOperation(ctx, op.ID, state); err != nil {
		logger.WithError(err).Error("failed to mark operation failed")
	}
	m.publish(ctx, messaging.NewMiningUpdateEvent(op.ID, models.ProgressDone, models.PhaseFailed))
	return &Outcome{Status: models.StatusFailed, Err: cause}
}

// publish is fire-and-forget; delivery failures are logged
func (m *Manager) publish(ctx context.Context, e *messaging.Event) {
	if err := m.publisher.Publish(ctx, e); err != nil {
		m.logger.WithError(err).Warn("failed to publish event", "event_type", string(e.Kind), "event_id", e.ID)
	}
}

// Shutdown stops producers and monitors, waits for running operations until
// ctx is done, then stops the chain writer. Submissions are refused from the
// first call on.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.StopAutonomous()
	m.stopMonitors()

	drained := make(chan struct{})
	go func() {
		m.tasks.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "shutdown", "operations still running at deadline")
		m.cancelBase()
		<-drained
	}

	m.cancelBase()
	m.writer.stop()
	m.logger.Info("mining manager stopped")
	return err
}
