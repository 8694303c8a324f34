// Package storetest is a conformance suite run against every chain store.
package storetest

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bardlex/promine/internal/chain"
	"github.com/bardlex/promine/internal/engine"
	"github.com/bardlex/promine/internal/models"
	"github.com/bardlex/promine/internal/work"
	"github.com/bardlex/promine/pkg/errors"
)

// Store is the method set exercised by the suite
type Store interface {
	CreateOperation(ctx context.Context, op *models.Operation) error
	UpdateOperation(ctx context.Context, id int64, progress float64, state models.OperationState) error
	CompleteOperation(ctx context.Context, id int64, state models.OperationState) error
	FailOperation(ctx context.Context, id int64, state models.OperationState) error
	GetOperation(ctx context.Context, id int64) (*models.Operation, error)
	GetActiveOperations(ctx context.Context) ([]*models.Operation, error)

	CreateDiscovery(ctx context.Context, d *models.Discovery) error
	GetDiscovery(ctx context.Context, id int64) (*models.Discovery, error)
	GetDiscoveries(ctx context.Context, limit int) ([]*models.Discovery, error)

	CreateBlock(ctx context.Context, b *models.Block) error
	GetLatestBlock(ctx context.Context) (*models.Block, error)
	GetBlock(ctx context.Context, id int64) (*models.Block, error)
	GetBlocks(ctx context.Context, limit int) ([]*models.Block, error)
	GetBlocksFrom(ctx context.Context, from int64, limit int) ([]*models.Block, error)

	CreateMetricsSnapshot(ctx context.Context, m *models.NetworkMetrics) error
	GetLatestMetricsSnapshot(ctx context.Context) (*models.NetworkMetrics, error)

	Stats(ctx context.Context) (*models.Stats, error)
}

// Run executes the suite; newStore must return an empty store
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("operations", func(t *testing.T) { testOperations(t, newStore(t)) })
	t.Run("discoveries", func(t *testing.T) { testDiscoveries(t, newStore(t)) })
	t.Run("blocks", func(t *testing.T) { testBlocks(t, newStore(t)) })
	t.Run("duplicate block index", func(t *testing.T) { testDuplicateBlock(t, newStore(t)) })
	t.Run("metrics", func(t *testing.T) { testMetrics(t, newStore(t)) })
	t.Run("stats", func(t *testing.T) { testStats(t, newStore(t)) })
	t.Run("concurrent writes", func(t *testing.T) { testConcurrentWrites(t, newStore(t)) })
}

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newOperation(wt work.Type, difficulty int) *models.Operation {
	return &models.Operation{
		WorkType:            wt,
		MinerID:             "miner_test",
		StartTime:           epoch,
		EstimatedCompletion: epoch.Add(time.Duration(difficulty) * 2 * time.Second),
		Progress:            models.ProgressQueued,
		CurrentResult:       models.OperationState{Phase: models.PhaseQueued},
		Difficulty:          difficulty,
		Status:              models.StatusActive,
	}
}

// NewDiscovery builds a stored-shape discovery for tests
func NewDiscovery(wt work.Type, difficulty int, value float64) *models.Discovery {
	return &models.Discovery{
		WorkType:          wt,
		Difficulty:        difficulty,
		Result:            map[string]any{"successRate": 1.0, "testedNumbers": 3.0},
		VerificationData:  engine.Verification{Verified: true, Method: "exhaustive", Hash: "abc123"},
		ComputationalCost: 120.5,
		EnergyEfficiency:  3.2,
		ScientificValue:   value,
		ComputationMode:   engine.ModeReal,
		Verified:          true,
		Signature:         "sig",
		WorkerID:          "miner_test",
		Timestamp:         epoch,
	}
}

func testOperations(t *testing.T, s Store) {
	ctx := context.Background()

	a := newOperation(work.GoldbachVerification, 10)
	b := newOperation(work.RiemannZero, 50)
	require.NoError(t, s.CreateOperation(ctx, a))
	require.NoError(t, s.CreateOperation(ctx, b))
	assert.NotZero(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)

	computing := models.OperationState{Phase: models.PhaseComputing}
	require.NoError(t, s.UpdateOperation(ctx, a.ID, models.ProgressComputing, computing))

	got, err := s.GetOperation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProgressComputing, got.Progress)
	assert.Equal(t, models.PhaseComputing, got.CurrentResult.Phase)
	assert.Equal(t, work.GoldbachVerification, got.WorkType)
	assert.True(t, got.StartTime.Equal(epoch))

	active, err := s.GetActiveOperations(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, a.ID, active[0].ID)

	done := models.OperationState{Phase: models.PhaseCompleted, Mode: engine.ModeReal, ScientificValue: 2000, DiscoveryID: 7}
	require.NoError(t, s.CompleteOperation(ctx, a.ID, done))
	failed := models.OperationState{Phase: models.PhaseFailed, Error: "engine exploded"}
	require.NoError(t, s.FailOperation(ctx, b.ID, failed))

	active, err = s.GetActiveOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	got, err = s.GetOperation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, models.ProgressDone, got.Progress)
	assert.Equal(t, int64(7), got.CurrentResult.DiscoveryID)

	got, err = s.GetOperation(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "engine exploded", got.CurrentResult.Error)

	err = s.UpdateOperation(ctx, 9999, 0.5, computing)
	assert.True(t, stderrors.Is(err, models.ErrNotFound), "got %v", err)
	_, err = s.GetOperation(ctx, 9999)
	assert.True(t, stderrors.Is(err, models.ErrNotFound), "got %v", err)
}

func testDiscoveries(t *testing.T, s Store) {
	ctx := context.Background()

	first := NewDiscovery(work.GoldbachVerification, 10, 2000)
	second := NewDiscovery(work.YangMills, 80, 3100)
	second.ComputationMode = engine.ModeSimulation
	second.Verified = false
	score := 0.93
	second.VerificationScore = &score

	require.NoError(t, s.CreateDiscovery(ctx, first))
	require.NoError(t, s.CreateDiscovery(ctx, second))

	got, err := s.GetDiscovery(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.WorkType, got.WorkType)
	assert.Equal(t, 1.0, got.Result["successRate"])
	assert.Equal(t, "exhaustive", got.VerificationData.Method)
	assert.True(t, got.Verified)
	assert.Nil(t, got.VerificationScore)

	list, err := s.GetDiscoveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")
	require.NotNil(t, list[0].VerificationScore)
	assert.InDelta(t, 0.93, *list[0].VerificationScore, 1e-9)
	assert.Equal(t, engine.ModeSimulation, list[0].ComputationMode)

	list, err = s.GetDiscoveries(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetDiscovery(ctx, 12345)
	assert.True(t, stderrors.Is(err, models.ErrNotFound), "got %v", err)
}

func appendBlocks(t *testing.T, s Store, n int) []*models.Block {
	t.Helper()
	ctx := context.Background()

	var blocks []*models.Block
	for i := 0; i < n; i++ {
		prev, err := s.GetLatestBlock(ctx)
		require.NoError(t, err)

		d := NewDiscovery(work.GoldbachVerification, 10+i, 2000)
		require.NoError(t, s.CreateDiscovery(ctx, d))

		b := chain.Next(prev, []*models.Discovery{d}, "miner_test", d.Difficulty, epoch.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.CreateBlock(ctx, b))
		blocks = append(blocks, b)
	}
	return blocks
}

func testBlocks(t *testing.T, s Store) {
	ctx := context.Background()

	latest, err := s.GetLatestBlock(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest, "empty chain has no tip")

	blocks := appendBlocks(t, s, 4)

	latest, err = s.GetLatestBlock(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(3), latest.Index)
	assert.Equal(t, blocks[3].BlockHash, latest.BlockHash)

	got, err := s.GetBlock(ctx, blocks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, blocks[1].MerkleRoot, got.MerkleRoot)
	assert.Equal(t, blocks[1].Nonce, got.Nonce)
	assert.True(t, got.Timestamp.Equal(blocks[1].Timestamp))

	recent, err := s.GetBlocks(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(3), recent[0].Index)
	assert.Equal(t, int64(2), recent[1].Index)

	from, err := s.GetBlocksFrom(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, from, 3)
	assert.Equal(t, int64(1), from[0].Index)

	all, err := s.GetBlocksFrom(ctx, 0, 100)
	require.NoError(t, err)
	require.NoError(t, chain.Verify(all))

	_, err = s.GetBlock(ctx, 424242)
	assert.True(t, stderrors.Is(err, models.ErrNotFound), "got %v", err)
}

func testDuplicateBlock(t *testing.T, s Store) {
	ctx := context.Background()
	blocks := appendBlocks(t, s, 1)

	dup := *blocks[0]
	dup.ID = 0
	dup.MinerID = "someone_else"
	err := s.CreateBlock(ctx, &dup)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, models.ErrBlockExists), "got %v", err)
	assert.True(t, errors.HasType(err, errors.ErrorTypeChain))

	latest, err := s.GetLatestBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, "miner_test", latest.MinerID)
}

func testMetrics(t *testing.T, s Store) {
	ctx := context.Background()

	latest, err := s.GetLatestMetricsSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	for i := 1; i <= 3; i++ {
		m := &models.NetworkMetrics{
			Timestamp:     epoch.Add(time.Duration(i) * time.Minute),
			ActiveMiners:  i,
			BlocksPerHour: float64(i) * 1.5,
		}
		require.NoError(t, s.CreateMetricsSnapshot(ctx, m))
		assert.NotZero(t, m.ID)
	}

	latest, err = s.GetLatestMetricsSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 3, latest.ActiveMiners)
	assert.InDelta(t, 4.5, latest.BlocksPerHour, 1e-9)
}

func testStats(t *testing.T, s Store) {
	ctx := context.Background()

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.TotalBlocks)

	appendBlocks(t, s, 2)
	require.NoError(t, s.CreateOperation(ctx, newOperation(work.PrimeGapAnalysis, 5)))

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.TotalBlocks)
	assert.Equal(t, int64(2), st.TotalDiscoveries)
	assert.Equal(t, int64(1), st.TotalOperations)
	assert.Equal(t, int64(1), st.ActiveOperations)
	assert.InDelta(t, 4000, st.TotalScientificValue, 1e-6)
}

func testConcurrentWrites(t *testing.T, s Store) {
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op := newOperation(work.CollatzVerification, i+1)
			assert.NoError(t, s.CreateOperation(ctx, op))
			assert.NoError(t, s.UpdateOperation(ctx, op.ID, models.ProgressComputing,
				models.OperationState{Phase: models.PhaseComputing}))
			assert.NoError(t, s.CreateDiscovery(ctx, NewDiscovery(work.CollatzVerification, i+1, 1500)))
		}(i)
	}
	wg.Wait()

	active, err := s.GetActiveOperations(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 16)

	list, err := s.GetDiscoveries(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, list, 16)
}
