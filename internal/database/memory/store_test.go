package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bardlex/promine/internal/database/storetest"
	"github.com/bardlex/promine/internal/models"
	"github.com/bardlex/promine/internal/work"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store { return New() })
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	d := storetest.NewDiscovery(work.RiemannZero, 20, 2500)
	require.NoError(t, s.CreateDiscovery(ctx, d))

	got, err := s.GetDiscovery(ctx, d.ID)
	require.NoError(t, err)
	got.ScientificValue = 0

	again, err := s.GetDiscovery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 2500.0, again.ScientificValue)
}

func TestStore_NestedResultsAreNotShared(t *testing.T) {
	ctx := context.Background()
	s := New()

	d := storetest.NewDiscovery(work.PrimePattern, 20, 2500)
	d.Result = map[string]any{
		"searchRange": []int{100, 200},
		"zeroValue":   map[string]any{"real": 0.5},
	}
	d.VerificationData.Details = map[string]any{"sieveRange": []int{100, 200}}
	require.NoError(t, s.CreateDiscovery(ctx, d))

	// The caller's record must not reach into the store
	d.Result["searchRange"].([]int)[0] = -1
	d.VerificationData.Details["extra"] = true

	got, err := s.GetDiscovery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{100, 200}, got.Result["searchRange"])
	assert.NotContains(t, got.VerificationData.Details, "extra")

	// Nor may a returned record
	got.Result["zeroValue"].(map[string]any)["real"] = 9.0
	listed, err := s.GetDiscoveries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	listed[0].VerificationData.Details["sieveRange"].([]int)[1] = 0

	again, err := s.GetDiscovery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, again.Result["zeroValue"].(map[string]any)["real"])
	assert.Equal(t, []int{100, 200}, again.VerificationData.Details["sieveRange"])
}

func TestStore_OperationStateIsNotShared(t *testing.T) {
	ctx := context.Background()
	s := New()

	op := &models.Operation{WorkType: work.YangMills, Difficulty: 10, Status: models.StatusActive}
	require.NoError(t, s.CreateOperation(ctx, op))

	state := models.OperationState{Phase: models.PhaseValidating, Result: map[string]any{"massGap": []float64{1.2}}}
	require.NoError(t, s.UpdateOperation(ctx, op.ID, models.ProgressValidating, state))
	state.Result["massGap"].([]float64)[0] = 0

	active, err := s.GetActiveOperations(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, []float64{1.2}, active[0].CurrentResult.Result["massGap"])

	active[0].CurrentResult.Result["massGap"] = nil
	got, err := s.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.2}, got.CurrentResult.Result["massGap"])
}

func TestStore_NonPositiveLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateDiscovery(ctx, storetest.NewDiscovery(work.RiemannZero, 20, 2500)))

	list, err := s.GetDiscoveries(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	blocks, err := s.GetBlocks(ctx, -1)
	require.NoError(t, err)
	assert.Empty(t, blocks)

	tip, err := s.GetLatestBlock(ctx)
	require.NoError(t, err)
	assert.Nil(t, tip)

	assert.ErrorIs(t, s.CompleteOperation(ctx, 1, models.OperationState{}), models.ErrNotFound)
}
