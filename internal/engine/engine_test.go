package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bardlex/promine/internal/work"
	promerr "github.com/bardlex/promine/pkg/errors"
)

func TestSimulated_AllMinableTypes(t *testing.T) {
	sim := NewSimulated(0, 42)
	ctx := context.Background()

	for _, wt := range work.Minable() {
		t.Run(string(wt), func(t *testing.T) {
			res, err := sim.Compute(ctx, wt, 100)
			require.NoError(t, err)
			assert.Equal(t, wt, res.WorkType)
			assert.Equal(t, 100, res.Difficulty)
			assert.True(t, res.Verification.Verified)
			assert.Greater(t, res.ComputationTime, 0.0)
			assert.Greater(t, res.EnergyConsumed, 0.0)
			assert.Len(t, res.Signature, 6)
			assert.Len(t, res.Verification.Hash, 64)
			assert.NotEmpty(t, res.Payload)
		})
	}
}

func TestSimulated_DifficultyScaling(t *testing.T) {
	tests := []struct {
		wt         work.Type
		difficulty int
		wantTime   float64
		wantEnergy float64
	}{
		{work.RiemannZero, 10, 1, 0.05},
		{work.RiemannZero, 500, 10, 0.5},
		{work.YangMills, 40, 2, 0.16},
		{work.GoldbachVerification, 10, 0.8, 0.04},
		{work.PoincareConjecture, 700, 20, 2.4},
	}
	sim := NewSimulated(0, 7)
	for _, tt := range tests {
		res, err := sim.Compute(context.Background(), tt.wt, tt.difficulty)
		require.NoError(t, err)
		assert.InDelta(t, tt.wantTime, res.ComputationTime, 1e-9, "%s@%d", tt.wt, tt.difficulty)
		assert.InDelta(t, tt.wantEnergy, res.EnergyConsumed, 1e-9, "%s@%d", tt.wt, tt.difficulty)
	}
}

func TestSimulated_CappedMetrics(t *testing.T) {
	sim := NewSimulated(0, 1)

	ecc, err := sim.Compute(context.Background(), work.EllipticCurveCrypto, 1000)
	require.NoError(t, err)
	assert.Equal(t, 521, ecc.Payload["keyLength"])

	lattice, err := sim.Compute(context.Background(), work.LatticeCrypto, 1000)
	require.NoError(t, err)
	assert.Equal(t, 2048, lattice.Payload["latticeDimension"])

	riemann, err := sim.Compute(context.Background(), work.RiemannZero, 3)
	require.NoError(t, err)
	assert.Equal(t, 3000, riemann.Payload["iterations"])
}

func TestSimulated_RejectsInvalidItems(t *testing.T) {
	sim := NewSimulated(0, 1)
	ctx := context.Background()

	_, err := sim.Compute(ctx, "alchemy", 10)
	assert.True(t, errors.Is(err, work.ErrUnknownWorkType))

	_, err = sim.Compute(ctx, work.CollatzVerification, 10)
	assert.True(t, errors.Is(err, work.ErrUnknownWorkType))

	_, err = sim.Compute(ctx, work.RiemannZero, 0)
	assert.True(t, promerr.IsType(err, promerr.ErrorTypeValidation))
}

func TestSimulated_HonoursContextDuringLatency(t *testing.T) {
	sim := NewSimulated(time.Second, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.Compute(ctx, work.PoincareConjecture, 100)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReal_Goldbach(t *testing.T) {
	r := NewReal()
	res, err := r.Compute(context.Background(), work.GoldbachVerification, 10)
	require.NoError(t, err)

	assert.True(t, res.Verification.Verified)
	assert.Equal(t, []int{1004, 1504}, res.Payload["verificationRange"])
	assert.Equal(t, 251, res.Payload["totalNumbers"])
	assert.Equal(t, 1.0, res.Payload["successRate"])
	assert.Greater(t, res.ComputationTime, 0.0)
	assert.InDelta(t, res.ComputationTime*goldbachEnergyRate, res.EnergyConsumed, 1e-12)
	assert.Len(t, res.Verification.Hash, 64)
}

func TestReal_PrimeGaps(t *testing.T) {
	r := NewReal()
	res, err := r.Compute(context.Background(), work.PrimeGapAnalysis, 1)
	require.NoError(t, err)

	// primes in [2000, 4000]: 2003 .. 3989
	assert.Equal(t, []int{2000, 4000}, res.Payload["analysisRange"])
	assert.Equal(t, 247, res.Payload["primesFound"])
	assert.True(t, res.Verification.Verified)
	avg := res.Payload["averageGap"].(float64)
	assert.InDelta(t, float64(3989-2003)/246, avg, 1e-9)
	assert.GreaterOrEqual(t, res.Payload["gapVariance"].(float64), 0.0)
}

func TestReal_PrimeGapsBeyondSieve(t *testing.T) {
	r := NewReal()
	res, err := r.Compute(context.Background(), work.PrimeGapAnalysis, 150)
	require.NoError(t, err)
	assert.True(t, res.Verification.Verified)
	assert.Greater(t, res.Payload["primesFound"].(int), 1000)
}

func TestReal_Fibonacci(t *testing.T) {
	r := NewReal()
	res, err := r.Compute(context.Background(), work.FibonacciPatterns, 1)
	require.NoError(t, err)

	assert.Equal(t, 60, res.Payload["sequenceLength"])
	assert.InDelta(t, 1.6180339887, res.Payload["goldenRatioApproximation"].(float64), 1e-9)
	// F3, F4, F5, F7, F11, F13, F17, F23, F29, F43, F47
	assert.Equal(t, []int{3, 4, 5, 7, 11, 13, 17, 23, 29, 43, 47}, res.Payload["primeFibonacciIndices"])
	assert.True(t, res.Verification.Verified)
}

func TestReal_Collatz(t *testing.T) {
	r := NewReal()
	res, err := r.Compute(context.Background(), work.CollatzVerification, 100)
	require.NoError(t, err)

	assert.Equal(t, 120, res.Payload["totalVerified"])
	assert.Equal(t, 1.0, res.Payload["convergenceRate"])
	assert.LessOrEqual(t, res.Payload["maxSteps"].(int), CollatzStepLimit)
	assert.True(t, res.Verification.Verified)
}

func TestCollatzRun(t *testing.T) {
	tests := []struct {
		n         uint64
		steps     int
		converged bool
	}{
		{1, 0, true},
		{2, 1, true},
		{6, 8, true},
		{27, 111, true},
	}
	for _, tt := range tests {
		got := collatzRun(tt.n)
		assert.Equal(t, tt.steps, got.Steps, "n=%d", tt.n)
		assert.Equal(t, tt.converged, got.Converged, "n=%d", tt.n)
		assert.LessOrEqual(t, got.Steps, CollatzStepLimit)
	}

	huge := collatzRun(1<<63 + 1)
	assert.False(t, huge.Converged)
	assert.LessOrEqual(t, huge.Steps, CollatzStepLimit)
}

func TestReal_RejectsUnsupported(t *testing.T) {
	r := NewReal()
	_, err := r.Compute(context.Background(), work.YangMills, 10)
	assert.True(t, errors.Is(err, work.ErrUnknownWorkType))
	assert.False(t, r.Supports(work.YangMills))
	assert.ElementsMatch(t, work.RealCapable(), r.Types())
}

func TestReal_PanicBecomesComputationError(t *testing.T) {
	r := NewReal()
	r.algos[work.CollatzVerification] = func(context.Context, int) (map[string]any, Verification, float64, error) {
		panic("index out of range")
	}

	res, err := r.Compute(context.Background(), work.CollatzVerification, 5)
	assert.Nil(t, res)
	assert.True(t, promerr.IsType(err, promerr.ErrorTypeComputation))
}

func TestPrimeTable(t *testing.T) {
	var p primeTable
	assert.Len(t, p.primesBetween(0, 100), 25)
	assert.True(t, p.isPrime(99991))
	assert.False(t, p.isPrime(99999))
	assert.True(t, p.isPrime(1000003))
	assert.False(t, p.isPrime(1000001))
	assert.Equal(t, []int{100003, 100019, 100043, 100049}, p.primesBetween(100000, 100050))
}

func TestContentHash_Deterministic(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1}
	b := map[string]any{"a": 1, "b": 2}
	assert.Equal(t, ContentHash(a), ContentHash(b))
	assert.NotEqual(t, ContentHash(a), ContentHash(map[string]any{"a": 1}))
}
