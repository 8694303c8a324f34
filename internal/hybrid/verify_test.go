package hybrid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bardlex/promine/internal/engine"
	"github.com/bardlex/promine/internal/work"
	promerr "github.com/bardlex/promine/pkg/errors"
)

func result(mode engine.Mode, wt work.Type, t, e float64, payload map[string]any) *engine.Result {
	return &engine.Result{
		WorkType:        wt,
		Difficulty:      10,
		Mode:            mode,
		ComputationTime: t,
		EnergyConsumed:  e,
		Payload:         payload,
	}
}

func TestScore_BoundedAndSymmetric(t *testing.T) {
	pairs := []struct {
		name string
		a, b *engine.Result
		want float64
	}{
		{
			name: "identical simulations",
			a:    result(engine.ModeSimulation, work.RiemannZero, 2, 0.1, nil),
			b:    result(engine.ModeSimulation, work.RiemannZero, 2, 0.1, nil),
			want: 1,
		},
		{
			name: "half time half energy",
			a:    result(engine.ModeSimulation, work.RiemannZero, 2, 0.2, nil),
			b:    result(engine.ModeSimulation, work.RiemannZero, 1, 0.1, nil),
			want: 0.5,
		},
		{
			name: "real against simulation",
			a:    result(engine.ModeReal, work.GoldbachVerification, 0.01, 0.0008, map[string]any{"successRate": 1.0}),
			b:    result(engine.ModeSimulation, work.GoldbachVerification, 1, 0.05, nil),
			want: 0.0132,
		},
		{
			name: "real average gap",
			a:    result(engine.ModeReal, work.PrimeGapAnalysis, 1, 1, map[string]any{"averageGap": 8.0}),
			b:    result(engine.ModeReal, work.PrimeGapAnalysis, 5, 9, map[string]any{"averageGap": 10.0}),
			want: 0.8,
		},
		{
			name: "real zero metrics",
			a:    result(engine.ModeReal, work.CollatzVerification, 1, 1, map[string]any{"convergenceRate": 0.0}),
			b:    result(engine.ModeReal, work.CollatzVerification, 1, 1, map[string]any{"convergenceRate": 0.0}),
			want: 1,
		},
		{
			name: "zero against positive",
			a:    result(engine.ModeSimulation, work.RiemannZero, 0, 0, nil),
			b:    result(engine.ModeSimulation, work.RiemannZero, 3, 3, nil),
			want: 0,
		},
	}
	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			ab, ba := Score(tt.a, tt.b), Score(tt.b, tt.a)
			assert.Equal(t, ab, ba)
			assert.GreaterOrEqual(t, ab, 0.0)
			assert.LessOrEqual(t, ab, 1.0)
			assert.InDelta(t, tt.want, ab, 1e-3)
		})
	}
}

func TestVerify_RealGoldbach(t *testing.T) {
	r := newTestRouter()
	res, err := r.Compute(context.Background(), work.GoldbachVerification, 10)
	require.NoError(t, err)

	report, err := r.Verify(context.Background(), res)
	require.NoError(t, err)
	assert.True(t, report.Verified)
	assert.Equal(t, 1.0, report.Score)
	assert.Equal(t, engine.ModeReal, report.OriginalMode)
	assert.Equal(t, engine.ModeReal, report.VerificationMode)
}

func TestVerify_Simulation(t *testing.T) {
	r := newTestRouter()
	res, err := r.Compute(context.Background(), work.YangMills, 80)
	require.NoError(t, err)

	// simulated time and energy depend only on the work item
	report, err := r.Verify(context.Background(), res)
	require.NoError(t, err)
	assert.True(t, report.Verified)
	assert.InDelta(t, 1.0, report.Score, 1e-12)
}

func TestVerify_RejectsIncompleteResult(t *testing.T) {
	r := newTestRouter()

	_, err := r.Verify(context.Background(), nil)
	assert.True(t, promerr.IsType(err, promerr.ErrorTypeValidation))

	_, err = r.Verify(context.Background(), &engine.Result{WorkType: work.RiemannZero})
	assert.True(t, promerr.IsType(err, promerr.ErrorTypeValidation))
}
