package mining

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bardlex/promine/internal/chain"
	"github.com/bardlex/promine/internal/config"
	"github.com/bardlex/promine/internal/database/memory"
	"github.com/bardlex/promine/internal/engine"
	"github.com/bardlex/promine/internal/work"
	"github.com/bardlex/promine/pkg/log"
)

func defaultSpecs() map[string]config.ProducerSpec {
	out := make(map[string]config.ProducerSpec)
	for _, p := range config.DefaultRoster().Producers {
		out[p.Name] = p
	}
	return out
}

func TestBackoff_Schedule(t *testing.T) {
	specs := defaultSpecs()
	tests := []struct {
		name  string
		spec  config.ProducerSpec
		want  []time.Duration
		reset time.Duration
	}{
		{
			name:  "general",
			spec:  specs["autonomous_general_1"],
			want:  []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second, 300 * time.Second},
			reset: 60 * time.Second,
		},
		{
			name:  "specialized",
			spec:  specs["autonomous_goldbach"],
			want:  []time.Duration{90 * time.Second, 180 * time.Second, 360 * time.Second, 400 * time.Second},
			reset: 90 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackoff(tt.spec)

			var prev time.Duration
			for i, want := range tt.want {
				pause, reset := b.Failure()
				assert.False(t, reset)
				assert.Equal(t, want, pause, "failure %d", i+1)
				assert.GreaterOrEqual(t, pause, prev)
				assert.LessOrEqual(t, pause, tt.spec.BackoffMax.Duration)
				prev = pause
			}

			pause, reset := b.Failure()
			assert.True(t, reset)
			assert.Equal(t, tt.reset, pause)
			assert.Equal(t, 0, b.Errors())

			// the schedule starts over after a reset
			pause, _ = b.Failure()
			assert.Equal(t, tt.want[0], pause)
		})
	}
}

func TestBackoff_SuccessClears(t *testing.T) {
	b := NewBackoff(defaultSpecs()["autonomous_general_2"])
	b.Failure()
	b.Failure()
	require.Equal(t, 2, b.Errors())
	b.Success()
	assert.Equal(t, 0, b.Errors())
	pause, _ := b.Failure()
	assert.Equal(t, 60*time.Second, pause)
}

func TestProducer_DifficultyRanges(t *testing.T) {
	m := NewManager(DefaultConfig(), memory.New(), engine.NewSimulated(0, 1), nil, nil, log.Discard())
	defer func() { _ = m.Shutdown(context.Background()) }()

	spec := defaultSpecs()["autonomous_riemann"]
	p := newProducer(spec, m, 42)

	for range 200 {
		d := p.difficulty()
		require.GreaterOrEqual(t, d, spec.MinDifficulty)
		require.LessOrEqual(t, d, spec.MaxDifficulty)
		require.Equal(t, work.RiemannZero, p.nextWorkType())
	}

	for range spec.DegradeAfter + 1 {
		p.backoff.Failure()
	}
	for range 200 {
		d := p.difficulty()
		require.GreaterOrEqual(t, d, spec.DegradedMinDifficulty)
		require.LessOrEqual(t, d, spec.DegradedMaxDifficulty)
	}

	for range 200 {
		r := p.rest()
		require.GreaterOrEqual(t, r, spec.MinRest.Duration)
		require.LessOrEqual(t, r, spec.MaxRest.Duration)
	}
}

func TestProducer_GeneralPicksMinableTypes(t *testing.T) {
	m := NewManager(DefaultConfig(), memory.New(), engine.NewSimulated(0, 1), nil, nil, log.Discard())
	defer func() { _ = m.Shutdown(context.Background()) }()

	p := newProducer(defaultSpecs()["autonomous_general_3"], m, 7)
	seen := make(map[work.Type]bool)
	for range 500 {
		wt := p.nextWorkType()
		require.True(t, wt.IsMinable(), "%s", wt)
		seen[wt] = true
	}
	assert.Len(t, seen, len(work.Minable()))
}

func fastSpec(name string, wt work.Type) config.ProducerSpec {
	ms := func(n int) config.Duration { return config.Duration{Duration: time.Duration(n) * time.Millisecond} }
	return config.ProducerSpec{
		Name:                  name,
		WorkType:              string(wt),
		MinDifficulty:         5,
		MaxDifficulty:         15,
		DegradedMinDifficulty: 1,
		DegradedMaxDifficulty: 5,
		DegradeAfter:          2,
		MinRest:               ms(1),
		MaxRest:               ms(3),
		BackoffBase:           ms(1),
		BackoffMax:            ms(10),
		MaxConsecutiveErrors:  5,
		ResetPause:            ms(20),
	}
}

func TestStartAutonomous(t *testing.T) {
	store := memory.New()
	cfg := DefaultConfig()
	cfg.Seed = 99
	m := NewManager(cfg, store, engine.NewSimulated(0, 99), nil, nil, log.Discard())
	ctx := context.Background()

	roster := &config.Roster{Producers: []config.ProducerSpec{
		fastSpec("fast_prime", work.PrimePattern),
		fastSpec("fast_general", ""),
	}}
	require.NoError(t, m.StartAutonomous(ctx, roster))
	assert.Equal(t, 2, m.Producers())
	require.Error(t, m.StartAutonomous(ctx, roster))

	require.Eventually(t, func() bool {
		blocks, err := store.GetBlocks(ctx, 10)
		return err == nil && len(blocks) >= 5
	}, 20*time.Second, 10*time.Millisecond)

	require.NoError(t, m.ReloadRoster(ctx, &config.Roster{Producers: []config.ProducerSpec{
		fastSpec("fast_navier", work.NavierStokes),
	}}))
	assert.Equal(t, 1, m.Producers())

	m.StopAutonomous()
	assert.Equal(t, 0, m.Producers())

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(shutdownCtx))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	blocks, err := store.GetBlocksFrom(ctx, 0, int(stats.TotalBlocks)+1)
	require.NoError(t, err)
	require.NoError(t, chain.Verify(blocks))
	assert.Zero(t, stats.ActiveOperations)
}

func TestReloadRoster_NotRunning(t *testing.T) {
	m := NewManager(DefaultConfig(), memory.New(), engine.NewSimulated(0, 1), nil, nil, log.Discard())
	defer func() { _ = m.Shutdown(context.Background()) }()

	require.NoError(t, m.ReloadRoster(context.Background(), config.DefaultRoster()))
	assert.Equal(t, 0, m.Producers())
}
