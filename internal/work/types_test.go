package work

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	promerr "github.com/bardlex/promine/pkg/errors"
)

func TestParse(t *testing.T) {
	for _, wt := range All() {
		got, err := Parse(string(wt))
		require.NoError(t, err, wt)
		assert.Equal(t, wt, got)
	}

	_, err := Parse("perpetual_motion")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownWorkType))
	assert.True(t, promerr.IsType(err, promerr.ErrorTypeValidation))
}

func TestParseMinable(t *testing.T) {
	_, err := ParseMinable(string(CollatzVerification))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownWorkType))

	got, err := ParseMinable("yang_mills")
	require.NoError(t, err)
	assert.Equal(t, YangMills, got)
}

func TestMinable(t *testing.T) {
	types := Minable()
	assert.Len(t, types, 9)
	for _, wt := range types {
		assert.True(t, wt.IsMinable(), wt)
	}

	types[0] = "mutated"
	assert.Equal(t, RiemannZero, Minable()[0], "Minable must return a copy")
}

func TestRealCapable(t *testing.T) {
	assert.ElementsMatch(t,
		[]Type{GoldbachVerification, PrimeGapAnalysis, FibonacciPatterns, CollatzVerification},
		RealCapable())

	thresholds := map[Type]int{
		GoldbachVerification: 200,
		PrimeGapAnalysis:     150,
		FibonacciPatterns:    300,
		CollatzVerification:  100,
	}
	for wt, want := range thresholds {
		info, ok := Lookup(wt)
		require.True(t, ok)
		assert.Equal(t, want, info.RealThreshold, wt)
	}
}

func TestLookup(t *testing.T) {
	info, ok := Lookup(YangMills)
	require.True(t, ok)
	assert.Equal(t, YangMills, info.Type)
	assert.Equal(t, 1200.0, info.BaseValue)
	assert.Equal(t, 300.0, info.Impact)
	assert.NotEmpty(t, info.Description)

	_, ok = Lookup("nope")
	assert.False(t, ok)
}

func TestValidateDifficulty(t *testing.T) {
	tests := []struct {
		d       int
		wantErr bool
	}{
		{0, true},
		{1, false},
		{500, false},
		{1000, false},
		{1001, true},
		{-5, true},
	}
	for _, tt := range tests {
		err := ValidateDifficulty(tt.d)
		if tt.wantErr {
			assert.Error(t, err, tt.d)
			assert.True(t, promerr.IsType(err, promerr.ErrorTypeValidation))
		} else {
			assert.NoError(t, err, tt.d)
		}
	}
}
