package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bardlex/promine/internal/engine"
	"github.com/bardlex/promine/internal/work"
	"github.com/bardlex/promine/pkg/errors"
)

func TestValidateSubmission(t *testing.T) {
	v := Default()

	tests := []struct {
		name    string
		sub     *Submission
		want    WorkItem
		wantErr bool
	}{
		{"minable", &Submission{WorkType: "goldbach_verification", Difficulty: 10}, WorkItem{work.GoldbachVerification, 10}, false},
		{"trims whitespace", &Submission{WorkType: " riemann_zero ", Difficulty: 1000}, WorkItem{work.RiemannZero, 1000}, false},
		{"nil body", nil, WorkItem{}, true},
		{"empty type", &Submission{Difficulty: 10}, WorkItem{}, true},
		{"unknown type", &Submission{WorkType: "alchemy", Difficulty: 10}, WorkItem{}, true},
		{"analysis type is not minable", &Submission{WorkType: "collatz_verification", Difficulty: 10}, WorkItem{}, true},
		{"difficulty zero", &Submission{WorkType: "yang_mills", Difficulty: 0}, WorkItem{}, true},
		{"difficulty too high", &Submission{WorkType: "yang_mills", Difficulty: 1001}, WorkItem{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.ValidateSubmission(tt.sub)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), "got %v", err)
				assert.False(t, errors.IsRetryable(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateCompute_AllowsAnalysisTypes(t *testing.T) {
	v := Default()

	got, err := v.ValidateCompute(&ComputeRequest{WorkType: "collatz_verification", Difficulty: 50})
	require.NoError(t, err)
	assert.Equal(t, work.CollatzVerification, got.WorkType)

	_, err = v.ValidateCompute(&ComputeRequest{WorkType: "perpetual_motion", Difficulty: 50})
	assert.Error(t, err)
}

func TestNewValidator_ClampsBounds(t *testing.T) {
	v := NewValidator(-5, 5000)
	_, err := v.ValidateSubmission(&Submission{WorkType: "yang_mills", Difficulty: 1001})
	assert.Error(t, err)

	narrow := NewValidator(10, 20)
	_, err = narrow.ValidateSubmission(&Submission{WorkType: "yang_mills", Difficulty: 21})
	assert.Error(t, err)
	ctx := errors.GetContext(err)
	assert.Equal(t, 20, ctx["max"])
}

func TestValidateVerify(t *testing.T) {
	v := Default()

	assert.Error(t, v.ValidateVerify(nil))
	assert.Error(t, v.ValidateVerify(&VerifyRequest{}))
	assert.Error(t, v.ValidateVerify(&VerifyRequest{Result: &engine.Result{WorkType: "nope", Difficulty: 5}}))
	assert.Error(t, v.ValidateVerify(&VerifyRequest{Result: &engine.Result{WorkType: work.FibonacciPatterns}}))
	assert.NoError(t, v.ValidateVerify(&VerifyRequest{Result: &engine.Result{WorkType: work.FibonacciPatterns, Difficulty: 5}}))
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", 100, false},
		{"5", 5, false},
		{"5000", 1000, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"ten", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLimit(tt.raw, 100, 1000)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLimit(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestParseID(t *testing.T) {
	id, err := ParseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"", "0", "-1", "abc", "1.5"} {
		_, err := ParseID(raw)
		assert.Error(t, err, raw)
	}
}
