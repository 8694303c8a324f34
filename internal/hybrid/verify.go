package hybrid

import (
	"context"
	"math"
	"time"

	"github.com/bardlex/promine/internal/engine"
	"github.com/bardlex/promine/internal/work"
	"github.com/bardlex/promine/pkg/errors"
)

// VerifyThreshold is the score a recomputation must exceed to verify a result
const VerifyThreshold = 0.85

// scoreEpsilon guards relative differences against zero denominators
const scoreEpsilon = 1e-9

// comparisonMetric is the payload scalar compared when both sides ran the
// real engine.
var comparisonMetric = map[work.Type]string{
	work.GoldbachVerification: "successRate",
	work.PrimeGapAnalysis:     "averageGap",
	work.FibonacciPatterns:    "goldenRatioApproximation",
	work.CollatzVerification:  "convergenceRate",
}

// Report is the outcome of peer verification
type Report struct {
	Verified         bool        `json:"verified"`
	Score            float64     `json:"verificationScore"`
	VerificationMode engine.Mode `json:"verificationMode"`
	OriginalMode     engine.Mode `json:"originalMode"`
	Timestamp        time.Time   `json:"timestamp"`
}

// Verify recomputes the work item behind res once and scores the two results
func (r *Router) Verify(ctx context.Context, res *engine.Result) (*Report, error) {
	if res == nil || res.WorkType == "" || res.Difficulty == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "hybrid_verify", "missing work type or difficulty")
	}

	again, err := r.Compute(ctx, res.WorkType, res.Difficulty)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeComputation, "hybrid_verify", "recomputation failed").
			WithContext("work_type", string(res.WorkType)).
			WithContext("difficulty", res.Difficulty)
	}

	score := Score(res, again)
	report := &Report{
		Verified:         score > VerifyThreshold,
		Score:            score,
		VerificationMode: again.Mode,
		OriginalMode:     res.Mode,
		Timestamp:        r.now().UTC(),
	}

	r.logger.Debug("Verified result",
		"work_type", res.WorkType,
		"difficulty", res.Difficulty,
		"score", score,
		"verified", report.Verified,
	)
	return report, nil
}

// Score is the similarity of two results in [0, 1]. Two real results are
// compared on their type's payload metric; otherwise the mean of time and
// energy similarity is used. Score(a, b) == Score(b, a).
func Score(a, b *engine.Result) float64 {
	if a.Mode == engine.ModeReal && b.Mode == engine.ModeReal {
		key, ok := comparisonMetric[a.WorkType]
		if !ok {
			return 0.5
		}
		return clamp01(similarity(metric(a.Payload, key), metric(b.Payload, key)))
	}
	t := similarity(a.ComputationTime, b.ComputationTime)
	e := similarity(a.EnergyConsumed, b.EnergyConsumed)
	return clamp01((t + e) / 2)
}

// similarity is 1 - |x-y| / max(x, y), saturating at 0
func similarity(x, y float64) float64 {
	if math.IsNaN(x) || math.IsNaN(y) {
		return 0
	}
	denom := math.Max(math.Max(x, y), scoreEpsilon)
	return 1 - math.Min(math.Abs(x-y)/denom, 1)
}

func metric(payload map[string]any, key string) float64 {
	switch v := payload[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
