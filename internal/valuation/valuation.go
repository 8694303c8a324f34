// Package valuation converts a completed computation into a bounded monetary
// value expressed as a research-grant equivalent.
package valuation

import (
	"fmt"
	"math"

	"github.com/bardlex/promine/internal/work"
)

// Value bounds applied to every valuation
const (
	MinValue = 1200.0
	MaxValue = 3500.0

	MaxDifficultyMultiplier = 1.5
	maxComputationalCost    = 200.0

	cloudCostPerHour = 0.10
	energyCostPerKWh = 0.15
)

// Valuation is the breakdown of a discovery's scientific value
type Valuation struct {
	BaseValue            float64 `json:"baseValue"`
	ComputationalCost    float64 `json:"computationalCost"`
	ResearchImpact       float64 `json:"researchImpact"`
	TotalValue           float64 `json:"totalValue"`
	Methodology          string  `json:"methodology"`
	DifficultyMultiplier float64 `json:"difficultyMultiplier"`
	Error                string  `json:"error,omitempty"`
}

// Value computes the valuation of a work item. It never fails: inputs it
// cannot price produce the fallback valuation at MinValue with Error set.
func Value(wt work.Type, difficulty int, computationTime, energyConsumed float64) Valuation {
	if err := checkInputs(difficulty, computationTime, energyConsumed); err != nil {
		return Fallback(wt, err)
	}

	base, impact := work.DefaultBaseValue, work.DefaultImpact
	if info, ok := work.Lookup(wt); ok {
		base, impact = info.BaseValue, info.Impact
	}

	cost := ComputationalCost(computationTime, energyConsumed)
	mult := DifficultyMultiplier(difficulty)
	total := clamp(base+impact*mult+cost, MinValue, MaxValue)

	return Valuation{
		BaseValue:            round(base, 2),
		ComputationalCost:    round(cost, 2),
		ResearchImpact:       round(impact*mult, 2),
		TotalValue:           round(total, 2),
		Methodology:          fmt.Sprintf("Research grant equivalent for %s at difficulty %d", wt, difficulty),
		DifficultyMultiplier: round(mult, 3),
	}
}

// Fallback is the valuation reported when pricing fails
func Fallback(wt work.Type, cause error) Valuation {
	v := Valuation{
		BaseValue:            MinValue,
		ComputationalCost:    50,
		ResearchImpact:       work.DefaultImpact,
		TotalValue:           MinValue,
		Methodology:          fmt.Sprintf("Fallback valuation for %s", wt),
		DifficultyMultiplier: 1,
	}
	if cause != nil {
		v.Error = cause.Error()
	}
	return v
}

// ComputationalCost prices compute time (seconds) and energy (kWh), capped at 200
func ComputationalCost(computationTime, energyConsumed float64) float64 {
	c := (computationTime/3600)*cloudCostPerHour + energyConsumed*energyCostPerKWh
	return math.Min(c*100, maxComputationalCost)
}

// DifficultyMultiplier scales research impact linearly up to 1.5x at difficulty 1000
func DifficultyMultiplier(difficulty int) float64 {
	return math.Min(1+float64(difficulty)/1000*0.5, MaxDifficultyMultiplier)
}

// InBounds reports whether v lies within [MinValue, MaxValue]
func InBounds(v float64) bool {
	return v >= MinValue && v <= MaxValue
}

func checkInputs(difficulty int, t, e float64) error {
	switch {
	case difficulty < 0:
		return fmt.Errorf("negative difficulty %d", difficulty)
	case math.IsNaN(t) || math.IsInf(t, 0) || t < 0:
		return fmt.Errorf("invalid computation time %v", t)
	case math.IsNaN(e) || math.IsInf(e, 0) || e < 0:
		return fmt.Errorf("invalid energy consumption %v", e)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
