// Package engine implements the computation engines that perform mathematical
// work: a statistical simulator covering every minable work type and a real
// engine running actual number-theoretic algorithms for tractable types.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/bardlex/promine/internal/valuation"
	"github.com/bardlex/promine/internal/work"
	"github.com/bardlex/promine/pkg/errors"
)

// Mode records which engine produced a result
type Mode string

const (
	// ModeReal means the real engine computed the result
	ModeReal Mode = "real"
	// ModeSimulation means the simulator produced the result
	ModeSimulation Mode = "simulation"
	// ModeSimulationFallback means the real engine failed and the simulator stood in
	ModeSimulationFallback Mode = "simulation_fallback"
)

// Verification is the engine's own evidence about a result
type Verification struct {
	Verified bool           `json:"verified"`
	Method   string         `json:"method"`
	Hash     string         `json:"verificationHash"`
	Details  map[string]any `json:"details,omitempty"`
}

// Result is the output of a single computation. The envelope fields (Mode,
// Verified, FallbackError, Valuation) are filled in by the router.
type Result struct {
	WorkType        work.Type      `json:"workType"`
	Difficulty      int            `json:"difficulty"`
	Payload         map[string]any `json:"computationResult"`
	Verification    Verification   `json:"verificationData"`
	ComputationTime float64        `json:"computationTime"`
	EnergyConsumed  float64        `json:"energyConsumed"`
	Signature       string         `json:"signature"`
	Timestamp       time.Time      `json:"timestamp"`

	Mode          Mode                 `json:"computationMode,omitempty"`
	Verified      bool                 `json:"verified"`
	FallbackError string               `json:"fallbackError,omitempty"`
	Valuation     *valuation.Valuation `json:"valuation,omitempty"`
}

// Computer performs work items. The simulated engine, the real engine and the
// hybrid router all satisfy it.
type Computer interface {
	Compute(ctx context.Context, wt work.Type, difficulty int) (*Result, error)
}

// minComputationTime keeps measured durations strictly positive
const minComputationTime = 1e-6

func validateItem(op string, wt work.Type, difficulty int) error {
	if _, ok := work.Lookup(wt); !ok {
		return errors.Wrap(work.ErrUnknownWorkType, errors.ErrorTypeValidation, op,
			"unknown work type").WithContext("work_type", string(wt))
	}
	return work.ValidateDifficulty(difficulty)
}

// ContentHash is the hex sha256 of v's JSON encoding. Map keys are encoded in
// sorted order so equal evidence always hashes the same.
func ContentHash(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data = fmt.Appendf(nil, "%v", v)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// signature is a short content tag over the work item and the moment it ran
func signature(wt work.Type, difficulty int, at time.Time) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s%d%d", wt, difficulty, at.UnixNano()))
	return hex.EncodeToString(sum[:])[:6]
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
