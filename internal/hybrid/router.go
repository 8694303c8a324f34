// Package hybrid routes work items between the real and simulated engines
// and scores results against an independent recomputation.
package hybrid

import (
	"context"
	"time"

	"github.com/bardlex/promine/internal/engine"
	"github.com/bardlex/promine/internal/valuation"
	"github.com/bardlex/promine/internal/work"
	"github.com/bardlex/promine/pkg/errors"
	"github.com/bardlex/promine/pkg/log"
)

// Backend is a computation engine the router can dispatch to
type Backend interface {
	engine.Computer
	Supports(wt work.Type) bool
	Types() []work.Type
}

// Router chooses an engine per work item and merges valuation into the result
type Router struct {
	real   Backend
	sim    Backend
	logger *log.Logger
	now    func() time.Time
}

// NewRouter creates a router over a real and a simulated backend
func NewRouter(real, sim Backend, logger *log.Logger) *Router {
	return &Router{
		real:   real,
		sim:    sim,
		logger: logger.WithComponent("hybrid_router"),
		now:    time.Now,
	}
}

// Route returns ModeReal when the real engine implements wt and difficulty is
// within the type's tractability threshold, ModeSimulation otherwise.
func (r *Router) Route(wt work.Type, difficulty int) engine.Mode {
	if !r.real.Supports(wt) {
		return engine.ModeSimulation
	}
	info, ok := work.Lookup(wt)
	if !ok || difficulty > info.RealThreshold {
		return engine.ModeSimulation
	}
	return engine.ModeReal
}

// Compute runs a work item on the routed engine. A failed real computation is
// retried once in simulation and reported as ModeSimulationFallback.
func (r *Router) Compute(ctx context.Context, wt work.Type, difficulty int) (*engine.Result, error) {
	if _, ok := work.Lookup(wt); !ok {
		return nil, errors.Wrap(work.ErrUnknownWorkType, errors.ErrorTypeValidation, "hybrid_compute",
			"unknown work type").WithContext("work_type", string(wt))
	}
	if err := work.ValidateDifficulty(difficulty); err != nil {
		return nil, err
	}

	mode := r.Route(wt, difficulty)
	r.logger.Debug("Routing computation",
		"work_type", wt,
		"difficulty", difficulty,
		"mode", mode,
	)

	var (
		res      *engine.Result
		err      error
		fallback string
	)
	if mode == engine.ModeReal {
		res, err = r.real.Compute(ctx, wt, difficulty)
		if err != nil {
			if ctx.Err() != nil || !r.sim.Supports(wt) {
				return nil, err
			}
			r.logger.WithError(err).Warn("Real computation failed, falling back to simulation",
				"work_type", wt,
				"difficulty", difficulty,
			)
			mode = engine.ModeSimulationFallback
			fallback = err.Error()
			res, err = r.sim.Compute(ctx, wt, difficulty)
		}
	} else {
		if !r.sim.Supports(wt) {
			return nil, errors.New(errors.ErrorTypeValidation, "hybrid_compute",
				"difficulty exceeds the real threshold and the work type has no simulation").
				WithContext("work_type", string(wt)).
				WithContext("difficulty", difficulty)
		}
		res, err = r.sim.Compute(ctx, wt, difficulty)
	}
	if err != nil {
		return nil, err
	}

	res.Mode = mode
	res.Verified = mode == engine.ModeReal && res.Verification.Verified
	res.FallbackError = fallback
	v := valuation.Value(wt, difficulty, res.ComputationTime, res.EnergyConsumed)
	res.Valuation = &v

	return res, nil
}

// Capabilities describes what the router can compute and where
type Capabilities struct {
	RealTypes      []work.Type       `json:"realComputationTypes"`
	SimulatedTypes []work.Type       `json:"simulatedComputationTypes"`
	Thresholds     map[work.Type]int `json:"tractabilityThresholds"`
	TotalWorkTypes int               `json:"totalWorkTypes"`
	RealRatio      float64           `json:"realComputationRatio"`
}

// Capabilities reports the engines' coverage and tractability thresholds
func (r *Router) Capabilities() Capabilities {
	realTypes := r.real.Types()
	simTypes := r.sim.Types()

	thresholds := make(map[work.Type]int, len(realTypes))
	seen := make(map[work.Type]struct{}, len(realTypes)+len(simTypes))
	for _, wt := range realTypes {
		if info, ok := work.Lookup(wt); ok {
			thresholds[wt] = info.RealThreshold
		}
		seen[wt] = struct{}{}
	}
	for _, wt := range simTypes {
		seen[wt] = struct{}{}
	}

	ratio := 0.0
	if len(simTypes) > 0 {
		ratio = float64(len(realTypes)) / float64(len(simTypes))
	}

	return Capabilities{
		RealTypes:      realTypes,
		SimulatedTypes: simTypes,
		Thresholds:     thresholds,
		TotalWorkTypes: len(seen),
		RealRatio:      ratio,
	}
}
