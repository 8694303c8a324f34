package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bardlex/promine/internal/work"
	"github.com/bardlex/promine/pkg/errors"
	"github.com/bardlex/promine/pkg/retry"
)

// simSpec describes how one work type is simulated: its nominal duration is
// max(minTime, difficulty/divisor) seconds and energy is duration*energyFactor.
type simSpec struct {
	minTime      float64
	divisor      float64
	energyFactor float64
	sleepCap     time.Duration
	method       string
	build        func(r *rand.Rand, d int, t float64) (payload, details map[string]any)
}

var simSpecs = map[work.Type]simSpec{
	work.RiemannZero: {
		minTime: 1, divisor: 50, energyFactor: 0.05, sleepCap: 500 * time.Millisecond,
		method: "euler_maclaurin_series", build: simRiemann,
	},
	work.PrimePattern: {
		minTime: 1, divisor: 60, energyFactor: 0.06, sleepCap: 300 * time.Millisecond,
		method: "sieve_of_eratosthenes", build: simPrimePattern,
	},
	work.YangMills: {
		minTime: 2, divisor: 40, energyFactor: 0.08, sleepCap: 400 * time.Millisecond,
		method: "lattice_gauge_simulation", build: simYangMills,
	},
	work.NavierStokes: {
		minTime: 1.5, divisor: 45, energyFactor: 0.07, sleepCap: 350 * time.Millisecond,
		method: "finite_element", build: simNavierStokes,
	},
	work.GoldbachVerification: {
		minTime: 0.8, divisor: 70, energyFactor: 0.05, sleepCap: 250 * time.Millisecond,
		method: "exhaustive_search", build: simGoldbach,
	},
	work.BirchSwinnertonDyer: {
		minTime: 1.2, divisor: 50, energyFactor: 0.09, sleepCap: 400 * time.Millisecond,
		method: "modular_form_l_series", build: simBSD,
	},
	work.EllipticCurveCrypto: {
		minTime: 1, divisor: 55, energyFactor: 0.06, sleepCap: 350 * time.Millisecond,
		method: "ecdlp_hardness", build: simECC,
	},
	work.LatticeCrypto: {
		minTime: 1.5, divisor: 40, energyFactor: 0.1, sleepCap: 450 * time.Millisecond,
		method: "worst_case_reduction", build: simLattice,
	},
	work.PoincareConjecture: {
		minTime: 2, divisor: 35, energyFactor: 0.12, sleepCap: 500 * time.Millisecond,
		method: "ricci_flow_with_surgery", build: simPoincare,
	},
}

// Simulated produces statistically plausible results for every minable work
// type. Durations and energy scale with difficulty; results always verify.
type Simulated struct {
	mu         sync.Mutex
	rng        *rand.Rand
	maxLatency time.Duration
	now        func() time.Time
}

// NewSimulated creates a simulator. maxLatency bounds the real time spent per
// call (zero disables sleeping); a zero seed draws one at random.
func NewSimulated(maxLatency time.Duration, seed uint64) *Simulated {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Simulated{
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		maxLatency: maxLatency,
		now:        time.Now,
	}
}

// Supports reports whether wt can be simulated
func (s *Simulated) Supports(wt work.Type) bool {
	_, ok := simSpecs[wt]
	return ok
}

// Types returns the simulated work types
func (s *Simulated) Types() []work.Type {
	var out []work.Type
	for _, wt := range work.Minable() {
		if s.Supports(wt) {
			out = append(out, wt)
		}
	}
	return out
}

// NominalTime returns the simulated duration in seconds for a work item
func NominalTime(wt work.Type, difficulty int) (float64, bool) {
	spec, ok := simSpecs[wt]
	if !ok {
		return 0, false
	}
	return math.Max(spec.minTime, float64(difficulty)/spec.divisor), true
}

// Compute simulates one work item
func (s *Simulated) Compute(ctx context.Context, wt work.Type, difficulty int) (*Result, error) {
	if err := validateItem("simulate", wt, difficulty); err != nil {
		return nil, err
	}
	spec, ok := simSpecs[wt]
	if !ok {
		return nil, errors.Wrap(work.ErrUnknownWorkType, errors.ErrorTypeValidation, "simulate",
			"work type has no simulation").WithContext("work_type", string(wt))
	}

	t, _ := NominalTime(wt, difficulty)

	if err := retry.Sleep(ctx, s.latency(spec, t)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	payload, details := spec.build(s.rng, difficulty, t)
	s.mu.Unlock()

	details["theoremVerified"] = true
	at := s.now().UTC()

	return &Result{
		WorkType:   wt,
		Difficulty: difficulty,
		Payload:    payload,
		Verification: Verification{
			Verified: true,
			Method:   spec.method,
			Hash:     ContentHash(payload),
			Details:  details,
		},
		ComputationTime: t,
		EnergyConsumed:  t * spec.energyFactor,
		Signature:       signature(wt, difficulty, at),
		Timestamp:       at,
	}, nil
}

func (s *Simulated) latency(spec simSpec, t float64) time.Duration {
	d := min(time.Duration(t*float64(time.Second)), spec.sleepCap)
	return min(d, s.maxLatency)
}

func uniform(r *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*r.Float64()
}

func simRiemann(r *rand.Rand, d int, t float64) (map[string]any, map[string]any) {
	iterations := d * 1000
	imag := 14.134725 + float64(1+r.IntN(100))*1.47 + uniform(r, -0.1, 0.1)
	payload := map[string]any{
		"formula":         fmt.Sprintf("ζ(0.5 + %.6fi) = Σ(1/n^s) for n=1 to %d", imag, iterations),
		"precision":       round(math.Log10(float64(iterations))*uniform(r, 0.8, 1.2), 6),
		"zeroValue":       map[string]any{"real": 0.5, "imaginary": round(imag, 6)},
		"iterations":      iterations,
		"computationTime": round(t, 1),
	}
	details := map[string]any{
		"zetaFunctionValue": map[string]any{
			"real":      round(uniform(r, -50, 50), 6),
			"imaginary": round(uniform(r, -10, 10), 6),
		},
		"independentVerification": true,
	}
	return payload, details
}

func simPrimePattern(r *rand.Rand, d int, t float64) (map[string]any, map[string]any) {
	start := 100000 + d*1000
	end := start + d*500
	found := max(1, d/5)
	payload := map[string]any{
		"patternType":     "twin",
		"searchRange":     []int{start, end},
		"patternsFound":   found,
		"avgQdtResonance": round(uniform(r, 0.7, 0.9), 3),
		"largestGap":      200 + r.IntN(201),
		"computationTime": round(t, 1),
	}
	details := map[string]any{
		"theorem":          "twin_prime_conjecture",
		"sieveRange":       []int{start, end},
		"patternDensity":   round(float64(found)/float64(end-start)*100000, 5),
		"totalPrimesFound": 30000 + r.IntN(20001),
	}
	return payload, details
}

func simYangMills(r *rand.Rand, d int, t float64) (map[string]any, map[string]any) {
	massGap := round(uniform(r, 0.5, 2.0), 3)
	payload := map[string]any{
		"fieldSamples":    d * 100,
		"gaugeInvariance": round(uniform(r, 0.95, 0.99), 4),
		"massGap":         massGap,
		"fieldStrength":   round(uniform(r, 10, 50), 2),
		"symmetryGroup":   "SU(3)",
		"computationTime": round(t, 1),
	}
	details := map[string]any{
		"theorem":          "yang_mills_existence",
		"fieldEquations":   "D_μ F^μν = J^ν",
		"gaugeSymmetry":    "SU(3) × SU(2) × U(1)",
		"massGapConfirmed": massGap > 0,
	}
	return payload, details
}

func simNavierStokes(r *rand.Rand, d int, t float64) (map[string]any, map[string]any) {
	convergence := round(uniform(r, 0.85, 0.95), 3)
	payload := map[string]any{
		"gridResolution":  d * 50,
		"reynoldsNumber":  round(uniform(r, 1000, 5000), 1),
		"turbulenceModel": "k-epsilon",
		"convergenceRate": convergence,
		"fluidViscosity":  round(uniform(r, 0.001, 0.01), 4),
		"computationTime": round(t, 1),
	}
	details := map[string]any{
		"theorem":            "navier_stokes_existence",
		"equation":           "∂v/∂t + (v·∇)v = -∇p/ρ + ν∇²v + f",
		"boundaryConditions": "no-slip",
		"stabilityConfirmed": convergence > 0.8,
	}
	return payload, details
}

func simGoldbach(r *rand.Rand, d int, t float64) (map[string]any, map[string]any) {
	testRange := d * 2000
	payload := map[string]any{
		"testRange":          testRange,
		"verificationsCount": max(1, d/3),
		"largestVerified":    testRange + 1000 + r.IntN(4001),
		"averagePairs":       round(uniform(r, 50, 150), 1),
		"computationTime":    round(t, 1),
	}
	details := map[string]any{
		"theorem":              "goldbach_conjecture",
		"statement":            "Every even integer > 2 is sum of two primes",
		"counterexamplesFound": 0,
	}
	return payload, details
}

func simBSD(r *rand.Rand, d int, t float64) (map[string]any, map[string]any) {
	rank := r.IntN(4)
	payload := map[string]any{
		"curvePoints":     d * 200,
		"rank":            rank,
		"regulator":       round(uniform(r, 0.1, 10.0), 4),
		"shaGroup":        fmt.Sprintf("Z/%dZ", 1+r.IntN(4)),
		"lFunction":       round(uniform(r, 0.01, 2.0), 6),
		"computationTime": round(t, 1),
	}
	details := map[string]any{
		"theorem":        "birch_swinnerton_dyer",
		"curve":          fmt.Sprintf("y² = x³ + %dx + %d", r.IntN(21)-10, r.IntN(21)-10),
		"conductor":      100 + r.IntN(901),
		"analyticalRank": rank,
	}
	return payload, details
}

func simECC(_ *rand.Rand, d int, t float64) (map[string]any, map[string]any) {
	keyLength := min(256+d, 521)
	payload := map[string]any{
		"keyLength":       keyLength,
		"curve":           fmt.Sprintf("P-%d", keyLength),
		"securityLevel":   min(128+d/4, 256),
		"signatureScheme": "ECDSA",
		"keyGenTime":      round(t*0.3, 3),
		"computationTime": round(t, 1),
	}
	details := map[string]any{
		"theorem":            "elliptic_curve_cryptography",
		"standardCompliance": "NIST P-curves",
		"quantumResistance":  keyLength > 384,
	}
	return payload, details
}

func simLattice(_ *rand.Rand, d int, t float64) (map[string]any, map[string]any) {
	dim := min(512+d*2, 2048)
	scheme := "LWE"
	if d%2 == 0 {
		scheme = "NTRU"
	}
	payload := map[string]any{
		"latticeDimension": dim,
		"scheme":           scheme,
		"securityLevel":    min(80+d/2, 256),
		"quantumResistant": true,
		"keySize":          dim * 2,
		"computationTime":  round(t, 1),
	}
	details := map[string]any{
		"theorem":         "lattice_cryptography",
		"hardnessProblem": "SVP/CVP",
		"nistStandard":    dim >= 1024,
	}
	return payload, details
}

func simPoincare(r *rand.Rand, d int, t float64) (map[string]any, map[string]any) {
	payload := map[string]any{
		"manifoldComplexity": d * 10,
		"ricciFlow":          round(uniform(r, 0.1, 1.0), 4),
		"geometrization":     true,
		"dimension":          3,
		"topology":           "simply_connected",
		"computationTime":    round(t, 1),
	}
	details := map[string]any{
		"theorem":                 "poincare_conjecture",
		"statement":               "Simply connected 3-manifold is homeomorphic to 3-sphere",
		"geometrizationConfirmed": true,
	}
	return payload, details
}
