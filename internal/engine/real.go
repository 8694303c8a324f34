package engine

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/bardlex/promine/internal/work"
	"github.com/bardlex/promine/pkg/errors"
)

// CollatzStepLimit bounds the steps followed for a single Collatz trial
const CollatzStepLimit = 10000

// Energy draw per second of real computation, in kWh
const (
	goldbachEnergyRate  = 0.08
	primeGapEnergyRate  = 0.075
	fibonacciEnergyRate = 0.06
	collatzEnergyRate   = 0.07
)

type realFunc func(ctx context.Context, d int) (payload map[string]any, v Verification, energyRate float64, err error)

// Real runs actual algorithms for the tractable work types
type Real struct {
	primes primeTable
	now    func() time.Time
	algos  map[work.Type]realFunc
}

// NewReal creates a real engine. The prime table is built on first use.
func NewReal() *Real {
	r := &Real{now: time.Now}
	r.algos = map[work.Type]realFunc{
		work.GoldbachVerification: r.goldbach,
		work.PrimeGapAnalysis:     r.primeGaps,
		work.FibonacciPatterns:    r.fibonacci,
		work.CollatzVerification:  r.collatz,
	}
	return r
}

// Supports reports whether the real engine implements wt
func (r *Real) Supports(wt work.Type) bool {
	_, ok := r.algos[wt]
	return ok
}

// Types returns the work types the real engine implements
func (r *Real) Types() []work.Type {
	var out []work.Type
	for _, wt := range work.All() {
		if r.Supports(wt) {
			out = append(out, wt)
		}
	}
	return out
}

// Compute runs the algorithm for wt. A panic inside an algorithm is returned
// as a computation error.
func (r *Real) Compute(ctx context.Context, wt work.Type, difficulty int) (res *Result, err error) {
	if err := validateItem("compute_real", wt, difficulty); err != nil {
		return nil, err
	}
	algo, ok := r.algos[wt]
	if !ok {
		return nil, errors.Wrap(work.ErrUnknownWorkType, errors.ErrorTypeValidation, "compute_real",
			"work type has no real implementation").WithContext("work_type", string(wt))
	}

	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = errors.New(errors.ErrorTypeComputation, "compute_real", fmt.Sprintf("algorithm panicked: %v", p)).
				WithContext("work_type", string(wt)).
				WithContext("difficulty", difficulty)
		}
	}()

	start := time.Now()
	payload, v, rate, err := algo(ctx, difficulty)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrorTypeComputation, "compute_real", "algorithm failed").
			WithContext("work_type", string(wt)).
			WithContext("difficulty", difficulty)
	}
	elapsed := math.Max(time.Since(start).Seconds(), minComputationTime)

	payload["computationTime"] = elapsed
	payload["actualComputation"] = true
	at := r.now().UTC()

	return &Result{
		WorkType:        wt,
		Difficulty:      difficulty,
		Payload:         payload,
		Verification:    v,
		ComputationTime: elapsed,
		EnergyConsumed:  elapsed * rate,
		Signature:       signature(wt, difficulty, at),
		Timestamp:       at,
	}, nil
}

// goldbach finds a prime pair for every even number in
// [4+100d, 4+150d]; it verifies only when every number has a pair.
func (r *Real) goldbach(ctx context.Context, d int) (map[string]any, Verification, float64, error) {
	lo := 4 + d*100
	hi := lo + d*50
	r.primes.init()

	type pair [3]int
	var pairs []pair
	total, verified := 0, 0

	for n := lo; n <= hi; n += 2 {
		if total%64 == 0 && ctx.Err() != nil {
			return nil, Verification{}, 0, ctx.Err()
		}
		total++
		for _, p := range r.primes.primes {
			if p > n/2 {
				break
			}
			if r.primes.isPrime(n - p) {
				pairs = append(pairs, pair{n, p, n - p})
				verified++
				break
			}
		}
	}

	successRate := 0.0
	if total > 0 {
		successRate = float64(verified) / float64(total)
	}

	payload := map[string]any{
		"verificationRange": []int{lo, hi},
		"totalNumbers":      total,
		"verifiedCount":     verified,
		"verificationPairs": pairs[max(0, len(pairs)-5):],
		"successRate":       successRate,
	}
	v := Verification{
		Verified: verified == total,
		Method:   "Direct prime pair verification",
		Hash:     ContentHash(pairs),
		Details: map[string]any{
			"primeDatabase":           len(r.primes.primes),
			"independentVerification": true,
		},
	}
	return payload, v, goldbachEnergyRate, nil
}

// primeGaps analyses consecutive prime gaps in [1000+1000d, 1000+3000d]
func (r *Real) primeGaps(ctx context.Context, d int) (map[string]any, Verification, float64, error) {
	lo := 1000 + d*1000
	hi := lo + d*2000
	primes := r.primes.primesBetween(lo, hi)
	if err := ctx.Err(); err != nil {
		return nil, Verification{}, 0, err
	}

	gaps := make([]int, 0, max(0, len(primes)-1))
	var twins [][2]int
	cousins := 0
	maxGap := 0
	for i := 1; i < len(primes); i++ {
		g := primes[i] - primes[i-1]
		gaps = append(gaps, g)
		maxGap = max(maxGap, g)
		switch g {
		case 2:
			twins = append(twins, [2]int{primes[i-1], primes[i]})
		case 4:
			cousins++
		}
	}

	mean, variance := meanVariance(gaps)

	payload := map[string]any{
		"analysisRange":  []int{lo, hi},
		"primesFound":    len(primes),
		"totalGaps":      len(gaps),
		"maxGap":         maxGap,
		"averageGap":     mean,
		"gapVariance":    variance,
		"twinPrimes":     len(twins),
		"cousinPrimes":   cousins,
		"twinPrimePairs": twins[max(0, len(twins)-3):],
	}
	v := Verification{
		Verified: len(primes) > 0,
		Method:   "Segmented sieve of Eratosthenes with gap analysis",
		Hash:     ContentHash(gaps),
		Details: map[string]any{
			"statisticalSignificance": len(gaps) > 100,
			"independentVerification": true,
		},
	}
	return payload, v, primeGapEnergyRate, nil
}

// fibonacci generates 50+10d terms and measures golden ratio convergence
func (r *Real) fibonacci(ctx context.Context, d int) (map[string]any, Verification, float64, error) {
	n := 50 + d*10
	seq := make([]*big.Int, n)
	seq[0], seq[1] = big.NewInt(0), big.NewInt(1)
	for i := 2; i < n; i++ {
		seq[i] = new(big.Int).Add(seq[i-1], seq[i-2])
	}

	ratio := 0.0
	if seq[n-2].Sign() != 0 {
		ratio, _ = new(big.Float).Quo(new(big.Float).SetInt(seq[n-1]), new(big.Float).SetInt(seq[n-2])).Float64()
	}
	phi := (1 + math.Sqrt(5)) / 2
	convergenceError := math.Abs(ratio - phi)

	// F(i) can only be prime when i is 4 or prime
	var primeIndices []int
	for i := 3; i < n; i++ {
		if i%32 == 0 && ctx.Err() != nil {
			return nil, Verification{}, 0, ctx.Err()
		}
		if (i == 4 || r.primes.isPrime(i)) && seq[i].ProbablyPrime(0) {
			primeIndices = append(primeIndices, i)
		}
	}

	integrity := seq[n-1].Cmp(new(big.Int).Add(seq[n-2], seq[n-3])) == 0
	tail := make([]string, 0, 5)
	for _, f := range seq[n-5:] {
		tail = append(tail, f.String())
	}

	payload := map[string]any{
		"sequenceLength":           n,
		"lastFibonacciDigits":      len(seq[n-1].String()),
		"goldenRatioApproximation": ratio,
		"goldenRatioError":         convergenceError,
		"primeFibonacciIndices":    primeIndices,
		"fibonacciPrimeCount":      len(primeIndices),
	}
	v := Verification{
		Verified: len(seq) == n && integrity,
		Method:   "Direct iterative computation",
		Hash:     ContentHash(tail),
		Details: map[string]any{
			"goldenRatioConvergence":  convergenceError < 0.001,
			"sequenceIntegrity":       integrity,
			"independentVerification": true,
		},
	}
	return payload, v, fibonacciEnergyRate, nil
}

type collatzTrial struct {
	Start     uint64 `json:"startValue"`
	Steps     int    `json:"steps"`
	MaxValue  uint64 `json:"maxValue"`
	Converged bool   `json:"converged"`
}

// collatz follows 20+d sequences starting at 1000+500d, each for at most
// CollatzStepLimit steps; it verifies when at least 95% reach 1.
func (r *Real) collatz(ctx context.Context, d int) (map[string]any, Verification, float64, error) {
	start := uint64(1000 + d*500)
	count := 20 + d

	trials := make([]collatzTrial, 0, count)
	steps := make([]int, 0, count)
	converged, maxSteps, totalSteps := 0, 0, 0
	var maxValue uint64

	for i := range count {
		if i%16 == 0 && ctx.Err() != nil {
			return nil, Verification{}, 0, ctx.Err()
		}
		t := collatzRun(start + uint64(i))
		trials = append(trials, t)
		steps = append(steps, t.Steps)
		if t.Converged {
			converged++
		}
		maxSteps = max(maxSteps, t.Steps)
		maxValue = max(maxValue, t.MaxValue)
		totalSteps += t.Steps
	}

	rate := float64(converged) / float64(count)

	payload := map[string]any{
		"verificationRange": []uint64{start, start + uint64(count) - 1},
		"totalVerified":     count,
		"convergenceRate":   rate,
		"maxSteps":          maxSteps,
		"maxValueReached":   maxValue,
		"averageSteps":      float64(totalSteps) / float64(count),
		"sampleResults":     trials[max(0, len(trials)-3):],
	}
	v := Verification{
		Verified: rate >= 0.95,
		Method:   "Direct sequence computation",
		Hash:     ContentHash(steps),
		Details: map[string]any{
			"convergenceAnalysis":     fmt.Sprintf("%.2f%% success rate", rate*100),
			"computationalIntegrity":  maxSteps < CollatzStepLimit,
			"independentVerification": true,
		},
	}
	return payload, v, collatzEnergyRate, nil
}

// collatzRun stops at CollatzStepLimit or when 3n+1 would overflow; either
// way the trial is reported as not converged.
func collatzRun(n uint64) collatzTrial {
	t := collatzTrial{Start: n, MaxValue: n}
	for n != 1 && t.Steps < CollatzStepLimit {
		if n%2 == 0 {
			n /= 2
		} else {
			if n > (math.MaxUint64-1)/3 {
				return t
			}
			n = 3*n + 1
		}
		t.Steps++
		t.MaxValue = max(t.MaxValue, n)
	}
	t.Converged = n == 1
	return t
}

func meanVariance(xs []int) (mean, variance float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += float64(x)
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		diff := float64(x) - mean
		variance += diff * diff
	}
	return mean, variance / float64(len(xs))
}
