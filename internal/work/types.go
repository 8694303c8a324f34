// Package work defines the mathematical work types that can be mined and the
// registry of per-type constants shared by the engines, valuation and router.
package work

import (
	"slices"

	"github.com/bardlex/promine/pkg/errors"
)

// Type identifies a kind of mathematical work
type Type string

// Minable work types
const (
	RiemannZero          Type = "riemann_zero"
	PrimePattern         Type = "prime_pattern"
	YangMills            Type = "yang_mills"
	NavierStokes         Type = "navier_stokes"
	GoldbachVerification Type = "goldbach_verification"
	BirchSwinnertonDyer  Type = "birch_swinnerton_dyer"
	EllipticCurveCrypto  Type = "elliptic_curve_crypto"
	LatticeCrypto        Type = "lattice_crypto"
	PoincareConjecture   Type = "poincare_conjecture"
)

// Work types only the real engine computes. They can be routed and
// computed directly but are not offered to miners.
const (
	PrimeGapAnalysis    Type = "prime_gap_analysis"
	FibonacciPatterns   Type = "fibonacci_patterns"
	CollatzVerification Type = "collatz_verification"
)

// Difficulty bounds accepted for any work item
const (
	MinDifficulty = 1
	MaxDifficulty = 1000
)

// Info is the registry entry for a work type
type Info struct {
	Type        Type
	Description string
	Minable     bool
	BaseValue   float64 // Research-grant base value
	Impact      float64 // Research impact before difficulty scaling
	// RealThreshold is the highest difficulty the real engine accepts; zero
	// means the type has no real implementation.
	RealThreshold int
}

// Default valuation constants for unregistered types
const (
	DefaultBaseValue = 600.0
	DefaultImpact    = 150.0
)

var registry = map[Type]Info{
	RiemannZero: {
		Description: "Computing zeros of the Riemann zeta function",
		Minable:     true, BaseValue: 800, Impact: 200,
	},
	PrimePattern: {
		Description: "Discovering patterns in prime number distributions",
		Minable:     true, BaseValue: 600, Impact: 150,
	},
	YangMills: {
		Description: "Validating Yang-Mills field equations",
		Minable:     true, BaseValue: 1200, Impact: 300,
	},
	NavierStokes: {
		Description: "Solving fluid dynamics problems",
		Minable:     true, BaseValue: 900, Impact: 180,
	},
	GoldbachVerification: {
		Description: "Verifying Goldbach conjecture instances",
		Minable:     true, BaseValue: 500, Impact: 100, RealThreshold: 200,
	},
	BirchSwinnertonDyer: {
		Description: "Computing elliptic curve L-functions",
		Minable:     true, BaseValue: 700, Impact: 160,
	},
	EllipticCurveCrypto: {
		Description: "Advancing elliptic curve cryptography",
		Minable:     true, BaseValue: 800, Impact: 170,
	},
	LatticeCrypto: {
		Description: "Developing lattice-based cryptographic schemes",
		Minable:     true, BaseValue: 750, Impact: 140,
	},
	PoincareConjecture: {
		Description: "Topology and geometric analysis",
		Minable:     true, BaseValue: 1000, Impact: 250,
	},
	PrimeGapAnalysis: {
		Description: "Analysing gaps between consecutive primes",
		BaseValue:   DefaultBaseValue, Impact: DefaultImpact, RealThreshold: 150,
	},
	FibonacciPatterns: {
		Description: "Measuring Fibonacci golden ratio convergence",
		BaseValue:   DefaultBaseValue, Impact: DefaultImpact, RealThreshold: 300,
	},
	CollatzVerification: {
		Description: "Verifying Collatz sequence convergence",
		BaseValue:   DefaultBaseValue, Impact: DefaultImpact, RealThreshold: 100,
	},
}

var minable = []Type{
	RiemannZero,
	PrimePattern,
	YangMills,
	NavierStokes,
	GoldbachVerification,
	BirchSwinnertonDyer,
	EllipticCurveCrypto,
	LatticeCrypto,
	PoincareConjecture,
}

// ErrUnknownWorkType is returned for unregistered work type keys
var ErrUnknownWorkType = errors.New(errors.ErrorTypeValidation, "parse_work_type", "unknown work type")

// Parse converts a key to a registered Type
func Parse(key string) (Type, error) {
	t := Type(key)
	if _, ok := registry[t]; !ok {
		return "", unknown(key)
	}
	return t, nil
}

// ParseMinable converts a key to one of the minable types
func ParseMinable(key string) (Type, error) {
	t, err := Parse(key)
	if err != nil {
		return "", err
	}
	if !registry[t].Minable {
		return "", errors.Wrap(ErrUnknownWorkType, errors.ErrorTypeValidation, "parse_work_type",
			"work type is not minable").WithContext("work_type", key)
	}
	return t, nil
}

func unknown(key string) error {
	return errors.Wrap(ErrUnknownWorkType, errors.ErrorTypeValidation, "parse_work_type",
		"unknown work type").WithContext("work_type", key)
}

// Lookup returns the registry entry for t
func Lookup(t Type) (Info, bool) {
	info, ok := registry[t]
	if ok {
		info.Type = t
	}
	return info, ok
}

// Minable returns the minable work types in a stable order
func Minable() []Type {
	return slices.Clone(minable)
}

// All returns every registered type, minable first
func All() []Type {
	all := Minable()
	return append(all, PrimeGapAnalysis, FibonacciPatterns, CollatzVerification)
}

// RealCapable returns the types the real engine implements
func RealCapable() []Type {
	var out []Type
	for _, t := range All() {
		if registry[t].RealThreshold > 0 {
			out = append(out, t)
		}
	}
	return out
}

// ValidateDifficulty rejects difficulties outside [MinDifficulty, MaxDifficulty]
func ValidateDifficulty(d int) error {
	if d < MinDifficulty || d > MaxDifficulty {
		return errors.New(errors.ErrorTypeValidation, "validate_difficulty",
			"difficulty out of range").
			WithContext("difficulty", d).
			WithContext("min", MinDifficulty).
			WithContext("max", MaxDifficulty)
	}
	return nil
}

// IsMinable reports whether t is offered to miners
func (t Type) IsMinable() bool {
	return registry[t].Minable
}

// String returns the wire key
func (t Type) String() string {
	return string(t)
}
