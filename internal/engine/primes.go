package engine

import (
	"math/big"
	"sync"
)

// SieveLimit is the bound of the precomputed prime table
const SieveLimit = 100000

type primeTable struct {
	once      sync.Once
	composite []bool
	primes    []int
}

func (p *primeTable) init() {
	p.once.Do(func() {
		p.composite = make([]bool, SieveLimit+1)
		p.composite[0], p.composite[1] = true, true
		for i := 2; i*i <= SieveLimit; i++ {
			if p.composite[i] {
				continue
			}
			for j := i * i; j <= SieveLimit; j += i {
				p.composite[j] = true
			}
		}
		for i := 2; i <= SieveLimit; i++ {
			if !p.composite[i] {
				p.primes = append(p.primes, i)
			}
		}
	})
}

// isPrime answers from the table when it can, by trial division when the
// table covers sqrt(n), and with Baillie-PSW beyond that.
func (p *primeTable) isPrime(n int) bool {
	p.init()
	if n < 2 {
		return false
	}
	if n <= SieveLimit {
		return !p.composite[n]
	}
	if int64(n) <= int64(SieveLimit)*int64(SieveLimit) {
		for _, q := range p.primes {
			if q*q > n {
				break
			}
			if n%q == 0 {
				return false
			}
		}
		return true
	}
	return big.NewInt(int64(n)).ProbablyPrime(0)
}

// primesBetween returns the primes in [lo, hi] using a segmented sieve seeded
// from the table.
func (p *primeTable) primesBetween(lo, hi int) []int {
	p.init()
	lo = max(lo, 2)
	if hi < lo {
		return nil
	}

	segment := make([]bool, hi-lo+1)
	for _, q := range p.primes {
		if q*q > hi {
			break
		}
		start := max(q*q, (lo+q-1)/q*q)
		for j := start; j <= hi; j += q {
			segment[j-lo] = true
		}
	}

	var out []int
	for i, c := range segment {
		if !c {
			out = append(out, lo+i)
		}
	}
	return out
}
