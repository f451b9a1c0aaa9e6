// Package distribution provides the precomputed binomial tail model used
// to decide whether a password's observed popularity is statistically
// surprising under the null hypothesis of independent fair coin flips.
package distribution

import (
	"math"
	"sync"
)

// BinomialDistribution holds the exact probability mass and upper-tail
// cumulative distribution of Binomial(n, 0.5). All queries are O(1)
// after O(n) precomputation.
type BinomialDistribution struct {
	n       int
	exactly []float64 // exactly[k] = P(X == k)
	atLeast []float64 // atLeast[k] = P(X >= k)
}

// NewBinomialDistribution precomputes the distribution for n trials.
// The mass is computed with the symmetric recurrence
// C(n,k+1) = C(n,k)*(n-k)/(k+1), scaled by 0.5^n, filling only k <= n/2
// and mirroring the rest, which avoids overflow for large n.
func NewBinomialDistribution(n int) *BinomialDistribution {
	if n < 0 {
		n = 0
	}

	exactly := make([]float64, n+1)
	anyGivenValue := math.Pow(0.5, float64(n))
	nChooseK := 1.0
	for k := 0; k <= n/2; k++ {
		p := nChooseK * anyGivenValue
		exactly[k] = p
		exactly[n-k] = p
		nChooseK *= float64(n-k) / float64(k+1)
	}

	// Accumulate the upper tail from the smallest terms up so the sum
	// stays accurate out where the probabilities are tiny.
	atLeast := make([]float64, n+2)
	atLeast[n+1] = 0
	for k := n; k >= 0; k-- {
		atLeast[k] = atLeast[k+1] + exactly[k]
	}

	return &BinomialDistribution{n: n, exactly: exactly, atLeast: atLeast}
}

// N returns the number of trials the distribution was built for.
func (d *BinomialDistribution) N() int { return d.n }

// ProbExactly returns P(X == k). Out-of-range k returns 0.
func (d *BinomialDistribution) ProbExactly(k int) float64 {
	if k < 0 || k > d.n {
		return 0
	}
	return d.exactly[k]
}

// ProbAtLeast returns P(X >= k), saturating to 1 below 0 and 0 above n.
func (d *BinomialDistribution) ProbAtLeast(k int) float64 {
	if k <= 0 {
		return 1
	}
	if k > d.n {
		return 0
	}
	return d.atLeast[k]
}

// ProbMoreThan returns P(X > k).
func (d *BinomialDistribution) ProbMoreThan(k int) float64 {
	return d.ProbAtLeast(k + 1)
}

// ProbAtMost returns P(X <= k), saturating to 0 below 0 and 1 above n.
func (d *BinomialDistribution) ProbAtMost(k int) float64 {
	return 1 - d.ProbAtLeast(k+1)
}

// ProbLessThan returns P(X < k).
func (d *BinomialDistribution) ProbLessThan(k int) float64 {
	return 1 - d.ProbAtLeast(k)
}

// Cache memoizes distributions by n so hot popularity counts are only
// ever computed once per process.
type Cache struct {
	mu            sync.Mutex
	distributions map[int]*BinomialDistribution
}

func NewCache() *Cache {
	return &Cache{distributions: make(map[int]*BinomialDistribution)}
}

// For returns the distribution for n trials, computing it on first use.
func (c *Cache) For(n int) *BinomialDistribution {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.distributions[n]; ok {
		return d
	}
	d := NewBinomialDistribution(n)
	c.distributions[n] = d
	return d
}
