// Package uunifast samples per-task utilization vectors that sum to a target
// total utilization, using the UUniFast-discard algorithm.
package uunifast

import (
	"math"
	"math/rand"
)

// Generate draws n utilizations summing to U using the UUniFast algorithm,
// each drawn deterministically from the given seed. It returns false when
// any individual utilization exceeds 1 (the "discard" branch of
// UUniFast-discard); callers are expected to retry with a fresh seed.
func Generate(n int, totalUtilization float64, seed uint64) ([]float64, bool) {
	if n <= 0 {
		return nil, false
	}

	rng := rand.New(rand.NewSource(int64(seed))) //nolint:gosec // reproducibility requires a seeded PRNG, not crypto/rand

	utilizations := make([]float64, n)
	sum := totalUtilization

	for i := 0; i < n-1; i++ {
		next := sum * math.Pow(rng.Float64(), 1.0/float64(n-i))
		utilizations[i] = sum - next
		sum = next
	}

	utilizations[n-1] = sum

	for _, u := range utilizations {
		if u > 1 {
			return nil, false
		}
	}

	return utilizations, true
}
