package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// DefaultSeed is the seed used for sampling and splitting unless configured.
const DefaultSeed uint64 = 42

// BalanceOptions controls no-match downsampling.
type BalanceOptions struct {
	// Seed drives the sampler. Equal seeds and inputs give equal samples.
	Seed uint64

	// NegativeRatio is the number of no-match pairs to keep per match pair.
	// 1 keeps the classes equal in size. Zero means 1.
	NegativeRatio float64
}

// DefaultBalanceOptions returns seed 42 and a 1:1 ratio.
func DefaultBalanceOptions() BalanceOptions {
	return BalanceOptions{Seed: DefaultSeed, NegativeRatio: 1}
}

// Balance downsamples noMatch to round(NegativeRatio·len(match)) pairs,
// uniformly and without replacement. When noMatch is already at or below the
// target it is returned unchanged; pairs are never fabricated.
//
// The sample keeps the original relative order of the chosen pairs.
func Balance(match, noMatch []Pair, opts BalanceOptions) ([]Pair, error) {
	ratio := opts.NegativeRatio
	if ratio == 0 {
		ratio = 1
	}
	if ratio < 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return nil, fmt.Errorf("dataset: negative ratio must be positive, got %v", opts.NegativeRatio)
	}

	target := int(math.Round(ratio * float64(len(match))))
	if len(noMatch) <= target {
		return noMatch, nil
	}

	idx := SampleIndices(len(noMatch), target, opts.Seed)
	out := make([]Pair, len(idx))
	for i, j := range idx {
		out[i] = noMatch[j]
	}
	return out, nil
}

// SampleIndices draws k distinct indices from [0, n) with a seeded partial
// Fisher-Yates shuffle and returns them in ascending order.
func SampleIndices(n, k int, seed uint64) []int {
	k = max(0, min(k, n))
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	r := newRand(seed)
	for i := 0; i < k; i++ {
		j := i + r.IntN(n-i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	out := perm[:k:k]
	slices.Sort(out)
	return out
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
}
