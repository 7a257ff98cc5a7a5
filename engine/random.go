package engine

import (
	"fmt"
	"math"
	"math/rand"
)

// NewRand returns a random source owned by the caller. Trial orders and
// intervals are drawn from it so that a seed reproduces a session.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// Uniform draws from [lo, hi).
func Uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// UniformFrames draws an interval in seconds from [lo, hi) and rounds it to
// frames.
func UniformFrames(rng *rand.Rand, lo, hi, fps float64) int {
	return int(math.Round(Uniform(rng, lo, hi) * fps))
}

// Choice picks one of values with the given probabilities.
func Choice(rng *rand.Rand, values []float64, probs []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("choice from an empty set: %w", ErrInvalidArgument)
	}
	if probs == nil {
		return values[rng.Intn(len(values))], nil
	}
	if len(probs) != len(values) {
		return 0, fmt.Errorf("%d probabilities for %d values: %w", len(probs), len(values), ErrInvalidArgument)
	}
	var sum float64
	for _, p := range probs {
		if p < 0 {
			return 0, fmt.Errorf("negative probability %v: %w", p, ErrInvalidArgument)
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		return 0, fmt.Errorf("probabilities sum to %v, not 1: %w", sum, ErrInvalidArgument)
	}
	u := rng.Float64()
	var acc float64
	for i, p := range probs {
		acc += p
		if u < acc {
			return values[i], nil
		}
	}
	return values[len(values)-1], nil
}

// TileShuffled repeats values n times and optionally shuffles the result.
func TileShuffled(rng *rand.Rand, values []float64, n int, shuffle bool) []float64 {
	out := make([]float64, 0, len(values)*n)
	for i := 0; i < n; i++ {
		out = append(out, values...)
	}
	if shuffle {
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return out
}
