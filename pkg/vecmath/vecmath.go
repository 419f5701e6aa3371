// Package vecmath holds the small set of dense-vector operations the
// similarity pipeline is built on: cosine similarity, index projection and
// element-wise absolute difference.
//
// All functions operate on []float64. Provider embeddings arrive as []float32
// and are widened once with [Widen] so that the arithmetic below is done in
// double precision.
package vecmath

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDimensionMismatch is returned when two vectors that must share a
	// length do not. It usually means two embeddings came from different
	// models or model versions.
	ErrDimensionMismatch = errors.New("vecmath: dimension mismatch")

	// ErrDegenerateVector is returned when cosine similarity is requested for
	// a vector with zero norm.
	ErrDegenerateVector = errors.New("vecmath: degenerate (zero-norm) vector")
)

// Widen converts a float32 embedding to float64.
func Widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// Dot returns the dot product of a and b.
func Dot(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum, nil
}

// Norm returns the Euclidean norm of v.
func Norm(v []float64) float64 {
	var sum float64
	for _, f := range v {
		sum += f * f
	}
	return math.Sqrt(sum)
}

// Cosine returns dot(a,b) / (‖a‖·‖b‖).
//
// It fails with [ErrDimensionMismatch] when the lengths differ and with
// [ErrDegenerateVector] when either vector has zero norm. A zero norm is never
// coerced to a similarity of 0. The result is clamped to [-1, 1] to absorb
// rounding error.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, ErrDegenerateVector
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return max(-1, min(1, sim)), nil
}

// Project returns the coordinates of v at the given indices, in index order.
// Every index must lie in [0, len(v)).
func Project(v []float64, indices []int) ([]float64, error) {
	out := make([]float64, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(v) {
			return nil, fmt.Errorf("%w: index %d outside vector of length %d", ErrDimensionMismatch, idx, len(v))
		}
		out[i] = v[idx]
	}
	return out, nil
}

// AbsDiff returns the element-wise absolute difference |a[i] - b[i]|.
func AbsDiff(a, b []float64) ([]float64, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = math.Abs(a[i] - b[i])
	}
	return out, nil
}
