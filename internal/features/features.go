// Package features turns labeled document pairs into classifier inputs.
//
// The feature vector of a pair is the element-wise absolute difference of the
// two document embeddings. Dimensions on which same-category documents agree
// and different-category documents disagree end up carrying the signal the
// classifier learns from.
package features

import (
	"context"
	"fmt"

	"github.com/MrWong99/dimfocus/internal/dataset"
	"github.com/MrWong99/dimfocus/internal/embedcache"
	"github.com/MrWong99/dimfocus/pkg/vecmath"
)

// AbsDiff returns |a[i] - b[i]| for every i. It fails with
// [vecmath.ErrDimensionMismatch] when the lengths differ.
func AbsDiff(a, b []float64) ([]float64, error) {
	return vecmath.AbsDiff(a, b)
}

// Matrix is a feature matrix with one row per pair and its 0/1 labels.
type Matrix struct {
	X [][]float64
	Y []int
}

// Dimensions returns the row length, or 0 for an empty matrix.
func (m *Matrix) Dimensions() int {
	if len(m.X) == 0 {
		return 0
	}
	return len(m.X[0])
}

// Rows returns the sub-matrix made of the given row indices.
func (m *Matrix) Rows(idx []int) *Matrix {
	out := &Matrix{X: make([][]float64, len(idx)), Y: make([]int, len(idx))}
	for i, j := range idx {
		out.X[i] = m.X[j]
		out.Y[i] = m.Y[j]
	}
	return out
}

// VectorStore embeds texts once and serves their vectors afterwards.
// [*embedcache.Cache] is the production implementation.
type VectorStore interface {
	Fill(ctx context.Context, texts []string) error
	Vectors(texts []string) ([][]float64, error)
}

var _ VectorStore = (*embedcache.Cache)(nil)

// Builder embeds pair documents through a scoped cache and builds features.
type Builder struct {
	cache VectorStore
}

// NewBuilder returns a Builder that embeds through cache.
func NewBuilder(cache VectorStore) *Builder {
	return &Builder{cache: cache}
}

// Build embeds every distinct document in pairs exactly once and returns the
// feature matrix in pair order.
func (b *Builder) Build(ctx context.Context, pairs []dataset.Pair) (*Matrix, error) {
	texts := make([]string, 0, 2*len(pairs))
	for _, p := range pairs {
		texts = append(texts, p.A, p.B)
	}
	if err := b.cache.Fill(ctx, texts); err != nil {
		return nil, fmt.Errorf("features: embed documents: %w", err)
	}

	m := &Matrix{X: make([][]float64, len(pairs)), Y: make([]int, len(pairs))}
	for i, p := range pairs {
		vecs, err := b.cache.Vectors([]string{p.A, p.B})
		if err != nil {
			return nil, fmt.Errorf("features: pair %d: %w", i, err)
		}
		row, err := AbsDiff(vecs[0], vecs[1])
		if err != nil {
			return nil, fmt.Errorf("features: pair %d: %w", i, err)
		}
		m.X[i] = row
		m.Y[i] = int(p.Label)
	}
	return m, nil
}
