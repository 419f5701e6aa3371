package pii

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/dimfocus/pkg/vecmath"
)

// Scaler standardises features to zero mean and unit variance. Dimensions
// with zero variance keep a scale of 1.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes per-dimension mean and population standard deviation.
func FitScaler(X [][]float64) (*Scaler, error) {
	if len(X) == 0 {
		return nil, errors.New("pii: cannot fit scaler on zero rows")
	}
	d := len(X[0])
	s := &Scaler{Mean: make([]float64, d), Scale: make([]float64, d)}
	for i, row := range X {
		if len(row) != d {
			return nil, fmt.Errorf("pii: row %d: %w: %d vs %d", i, vecmath.ErrDimensionMismatch, len(row), d)
		}
		for f, v := range row {
			s.Mean[f] += v
		}
	}
	n := float64(len(X))
	for f := range s.Mean {
		s.Mean[f] /= n
	}
	for _, row := range X {
		for f, v := range row {
			dv := v - s.Mean[f]
			s.Scale[f] += dv * dv
		}
	}
	for f := range s.Scale {
		s.Scale[f] = math.Sqrt(s.Scale[f] / n)
		if s.Scale[f] == 0 {
			s.Scale[f] = 1
		}
	}
	return s, nil
}

// Dimensions returns the feature count the scaler was fitted on.
func (s *Scaler) Dimensions() int { return len(s.Mean) }

// Transform returns the standardised copy of x.
func (s *Scaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("pii: %w: %d vs %d", vecmath.ErrDimensionMismatch, len(x), len(s.Mean))
	}
	out := make([]float64, len(x))
	for f, v := range x {
		out[f] = (v - s.Mean[f]) / s.Scale[f]
	}
	return out, nil
}

// TransformAll standardises every row of X.
func (s *Scaler) TransformAll(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, x := range X {
		row, err := s.Transform(x)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = row
	}
	return out, nil
}
