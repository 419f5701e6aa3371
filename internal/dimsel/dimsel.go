// Package dimsel chooses the embedding dimensions that carry most of a
// classifier's importance mass.
package dimsel

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// DefaultCoverage is the share of total importance the selection must reach.
const DefaultCoverage = 0.9

// Ranked is a dimension index and its importance score.
type Ranked struct {
	Dim        int     `json:"dimension"`
	Importance float64 `json:"importance"`
}

// Rank orders dimensions by importance descending, ties by ascending index.
func Rank(importances []float64) []Ranked {
	out := make([]Ranked, len(importances))
	for i, v := range importances {
		out[i] = Ranked{Dim: i, Importance: v}
	}
	slices.SortStableFunc(out, func(a, b Ranked) int {
		if c := cmp.Compare(b.Importance, a.Importance); c != 0 {
			return c
		}
		return cmp.Compare(a.Dim, b.Dim)
	})
	return out
}

// Top returns the n highest-ranked dimensions.
func Top(importances []float64, n int) []Ranked {
	r := Rank(importances)
	return r[:min(max(n, 0), len(r))]
}

// Select walks the ranked dimensions and includes each one while the
// cumulative importance before adding it is strictly below coverage·total.
// The result is in ranked order.
//
// When the total is zero the selection is empty. coverage must be in (0, 1]
// and every score must be non-negative and finite.
func Select(importances []float64, coverage float64) ([]int, error) {
	if !(coverage > 0 && coverage <= 1) {
		return nil, fmt.Errorf("dimsel: coverage must be in (0,1], got %v", coverage)
	}
	for i, v := range importances {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("dimsel: importance of dimension %d is %v", i, v)
		}
	}

	// The total is summed in the same order as the walk so that the running
	// sum reaches it exactly after the last non-zero dimension.
	ranked := Rank(importances)
	var total float64
	for _, r := range ranked {
		total += r.Importance
	}
	if total == 0 {
		return []int{}, nil
	}

	limit := coverage * total
	var cum float64
	selected := []int{}
	for _, r := range ranked {
		if cum >= limit || r.Importance == 0 {
			break
		}
		selected = append(selected, r.Dim)
		cum += r.Importance
	}
	return selected, nil
}

// Reduction returns the share of dimensions dropped by a selection, formatted
// as a percentage with one decimal ("92.2%").
func Reduction(total, selected int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", (1-float64(selected)/float64(total))*100)
}
