// Package dataset turns categorized documents into labeled, balanced pair
// sets and partitions labeled examples for training and evaluation.
//
// Everything here is deterministic: given the same input order and seed, the
// same pairs, samples and splits come out. Categories are therefore an ordered
// slice rather than a map.
package dataset

import (
	"errors"
	"fmt"
	"strings"
)

// Label marks whether two documents share a category.
type Label int

const (
	// NoMatch labels a pair drawn from two different categories.
	NoMatch Label = 0
	// Match labels a pair drawn from the same category.
	Match Label = 1
)

func (l Label) String() string {
	switch l {
	case Match:
		return "match"
	case NoMatch:
		return "no-match"
	default:
		return fmt.Sprintf("Label(%d)", int(l))
	}
}

// ErrInsufficientData is reported for categories with fewer than two
// documents. Such categories produce no match pairs but do not fail a run on
// their own.
var ErrInsufficientData = errors.New("dataset: insufficient data")

// Category is a named, ordered group of documents. A document belongs to
// exactly one category.
type Category struct {
	Name string
	Docs []string
}

// Pair is two documents and whether they share a category. A is always the
// document that appears first in the input.
type Pair struct {
	A, B  string
	Label Label
}

// GeneratePairs enumerates every labeled pair of the corpus.
//
// Match pairs are all 2-combinations of positions within each category, in
// (i < j) order. No-match pairs are the full cross product of every category
// pair (ci < cj), row-major. A document is never paired with its own position.
//
// Names of categories with fewer than two documents are returned in
// insufficient.
func GeneratePairs(categories []Category) (match, noMatch []Pair, insufficient []string) {
	for _, c := range categories {
		n := len(c.Docs)
		if n < 2 {
			insufficient = append(insufficient, c.Name)
			continue
		}
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				match = append(match, Pair{A: c.Docs[i], B: c.Docs[j], Label: Match})
			}
		}
	}

	for ci := 0; ci < len(categories); ci++ {
		for cj := ci + 1; cj < len(categories); cj++ {
			for _, a := range categories[ci].Docs {
				for _, b := range categories[cj].Docs {
					noMatch = append(noMatch, Pair{A: a, B: b, Label: NoMatch})
				}
			}
		}
	}
	return match, noMatch, insufficient
}

// MatchPairCount returns Σ C(nᵢ, 2) over the category sizes.
func MatchPairCount(categories []Category) int {
	total := 0
	for _, c := range categories {
		n := len(c.Docs)
		total += n * (n - 1) / 2
	}
	return total
}

// NoMatchPairCount returns Σ_{i<j} nᵢ·nⱼ over the category sizes.
func NoMatchPairCount(categories []Category) int {
	total, seen := 0, 0
	for _, c := range categories {
		total += seen * len(c.Docs)
		seen += len(c.Docs)
	}
	return total
}

// Set is a balanced training set together with the bookkeeping a training
// report needs.
type Set struct {
	// Pairs holds all match pairs followed by the sampled no-match pairs.
	Pairs []Pair

	MatchCount     int
	NoMatchTotal   int
	NoMatchSampled int

	// Insufficient lists categories that contributed no match pairs.
	Insufficient []string
}

// Labels returns the label of every pair as 0/1 ints.
func (s *Set) Labels() []int {
	y := make([]int, len(s.Pairs))
	for i, p := range s.Pairs {
		y[i] = int(p.Label)
	}
	return y
}

// Texts returns every document that appears in any pair, first appearance first.
func (s *Set) Texts() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range s.Pairs {
		for _, t := range [2]string{p.A, p.B} {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	return out
}

// Build generates and balances the pair set for categories.
//
// It fails with [ErrInsufficientData] only when no category yields a match
// pair or no no-match pair exists, since nothing can be learned then.
func Build(categories []Category, opts BalanceOptions) (*Set, error) {
	match, noMatch, insufficient := GeneratePairs(categories)
	if len(match) == 0 {
		return nil, fmt.Errorf("%w: no category has at least 2 documents", ErrInsufficientData)
	}
	if len(noMatch) == 0 {
		return nil, fmt.Errorf("%w: at least 2 non-empty categories are required", ErrInsufficientData)
	}
	sampled, err := Balance(match, noMatch, opts)
	if err != nil {
		return nil, err
	}
	pairs := make([]Pair, 0, len(match)+len(sampled))
	pairs = append(pairs, match...)
	pairs = append(pairs, sampled...)
	return &Set{
		Pairs:          pairs,
		MatchCount:     len(match),
		NoMatchTotal:   len(noMatch),
		NoMatchSampled: len(sampled),
		Insufficient:   insufficient,
	}, nil
}

// InsufficientError wraps [ErrInsufficientData] for the named categories.
func InsufficientError(names []string) error {
	if len(names) == 0 {
		return nil
	}
	return fmt.Errorf("%w: categories with fewer than 2 documents: %s",
		ErrInsufficientData, strings.Join(names, ", "))
}
