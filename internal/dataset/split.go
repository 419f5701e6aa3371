package dataset

import (
	"fmt"
	"math"
	"slices"
)

// Split holds example indices for one train/test partition.
type Split struct {
	Train []int
	Test  []int
}

// StratifiedSplit partitions example indices so that every class keeps its
// share in both halves.
//
// For a class with n examples, round(testFraction·n) go to the test set,
// clamped to [1, n-1] when n ≥ 2. A class with a single example stays in the
// training set. Both halves are returned in ascending index order.
func StratifiedSplit(labels []int, testFraction float64, seed uint64) (Split, error) {
	if !(testFraction > 0 && testFraction < 1) {
		return Split{}, fmt.Errorf("dataset: test fraction must be in (0,1), got %v", testFraction)
	}
	if len(labels) == 0 {
		return Split{}, fmt.Errorf("dataset: no examples to split")
	}

	r := newRand(seed)
	var s Split
	for _, idx := range byClass(labels) {
		r.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		n := len(idx)
		nTest := int(math.Round(testFraction * float64(n)))
		if n >= 2 {
			nTest = max(1, min(nTest, n-1))
		} else {
			nTest = 0
		}
		s.Test = append(s.Test, idx[:nTest]...)
		s.Train = append(s.Train, idx[nTest:]...)
	}
	if len(s.Test) == 0 {
		return Split{}, fmt.Errorf("%w: too few examples for a held-out set", ErrInsufficientData)
	}
	slices.Sort(s.Train)
	slices.Sort(s.Test)
	return s, nil
}

// StratifiedKFold assigns every example to one of k test folds, dealing each
// class round-robin after a seeded shuffle. Fold i trains on every other fold.
func StratifiedKFold(labels []int, k int, seed uint64) ([]Split, error) {
	if k < 2 {
		return nil, fmt.Errorf("dataset: k must be at least 2, got %d", k)
	}
	if len(labels) < k {
		return nil, fmt.Errorf("%w: %d examples for %d folds", ErrInsufficientData, len(labels), k)
	}

	fold := make([]int, len(labels))
	r := newRand(seed)
	offset := 0
	for _, idx := range byClass(labels) {
		r.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for i, ex := range idx {
			fold[ex] = (offset + i) % k
		}
		offset += len(idx)
	}

	splits := make([]Split, k)
	for ex, f := range fold {
		for i := range splits {
			if i == f {
				splits[i].Test = append(splits[i].Test, ex)
			} else {
				splits[i].Train = append(splits[i].Train, ex)
			}
		}
	}
	return splits, nil
}

// byClass groups example indices by label, classes in ascending label order.
func byClass(labels []int) [][]int {
	groups := make(map[int][]int)
	for i, l := range labels {
		groups[l] = append(groups[l], i)
	}
	classes := make([]int, 0, len(groups))
	for c := range groups {
		classes = append(classes, c)
	}
	slices.Sort(classes)
	out := make([][]int, len(classes))
	for i, c := range classes {
		out[i] = groups[c]
	}
	return out
}
