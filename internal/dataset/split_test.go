package dataset_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/dimfocus/internal/dataset"
)

func countClass(labels []int, idx []int, class int) int {
	n := 0
	for _, i := range idx {
		if labels[i] == class {
			n++
		}
	}
	return n
}

func TestStratifiedSplit_PreservesRatio(t *testing.T) {
	labels := make([]int, 100)
	for i := range 30 {
		labels[i] = 1
	}

	s, err := dataset.StratifiedSplit(labels, 0.2, 42)
	if err != nil {
		t.Fatalf("StratifiedSplit: %v", err)
	}
	if len(s.Test) != 20 || len(s.Train) != 80 {
		t.Fatalf("sizes = %d/%d, want 80/20", len(s.Train), len(s.Test))
	}
	if got := countClass(labels, s.Test, 1); got != 6 {
		t.Errorf("positives in test = %d, want 6", got)
	}
	if got := countClass(labels, s.Train, 1); got != 24 {
		t.Errorf("positives in train = %d, want 24", got)
	}

	all := append(slices.Clone(s.Train), s.Test...)
	slices.Sort(all)
	for i, v := range all {
		if v != i {
			t.Fatalf("split is not a partition of the indices")
		}
	}
}

func TestStratifiedSplit_SmallScenario(t *testing.T) {
	labels := []int{1, 1, 1, 1, 0, 0, 0, 0}
	s, err := dataset.StratifiedSplit(labels, 0.2, 42)
	if err != nil {
		t.Fatalf("StratifiedSplit: %v", err)
	}
	if len(s.Test) != 2 {
		t.Errorf("test size = %d, want 2", len(s.Test))
	}
	if countClass(labels, s.Test, 1) != 1 || countClass(labels, s.Test, 0) != 1 {
		t.Errorf("test set is not stratified: %v", s.Test)
	}
}

func TestStratifiedSplit_Deterministic(t *testing.T) {
	labels := []int{0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 1, 1}
	a, _ := dataset.StratifiedSplit(labels, 0.25, 3)
	b, _ := dataset.StratifiedSplit(labels, 0.25, 3)
	if !slices.Equal(a.Test, b.Test) || !slices.Equal(a.Train, b.Train) {
		t.Error("same seed produced different splits")
	}
}

func TestStratifiedSplit_Errors(t *testing.T) {
	for _, frac := range []float64{0, 1, -0.1, 1.5} {
		if _, err := dataset.StratifiedSplit([]int{0, 1, 0, 1}, frac, 1); err == nil {
			t.Errorf("fraction %v: expected error", frac)
		}
	}
	if _, err := dataset.StratifiedSplit(nil, 0.2, 1); err == nil {
		t.Error("empty labels: expected error")
	}
	if _, err := dataset.StratifiedSplit([]int{0, 1}, 0.2, 1); err == nil {
		t.Error("single example per class: expected error")
	}
}

func TestStratifiedKFold(t *testing.T) {
	labels := make([]int, 25)
	for i := range 10 {
		labels[i] = 1
	}
	folds, err := dataset.StratifiedKFold(labels, 5, 42)
	if err != nil {
		t.Fatalf("StratifiedKFold: %v", err)
	}
	if len(folds) != 5 {
		t.Fatalf("folds = %d, want 5", len(folds))
	}

	seen := make(map[int]int)
	for _, f := range folds {
		if len(f.Test)+len(f.Train) != len(labels) {
			t.Errorf("fold does not cover all examples")
		}
		if got := countClass(labels, f.Test, 1); got != 2 {
			t.Errorf("positives per fold = %d, want 2", got)
		}
		for _, i := range f.Test {
			seen[i]++
		}
	}
	for i := range labels {
		if seen[i] != 1 {
			t.Errorf("example %d is in %d test folds, want 1", i, seen[i])
		}
	}

	if _, err := dataset.StratifiedKFold(labels, 1, 42); err == nil {
		t.Error("k=1: expected error")
	}
	if _, err := dataset.StratifiedKFold([]int{0, 1}, 5, 42); err == nil {
		t.Error("too few examples: expected error")
	}
}
