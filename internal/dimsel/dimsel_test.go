package dimsel_test

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/MrWong99/dimfocus/internal/dimsel"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		name     string
		imp      []float64
		coverage float64
		want     []int
	}{
		{
			// Cumulative sums before inclusion: 0, 0.5, 0.8 are all < 0.9;
			// after index 2 the sum reaches 0.9 and selection stops.
			name:     "literal profile",
			imp:      []float64{0.5, 0.3, 0.1, 0.1},
			coverage: 0.9,
			want:     []int{0, 1, 2},
		},
		{
			name:     "unsorted input keeps ranked order",
			imp:      []float64{0.1, 0.6, 0.0, 0.3},
			coverage: 0.8,
			want:     []int{1, 3},
		},
		{
			name:     "ties broken by ascending index",
			imp:      []float64{0.25, 0.25, 0.25, 0.25},
			coverage: 0.5,
			want:     []int{0, 1},
		},
		{
			name:     "unnormalised scores",
			imp:      []float64{2, 6, 2},
			coverage: 0.6,
			want:     []int{1},
		},
		{
			name:     "full coverage takes every non-zero dimension",
			imp:      []float64{0.5, 0, 0.5},
			coverage: 1,
			want:     []int{0, 2},
		},
		{
			name:     "single dominant dimension",
			imp:      []float64{0, 0, 1, 0},
			coverage: 0.9,
			want:     []int{2},
		},
		{
			name:     "zero total",
			imp:      []float64{0, 0, 0},
			coverage: 0.9,
			want:     []int{},
		},
		{
			name:     "empty profile",
			imp:      nil,
			coverage: 0.9,
			want:     []int{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := dimsel.Select(tt.imp, tt.coverage)
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Select = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelect_NonEmptyWhenTotalPositive(t *testing.T) {
	imp := []float64{1e-9, 0, 0}
	got, err := dimsel.Select(imp, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("Select = %v, want one dimension", got)
	}
}

// With full coverage and many fractional scores, the running sum must still
// reach the total, so zero-importance dimensions are never selected.
func TestSelect_FullCoverageExcludesZeros(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for trial := range 200 {
		imp := make([]float64, 50)
		for i := range 40 {
			imp[i] = r.Float64()
		}
		r.Shuffle(len(imp), func(i, j int) { imp[i], imp[j] = imp[j], imp[i] })

		got, err := dimsel.Select(imp, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 40 {
			t.Fatalf("trial %d: selected %d dimensions, want the 40 non-zero ones", trial, len(got))
		}
		for _, d := range got {
			if imp[d] == 0 {
				t.Fatalf("trial %d: zero-importance dimension %d selected", trial, d)
			}
		}
	}
}

func TestSelect_Errors(t *testing.T) {
	for _, c := range []float64{0, -0.1, 1.01} {
		if _, err := dimsel.Select([]float64{1}, c); err == nil {
			t.Errorf("coverage %v: expected error", c)
		}
	}
	if _, err := dimsel.Select([]float64{0.5, -0.1}, 0.9); err == nil {
		t.Error("negative score: expected error")
	}
}

func TestTop(t *testing.T) {
	got := dimsel.Top([]float64{0.1, 0.4, 0.2, 0.3}, 2)
	want := []dimsel.Ranked{{Dim: 1, Importance: 0.4}, {Dim: 3, Importance: 0.3}}
	if !slices.Equal(got, want) {
		t.Errorf("Top = %v, want %v", got, want)
	}
	if got := dimsel.Top([]float64{1}, 10); len(got) != 1 {
		t.Errorf("Top beyond length = %v", got)
	}
}

func TestReduction(t *testing.T) {
	if got := dimsel.Reduction(1536, 120); got != "92.2%" {
		t.Errorf("Reduction = %q, want 92.2%%", got)
	}
	if got := dimsel.Reduction(4, 4); got != "0.0%" {
		t.Errorf("Reduction = %q, want 0.0%%", got)
	}
	if got := dimsel.Reduction(0, 0); got != "0.0%" {
		t.Errorf("Reduction = %q", got)
	}
}
