package similarity_test

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/dimfocus/internal/embedcache"
	"github.com/MrWong99/dimfocus/internal/gbt"
	"github.com/MrWong99/dimfocus/internal/model"
	"github.com/MrWong99/dimfocus/internal/observe"
	"github.com/MrWong99/dimfocus/internal/similarity"
	"github.com/MrWong99/dimfocus/pkg/provider/embeddings/mock"
	"github.com/MrWong99/dimfocus/pkg/vecmath"
)

const dims = 4

func noopMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// holderWith returns a Holder with a model over dims features that selects
// the given dimensions.
func holderWith(t *testing.T, selected []int) *model.Holder {
	t.Helper()
	r := rand.New(rand.NewPCG(3, 3))
	X := make([][]float64, 60)
	y := make([]int, 60)
	for i := range X {
		X[i] = make([]float64, dims)
		for f := range X[i] {
			X[i][f] = r.Float64()
		}
		if X[i][0] < 0.5 {
			y[i] = 1
		}
	}
	p := gbt.DefaultParams()
	p.NEstimators = 5
	clf, err := gbt.New(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := clf.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	m, err := model.New(model.Spec{
		EmbeddingModel: "mock-embed",
		Coverage:       0.9,
		Selected:       selected,
		Importances:    clf.FeatureImportances(),
		Classifier:     clf,
	})
	if err != nil {
		t.Fatal(err)
	}
	h := model.NewHolder(noopMetrics(t))
	h.Swap(context.Background(), m, "train")
	return h
}

func newProvider(vectors map[string][]float32) *mock.Provider {
	p := mock.NewDeterministic(dims)
	p.Vectors = vectors
	return p
}

func newScorer(t *testing.T, p *mock.Provider, h *model.Holder, opts ...similarity.Option) *similarity.Scorer {
	t.Helper()
	opts = append([]similarity.Option{similarity.WithMetrics(noopMetrics(t))}, opts...)
	return similarity.NewScorer(p, h, opts...)
}

func TestThresholds_StrictBoundaries(t *testing.T) {
	t.Parallel()
	th := similarity.DefaultThresholds()
	tests := []struct {
		score float64
		want  similarity.MatchLevel
	}{
		{1.0, similarity.High},
		{0.7000001, similarity.High},
		{0.7, similarity.Medium},
		{0.5000001, similarity.Medium},
		{0.5, similarity.Low},
		{-1, similarity.Low},
	}
	for _, tt := range tests {
		if got := th.Level(tt.score); got != tt.want {
			t.Errorf("Level(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestThresholds_Validate(t *testing.T) {
	t.Parallel()
	if err := similarity.DefaultThresholds().Validate(); err != nil {
		t.Errorf("default thresholds invalid: %v", err)
	}
	if err := (similarity.Thresholds{High: 0.5, Medium: 0.5}).Validate(); err == nil {
		t.Error("expected error for high == medium")
	}
	if err := (similarity.Thresholds{High: 2, Medium: 0.5}).Validate(); err == nil {
		t.Error("expected error for high > 1")
	}
}

func TestMatchLevel_Text(t *testing.T) {
	t.Parallel()
	for _, l := range []similarity.MatchLevel{similarity.Low, similarity.Medium, similarity.High} {
		b, err := l.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var back similarity.MatchLevel
		if err := back.UnmarshalText([]byte(strings.ToUpper(string(b)))); err != nil {
			t.Fatalf("UnmarshalText(%s): %v", b, err)
		}
		if back != l {
			t.Errorf("round trip %v -> %v", l, back)
		}
	}
	var l similarity.MatchLevel
	if err := l.UnmarshalText([]byte("perfect")); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestCompare_NoModel(t *testing.T) {
	t.Parallel()
	p := newProvider(nil)
	s := newScorer(t, p, model.NewHolder(noopMetrics(t)))

	_, err := s.Compare(context.Background(), "a", "b")
	if !errors.Is(err, model.ErrModelNotLoaded) {
		t.Fatalf("Compare = %v, want ErrModelNotLoaded", err)
	}
	if n := len(p.EmbedBatchCalls); n != 0 {
		t.Errorf("provider called %d times without a model", n)
	}
}

func TestCompare_IdenticalTextIsHigh(t *testing.T) {
	t.Parallel()
	s := newScorer(t, newProvider(nil), holderWith(t, []int{0, 2}))

	res, err := s.Compare(context.Background(), "senior go engineer", "senior go engineer")
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if math.Abs(res.Full-1) > 1e-6 || math.Abs(res.Focused-1) > 1e-6 {
		t.Errorf("self similarity = %v / %v, want 1", res.Full, res.Focused)
	}
	if res.Level != similarity.High {
		t.Errorf("Level = %v, want High", res.Level)
	}
}

func TestCompare_Symmetric(t *testing.T) {
	t.Parallel()
	s := newScorer(t, newProvider(nil), holderWith(t, []int{1, 3}))
	ctx := context.Background()

	ab, err := s.Compare(ctx, "data analyst", "nurse practitioner")
	if err != nil {
		t.Fatal(err)
	}
	ba, err := s.Compare(ctx, "nurse practitioner", "data analyst")
	if err != nil {
		t.Fatal(err)
	}
	if ab.Full != ba.Full || ab.Focused != ba.Focused || ab.Level != ba.Level {
		t.Errorf("Compare not symmetric: %+v vs %+v", ab, ba)
	}
}

func TestCompare_FocusedUsesSelection(t *testing.T) {
	t.Parallel()
	p := newProvider(map[string][]float32{
		"a": {1, 0, 1, 0},
		"b": {1, 0, -1, 0},
	})
	ctx := context.Background()

	res, err := newScorer(t, p, holderWith(t, []int{0, 1})).Compare(ctx, "a", "b")
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if math.Abs(res.Full) > 1e-9 {
		t.Errorf("Full = %v, want 0", res.Full)
	}
	if math.Abs(res.Focused-1) > 1e-9 {
		t.Errorf("Focused = %v, want 1", res.Focused)
	}
	if res.Level != similarity.High {
		t.Errorf("Level = %v, want High", res.Level)
	}
	if n := len(p.EmbedBatchCalls); n != 1 {
		t.Errorf("EmbedBatch called %d times, want 1", n)
	}

	res, err = newScorer(t, p, holderWith(t, []int{})).Compare(ctx, "a", "b")
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if res.Focused != res.Full {
		t.Errorf("empty selection: Focused %v != Full %v", res.Focused, res.Full)
	}
}

func TestCompare_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := holderWith(t, []int{0})

	zero := newProvider(map[string][]float32{"zero": {0, 0, 0, 0}})
	if _, err := newScorer(t, zero, h).Compare(ctx, "zero", "other"); !errors.Is(err, vecmath.ErrDegenerateVector) {
		t.Errorf("zero vector: got %v, want ErrDegenerateVector", err)
	}

	short := mock.NewDeterministic(3)
	if _, err := newScorer(t, short, h).Compare(ctx, "a", "b"); !errors.Is(err, vecmath.ErrDimensionMismatch) {
		t.Errorf("3-dim embeddings: got %v, want ErrDimensionMismatch", err)
	}

	failing := newProvider(nil)
	failing.EmbedBatchErr = errors.New("quota exceeded")
	_, err := newScorer(t, failing, h).Compare(ctx, "a", "b")
	var pe *embedcache.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("provider failure: got %v, want *embedcache.ProviderError", err)
	}
	if pe.Model != "mock-embed" || pe.Texts != 2 {
		t.Errorf("ProviderError = %+v", pe)
	}
}

func TestFindSimilar(t *testing.T) {
	t.Parallel()
	p := newProvider(map[string][]float32{
		"target": {1, 0, 0, 0},
		"close":  {0.9, 0.1, 0, 0},
		"same":   {2, 0, 0, 0},
		"far":    {-1, 0.2, 0, 0},
		"mid":    {0.5, 0.5, 0, 0},
		"twin":   {4, 0, 0, 0},
	})
	s := newScorer(t, p, holderWith(t, []int{0, 1}))
	r := similarity.NewRanker(s)
	candidates := []string{"far", "same", "mid", "twin", "close"}

	got, err := r.FindSimilar(context.Background(), "target", candidates, 10)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	wantOrder := []int{1, 3, 4, 2, 0}
	if len(got.Matches) != len(wantOrder) {
		t.Fatalf("got %d matches, want %d", len(got.Matches), len(wantOrder))
	}
	for i, m := range got.Matches {
		if m.Index != wantOrder[i] {
			t.Errorf("rank %d: index %d, want %d", i, m.Index, wantOrder[i])
		}
		if m.Text != candidates[m.Index] {
			t.Errorf("rank %d: text %q, want %q", i, m.Text, candidates[m.Index])
		}
	}
	if got.Matches[0].Level != similarity.High || got.Matches[4].Level != similarity.Low {
		t.Errorf("levels = %v .. %v", got.Matches[0].Level, got.Matches[4].Level)
	}
	if n := len(p.EmbedBatchCalls); n != 1 {
		t.Errorf("EmbedBatch called %d times, want 1", n)
	}

	top2, err := r.FindSimilar(context.Background(), "target", candidates, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(top2.Matches) != 2 || top2.Matches[0].Index != 1 || top2.Matches[1].Index != 3 {
		t.Errorf("top 2 = %+v", top2.Matches)
	}
}

func TestFindSimilar_TopK(t *testing.T) {
	t.Parallel()
	p := newProvider(nil)
	r := similarity.NewRanker(newScorer(t, p, holderWith(t, []int{0})))
	ctx := context.Background()

	if _, err := r.FindSimilar(ctx, "t", []string{"a"}, -1); !errors.Is(err, similarity.ErrInvalidTopK) {
		t.Errorf("negative top_k: got %v, want ErrInvalidTopK", err)
	}

	got, err := r.FindSimilar(ctx, "t", []string{"a", "b"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Matches) != 0 {
		t.Errorf("top_k 0 returned %d matches", len(got.Matches))
	}
	if len(p.EmbedBatchCalls) != 0 {
		t.Error("top_k 0 should not embed")
	}
}

func TestFindSimilar_SkipsDegenerateCandidates(t *testing.T) {
	t.Parallel()
	p := newProvider(map[string][]float32{
		"target": {1, 0, 0, 0},
		"zero":   {0, 0, 0, 0},
		// Zero on the selected dimensions only.
		"offaxis": {0, 0, 1, 1},
		"ok":      {1, 1, 0, 0},
	})
	r := similarity.NewRanker(newScorer(t, p, holderWith(t, []int{0, 1})))

	got, err := r.FindSimilar(context.Background(), "target", []string{"zero", "ok", "offaxis"}, 5)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(got.Matches) != 1 || got.Matches[0].Index != 1 {
		t.Errorf("matches = %+v, want only index 1", got.Matches)
	}
	if len(got.Skipped) != 2 {
		t.Fatalf("skipped = %+v, want 2 entries", got.Skipped)
	}
	for i, want := range []int{0, 2} {
		if got.Skipped[i].Index != want || !errors.Is(got.Skipped[i].Err, vecmath.ErrDegenerateVector) {
			t.Errorf("skipped[%d] = %+v", i, got.Skipped[i])
		}
	}
}

func TestFindSimilar_DegenerateTargetAborts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		target   []float32
		selected []int
	}{
		{"zero vector", []float32{0, 0, 0, 0}, []int{0}},
		{"zero on selected dimensions", []float32{0, 0, 1, 0}, []int{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newProvider(map[string][]float32{
				"target": tt.target,
				"a":      {1, 0, 0, 0},
				"b":      {0, 1, 0, 0},
			})
			r := similarity.NewRanker(newScorer(t, p, holderWith(t, tt.selected)))
			got, err := r.FindSimilar(context.Background(), "target", []string{"a", "b"}, 2)
			if !errors.Is(err, vecmath.ErrDegenerateVector) {
				t.Fatalf("got %+v, %v; want ErrDegenerateVector", got, err)
			}
			if got != nil {
				t.Errorf("ranking = %+v, want nil on abort", got)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()
	if got := similarity.Preview("short", 100); got != "short" {
		t.Errorf("Preview(short) = %q", got)
	}
	long := strings.Repeat("ä", 120)
	got := similarity.Preview(long, 100)
	if !strings.HasSuffix(got, "...") || len([]rune(got)) != 103 {
		t.Errorf("Preview(long) has %d runes", len([]rune(got)))
	}
}
