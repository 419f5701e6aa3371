package training_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/dimfocus/internal/dataset"
	"github.com/MrWong99/dimfocus/internal/embedcache"
	"github.com/MrWong99/dimfocus/internal/features"
	"github.com/MrWong99/dimfocus/internal/observe"
	"github.com/MrWong99/dimfocus/internal/training"
	"github.com/MrWong99/dimfocus/pkg/provider/embeddings/mock"
)

const dims = 8

// categoryProvider encodes the category (the text before "/") on dimension 2
// and fills every other dimension with per-text noise.
func categoryProvider() *mock.Provider {
	centres := map[string]float32{"eng": 0.9, "med": -0.9, "law": 0.0}
	p := mock.NewDeterministic(dims)
	p.VectorFunc = func(text string) []float32 {
		v := mock.HashVector(text, dims)
		cat, _, _ := strings.Cut(text, "/")
		v[2] = centres[cat] + v[2]*0.02
		return v
	}
	return p
}

func corpus(perCategory int) []dataset.Category {
	var out []dataset.Category
	for _, name := range []string{"eng", "med", "law"} {
		c := dataset.Category{Name: name}
		for i := range perCategory {
			c.Docs = append(c.Docs, fmt.Sprintf("%s/doc-%d", name, i))
		}
		out = append(out, c)
	}
	return out
}

func newTrainer(t *testing.T, p *mock.Provider, opts training.Options, o ...training.Option) *training.Trainer {
	t.Helper()
	met, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	o = append([]training.Option{training.WithMetrics(met)}, o...)
	tr, err := training.NewTrainer(p, opts, o...)
	if err != nil {
		t.Fatalf("NewTrainer: %v", err)
	}
	return tr
}

func smallOptions() training.Options {
	opts := training.DefaultOptions()
	opts.Classifier.NEstimators = 20
	opts.BatchSize = 7
	return opts
}

func TestTrain_EndToEndCounts(t *testing.T) {
	t.Parallel()
	cats := []dataset.Category{
		{Name: "A", Docs: []string{"x", "y", "z"}},
		{Name: "B", Docs: []string{"p", "q"}},
	}
	rep, m, err := newTrainer(t, mock.NewDeterministic(dims), smallOptions()).Train(context.Background(), cats)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if rep.MatchPairs != 4 || rep.NoMatchPairsTotal != 6 || rep.NoMatchPairsSampled != 4 {
		t.Errorf("pairs = %d/%d/%d, want 4/6/4", rep.MatchPairs, rep.NoMatchPairsTotal, rep.NoMatchPairsSampled)
	}
	if got := rep.TrainExamples + rep.TestExamples; got != 8 {
		t.Errorf("examples = %d, want 8", got)
	}
	if rep.TestExamples != 2 {
		t.Errorf("test examples = %d, want 2", rep.TestExamples)
	}
	if m.Dimensions() != dims || rep.TotalDimensions != dims {
		t.Errorf("dimensions = %d / %d, want %d", m.Dimensions(), rep.TotalDimensions, dims)
	}
	if rep.ModelID != m.ID().String() {
		t.Errorf("report model id %s != %s", rep.ModelID, m.ID())
	}
	if m.EmbeddingModel() != "mock-embed" {
		t.Errorf("EmbeddingModel = %q", m.EmbeddingModel())
	}
}

func TestTrain_FindsDiscriminativeDimension(t *testing.T) {
	t.Parallel()
	rep, m, err := newTrainer(t, categoryProvider(), smallOptions()).Train(context.Background(), corpus(6))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if len(rep.TopDimensions) == 0 || rep.TopDimensions[0].Dim != 2 {
		t.Fatalf("top dimensions = %+v, want dimension 2 first", rep.TopDimensions)
	}
	sel := m.SelectedDimensions()
	if len(sel) == 0 || sel[0] != 2 {
		t.Errorf("selection = %v, want it to start with 2", sel)
	}
	if rep.SelectedCount != len(sel) || rep.SelectedCount > dims {
		t.Errorf("SelectedCount = %d, selection %v", rep.SelectedCount, sel)
	}
	if rep.Accuracy < 0.9 {
		t.Errorf("held-out accuracy = %v, want >= 0.9", rep.Accuracy)
	}
	if !strings.HasSuffix(rep.DimensionReduction, "%") {
		t.Errorf("DimensionReduction = %q", rep.DimensionReduction)
	}
	if rep.Evaluation == nil || rep.Evaluation.Confusion.Total() != rep.TestExamples {
		t.Errorf("evaluation does not cover the test set: %+v", rep.Evaluation)
	}
}

func TestTrain_Deterministic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, m1, err := newTrainer(t, categoryProvider(), smallOptions()).Train(ctx, corpus(5))
	if err != nil {
		t.Fatal(err)
	}
	_, m2, err := newTrainer(t, categoryProvider(), smallOptions()).Train(ctx, corpus(5))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(m1.SelectedDimensions(), m2.SelectedDimensions()) {
		t.Errorf("selections differ: %v vs %v", m1.SelectedDimensions(), m2.SelectedDimensions())
	}
	if !slices.Equal(m1.Importances(), m2.Importances()) {
		t.Error("importances differ between identical runs")
	}
}

func TestTrain_EmbedsEachDocumentOnce(t *testing.T) {
	t.Parallel()
	p := categoryProvider()
	if _, _, err := newTrainer(t, p, smallOptions()).Train(context.Background(), corpus(4)); err != nil {
		t.Fatal(err)
	}
	seen := map[string]int{}
	for _, c := range p.EmbedBatchCalls {
		for _, text := range c.Texts {
			seen[text]++
		}
	}
	for text, n := range seen {
		if n != 1 {
			t.Errorf("%q embedded %d times", text, n)
		}
	}
}

func TestTrain_ReportsInsufficientCategories(t *testing.T) {
	t.Parallel()
	cats := append(corpus(4), dataset.Category{Name: "solo", Docs: []string{"eng/only"}})
	rep, _, err := newTrainer(t, categoryProvider(), smallOptions()).Train(context.Background(), cats)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if !slices.Equal(rep.Insufficient, []string{"solo"}) {
		t.Errorf("Insufficient = %v, want [solo]", rep.Insufficient)
	}
	if !errors.Is(rep.InsufficientData(), dataset.ErrInsufficientData) {
		t.Errorf("InsufficientData() = %v", rep.InsufficientData())
	}
}

func TestTrain_NoMatchPairs(t *testing.T) {
	t.Parallel()
	cats := []dataset.Category{{Name: "a", Docs: []string{"1"}}, {Name: "b", Docs: []string{"2"}}}
	_, _, err := newTrainer(t, categoryProvider(), smallOptions()).Train(context.Background(), cats)
	if !errors.Is(err, dataset.ErrInsufficientData) {
		t.Errorf("Train = %v, want ErrInsufficientData", err)
	}
}

func TestTrain_ProviderError(t *testing.T) {
	t.Parallel()
	p := categoryProvider()
	p.EmbedBatchErr = errors.New("rate limited")
	_, _, err := newTrainer(t, p, smallOptions()).Train(context.Background(), corpus(3))
	var pe *embedcache.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("Train = %v, want *embedcache.ProviderError", err)
	}
}

type recordingSink struct {
	pairs []dataset.Pair
	rows  int
}

func (s *recordingSink) WriteFeatures(pairs []dataset.Pair, m *features.Matrix) error {
	s.pairs = pairs
	s.rows = len(m.X)
	return nil
}

func TestTrain_FeatureSink(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	rep, _, err := newTrainer(t, categoryProvider(), smallOptions(), training.WithFeatureSink(sink)).
		Train(context.Background(), corpus(3))
	if err != nil {
		t.Fatal(err)
	}
	want := rep.MatchPairs + rep.NoMatchPairsSampled
	if len(sink.pairs) != want || sink.rows != want {
		t.Errorf("sink got %d pairs / %d rows, want %d", len(sink.pairs), sink.rows, want)
	}
}

func TestOptions_Validate(t *testing.T) {
	t.Parallel()
	if err := training.DefaultOptions().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
	bad := training.DefaultOptions()
	bad.TestFraction = 1
	bad.Coverage = 0
	bad.NegativeRatio = -1
	err := bad.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"test_fraction", "coverage", "negative_ratio"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
