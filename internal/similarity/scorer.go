// Package similarity computes full and focused cosine similarity between
// texts using the live trained model, and ranks candidates against a target.
package similarity

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/dimfocus/internal/embedcache"
	"github.com/MrWong99/dimfocus/internal/model"
	"github.com/MrWong99/dimfocus/internal/observe"
	"github.com/MrWong99/dimfocus/pkg/provider/embeddings"
	"github.com/MrWong99/dimfocus/pkg/vecmath"
)

// DefaultPreviewChars is the number of characters kept in a ranking preview.
const DefaultPreviewChars = 100

// Result is the outcome of comparing two texts.
type Result struct {
	// Full is the cosine similarity over every embedding dimension.
	Full float64 `json:"full_similarity"`
	// Focused is the cosine similarity over the selected dimensions only.
	Focused float64 `json:"focused_similarity"`
	// Level is the tier of Focused.
	Level MatchLevel `json:"match_level"`
	// Probability is the classifier's same-category probability.
	Probability float64 `json:"match_probability"`
}

// Scorer compares texts with the model currently held by a [model.Holder].
// It is safe for concurrent use; every call gets its own embedding cache.
type Scorer struct {
	provider     embeddings.Provider
	models       *model.Holder
	thresholds   Thresholds
	previewChars int
	cacheOpts    []embedcache.Option
	metrics      *observe.Metrics
}

// Option configures a [Scorer].
type Option func(*Scorer)

// WithThresholds overrides the match tier boundaries.
func WithThresholds(t Thresholds) Option {
	return func(s *Scorer) { s.thresholds = t }
}

// WithPreviewChars sets the preview length used by rankings.
func WithPreviewChars(n int) Option {
	return func(s *Scorer) {
		if n > 0 {
			s.previewChars = n
		}
	}
}

// WithCacheOptions passes options to every per-call embedding cache.
func WithCacheOptions(opts ...embedcache.Option) Option {
	return func(s *Scorer) { s.cacheOpts = append(s.cacheOpts, opts...) }
}

// WithMetrics records inference metrics to m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scorer) { s.metrics = m }
}

// NewScorer returns a Scorer that embeds with p and reads the model from models.
func NewScorer(p embeddings.Provider, models *model.Holder, opts ...Option) *Scorer {
	s := &Scorer{
		provider:     p,
		models:       models,
		thresholds:   DefaultThresholds(),
		previewChars: DefaultPreviewChars,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Thresholds returns the tier boundaries in use.
func (s *Scorer) Thresholds() Thresholds { return s.thresholds }

func (s *Scorer) newCache() *embedcache.Cache {
	opts := append([]embedcache.Option{embedcache.WithMetrics(s.metrics)}, s.cacheOpts...)
	return embedcache.New(s.provider, opts...)
}

// Compare embeds a and b in one provider call and scores them.
//
// It fails with [model.ErrModelNotLoaded] before any provider call when no
// model is available, with [vecmath.ErrDimensionMismatch] when the embeddings
// do not match the model's dimensionality and with
// [vecmath.ErrDegenerateVector] when either embedding has zero norm.
func (s *Scorer) Compare(ctx context.Context, a, b string) (_ Result, err error) {
	ctx, span := observe.StartSpan(ctx, "similarity.Compare")
	defer observe.EndSpan(span, &err)
	defer s.observe(ctx, "compare", time.Now())

	m, err := s.models.Current()
	if err != nil {
		return Result{}, err
	}
	vecs, err := s.newCache().Embed(ctx, []string{a, b})
	if err != nil {
		return Result{}, fmt.Errorf("similarity: embed: %w", err)
	}
	return Score(m, vecs[0], vecs[1], s.thresholds)
}

func (s *Scorer) observe(ctx context.Context, op string, start time.Time) {
	s.metrics.InferenceDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("op", op)))
}

// Score compares two embeddings under m. Full similarity uses every
// dimension; focused similarity uses only m's selection and equals Full when
// the selection is empty.
func Score(m *model.TrainedModel, e1, e2 []float64, th Thresholds) (Result, error) {
	if len(e1) != len(e2) {
		return Result{}, fmt.Errorf("similarity: %w: %d vs %d", vecmath.ErrDimensionMismatch, len(e1), len(e2))
	}
	p1, err := m.Project(e1)
	if err != nil {
		return Result{}, err
	}
	p2, err := m.Project(e2)
	if err != nil {
		return Result{}, err
	}
	full, err := vecmath.Cosine(e1, e2)
	if err != nil {
		return Result{}, err
	}
	focused := full
	if m.SelectedCount() > 0 {
		focused, err = vecmath.Cosine(p1, p2)
		if err != nil {
			return Result{}, err
		}
	}
	prob, err := m.MatchProbability(e1, e2)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Full:        full,
		Focused:     focused,
		Level:       th.Level(focused),
		Probability: prob,
	}, nil
}
