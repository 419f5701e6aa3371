// Package training runs the similarity training pipeline: pair generation,
// balancing, embedding, feature building, classifier fitting and dimension
// selection. The result is an immutable [model.TrainedModel] plus a report.
package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/dimfocus/internal/dataset"
	"github.com/MrWong99/dimfocus/internal/dimsel"
	"github.com/MrWong99/dimfocus/internal/embedcache"
	"github.com/MrWong99/dimfocus/internal/evaluate"
	"github.com/MrWong99/dimfocus/internal/features"
	"github.com/MrWong99/dimfocus/internal/gbt"
	"github.com/MrWong99/dimfocus/internal/model"
	"github.com/MrWong99/dimfocus/internal/observe"
	"github.com/MrWong99/dimfocus/pkg/provider/embeddings"
)

// TopDimensionCount is the number of dimensions listed in a report.
const TopDimensionCount = 10

// ClassNames label the two classes in evaluation reports.
var ClassNames = [2]string{"Different Field", "Same Field"}

// Options controls one training run.
type Options struct {
	// TestFraction is the held-out share of examples, in (0, 1).
	TestFraction float64
	// Seed drives balancing and splitting.
	Seed uint64
	// Coverage is the importance mass the dimension selection must reach.
	Coverage float64
	// NegativeRatio is the number of no-match pairs kept per match pair.
	NegativeRatio float64
	Classifier    gbt.Params
	BatchSize     int
	Concurrency   int
}

// DefaultOptions returns a 0.2 test fraction, seed 42, coverage 0.9, a 1:1
// class balance and the default classifier.
func DefaultOptions() Options {
	return Options{
		TestFraction:  0.2,
		Seed:          dataset.DefaultSeed,
		Coverage:      dimsel.DefaultCoverage,
		NegativeRatio: 1,
		Classifier:    gbt.DefaultParams(),
		BatchSize:     embedcache.DefaultBatchSize,
		Concurrency:   embedcache.DefaultConcurrency,
	}
}

// Validate reports every out-of-range option.
func (o Options) Validate() error {
	var errs []error
	if !(o.TestFraction > 0 && o.TestFraction < 1) {
		errs = append(errs, fmt.Errorf("test_fraction must be in (0,1), got %v", o.TestFraction))
	}
	if !(o.Coverage > 0 && o.Coverage <= 1) {
		errs = append(errs, fmt.Errorf("coverage must be in (0,1], got %v", o.Coverage))
	}
	if !(o.NegativeRatio > 0) {
		errs = append(errs, fmt.Errorf("negative_ratio must be > 0, got %v", o.NegativeRatio))
	}
	if err := o.Classifier.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// FeatureSink receives the balanced pairs and their feature rows before the
// classifier is fitted.
type FeatureSink interface {
	WriteFeatures(pairs []dataset.Pair, m *features.Matrix) error
}

// Report summarises a training run.
type Report struct {
	ModelID        string `json:"model_id"`
	EmbeddingModel string `json:"embedding_model"`

	// Accuracy is the held-out accuracy.
	Accuracy           float64         `json:"accuracy"`
	TotalDimensions    int             `json:"total_dimensions"`
	SelectedCount      int             `json:"selected_dimensions"`
	DimensionReduction string          `json:"dimension_reduction"`
	TopDimensions      []dimsel.Ranked `json:"top_dimensions"`

	MatchPairs          int      `json:"match_pairs"`
	NoMatchPairsTotal   int      `json:"no_match_pairs_total"`
	NoMatchPairsSampled int      `json:"no_match_pairs_sampled"`
	TrainExamples       int      `json:"train_examples"`
	TestExamples        int      `json:"test_examples"`
	Insufficient        []string `json:"insufficient_categories,omitempty"`

	Evaluation     *evaluate.Report `json:"evaluation"`
	FinalTrainLoss float64          `json:"final_train_loss"`
	Duration       time.Duration    `json:"duration_ns"`
}

// InsufficientData returns an error wrapping [dataset.ErrInsufficientData]
// naming the categories that produced no match pairs, or nil.
func (r *Report) InsufficientData() error {
	return dataset.InsufficientError(r.Insufficient)
}

// Trainer runs training against one embeddings provider.
type Trainer struct {
	provider embeddings.Provider
	opts     Options
	sink     FeatureSink
	metrics  *observe.Metrics
}

// Option configures a [Trainer].
type Option func(*Trainer)

// WithFeatureSink hands the feature matrix of every run to s.
func WithFeatureSink(s FeatureSink) Option {
	return func(t *Trainer) { t.sink = s }
}

// WithMetrics records training metrics to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Trainer) { t.metrics = m }
}

// NewTrainer validates opts and returns a Trainer.
func NewTrainer(p embeddings.Provider, opts Options, o ...Option) (*Trainer, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("training: invalid options: %w", err)
	}
	t := &Trainer{provider: p, opts: opts}
	for _, fn := range o {
		fn(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t, nil
}

// Train builds a model from categories. Categories with fewer than two
// documents are reported in Report.Insufficient and otherwise ignored; the
// run only fails on them when no match pair exists at all.
//
// The returned model is not installed anywhere; publishing it is up to the
// caller.
func (t *Trainer) Train(ctx context.Context, categories []dataset.Category) (_ *Report, _ *model.TrainedModel, err error) {
	ctx, span := observe.StartSpan(ctx, "training.Train")
	defer observe.EndSpan(span, &err)
	start := time.Now()
	log := observe.Logger(ctx)

	set, err := dataset.Build(categories, dataset.BalanceOptions{
		Seed:          t.opts.Seed,
		NegativeRatio: t.opts.NegativeRatio,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("training: %w", err)
	}
	if len(set.Insufficient) > 0 {
		log.Warn("categories without match pairs", "err", dataset.InsufficientError(set.Insufficient))
	}
	log.Info("training pairs built",
		"match", set.MatchCount,
		"no_match_total", set.NoMatchTotal,
		"no_match_sampled", set.NoMatchSampled,
	)

	cache := embedcache.New(t.provider,
		embedcache.WithBatchSize(t.opts.BatchSize),
		embedcache.WithConcurrency(t.opts.Concurrency),
		embedcache.WithMetrics(t.metrics),
	)
	mat, err := features.NewBuilder(cache).Build(ctx, set.Pairs)
	if err != nil {
		return nil, nil, fmt.Errorf("training: %w", err)
	}
	if t.sink != nil {
		if err := t.sink.WriteFeatures(set.Pairs, mat); err != nil {
			return nil, nil, fmt.Errorf("training: export features: %w", err)
		}
	}

	split, err := dataset.StratifiedSplit(mat.Y, t.opts.TestFraction, t.opts.Seed)
	if err != nil {
		return nil, nil, fmt.Errorf("training: %w", err)
	}
	train, test := mat.Rows(split.Train), mat.Rows(split.Test)

	clf, err := gbt.New(t.opts.Classifier)
	if err != nil {
		return nil, nil, fmt.Errorf("training: %w", err)
	}
	if err := clf.Fit(train.X, train.Y); err != nil {
		return nil, nil, fmt.Errorf("training: fit classifier: %w", err)
	}
	pred, err := clf.PredictAll(test.X)
	if err != nil {
		return nil, nil, fmt.Errorf("training: %w", err)
	}
	eval, err := evaluate.NewReport(test.Y, pred, ClassNames)
	if err != nil {
		return nil, nil, fmt.Errorf("training: %w", err)
	}

	importances := clf.FeatureImportances()
	selected, err := dimsel.Select(importances, t.opts.Coverage)
	if err != nil {
		return nil, nil, fmt.Errorf("training: %w", err)
	}
	if len(selected) == 0 {
		log.Warn("classifier made no split; focused similarity will equal full similarity")
	}

	m, err := model.New(model.Spec{
		EmbeddingModel: t.provider.ModelID(),
		Coverage:       t.opts.Coverage,
		Selected:       selected,
		Importances:    importances,
		Classifier:     clf,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("training: %w", err)
	}

	d := mat.Dimensions()
	rep := &Report{
		ModelID:             m.ID().String(),
		EmbeddingModel:      m.EmbeddingModel(),
		Accuracy:            eval.Accuracy,
		TotalDimensions:     d,
		SelectedCount:       len(selected),
		DimensionReduction:  dimsel.Reduction(d, len(selected)),
		TopDimensions:       dimsel.Top(importances, TopDimensionCount),
		MatchPairs:          set.MatchCount,
		NoMatchPairsTotal:   set.NoMatchTotal,
		NoMatchPairsSampled: set.NoMatchSampled,
		TrainExamples:       len(split.Train),
		TestExamples:        len(split.Test),
		Insufficient:        set.Insufficient,
		Evaluation:          eval,
		Duration:            time.Since(start),
	}
	if n := len(clf.TrainLoss); n > 0 {
		rep.FinalTrainLoss = clf.TrainLoss[n-1]
	}

	t.metrics.TrainDuration.Record(ctx, rep.Duration.Seconds(),
		metric.WithAttributes(observe.Attr("model", "similarity")))
	log.Info("similarity model trained",
		"model_id", rep.ModelID,
		"accuracy", rep.Accuracy,
		"dimensions", d,
		"selected", rep.SelectedCount,
		"reduction", rep.DimensionReduction,
		"duration", rep.Duration,
	)
	return rep, m, nil
}
