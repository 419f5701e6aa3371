// Package pii detects personally identifiable information in text by
// classifying standardised embeddings with a gradient-boosted tree ensemble.
package pii

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dimfocus/internal/dataset"
	"github.com/MrWong99/dimfocus/internal/embedcache"
	"github.com/MrWong99/dimfocus/internal/evaluate"
	"github.com/MrWong99/dimfocus/internal/gbt"
	"github.com/MrWong99/dimfocus/internal/observe"
	"github.com/MrWong99/dimfocus/pkg/provider/embeddings"
)

// ClassNames label the two classes in evaluation reports.
var ClassNames = [2]string{"No PII", "Contains PII"}

// Example is one labeled training text.
type Example struct {
	Text string `yaml:"text" json:"text"`
	PII  bool   `yaml:"pii" json:"pii"`
}

// Options controls PII training.
type Options struct {
	TestFraction float64
	Seed         uint64
	// Folds is the number of cross-validation folds. Values below 2 skip
	// cross-validation.
	Folds       int
	Classifier  gbt.Params
	BatchSize   int
	Concurrency int
}

// DefaultOptions returns a 0.2 test fraction, seed 42, 5 folds and the
// default classifier.
func DefaultOptions() Options {
	return Options{
		TestFraction: 0.2,
		Seed:         dataset.DefaultSeed,
		Folds:        5,
		Classifier:   gbt.DefaultParams(),
		BatchSize:    embedcache.DefaultBatchSize,
		Concurrency:  embedcache.DefaultConcurrency,
	}
}

// Report holds the metrics of a PII training run.
type Report struct {
	ModelID       string           `json:"model_id"`
	TrainAccuracy float64          `json:"train_accuracy"`
	TestAccuracy  float64          `json:"test_accuracy"`
	CVScores      []float64        `json:"cv_scores,omitempty"`
	CVMean        float64          `json:"cv_mean"`
	CVStd         float64          `json:"cv_std"`
	NEstimators   int              `json:"n_estimators"`
	FinalLoss     float64          `json:"final_loss"`
	TrainExamples int              `json:"train_examples"`
	TestExamples  int              `json:"test_examples"`
	Evaluation    *evaluate.Report `json:"evaluation"`
	Duration      time.Duration    `json:"duration_ns"`
}

// Trainer fits PII models against one embeddings provider.
type Trainer struct {
	provider embeddings.Provider
	opts     Options
	metrics  *observe.Metrics
}

// NewTrainer returns a Trainer. A nil metrics uses [observe.DefaultMetrics].
func NewTrainer(p embeddings.Provider, opts Options, metrics *observe.Metrics) (*Trainer, error) {
	if !(opts.TestFraction > 0 && opts.TestFraction < 1) {
		return nil, fmt.Errorf("pii: test fraction must be in (0,1), got %v", opts.TestFraction)
	}
	if err := opts.Classifier.Validate(); err != nil {
		return nil, fmt.Errorf("pii: %w", err)
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Trainer{provider: p, opts: opts, metrics: metrics}, nil
}

// Train embeds every distinct example text once, standardises the
// embeddings, holds out a stratified test set and fits the classifier.
// Cross-validation folds are fitted concurrently on the full standardised set.
func (t *Trainer) Train(ctx context.Context, examples []Example) (_ *Report, _ *Model, err error) {
	ctx, span := observe.StartSpan(ctx, "pii.Train")
	defer observe.EndSpan(span, &err)
	start := time.Now()

	if len(examples) == 0 {
		return nil, nil, fmt.Errorf("pii: %w: no examples", dataset.ErrInsufficientData)
	}
	texts := make([]string, len(examples))
	y := make([]int, len(examples))
	for i, ex := range examples {
		texts[i] = ex.Text
		if ex.PII {
			y[i] = 1
		}
	}

	cache := embedcache.New(t.provider,
		embedcache.WithBatchSize(t.opts.BatchSize),
		embedcache.WithConcurrency(t.opts.Concurrency),
		embedcache.WithMetrics(t.metrics),
	)
	raw, err := cache.Embed(ctx, texts)
	if err != nil {
		return nil, nil, fmt.Errorf("pii: embed examples: %w", err)
	}
	scaler, err := FitScaler(raw)
	if err != nil {
		return nil, nil, err
	}
	X, err := scaler.TransformAll(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("pii: %w", err)
	}

	split, err := dataset.StratifiedSplit(y, t.opts.TestFraction, t.opts.Seed)
	if err != nil {
		return nil, nil, fmt.Errorf("pii: %w", err)
	}
	trainX, trainY := rows(X, y, split.Train)
	testX, testY := rows(X, y, split.Test)

	clf, err := fit(t.opts.Classifier, trainX, trainY)
	if err != nil {
		return nil, nil, err
	}
	trainPred, err := clf.PredictAll(trainX)
	if err != nil {
		return nil, nil, err
	}
	testPred, err := clf.PredictAll(testX)
	if err != nil {
		return nil, nil, err
	}
	trainAcc, err := evaluate.Accuracy(trainY, trainPred)
	if err != nil {
		return nil, nil, err
	}
	eval, err := evaluate.NewReport(testY, testPred, ClassNames)
	if err != nil {
		return nil, nil, err
	}

	rep := &Report{
		TrainAccuracy: trainAcc,
		TestAccuracy:  eval.Accuracy,
		NEstimators:   len(clf.Trees),
		TrainExamples: len(trainY),
		TestExamples:  len(testY),
		Evaluation:    eval,
	}
	if n := len(clf.TrainLoss); n > 0 {
		rep.FinalLoss = clf.TrainLoss[n-1]
	}
	if t.opts.Folds >= 2 {
		scores, err := t.crossValidate(ctx, X, y)
		if err != nil {
			return nil, nil, err
		}
		rep.CVScores = scores
		rep.CVMean, rep.CVStd = meanStd(scores)
	}

	m := &Model{
		ID:             uuid.New(),
		CreatedAt:      time.Now().UTC(),
		EmbeddingModel: t.provider.ModelID(),
		Scaler:         scaler,
		Classifier:     clf,
	}
	rep.ModelID = m.ID.String()
	rep.Duration = time.Since(start)

	t.metrics.TrainDuration.Record(ctx, rep.Duration.Seconds(),
		metric.WithAttributes(observe.Attr("model", "pii")))
	observe.Logger(ctx).Info("pii model trained",
		"model_id", rep.ModelID,
		"test_accuracy", rep.TestAccuracy,
		"cv_mean", rep.CVMean,
		"duration", rep.Duration,
	)
	return rep, m, nil
}

// crossValidate returns the held-out accuracy of every fold.
func (t *Trainer) crossValidate(ctx context.Context, X [][]float64, y []int) ([]float64, error) {
	folds, err := dataset.StratifiedKFold(y, t.opts.Folds, t.opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("pii: cross-validation: %w", err)
	}
	scores := make([]float64, len(folds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, t.opts.Concurrency))
	for i, f := range folds {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			trX, trY := rows(X, y, f.Train)
			teX, teY := rows(X, y, f.Test)
			clf, err := fit(t.opts.Classifier, trX, trY)
			if err != nil {
				return fmt.Errorf("fold %d: %w", i, err)
			}
			pred, err := clf.PredictAll(teX)
			if err != nil {
				return err
			}
			scores[i], err = evaluate.Accuracy(teY, pred)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pii: cross-validation: %w", err)
	}
	return scores, nil
}

func fit(p gbt.Params, X [][]float64, y []int) (*gbt.Classifier, error) {
	clf, err := gbt.New(p)
	if err != nil {
		return nil, fmt.Errorf("pii: %w", err)
	}
	if err := clf.Fit(X, y); err != nil {
		if errors.Is(err, gbt.ErrSingleClass) {
			return nil, fmt.Errorf("pii: %w: both PII and non-PII examples are required", dataset.ErrInsufficientData)
		}
		return nil, fmt.Errorf("pii: fit classifier: %w", err)
	}
	return clf, nil
}

func rows(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	outX := make([][]float64, len(idx))
	outY := make([]int, len(idx))
	for i, j := range idx {
		outX[i] = X[j]
		outY[i] = y[j]
	}
	return outX, outY
}

// meanStd returns the mean and population standard deviation of v.
func meanStd(v []float64) (float64, float64) {
	if len(v) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	mean := sum / float64(len(v))
	var ss float64
	for _, x := range v {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(v)))
}
