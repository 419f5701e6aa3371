package pii

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/dimfocus/internal/embedcache"
	"github.com/MrWong99/dimfocus/internal/model"
	"github.com/MrWong99/dimfocus/internal/observe"
	"github.com/MrWong99/dimfocus/pkg/provider/embeddings"
)

// Detection is the PII verdict for one text. Confidence is the probability
// of the predicted class in percent.
type Detection struct {
	Text        string  `json:"text"`
	ContainsPII bool    `json:"contains_pii"`
	Confidence  float64 `json:"confidence"`
	ProbPII     float64 `json:"prob_pii"`
}

// Detector classifies texts with the PII model it currently holds. It is
// safe for concurrent use and the model can be swapped at any time.
type Detector struct {
	provider  embeddings.Provider
	current   atomic.Pointer[Model]
	cacheOpts []embedcache.Option
	metrics   *observe.Metrics
}

// NewDetector returns a Detector without a model. Detect fails with
// [model.ErrModelNotLoaded] until [Detector.Swap] installs one.
func NewDetector(p embeddings.Provider, metrics *observe.Metrics, cacheOpts ...embedcache.Option) *Detector {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Detector{provider: p, metrics: metrics, cacheOpts: cacheOpts}
}

// Swap installs m and returns the previous model.
func (d *Detector) Swap(m *Model) *Model {
	return d.current.Swap(m)
}

// Model returns the installed model, or nil.
func (d *Detector) Model() *Model {
	return d.current.Load()
}

// Loaded reports whether a model is installed.
func (d *Detector) Loaded() bool {
	return d.current.Load() != nil
}

// Detect embeds texts in batches and classifies each one. Results are in
// input order.
func (d *Detector) Detect(ctx context.Context, texts []string) (_ []Detection, err error) {
	ctx, span := observe.StartSpan(ctx, "pii.Detect")
	defer observe.EndSpan(span, &err)
	start := time.Now()
	defer func() {
		d.metrics.InferenceDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("op", "detect")))
	}()

	m := d.current.Load()
	if m == nil {
		return nil, model.ErrModelNotLoaded
	}
	if len(texts) == 0 {
		return []Detection{}, nil
	}

	opts := append([]embedcache.Option{embedcache.WithMetrics(d.metrics)}, d.cacheOpts...)
	vecs, err := embedcache.New(d.provider, opts...).Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("pii: embed: %w", err)
	}

	out := make([]Detection, len(texts))
	for i, v := range vecs {
		p, err := m.ProbPII(v)
		if err != nil {
			return nil, fmt.Errorf("pii: text %d: %w", i, err)
		}
		out[i] = Detection{
			Text:        texts[i],
			ContainsPII: p > 0.5,
			Confidence:  math.Max(p, 1-p) * 100,
			ProbPII:     p,
		}
	}
	return out, nil
}
