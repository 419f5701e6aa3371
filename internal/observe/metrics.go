// Package observe provides application-wide observability primitives for
// dimfocus: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to Prometheus so they can be scraped from /metrics. A
// package-level [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all dimfocus metrics.
const meterName = "github.com/MrWong99/dimfocus"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// EmbeddingDuration tracks the latency of one provider batch call. Use with
	// attribute.String("provider", ...).
	EmbeddingDuration metric.Float64Histogram

	// TrainDuration tracks the wall time of a full training run. Use with
	// attribute.String("model", "similarity"|"pii").
	TrainDuration metric.Float64Histogram

	// InferenceDuration tracks compare, similar and detect calls. Use with
	// attribute.String("op", ...).
	InferenceDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts embedding provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// EmbeddedTexts counts texts sent to the provider.
	EmbeddedTexts metric.Int64Counter

	// CacheHits and CacheMisses count scoped embedding cache lookups.
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// RankSkipped counts candidates excluded from a ranking because their
	// embedding was degenerate.
	RankSkipped metric.Int64Counter

	// ModelSwaps counts replacements of the live model. Use with attribute:
	//   attribute.String("source", "train"|"reload"|"load")
	ModelSwaps metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// SelectedDimensions reports the size of the live model's dimension selection.
	SelectedDimensions metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Embedding
// calls sit in the 50ms to 2s range; training runs can take minutes.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.EmbeddingDuration, err = m.Float64Histogram("dimfocus.embedding.duration",
		metric.WithDescription("Latency of one embedding provider batch call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TrainDuration, err = m.Float64Histogram("dimfocus.train.duration",
		metric.WithDescription("Wall time of a training run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InferenceDuration, err = m.Float64Histogram("dimfocus.inference.duration",
		metric.WithDescription("Latency of compare, similar and detect operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("dimfocus.provider.requests",
		metric.WithDescription("Total embedding provider requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.EmbeddedTexts, err = m.Int64Counter("dimfocus.embedding.texts",
		metric.WithDescription("Total texts sent to the embedding provider."),
	); err != nil {
		return nil, err
	}
	if met.CacheHits, err = m.Int64Counter("dimfocus.cache.hits",
		metric.WithDescription("Embedding cache lookups served without a provider call."),
	); err != nil {
		return nil, err
	}
	if met.CacheMisses, err = m.Int64Counter("dimfocus.cache.misses",
		metric.WithDescription("Embedding cache lookups that required a provider call."),
	); err != nil {
		return nil, err
	}
	if met.RankSkipped, err = m.Int64Counter("dimfocus.rank.skipped",
		metric.WithDescription("Candidates excluded from rankings due to degenerate vectors."),
	); err != nil {
		return nil, err
	}
	if met.ModelSwaps, err = m.Int64Counter("dimfocus.model.swaps",
		metric.WithDescription("Replacements of the live trained model by source."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("dimfocus.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("dimfocus.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}

	if met.SelectedDimensions, err = m.Int64Gauge("dimfocus.model.selected_dimensions",
		metric.WithDescription("Number of dimensions selected by the live model."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("dimfocus.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records one embedding provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string, texts int) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.EmbeddedTexts.Add(ctx, int64(texts), metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordProviderError records a provider error of the given kind.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition records a circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}

// RecordCacheLookup records the hit and miss counts of one cache fill.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hits, misses int) {
	if hits > 0 {
		m.CacheHits.Add(ctx, int64(hits))
	}
	if misses > 0 {
		m.CacheMisses.Add(ctx, int64(misses))
	}
}

// RecordModelSwap records a replacement of the live model.
func (m *Metrics) RecordModelSwap(ctx context.Context, source string, selected int) {
	m.ModelSwaps.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
	m.SelectedDimensions.Record(ctx, int64(selected))
}
