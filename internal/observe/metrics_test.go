package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"dimfocus.embedding.duration", m.EmbeddingDuration},
		{"dimfocus.train.duration", m.TrainDuration},
		{"dimfocus.inference.duration", m.InferenceDuration},
		{"dimfocus.http.request.duration", m.HTTPRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

// sumByAttr returns the value of the data point whose attribute key equals value.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q: no data point with %s=%s", name, key, value)
	return 0
}

func TestRecordProviderRequest(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "ok", 10)
	m.RecordProviderRequest(ctx, "openai", "ok", 5)
	m.RecordProviderRequest(ctx, "openai", "error", 3)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "dimfocus.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "dimfocus.embedding.texts", "provider", "openai"); got != 18 {
		t.Errorf("texts = %d, want 18", got)
	}
}

func TestRecordCacheLookup(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCacheLookup(ctx, 3, 7)
	m.RecordCacheLookup(ctx, 1, 0)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "dimfocus.cache.hits", "", ""); got != 4 {
		t.Errorf("hits = %d, want 4", got)
	}
	if got := sumByAttr(t, rm, "dimfocus.cache.misses", "", ""); got != 7 {
		t.Errorf("misses = %d, want 7", got)
	}
}

func TestProviderErrorsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderError(ctx, "openai", "rate_limit")

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "dimfocus.provider.errors", "kind", "rate_limit"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBreakerTransition(ctx, "openai", "open")
	m.RecordBreakerTransition(ctx, "openai", "half-open")
	m.RecordBreakerTransition(ctx, "backup", "open")

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "dimfocus.breaker.transitions", "state", "half-open"); got != 1 {
		t.Errorf("half-open transitions = %d, want 1", got)
	}
}

func TestRecordModelSwap(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordModelSwap(ctx, "train", 120)
	m.RecordModelSwap(ctx, "reload", 96)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "dimfocus.model.swaps", "source", "train"); got != 1 {
		t.Errorf("train swaps = %d, want 1", got)
	}

	met := findMetric(rm, "dimfocus.model.selected_dimensions")
	if met == nil {
		t.Fatal("gauge not found")
	}
	gauge, ok := met.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatal("metric is not a gauge")
	}
	if len(gauge.DataPoints) == 0 || gauge.DataPoints[0].Value != 96 {
		t.Errorf("gauge = %+v, want last value 96", gauge.DataPoints)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
