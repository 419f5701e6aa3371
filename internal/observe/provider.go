package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK for a dimfocus process.
type ProviderConfig struct {
	// ServiceName defaults to "dimfocus".
	ServiceName    string
	ServiceVersion string

	// EmbeddingModel is attached to the resource so that dashboards can split
	// latency by the model in use.
	EmbeddingModel string

	// Registerer receives the Prometheus collectors. Nil means
	// [prometheus.DefaultRegisterer], which is what promhttp.Handler serves.
	Registerer prometheus.Registerer

	// SpanExporter is optional. Without one spans are still created, so trace
	// ids reach the logs, but nothing is exported.
	SpanExporter sdktrace.SpanExporter

	// SampleRatio is the fraction of root traces sampled. Zero samples all.
	SampleRatio float64
}

// InitProvider installs a global MeterProvider backed by the Prometheus
// exporter and a global TracerProvider. The returned function flushes and
// shuts both down.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "dimfocus"
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, fmt.Errorf("observe: sample ratio %v outside [0,1]", cfg.SampleRatio)
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.EmbeddingModel != "" {
		attrs = append(attrs, attribute.String("dimfocus.embedding.model", cfg.EmbeddingModel))
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(attrs...),
	)
	// A partial resource still carries the service attributes.
	if err != nil && !errors.Is(err, resource.ErrPartialResource) {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	var expOpts []promexporter.Option
	if cfg.Registerer != nil {
		expOpts = append(expOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	exporter, err := promexporter.New(expOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exporter))

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}
	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res), sdktrace.WithSampler(sampler)}
	if cfg.SpanExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.SpanExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
