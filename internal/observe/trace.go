package observe

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/dimfocus"

// Tracer returns the dimfocus tracer from the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named after the operation, e.g. "similarity.Compare".
// End it with [EndSpan].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// EndSpan ends span, marking it failed when *errp is non-nil. It is meant to
// be deferred with a pointer to the named error result:
//
//	ctx, span := observe.StartSpan(ctx, "pii.Detect")
//	defer observe.EndSpan(span, &err)
//
// Cancellation is recorded as an event rather than an error status.
func EndSpan(span trace.Span, errp *error) {
	if errp != nil && *errp != nil {
		err := *errp
		if errors.Is(err, context.Canceled) {
			span.AddEvent("cancelled")
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

// CorrelationID returns the trace id of the span in ctx, or "" without one.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
