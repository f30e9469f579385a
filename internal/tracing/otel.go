package tracing

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// The daemon owns one tracer provider for its whole lifetime: installed
// before the first service starts, flushed after the last one stops.
var (
	setupOnce sync.Once
	setupErr  error
	active    atomic.Pointer[sdktrace.TracerProvider]
)

// InitOpenTelemetry installs the process-wide tracer provider. Repeat calls
// return the first call's result.
func InitOpenTelemetry(serviceName string) error {
	setupOnce.Do(func() {
		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(semconv.ServiceName(serviceName)),
		)
		if err != nil {
			setupErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithResource(res),
		)
		active.Store(tp)
		otel.SetTracerProvider(tp)
	})
	return setupErr
}

// ShutdownOpenTelemetry flushes pending spans. No-op when tracing was never
// initialized.
func ShutdownOpenTelemetry(ctx context.Context) error {
	tp := active.Load()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan opens a span under tracerName and mirrors its trace id into the
// request-scoped context keys, so log lines and audit records carry the same
// id the span does.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if sc := span.SpanContext(); sc.IsValid() && GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, sc.TraceID().String())
	}
	return ctx, span
}
