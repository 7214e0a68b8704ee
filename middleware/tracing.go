package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for outpost tracing.
const tracerName = "github.com/xraph/outpost"

// Tracing returns middleware that wraps execution in an OpenTelemetry span
// named "outpost.<kind>.execute". Without a configured TracerProvider the
// noop tracer is used.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, t *Task, next Handler) error {
		ctx, span := tracer.Start(ctx, "outpost."+string(t.Kind)+".execute",
			trace.WithAttributes(
				attribute.String("outpost.task.id", t.ID),
				attribute.String("outpost.task.name", t.Name),
				attribute.Int("outpost.task.attempt", t.Attempt),
				attribute.String("outpost.site_id", t.SiteID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
