package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for outpost metrics.
const meterName = "github.com/xraph/outpost"

// Metrics returns middleware that records per-task execution metrics using
// the global OTel MeterProvider. Without a configured provider the
// instruments are noops.
//
// Instruments:
//   - outpost.task.duration (Float64Histogram): execution time in seconds
//   - outpost.task.executions (Int64Counter): total executions
//
// Both carry the attributes kind, name and status ("ok" or "error").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The OTel API returns noop instruments on error.
	duration, _ := meter.Float64Histogram( //nolint:errcheck // noop fallback
		"outpost.task.duration",
		metric.WithDescription("Duration of task execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter( //nolint:errcheck // noop fallback
		"outpost.task.executions",
		metric.WithDescription("Total number of task executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, t *Task, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("kind", string(t.Kind)),
			attribute.String("name", t.Name),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
