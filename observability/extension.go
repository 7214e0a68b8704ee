package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/outpost/ext"
	"github.com/xraph/outpost/queue"
	"github.com/xraph/outpost/schedule"
	"github.com/xraph/outpost/webhook"
)

// Compile-time interface checks.
var (
	_ ext.Extension            = (*MetricsExtension)(nil)
	_ ext.ItemEnqueued         = (*MetricsExtension)(nil)
	_ ext.ItemProcessed        = (*MetricsExtension)(nil)
	_ ext.ItemRetrying         = (*MetricsExtension)(nil)
	_ ext.ItemDeadLettered     = (*MetricsExtension)(nil)
	_ ext.ScheduleSucceeded    = (*MetricsExtension)(nil)
	_ ext.ScheduleRetrying     = (*MetricsExtension)(nil)
	_ ext.ScheduleDeadLettered = (*MetricsExtension)(nil)
	_ ext.WebhookDelivered     = (*MetricsExtension)(nil)
	_ ext.WebhookFailed        = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/outpost/observability"

// MetricsExtension records system-wide lifecycle counters. Register it as an
// Outpost extension to track enqueue rates, processing outcomes, schedule
// outcomes and webhook delivery results.
type MetricsExtension struct {
	ItemEnqueued         metric.Int64Counter
	ItemProcessed        metric.Int64Counter
	ItemRetried          metric.Int64Counter
	ItemDeadLettered     metric.Int64Counter
	ItemDuration         metric.Float64Histogram
	ScheduleSucceeded    metric.Int64Counter
	ScheduleRetried      metric.Int64Counter
	ScheduleDeadLettered metric.Int64Counter
	WebhookDelivered     metric.Int64Counter
	WebhookFailed        metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	return &MetricsExtension{
		ItemEnqueued:         counter(meter, "outpost.item.enqueued", "Events accepted into the queue"),
		ItemProcessed:        counter(meter, "outpost.item.processed", "Queue items processed"),
		ItemRetried:          counter(meter, "outpost.item.retried", "Queue items requeued with backoff"),
		ItemDeadLettered:     counter(meter, "outpost.item.dead_lettered", "Queue items moved to dead letter"),
		ItemDuration:         histogram(meter, "outpost.item.duration", "Hook chain execution time in seconds"),
		ScheduleSucceeded:    counter(meter, "outpost.schedule.succeeded", "Successful schedule runs"),
		ScheduleRetried:      counter(meter, "outpost.schedule.retried", "Failed schedule runs with retries left"),
		ScheduleDeadLettered: counter(meter, "outpost.schedule.dead_lettered", "Schedule entries dead-lettered"),
		WebhookDelivered:     counter(meter, "outpost.webhook.delivered", "Webhook deliveries answered with 2xx"),
		WebhookFailed:        counter(meter, "outpost.webhook.failed", "Failed webhook deliveries"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	// The OTel API returns a noop instrument alongside any error.
	c, _ := meter.Int64Counter(name, metric.WithDescription(desc)) //nolint:errcheck // noop fallback
	return c
}

func histogram(meter metric.Meter, name, desc string) metric.Float64Histogram {
	h, _ := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s")) //nolint:errcheck // noop fallback
	return h
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func eventAttrs(item *queue.Item) metric.AddOption {
	return metric.WithAttributes(attribute.String("event", item.Name()))
}

func scheduleAttrs(e *schedule.Entry) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("owner_type", string(e.OwnerType)),
		attribute.String("action", e.ActionKey),
	)
}

// ── Queue item hooks ────────────────────────────────

// OnItemEnqueued implements ext.ItemEnqueued.
func (m *MetricsExtension) OnItemEnqueued(ctx context.Context, item *queue.Item) error {
	m.ItemEnqueued.Add(ctx, 1, eventAttrs(item))
	return nil
}

// OnItemProcessed implements ext.ItemProcessed.
func (m *MetricsExtension) OnItemProcessed(ctx context.Context, item *queue.Item, elapsed time.Duration) error {
	m.ItemProcessed.Add(ctx, 1, eventAttrs(item))
	m.ItemDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("event", item.Name())))
	return nil
}

// OnItemRetrying implements ext.ItemRetrying.
func (m *MetricsExtension) OnItemRetrying(ctx context.Context, item *queue.Item, _ error, _ time.Time) error {
	m.ItemRetried.Add(ctx, 1, eventAttrs(item))
	return nil
}

// OnItemDeadLettered implements ext.ItemDeadLettered.
func (m *MetricsExtension) OnItemDeadLettered(ctx context.Context, item *queue.Item, _ error) error {
	m.ItemDeadLettered.Add(ctx, 1, eventAttrs(item))
	return nil
}

// ── Schedule hooks ──────────────────────────────────

// OnScheduleSucceeded implements ext.ScheduleSucceeded.
func (m *MetricsExtension) OnScheduleSucceeded(ctx context.Context, e *schedule.Entry, _ *schedule.RunAudit, _ time.Duration) error {
	m.ScheduleSucceeded.Add(ctx, 1, scheduleAttrs(e))
	return nil
}

// OnScheduleRetrying implements ext.ScheduleRetrying.
func (m *MetricsExtension) OnScheduleRetrying(ctx context.Context, e *schedule.Entry, _ *schedule.RunAudit) error {
	m.ScheduleRetried.Add(ctx, 1, scheduleAttrs(e))
	return nil
}

// OnScheduleDeadLettered implements ext.ScheduleDeadLettered.
func (m *MetricsExtension) OnScheduleDeadLettered(ctx context.Context, e *schedule.Entry, _ *schedule.RunAudit) error {
	m.ScheduleDeadLettered.Add(ctx, 1, scheduleAttrs(e))
	return nil
}

// ── Webhook hooks ───────────────────────────────────

// OnWebhookDelivered implements ext.WebhookDelivered.
func (m *MetricsExtension) OnWebhookDelivered(ctx context.Context, d *webhook.Delivery) error {
	m.WebhookDelivered.Add(ctx, 1, metric.WithAttributes(attribute.String("event", d.EventName)))
	return nil
}

// OnWebhookFailed implements ext.WebhookFailed.
func (m *MetricsExtension) OnWebhookFailed(ctx context.Context, d *webhook.Delivery) error {
	m.WebhookFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", d.EventName),
		attribute.Int("status_code", d.StatusCode),
	))
	return nil
}
