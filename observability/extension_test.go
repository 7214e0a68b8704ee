package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/outpost/event"
	"github.com/xraph/outpost/ext"
	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/observability"
	"github.com/xraph/outpost/queue"
	"github.com/xraph/outpost/schedule"
	"github.com/xraph/outpost/webhook"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

// sum returns the summed value of an Int64 counter, or -1 when absent.
func sum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			s, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data type %T", name, m.Data)
			}
			var total int64
			for _, dp := range s.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return -1
}

func newTestItem() *queue.Item {
	return &queue.Item{
		ID:       id.NewItemID(),
		Envelope: event.Envelope{Name: event.ContentPublished},
		Status:   queue.StatusProcessing,
		Attempts: 1,
	}
}

func newTestEntry() *schedule.Entry {
	return &schedule.Entry{
		ID:        id.NewScheduleID(),
		OwnerType: schedule.OwnerCore,
		Name:      "cleanup",
		ActionKey: "core.cleanup",
	}
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_ItemHooks(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()
	item := newTestItem()

	_ = e.OnItemEnqueued(ctx, item)
	_ = e.OnItemEnqueued(ctx, item)
	_ = e.OnItemProcessed(ctx, item, 50*time.Millisecond)
	_ = e.OnItemRetrying(ctx, item, errors.New("boom"), time.Now().Add(time.Minute))
	_ = e.OnItemDeadLettered(ctx, item, errors.New("terminal"))

	for name, want := range map[string]int64{
		"outpost.item.enqueued":      2,
		"outpost.item.processed":     1,
		"outpost.item.retried":       1,
		"outpost.item.dead_lettered": 1,
	} {
		if got := sum(t, reader, name); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestMetricsExtension_ScheduleHooks(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()
	entry := newTestEntry()
	audit := &schedule.RunAudit{ID: id.NewRunID(), ScheduleID: entry.ID}

	_ = e.OnScheduleSucceeded(ctx, entry, audit, time.Second)
	_ = e.OnScheduleRetrying(ctx, entry, audit)
	_ = e.OnScheduleRetrying(ctx, entry, audit)
	_ = e.OnScheduleDeadLettered(ctx, entry, audit)

	for name, want := range map[string]int64{
		"outpost.schedule.succeeded":     1,
		"outpost.schedule.retried":       2,
		"outpost.schedule.dead_lettered": 1,
	} {
		if got := sum(t, reader, name); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension()

	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	d := &webhook.Delivery{ID: id.NewDeliveryID(), EventName: event.ContentPublished, StatusCode: 500}
	reg.EmitWebhookFailed(ctx, d)
	reg.EmitWebhookDelivered(ctx, &webhook.Delivery{ID: id.NewDeliveryID(), EventName: event.ContentPublished, StatusCode: 200})
	reg.EmitItemEnqueued(ctx, newTestItem())

	if got := sum(t, reader, "outpost.webhook.failed"); got != 1 {
		t.Errorf("webhook.failed = %d, want 1", got)
	}
	if got := sum(t, reader, "outpost.webhook.delivered"); got != 1 {
		t.Errorf("webhook.delivered = %d, want 1", got)
	}
	if got := sum(t, reader, "outpost.item.enqueued"); got != 1 {
		t.Errorf("item.enqueued = %d, want 1", got)
	}
}
