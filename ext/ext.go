// Package ext defines the extension system for Outpost.
// Extensions are notified of lifecycle events (item processed, schedule
// dead-lettered, webhook failed, etc.) and can react to them.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/outpost/queue"
	"github.com/xraph/outpost/schedule"
	"github.com/xraph/outpost/webhook"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Queue item hooks
// ──────────────────────────────────────────────────

// ItemEnqueued is called after an event is accepted into the queue.
type ItemEnqueued interface {
	OnItemEnqueued(ctx context.Context, item *queue.Item) error
}

// ItemProcessed is called after the hook chain succeeded and the item was
// marked processed.
type ItemProcessed interface {
	OnItemProcessed(ctx context.Context, item *queue.Item, elapsed time.Duration) error
}

// ItemRetrying is called when an item failed and was requeued with backoff.
type ItemRetrying interface {
	OnItemRetrying(ctx context.Context, item *queue.Item, err error, nextAt time.Time) error
}

// ItemDeadLettered is called when an item exhausted its attempts.
type ItemDeadLettered interface {
	OnItemDeadLettered(ctx context.Context, item *queue.Item, err error) error
}

// ──────────────────────────────────────────────────
// Schedule hooks
// ──────────────────────────────────────────────────

// ScheduleSucceeded is called after a schedule run succeeded.
type ScheduleSucceeded interface {
	OnScheduleSucceeded(ctx context.Context, e *schedule.Entry, audit *schedule.RunAudit, elapsed time.Duration) error
}

// ScheduleRetrying is called after a failed run that left retries.
type ScheduleRetrying interface {
	OnScheduleRetrying(ctx context.Context, e *schedule.Entry, audit *schedule.RunAudit) error
}

// ScheduleDeadLettered is called when an entry exhausted its retries.
type ScheduleDeadLettered interface {
	OnScheduleDeadLettered(ctx context.Context, e *schedule.Entry, audit *schedule.RunAudit) error
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// WebhookDelivered is called for each successful delivery attempt.
type WebhookDelivered interface {
	OnWebhookDelivered(ctx context.Context, d *webhook.Delivery) error
}

// WebhookFailed is called for each failed delivery attempt.
type WebhookFailed interface {
	OnWebhookFailed(ctx context.Context, d *webhook.Delivery) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
