package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/outpost/queue"
	"github.com/xraph/outpost/schedule"
	"github.com/xraph/outpost/webhook"
)

// named pairs a hook implementation with the extension name captured at
// registration time.
type named[H any] struct {
	name string
	hook H
}

func add[H any](list []named[H], e Extension) []named[H] {
	if h, ok := e.(H); ok {
		return append(list, named[H]{e.Name(), h})
	}
	return list
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. Extensions are type-cached at registration so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	itemEnqueued         []named[ItemEnqueued]
	itemProcessed        []named[ItemProcessed]
	itemRetrying         []named[ItemRetrying]
	itemDeadLettered     []named[ItemDeadLettered]
	scheduleSucceeded    []named[ScheduleSucceeded]
	scheduleRetrying     []named[ScheduleRetrying]
	scheduleDeadLettered []named[ScheduleDeadLettered]
	webhookDelivered     []named[WebhookDelivered]
	webhookFailed        []named[WebhookFailed]
	shutdown             []named[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and caches it under every hook it
// implements. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)

	r.itemEnqueued = add(r.itemEnqueued, e)
	r.itemProcessed = add(r.itemProcessed, e)
	r.itemRetrying = add(r.itemRetrying, e)
	r.itemDeadLettered = add(r.itemDeadLettered, e)
	r.scheduleSucceeded = add(r.scheduleSucceeded, e)
	r.scheduleRetrying = add(r.scheduleRetrying, e)
	r.scheduleDeadLettered = add(r.scheduleDeadLettered, e)
	r.webhookDelivered = add(r.webhookDelivered, e)
	r.webhookFailed = add(r.webhookFailed, e)
	r.shutdown = add(r.shutdown, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

func emit[H any](r *Registry, hookName string, list []named[H], call func(H) error) {
	for _, e := range list {
		if err := call(e.hook); err != nil {
			r.logHookError(hookName, e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Queue item emitters
// ──────────────────────────────────────────────────

// EmitItemEnqueued notifies all extensions that implement ItemEnqueued.
func (r *Registry) EmitItemEnqueued(ctx context.Context, item *queue.Item) {
	emit(r, "OnItemEnqueued", r.itemEnqueued, func(h ItemEnqueued) error {
		return h.OnItemEnqueued(ctx, item)
	})
}

// EmitItemProcessed notifies all extensions that implement ItemProcessed.
func (r *Registry) EmitItemProcessed(ctx context.Context, item *queue.Item, elapsed time.Duration) {
	emit(r, "OnItemProcessed", r.itemProcessed, func(h ItemProcessed) error {
		return h.OnItemProcessed(ctx, item, elapsed)
	})
}

// EmitItemRetrying notifies all extensions that implement ItemRetrying.
func (r *Registry) EmitItemRetrying(ctx context.Context, item *queue.Item, itemErr error, nextAt time.Time) {
	emit(r, "OnItemRetrying", r.itemRetrying, func(h ItemRetrying) error {
		return h.OnItemRetrying(ctx, item, itemErr, nextAt)
	})
}

// EmitItemDeadLettered notifies all extensions that implement ItemDeadLettered.
func (r *Registry) EmitItemDeadLettered(ctx context.Context, item *queue.Item, itemErr error) {
	emit(r, "OnItemDeadLettered", r.itemDeadLettered, func(h ItemDeadLettered) error {
		return h.OnItemDeadLettered(ctx, item, itemErr)
	})
}

// ──────────────────────────────────────────────────
// Schedule emitters
// ──────────────────────────────────────────────────

// EmitScheduleSucceeded notifies all extensions that implement ScheduleSucceeded.
func (r *Registry) EmitScheduleSucceeded(ctx context.Context, e *schedule.Entry, audit *schedule.RunAudit, elapsed time.Duration) {
	emit(r, "OnScheduleSucceeded", r.scheduleSucceeded, func(h ScheduleSucceeded) error {
		return h.OnScheduleSucceeded(ctx, e, audit, elapsed)
	})
}

// EmitScheduleRetrying notifies all extensions that implement ScheduleRetrying.
func (r *Registry) EmitScheduleRetrying(ctx context.Context, e *schedule.Entry, audit *schedule.RunAudit) {
	emit(r, "OnScheduleRetrying", r.scheduleRetrying, func(h ScheduleRetrying) error {
		return h.OnScheduleRetrying(ctx, e, audit)
	})
}

// EmitScheduleDeadLettered notifies all extensions that implement ScheduleDeadLettered.
func (r *Registry) EmitScheduleDeadLettered(ctx context.Context, e *schedule.Entry, audit *schedule.RunAudit) {
	emit(r, "OnScheduleDeadLettered", r.scheduleDeadLettered, func(h ScheduleDeadLettered) error {
		return h.OnScheduleDeadLettered(ctx, e, audit)
	})
}

// ──────────────────────────────────────────────────
// Webhook emitters
// ──────────────────────────────────────────────────

// EmitWebhookDelivered notifies all extensions that implement WebhookDelivered.
func (r *Registry) EmitWebhookDelivered(ctx context.Context, d *webhook.Delivery) {
	emit(r, "OnWebhookDelivered", r.webhookDelivered, func(h WebhookDelivered) error {
		return h.OnWebhookDelivered(ctx, d)
	})
}

// EmitWebhookFailed notifies all extensions that implement WebhookFailed.
func (r *Registry) EmitWebhookFailed(ctx context.Context, d *webhook.Delivery) {
	emit(r, "OnWebhookFailed", r.webhookFailed, func(h WebhookFailed) error {
		return h.OnWebhookFailed(ctx, d)
	})
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, "OnShutdown", r.shutdown, func(h Shutdown) error {
		return h.OnShutdown(ctx)
	})
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated to the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
