package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/outpost/ext"
	"github.com/xraph/outpost/queue"
	"github.com/xraph/outpost/schedule"
	"github.com/xraph/outpost/webhook"
)

// Compile-time interface checks.
var (
	_ ext.Extension            = (*Extension)(nil)
	_ ext.ItemEnqueued         = (*Extension)(nil)
	_ ext.ItemProcessed        = (*Extension)(nil)
	_ ext.ItemRetrying         = (*Extension)(nil)
	_ ext.ItemDeadLettered     = (*Extension)(nil)
	_ ext.ScheduleSucceeded    = (*Extension)(nil)
	_ ext.ScheduleRetrying     = (*Extension)(nil)
	_ ext.ScheduleDeadLettered = (*Extension)(nil)
	_ ext.WebhookDelivered     = (*Extension)(nil)
	_ ext.WebhookFailed        = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one structured audit record.
type AuditEvent struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	ResourceID string         `json:"resource_id,omitempty"`
	SiteID     string         `json:"site_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder writes audit events to a structured logger, at warn level for
// anything that is not info.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		if evt.Severity != SeverityInfo {
			level = slog.LevelWarn
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
		}
		if evt.SiteID != "" {
			attrs = append(attrs, slog.String("site_id", evt.SiteID))
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges Outpost lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Queue item hooks ────────────────────────────────

// OnItemEnqueued implements ext.ItemEnqueued.
func (e *Extension) OnItemEnqueued(ctx context.Context, item *queue.Item) error {
	return e.record(ctx, ActionItemEnqueued, SeverityInfo, OutcomeSuccess,
		ResourceItem, item.ID.String(), CategoryQueue, item.Envelope.SiteID, nil,
		"event", item.Name(),
		"actor_type", string(item.Envelope.ActorType),
	)
}

// OnItemProcessed implements ext.ItemProcessed.
func (e *Extension) OnItemProcessed(ctx context.Context, item *queue.Item, elapsed time.Duration) error {
	return e.record(ctx, ActionItemProcessed, SeverityInfo, OutcomeSuccess,
		ResourceItem, item.ID.String(), CategoryQueue, item.Envelope.SiteID, nil,
		"event", item.Name(),
		"attempts", item.Attempts,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnItemRetrying implements ext.ItemRetrying.
func (e *Extension) OnItemRetrying(ctx context.Context, item *queue.Item, cause error, nextAt time.Time) error {
	return e.record(ctx, ActionItemRetrying, SeverityWarning, OutcomeFailure,
		ResourceItem, item.ID.String(), CategoryQueue, item.Envelope.SiteID, cause,
		"event", item.Name(),
		"attempts", item.Attempts,
		"next_at", nextAt.Format(time.RFC3339),
	)
}

// OnItemDeadLettered implements ext.ItemDeadLettered.
func (e *Extension) OnItemDeadLettered(ctx context.Context, item *queue.Item, cause error) error {
	return e.record(ctx, ActionItemDeadLettered, SeverityCritical, OutcomeFailure,
		ResourceItem, item.ID.String(), CategoryQueue, item.Envelope.SiteID, cause,
		"event", item.Name(),
		"attempts", item.Attempts,
	)
}

// ── Schedule hooks ──────────────────────────────────

// OnScheduleSucceeded implements ext.ScheduleSucceeded.
func (e *Extension) OnScheduleSucceeded(ctx context.Context, entry *schedule.Entry, audit *schedule.RunAudit, elapsed time.Duration) error {
	return e.record(ctx, ActionScheduleSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceSchedule, entry.ID.String(), CategorySchedule, entry.SiteID, nil,
		"schedule", entry.Name,
		"action_key", entry.ActionKey,
		"trigger", string(audit.Trigger),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnScheduleRetrying implements ext.ScheduleRetrying.
func (e *Extension) OnScheduleRetrying(ctx context.Context, entry *schedule.Entry, audit *schedule.RunAudit) error {
	return e.record(ctx, ActionScheduleRetrying, SeverityWarning, OutcomeFailure,
		ResourceSchedule, entry.ID.String(), CategorySchedule, entry.SiteID, auditErr(audit),
		"schedule", entry.Name,
		"action_key", entry.ActionKey,
		"retry_count", entry.RetryCount,
		"max_retries", entry.MaxRetries,
	)
}

// OnScheduleDeadLettered implements ext.ScheduleDeadLettered.
func (e *Extension) OnScheduleDeadLettered(ctx context.Context, entry *schedule.Entry, audit *schedule.RunAudit) error {
	return e.record(ctx, ActionScheduleDeadLettered, SeverityCritical, OutcomeFailure,
		ResourceSchedule, entry.ID.String(), CategorySchedule, entry.SiteID, auditErr(audit),
		"schedule", entry.Name,
		"action_key", entry.ActionKey,
		"retry_count", entry.RetryCount,
	)
}

// ── Webhook hooks ───────────────────────────────────

// OnWebhookDelivered implements ext.WebhookDelivered.
func (e *Extension) OnWebhookDelivered(ctx context.Context, d *webhook.Delivery) error {
	return e.record(ctx, ActionWebhookDelivered, SeverityInfo, OutcomeSuccess,
		ResourceDelivery, d.ID.String(), CategoryWebhook, "", nil,
		"subscription_id", d.SubscriptionID.String(),
		"event", d.EventName,
		"status_code", d.StatusCode,
		"duration_ms", d.DurationMs,
	)
}

// OnWebhookFailed implements ext.WebhookFailed.
func (e *Extension) OnWebhookFailed(ctx context.Context, d *webhook.Delivery) error {
	var cause error
	if d.Error != "" {
		cause = errors.New(d.Error)
	}
	return e.record(ctx, ActionWebhookFailed, SeverityWarning, OutcomeFailure,
		ResourceDelivery, d.ID.String(), CategoryWebhook, "", cause,
		"subscription_id", d.SubscriptionID.String(),
		"event", d.EventName,
		"outcome", string(d.Outcome),
		"status_code", d.StatusCode,
	)
}

// ── Internal helpers ────────────────────────────────

func auditErr(a *schedule.RunAudit) error {
	if a == nil || a.Error == "" {
		return nil
	}
	return errors.New(a.Error)
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category, siteID string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		SiteID:     siteID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
