package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionItemEnqueued         = "item.enqueued"
	ActionItemProcessed        = "item.processed"
	ActionItemRetrying         = "item.retrying"
	ActionItemDeadLettered     = "item.dead_lettered"
	ActionScheduleSucceeded    = "schedule.succeeded"
	ActionScheduleRetrying     = "schedule.retrying"
	ActionScheduleDeadLettered = "schedule.dead_lettered"
	ActionWebhookDelivered     = "webhook.delivered"
	ActionWebhookFailed        = "webhook.failed"
)

// Audit event categories group related actions.
const (
	CategoryQueue    = "outpost.queue"
	CategorySchedule = "outpost.schedule"
	CategoryWebhook  = "outpost.webhook"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceItem     = "queue_item"
	ResourceSchedule = "schedule_entry"
	ResourceDelivery = "webhook_delivery"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionItemEnqueued,
		ActionItemProcessed,
		ActionItemRetrying,
		ActionItemDeadLettered,
		ActionScheduleSucceeded,
		ActionScheduleRetrying,
		ActionScheduleDeadLettered,
		ActionWebhookDelivered,
		ActionWebhookFailed,
	}
}

// FailureActions returns the actions that signal something went wrong.
func FailureActions() []string {
	return []string{
		ActionItemRetrying,
		ActionItemDeadLettered,
		ActionScheduleRetrying,
		ActionScheduleDeadLettered,
		ActionWebhookFailed,
	}
}
