// Package ext defines the extension system for Outpost.
//
// Extensions are notified of lifecycle events and can react to them, for
// example by recording metrics or writing an external audit log.
//
// # Implementing an Extension
//
//	type Notifier struct{}
//
//	func (n *Notifier) Name() string { return "notifier" }
//
//	func (n *Notifier) OnScheduleDeadLettered(ctx context.Context, e *schedule.Entry, a *schedule.RunAudit) error {
//	    return pageOperator(ctx, e.Name, a.Error)
//	}
//
// # Hooks
//
//   - [ItemEnqueued], [ItemProcessed], [ItemRetrying], [ItemDeadLettered]
//   - [ScheduleSucceeded], [ScheduleRetrying], [ScheduleDeadLettered]
//   - [WebhookDelivered], [WebhookFailed]
//   - [Shutdown]
//
// Hook errors are logged and never affect the item or entry they describe.
package ext
