// Package audithook is an Outpost extension that bridges lifecycle events
// to an audit trail backend.
//
// Every queue item, schedule run and webhook delivery hook emits a
// structured audit event through the [Recorder] interface. Severity is info
// for normal operations, warning for retries and critical for terminal
// failures.
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionItemDeadLettered,
//	        audithook.ActionScheduleDeadLettered,
//	        audithook.ActionWebhookFailed,
//	    ),
//	)
package audithook
