// Package webhook delivers dispatched events to external HTTP subscribers.
//
// For each event, [Fanout.Deliver] selects the active subscriptions whose
// glob pattern matches the event name and whose site is global or the
// event's own, then posts the event to every match in parallel. Each
// attempt produces exactly one [Delivery] row whatever its outcome, and
// one subscriber failing never affects another or the event itself.
//
// Fanout runs on every dispatch attempt of an item, so a hook that keeps
// failing re-runs it up to the item's max attempts. Subscriptions that
// already accepted the item are skipped on those retries; a subscriber
// that failed gets one more attempt per item retry.
//
// Requests are signed:
//
//	X-Outpost-Timestamp: 1767225600
//	X-Outpost-Signature: v1=hex(HMAC_SHA256(secret, timestamp + "." + hex(sha256(body))))
//
// Receivers verify with [Verify].
package webhook
