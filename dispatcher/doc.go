// Package dispatcher executes work claimed from the queue and the
// scheduler.
//
// The event path runs a queue item through the middleware chain into the
// injected HookFunc while the webhook fanout posts the same event to
// matching subscribers. The two are joined before the item is marked
// processed or failed; webhook results never change the item's outcome.
// Because fanout runs on every attempt, an item whose hook keeps failing
// is offered to webhook subscribers again on each retry; the fanout skips
// subscribers that already accepted it.
//
// The schedule path resolves an entry's action key in the handler
// registry, runs the handler through the same middleware chain, folds the
// result into the entry's retry state and persists entry and audit row
// together.
package dispatcher
