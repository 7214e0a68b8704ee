// Package queue is the durable event queue: the [Item] record, the
// [Store] contract every backend implements, and the [Queue] service that
// applies enqueue validation and the retry policy on top of it.
//
// Items move queued → processing → {processed | queued | dead_letter}.
// The only way into processing is [Store.ClaimItems], which must be atomic
// across any number of uncoordinated workers:
//
//	q := queue.New(store)
//	item, err := q.Enqueue(ctx, &event.Envelope{Name: event.ContentPublished, SiteID: "s1"})
//
//	items, err := q.ClaimBatch(ctx, workerID, 10)
//	for _, it := range items {
//	    if err := handle(it); err != nil {
//	        q.MarkFailed(ctx, it.Claim(), err)
//	        continue
//	    }
//	    q.MarkProcessed(ctx, it.Claim())
//	}
//
// Transitions are fenced by the [Claim] token (worker and attempt). Once
// ReleaseStale hands an item to another claim, the old holder gets
// outpost.ErrClaimLost and cannot move it.
//
// # Limiter
//
// [Limiter] throttles work per key with a token bucket
// (golang.org/x/time/rate) and an optional concurrency cap
// (golang.org/x/sync/semaphore). The worker pool calls Wait before each
// claim; webhook fanout holds an Acquire slot per target host for the
// length of each request.
package queue
