package queue

import (
	"context"
	"time"

	"github.com/xraph/outpost/id"
)

// ListOpts controls pagination and filtering for item list queries.
type ListOpts struct {
	// Status filters by item status. Empty means all statuses.
	Status Status
	// Limit is the maximum number of items to return. Zero means no limit.
	Limit int
	// Offset is the number of items to skip.
	Offset int
}

// Store defines the persistence contract for queue items. Writes to
// Status, Attempts and AvailableAt happen only through these methods.
type Store interface {
	// EnqueueItem persists a new item in queued state.
	EnqueueItem(ctx context.Context, item *Item) error

	// ClaimItems atomically moves up to limit eligible items (queued,
	// AvailableAt <= now) to processing, increments their attempts, stamps
	// ClaimedBy/ClaimedAt and returns exactly the rows it changed, oldest
	// CreatedAt first. Concurrent callers never receive the same item.
	ClaimItems(ctx context.Context, workerID id.WorkerID, now time.Time, limit int) ([]*Item, error)

	// MarkItemProcessed moves the item held by c to processed. It returns
	// nil if the item is already processed, outpost.ErrClaimLost when the
	// item is processing under a different claim, outpost.ErrInvalidState
	// for any other status and outpost.ErrItemNotFound for an unknown id.
	MarkItemProcessed(ctx context.Context, c Claim) error

	// RequeueItem moves the item held by c back to queued with a new
	// AvailableAt and LastError, clearing the claim. Errors follow
	// MarkItemProcessed except that processed is not idempotent.
	RequeueItem(ctx context.Context, c Claim, availableAt time.Time, lastError string) error

	// DeadLetterItem moves the item held by c to dead_letter. Errors follow
	// RequeueItem.
	DeadLetterItem(ctx context.Context, c Claim, lastError string) error

	// GetItem retrieves an item by ID.
	GetItem(ctx context.Context, itemID id.ItemID) (*Item, error)

	// ListItems returns items ordered by CreatedAt.
	ListItems(ctx context.Context, opts ListOpts) ([]*Item, error)

	// CountItems returns the number of items with the given status, or all
	// items when status is empty.
	CountItems(ctx context.Context, status Status) (int64, error)

	// ReleaseStale requeues processing items claimed before olderThan,
	// keeping their attempt count, and returns how many were released.
	ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error)

	// PurgeProcessed deletes processed items last updated before the given
	// time and returns how many were removed.
	PurgeProcessed(ctx context.Context, before time.Time) (int64, error)
}
