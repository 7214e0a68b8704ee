package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/backoff"
	"github.com/xraph/outpost/event"
	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/scope"
)

const (
	// DefaultBatchSize is used when ClaimBatch is called with limit <= 0.
	DefaultBatchSize = 10
	// MaxBatchSize caps a single claim.
	MaxBatchSize = 100
)

// MetaAppID is the envelope meta key holding the forge app captured at
// enqueue time.
const MetaAppID = "appId"

// Queue applies enqueue validation and the item retry policy on top of a
// Store.
type Queue struct {
	store  Store
	policy backoff.ItemPolicy
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithPolicy overrides the item retry policy.
func WithPolicy(p backoff.ItemPolicy) Option {
	return func(q *Queue) { q.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a Queue over store.
func New(store Store, opts ...Option) *Queue {
	q := &Queue{
		store:  store,
		policy: backoff.DefaultItemPolicy(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Store returns the underlying store.
func (q *Queue) Store() Store { return q.store }

// Enqueue validates env and persists it as a new queued item. Missing
// version and timestamp are filled in, and an empty SiteID is taken from
// the forge scope on ctx. The caller's envelope is not modified.
func (q *Queue) Enqueue(ctx context.Context, env *event.Envelope) (*Item, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", outpost.ErrInvalidEnvelope)
	}
	now := q.now().UTC()

	e := *env
	e.Normalize(now)
	if e.SiteID == "" {
		appID, siteID := scope.Capture(ctx)
		e.SiteID = siteID
		if appID != "" {
			meta := make(map[string]string, len(e.Meta)+1)
			for k, v := range e.Meta {
				meta[k] = v
			}
			meta[MetaAppID] = appID
			e.Meta = meta
		}
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	item := &Item{
		Entity:      outpost.Entity{CreatedAt: now, UpdatedAt: now},
		ID:          id.NewItemID(),
		Envelope:    e,
		Status:      StatusQueued,
		AvailableAt: now,
	}
	if err := q.store.EnqueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("outpost: enqueue %s: %w", e.Name, err)
	}

	q.logger.Debug("item enqueued",
		slog.String("item_id", item.ID.String()),
		slog.String("event", e.Name),
		slog.String("site_id", e.SiteID),
	)
	return item, nil
}

// ClaimBatch claims up to limit eligible items for workerID. A limit <= 0
// uses DefaultBatchSize; larger limits are capped at MaxBatchSize.
func (q *Queue) ClaimBatch(ctx context.Context, workerID id.WorkerID, limit int) ([]*Item, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	if limit > MaxBatchSize {
		limit = MaxBatchSize
	}
	items, err := q.store.ClaimItems(ctx, workerID, q.now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("outpost: claim: %w", err)
	}
	return items, nil
}

// MarkProcessed terminates the item held by c as processed. Repeating the
// call is a no-op. outpost.ErrClaimLost means the claim was released and
// the item now belongs to another claim.
func (q *Queue) MarkProcessed(ctx context.Context, c Claim) error {
	return q.store.MarkItemProcessed(ctx, c)
}

// MarkFailed records a failed attempt for the item held by c. The error is
// truncated to outpost.MaxErrorLength, then the item is requeued with
// backoff or dead-lettered according to the policy applied to
// c.Attempt.
func (q *Queue) MarkFailed(ctx context.Context, c Claim, cause error) (backoff.Decision, error) {
	msg := outpost.TruncateError(cause)
	d := q.policy.Decide(c.Attempt, q.now().UTC())

	var err error
	if d.DeadLetter {
		err = q.store.DeadLetterItem(ctx, c, msg)
	} else {
		err = q.store.RequeueItem(ctx, c, d.NextAt, msg)
	}
	if err != nil {
		return d, err
	}

	if d.DeadLetter {
		q.logger.Warn("item dead-lettered",
			slog.String("item_id", c.ItemID.String()),
			slog.Int("attempts", c.Attempt),
			slog.String("error", msg),
		)
	} else {
		q.logger.Info("item requeued",
			slog.String("item_id", c.ItemID.String()),
			slog.Int("attempts", c.Attempt),
			slog.Duration("delay", d.Delay),
		)
	}
	return d, nil
}

// Get returns one item.
func (q *Queue) Get(ctx context.Context, itemID id.ItemID) (*Item, error) {
	return q.store.GetItem(ctx, itemID)
}

// List returns items matching opts.
func (q *Queue) List(ctx context.Context, opts ListOpts) ([]*Item, error) {
	return q.store.ListItems(ctx, opts)
}

// Count returns the number of items in status (all when empty).
func (q *Queue) Count(ctx context.Context, status Status) (int64, error) {
	return q.store.CountItems(ctx, status)
}

// ReleaseStale requeues items stuck in processing for longer than
// visibility.
func (q *Queue) ReleaseStale(ctx context.Context, visibility time.Duration) (int64, error) {
	n, err := q.store.ReleaseStale(ctx, q.now().UTC().Add(-visibility))
	if err != nil {
		return 0, fmt.Errorf("outpost: release stale: %w", err)
	}
	if n > 0 {
		q.logger.Warn("released stale items", slog.Int64("count", n))
	}
	return n, nil
}

// PurgeProcessed deletes processed items older than retention.
func (q *Queue) PurgeProcessed(ctx context.Context, retention time.Duration) (int64, error) {
	return q.store.PurgeProcessed(ctx, q.now().UTC().Add(-retention))
}
