package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/backoff"
	"github.com/xraph/outpost/event"
	"github.com/xraph/outpost/ext"
	"github.com/xraph/outpost/middleware"
	"github.com/xraph/outpost/queue"
	"github.com/xraph/outpost/schedule"
	"github.com/xraph/outpost/webhook"
)

var _ schedule.Runner = (*Dispatcher)(nil)

// HookFunc is the in-process consumer of events. The surrounding runtime
// owns it; a non-nil error fails the attempt.
type HookFunc func(ctx context.Context, name string, env *event.Envelope) error

// Deliverer fans an item out to webhook subscribers. *webhook.Fanout
// satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, item *queue.Item) ([]*webhook.Delivery, error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHook sets the hook chain consumer.
func WithHook(h HookFunc) Option {
	return func(d *Dispatcher) { d.hook = h }
}

// WithDeliverer enables webhook fanout on the event path.
func WithDeliverer(f Deliverer) Option {
	return func(d *Dispatcher) { d.fanout = f }
}

// WithExtensions sets the lifecycle extension registry.
func WithExtensions(r *ext.Registry) Option {
	return func(d *Dispatcher) { d.extensions = r }
}

// WithMiddleware sets the middleware applied around hooks and handlers.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(d *Dispatcher) { d.mw = middleware.Chain(mws...) }
}

// WithSchedulePolicy overrides the schedule retry policy.
func WithSchedulePolicy(p backoff.SchedulePolicy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithHandlerTimeout bounds each hook or handler call. Enforced by
// middleware.Timeout.
func WithHandlerTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher runs queue items and schedule entries.
type Dispatcher struct {
	queue      *queue.Queue
	schedules  schedule.Store
	registry   *schedule.Registry
	hook       HookFunc
	fanout     Deliverer
	extensions *ext.Registry
	mw         middleware.Middleware
	policy     backoff.SchedulePolicy
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Dispatcher. schedules and registry may be nil when only the
// event path is used.
func New(q *queue.Queue, schedules schedule.Store, registry *schedule.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:     q,
		schedules: schedules,
		registry:  registry,
		mw:        middleware.Chain(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.extensions == nil {
		d.extensions = ext.NewRegistry(d.logger)
	}
	if d.registry == nil {
		d.registry = schedule.NewRegistry()
	}
	return d
}

// DispatchItem runs one claimed item. On success the item is marked
// processed; on failure it is requeued with backoff or dead-lettered. The
// returned error is the hook error (for logging) or a storage error.
func (d *Dispatcher) DispatchItem(ctx context.Context, item *queue.Item) error {
	env := item.Envelope
	task := &middleware.Task{
		Kind:    middleware.KindEvent,
		ID:      item.ID.String(),
		Name:    env.Name,
		SiteID:  env.SiteID,
		AppID:   env.Meta[queue.MetaAppID],
		Attempt: item.Attempts,
		Timeout: d.timeout,
	}

	var g errgroup.Group
	if d.fanout != nil {
		g.Go(func() error {
			_, err := d.fanout.Deliver(ctx, item)
			return err
		})
	}

	start := d.now()
	hookErr := d.mw(ctx, task, func(ctx context.Context) error {
		if d.hook == nil {
			return nil
		}
		return d.hook(ctx, env.Name, &env)
	})
	elapsed := d.now().Sub(start)

	if err := g.Wait(); err != nil {
		d.logger.Error("webhook fanout failed",
			slog.String("item_id", item.ID.String()),
			slog.String("event", env.Name),
			slog.String("error", err.Error()),
		)
	}

	// The outcome is recorded even when the worker is shutting down.
	persistCtx := context.WithoutCancel(ctx)
	if hookErr == nil {
		return d.handleSuccess(persistCtx, item, elapsed)
	}
	return d.handleFailure(persistCtx, item, hookErr)
}

func (d *Dispatcher) handleSuccess(ctx context.Context, item *queue.Item, elapsed time.Duration) error {
	if err := d.queue.MarkProcessed(ctx, item.Claim()); err != nil {
		d.logClaimError("failed to mark item processed", item, err)
		return fmt.Errorf("outpost: mark processed %s: %w", item.ID, err)
	}
	item.Status = queue.StatusProcessed
	item.LastError = ""

	d.extensions.EmitItemProcessed(ctx, item, elapsed)
	return nil
}

func (d *Dispatcher) handleFailure(ctx context.Context, item *queue.Item, hookErr error) error {
	decision, err := d.queue.MarkFailed(ctx, item.Claim(), hookErr)
	if err != nil {
		d.logClaimError("failed to record item failure", item, err)
		return fmt.Errorf("outpost: mark failed %s: %w", item.ID, err)
	}
	item.LastError = outpost.TruncateError(hookErr)

	if decision.DeadLetter {
		item.Status = queue.StatusDeadLetter
		d.extensions.EmitItemDeadLettered(ctx, item, hookErr)
	} else {
		item.Status = queue.StatusQueued
		item.AvailableAt = decision.NextAt
		d.extensions.EmitItemRetrying(ctx, item, hookErr, decision.NextAt)
	}
	return hookErr
}

// logClaimError logs a failed item transition. A lost claim means the
// reaper released the item and another claim owns it now, so it is only a
// warning and no extension event is emitted for this attempt.
func (d *Dispatcher) logClaimError(msg string, item *queue.Item, err error) {
	attrs := []any{
		slog.String("item_id", item.ID.String()),
		slog.Int("attempts", item.Attempts),
		slog.String("error", err.Error()),
	}
	if errors.Is(err, outpost.ErrClaimLost) {
		d.logger.Warn("item claim lost", attrs...)
		return
	}
	d.logger.Error(msg, attrs...)
}

// RunSchedule runs one leased entry, then persists the entry's new state
// and its audit row together. Handler failures, including an unknown
// action key, are recorded on the entry and not returned; the error is
// reserved for storage failures.
func (d *Dispatcher) RunSchedule(ctx context.Context, e *schedule.Entry, trigger schedule.Trigger) (*schedule.RunAudit, error) {
	if d.schedules == nil {
		return nil, outpost.ErrNoStore
	}

	task := &middleware.Task{
		Kind:    middleware.KindSchedule,
		ID:      e.ID.String(),
		Name:    e.ActionKey,
		SiteID:  e.SiteID,
		Attempt: e.RetryCount + 1,
		Timeout: d.timeout,
	}

	start := d.now()
	var runErr error
	if h, ok := d.registry.Get(e.ActionKey); ok {
		runErr = d.mw(ctx, task, func(ctx context.Context) error {
			return h(ctx, e.Payload)
		})
	} else {
		runErr = fmt.Errorf("%w: %q", outpost.ErrUnknownAction, e.ActionKey)
	}
	now := d.now().UTC()
	elapsed := now.Sub(start)

	audit := e.Apply(now, trigger, runErr, d.policy)
	persistCtx := context.WithoutCancel(ctx)
	if err := d.schedules.RecordRun(persistCtx, e, audit); err != nil {
		return nil, fmt.Errorf("outpost: record run %s: %w", e.Name, err)
	}

	switch audit.Outcome {
	case schedule.OutcomeSuccess:
		d.extensions.EmitScheduleSucceeded(persistCtx, e, audit, elapsed)
	case schedule.OutcomeFailed:
		d.logger.Info("schedule run failed, retrying",
			slog.String("schedule_id", e.ID.String()),
			slog.String("schedule", e.Name),
			slog.Int("retry_count", e.RetryCount),
			slog.Time("next_run_at", e.NextRunAt),
			slog.String("error", audit.Error),
		)
		d.extensions.EmitScheduleRetrying(persistCtx, e, audit)
	case schedule.OutcomeDeadLetter:
		d.logger.Warn("schedule dead-lettered",
			slog.String("schedule_id", e.ID.String()),
			slog.String("schedule", e.Name),
			slog.Int("retry_count", e.RetryCount),
			slog.String("error", audit.Error),
		)
		d.extensions.EmitScheduleDeadLettered(persistCtx, e, audit)
	}
	return audit, nil
}
