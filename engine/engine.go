// Package engine wires all Outpost subsystems together. It creates the
// extension registry, handler registry, middleware chain, dispatcher,
// worker pool and scheduler, and provides Enqueue/Register/RunNow.
//
// This package exists to break the import cycle: the root outpost package
// defines Entity (imported by queue, schedule, webhook) and so cannot
// import those packages back. The engine package sits above all subsystem
// packages and below the application layer.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/backoff"
	"github.com/xraph/outpost/dispatcher"
	"github.com/xraph/outpost/event"
	"github.com/xraph/outpost/ext"
	"github.com/xraph/outpost/id"
	mw "github.com/xraph/outpost/middleware"
	"github.com/xraph/outpost/observability"
	"github.com/xraph/outpost/queue"
	"github.com/xraph/outpost/schedule"
	"github.com/xraph/outpost/webhook"
	"github.com/xraph/outpost/worker"
)

const instrumentationName = "github.com/xraph/outpost"

// Engine wraps an Outpost with typed subsystem access.
// Use Build() to create one from an Outpost.
type Engine struct {
	o          *outpost.Outpost
	extensions *ext.Registry
	registry   *schedule.Registry
	queue      *queue.Queue
	dispatcher *dispatcher.Dispatcher
	pool       *worker.Pool
	mws        []mw.Middleware
	hook       dispatcher.HookFunc
	logger     *slog.Logger

	// Schedule subsystem (nil when the store has no schedule support).
	schedules schedule.Store
	scheduler *schedule.Scheduler

	// Webhook subsystem (nil when the store has no webhook support).
	webhooks   webhook.Store
	source     webhook.SubscriptionSource
	fanout     *webhook.Fanout
	httpClient *http.Client
	hostLimits *queue.Limiter

	itemPolicy     backoff.ItemPolicy
	schedulePolicy backoff.SchedulePolicy

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain, inside the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithHook sets the in-process hook chain consumer for events.
func WithHook(h dispatcher.HookFunc) Option {
	return func(eng *Engine) {
		eng.hook = h
	}
}

// WithItemPolicy sets the queue item retry policy.
// If not set, backoff.DefaultItemPolicy() is used.
func WithItemPolicy(p backoff.ItemPolicy) Option {
	return func(eng *Engine) {
		eng.itemPolicy = p
	}
}

// WithSchedulePolicy sets the schedule retry policy.
func WithSchedulePolicy(p backoff.SchedulePolicy) Option {
	return func(eng *Engine) {
		eng.schedulePolicy = p
	}
}

// WithSubscriptionSource reads webhook subscriptions from src instead of
// the store. Delivery rows are still written to the store.
func WithSubscriptionSource(src webhook.SubscriptionSource) Option {
	return func(eng *Engine) {
		eng.source = src
	}
}

// WithHTTPClient sets the client used for webhook deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(eng *Engine) {
		eng.httpClient = c
	}
}

// WithWebhookHostLimits throttles webhook deliveries per target host.
// defaults applies to hosts without an override; Key is the host.
func WithWebhookHostLimits(defaults queue.LimitConfig, overrides ...queue.LimitConfig) Option {
	return func(eng *Engine) {
		eng.hostLimits = queue.NewLimiter(defaults, overrides...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Outpost.
// The Outpost's store must implement queue.Store. Schedules and webhooks
// are enabled when it also implements schedule.Store and webhook.Store.
func Build(o *outpost.Outpost, opts ...Option) (*Engine, error) {
	logger := o.Logger()
	store := o.Store()

	if store == nil {
		return nil, outpost.ErrNoStore
	}

	qs, ok := store.(queue.Store)
	if !ok {
		return nil, fmt.Errorf("outpost: store does not implement queue.Store")
	}

	eng := &Engine{
		o:          o,
		extensions: ext.NewRegistry(logger),
		registry:   schedule.NewRegistry(),
		logger:     logger,
		itemPolicy: backoff.DefaultItemPolicy(),
	}
	eng.schedules, _ = store.(schedule.Store)
	eng.webhooks, _ = store.(webhook.Store)

	for _, opt := range opts {
		opt(eng)
	}

	config := o.Config()
	eng.queue = queue.New(qs, queue.WithPolicy(eng.itemPolicy), queue.WithLogger(logger))

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware and the observability extension.
	var metricsMw mw.Middleware
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging → scope → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Scope(),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	dispatchOpts := []dispatcher.Option{
		dispatcher.WithHook(eng.hook),
		dispatcher.WithExtensions(eng.extensions),
		dispatcher.WithMiddleware(allMws...),
		dispatcher.WithSchedulePolicy(eng.schedulePolicy),
		dispatcher.WithHandlerTimeout(config.HandlerTimeout),
		dispatcher.WithLogger(logger),
	}

	if eng.webhooks != nil {
		source := eng.source
		if source == nil {
			source = eng.webhooks
		}
		fanoutOpts := []webhook.Option{
			webhook.WithTimeout(config.WebhookTimeout),
			webhook.WithMaxParallel(config.WebhookParallelism),
			webhook.WithEmitter(eng.extensions),
			webhook.WithLogger(logger),
			webhook.WithHostLimiter(eng.hostLimits),
		}
		if eng.httpClient != nil {
			fanoutOpts = append(fanoutOpts, webhook.WithHTTPClient(eng.httpClient))
		}
		eng.fanout = webhook.NewFanout(source, eng.webhooks, fanoutOpts...)
		dispatchOpts = append(dispatchOpts, dispatcher.WithDeliverer(eng.fanout))
	}

	eng.dispatcher = dispatcher.New(eng.queue, eng.schedules, eng.registry, dispatchOpts...)

	poolOpts := []worker.PoolOption{
		worker.WithConcurrency(config.Concurrency),
		worker.WithBatchSize(config.BatchSize),
		worker.WithPollInterval(config.PollInterval),
		worker.WithVisibilityTimeout(config.VisibilityTimeout),
		worker.WithRetention(config.ProcessedRetention),
	}
	if config.ClaimRate > 0 {
		poolOpts = append(poolOpts, worker.WithClaimLimiter(queue.NewLimiter(queue.LimitConfig{
			RateLimit: config.ClaimRate,
			RateBurst: config.Concurrency,
		})))
	}
	eng.pool = worker.NewPool(eng.queue, eng.dispatcher, logger, poolOpts...)
	o.AddRunner(eng.pool)

	if eng.schedules != nil {
		schedOpts := []schedule.SchedulerOption{
			schedule.WithLockTTL(config.ScheduleLockTTL),
			schedule.WithBatchSize(config.ScheduleBatchSize),
		}
		if config.ScheduleTickInterval > 0 {
			schedOpts = append(schedOpts, schedule.WithTickInterval(config.ScheduleTickInterval))
		}
		eng.scheduler = schedule.NewScheduler(eng.schedules, eng.dispatcher, eng.pool.WorkerID(), logger, schedOpts...)
		if config.ScheduleTickInterval > 0 {
			o.AddRunner(eng.scheduler)
		}
	} else {
		logger.Info("store has no schedule support, scheduler disabled")
	}

	o.SetExtensions(eng.extensions)
	return eng, nil
}

// Enqueue validates an event envelope and persists it as a queued item.
// It returns as soon as the item is stored; dispatch happens on a worker.
func (eng *Engine) Enqueue(ctx context.Context, env *event.Envelope) (*queue.Item, error) {
	item, err := eng.queue.Enqueue(ctx, env)
	if err != nil {
		return nil, err
	}
	eng.extensions.EmitItemEnqueued(ctx, item)
	return item, nil
}

// Drain runs one claim-and-dispatch cycle on the caller's goroutine and
// returns how many items it claimed. Useful when the host triggers work
// itself instead of running the pool.
func (eng *Engine) Drain(ctx context.Context) (int, error) {
	return eng.pool.Drain(ctx)
}

// RegisterHandler binds a raw schedule handler to an action key.
func (eng *Engine) RegisterHandler(actionKey string, h schedule.HandlerFunc) {
	eng.registry.Register(actionKey, h)
}

// RegisterDefinition registers a typed schedule handler with the engine.
func RegisterDefinition[T any](eng *Engine, def *schedule.Definition[T]) {
	schedule.RegisterDefinition(eng.registry, def)
}

// RegisterSchedule creates a schedule entry. Re-registering the same
// owner, site and name returns the existing entry.
func (eng *Engine) RegisterSchedule(ctx context.Context, e *schedule.Entry) (*schedule.Entry, error) {
	if eng.scheduler == nil {
		return nil, outpost.ErrNoStore
	}
	return eng.scheduler.Register(ctx, e)
}

// RunNow runs a schedule entry immediately.
func (eng *Engine) RunNow(ctx context.Context, scheduleID id.ScheduleID) (*schedule.RunAudit, error) {
	if eng.scheduler == nil {
		return nil, outpost.ErrNoStore
	}
	return eng.scheduler.RunNow(ctx, scheduleID)
}

// RunDueSchedules runs one scheduler tick on the caller's goroutine.
func (eng *Engine) RunDueSchedules(ctx context.Context) (int, error) {
	if eng.scheduler == nil {
		return 0, outpost.ErrNoStore
	}
	return eng.scheduler.RunDue(ctx)
}

// ResetDeadLetter revives a dead-lettered schedule entry.
func (eng *Engine) ResetDeadLetter(ctx context.Context, scheduleID id.ScheduleID) error {
	if eng.scheduler == nil {
		return outpost.ErrNoStore
	}
	return eng.scheduler.ResetDeadLetter(ctx, scheduleID)
}

// Start begins processing by starting the worker pool and, when enabled,
// the scheduler loop.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.o.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.o.Stop(ctx)
}

// Outpost returns the underlying Outpost.
func (eng *Engine) Outpost() *outpost.Outpost { return eng.o }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the schedule handler registry.
func (eng *Engine) Registry() *schedule.Registry { return eng.registry }

// Queue returns the queue service.
func (eng *Engine) Queue() *queue.Queue { return eng.queue }

// Dispatcher returns the dispatcher.
func (eng *Engine) Dispatcher() *dispatcher.Dispatcher { return eng.dispatcher }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Scheduler returns the scheduler, or nil when the store has no schedule
// support.
func (eng *Engine) Scheduler() *schedule.Scheduler { return eng.scheduler }

// Fanout returns the webhook fanout, or nil when the store has no webhook
// support.
func (eng *Engine) Fanout() *webhook.Fanout { return eng.fanout }
