package outpost

import (
	"context"
	"log/slog"
	"time"
)

// Option configures an Outpost.
type Option func(*Outpost) error

// Storer is the minimal store interface held by Outpost. It covers
// lifecycle operations only. The full composite interface (store.Store)
// is used in subsystem layers that don't create import cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for background loop lifecycle (the
// worker pool and the scheduler).
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Outpost is the central coordinator for the queue, the worker pool and
// the scheduler.
//
// Create one with New() and functional options, then pass it to
// engine.Build, which wires the subsystems and registers their loops here.
type Outpost struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	runners    []runner

	started bool
}

// New creates a new Outpost with the given options.
func New(opts ...Option) (*Outpost, error) {
	o := &Outpost{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Logger returns the logger.
func (o *Outpost) Logger() *slog.Logger { return o.logger }

// Store returns the store.
func (o *Outpost) Store() Storer { return o.store }

// Config returns a copy of the configuration.
func (o *Outpost) Config() Config { return o.config }

// AddRunner registers a background loop started by Start and stopped, in
// reverse order, by Stop. Called by the engine package.
func (o *Outpost) AddRunner(r runner) { o.runners = append(o.runners, r) }

// SetExtensions sets the extension emitter (called by the engine package).
func (o *Outpost) SetExtensions(e extensionEmitter) { o.extensions = e }

// Start starts every registered loop.
func (o *Outpost) Start(ctx context.Context) error {
	if o.store == nil {
		return ErrNoStore
	}
	for i, r := range o.runners {
		if err := r.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = o.runners[j].Stop(ctx) //nolint:errcheck // best-effort rollback
			}
			return err
		}
	}
	o.started = true
	return nil
}

// Stop gracefully shuts down the loops, notifies extensions and closes the
// store. A ctx without deadline is bounded by Config.ShutdownTimeout.
func (o *Outpost) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && o.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.ShutdownTimeout)
		defer cancel()
	}
	if o.started {
		for i := len(o.runners) - 1; i >= 0; i-- {
			if err := o.runners[i].Stop(ctx); err != nil {
				o.logger.Error("runner stop error", slog.String("error", err.Error()))
			}
		}
		o.started = false
	}
	if o.extensions != nil {
		o.extensions.EmitShutdown(ctx)
	}
	if o.store != nil {
		return o.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(o *Outpost) error {
		o.config = cfg
		return nil
	}
}

// WithConcurrency sets the number of drain goroutines.
func WithConcurrency(n int) Option {
	return func(o *Outpost) error {
		o.config.Concurrency = n
		return nil
	}
}

// WithBatchSize sets the number of items claimed per drain cycle.
func WithBatchSize(n int) Option {
	return func(o *Outpost) error {
		o.config.BatchSize = n
		return nil
	}
}

// WithPollInterval sets how long an idle drain goroutine sleeps.
func WithPollInterval(d time.Duration) Option {
	return func(o *Outpost) error {
		o.config.PollInterval = d
		return nil
	}
}

// WithVisibilityTimeout sets the reaper's visibility timeout.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(o *Outpost) error {
		o.config.VisibilityTimeout = d
		return nil
	}
}

// WithScheduleTickInterval sets the scheduler tick. Zero disables the loop.
func WithScheduleTickInterval(d time.Duration) Option {
	return func(o *Outpost) error {
		o.config.ScheduleTickInterval = d
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Outpost) error {
		o.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. It is typically a store.Store,
// which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(o *Outpost) error {
		o.store = s
		return nil
	}
}
