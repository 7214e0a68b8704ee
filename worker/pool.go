// Package worker provides the drain loop pool: goroutines that claim
// batches of queue items and hand each to the dispatcher in claim order,
// plus a reaper that returns items abandoned in processing to the queue.
//
// Drain is stateless. Any number of pools, in one process or many, may
// drain the same store; mutual exclusion comes only from the store's
// claim primitive.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/queue"
)

// ClaimKey is the limiter key the pool waits on before each claim.
const ClaimKey = "claim"

// Dispatcher executes one claimed item. *dispatcher.Dispatcher satisfies it.
type Dispatcher interface {
	DispatchItem(ctx context.Context, item *queue.Item) error
}

// Pool manages a set of concurrent drain goroutines.
type Pool struct {
	queue        *queue.Queue
	dispatcher   Dispatcher
	concurrency  int
	batchSize    int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Reaper configuration.
	visibility time.Duration
	retention  time.Duration

	// Claim limiter (optional).
	limiter *queue.Limiter

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of drain goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithBatchSize sets how many items one drain cycle claims.
func WithBatchSize(n int) PoolOption {
	return func(p *Pool) { p.batchSize = n }
}

// WithPollInterval sets how long an idle drain goroutine sleeps.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithVisibilityTimeout sets how long an item may stay in processing
// before the reaper requeues it. The reaper runs every half timeout. A
// zero value disables it.
func WithVisibilityTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.visibility = d }
}

// WithRetention makes the reaper delete processed items older than d. A
// zero value keeps them forever.
func WithRetention(d time.Duration) PoolOption {
	return func(p *Pool) { p.retention = d }
}

// WithClaimLimiter throttles claim calls. The pool waits on ClaimKey.
func WithClaimLimiter(l *queue.Limiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// WithWorkerID sets the identity stamped on claimed items.
func WithWorkerID(wid id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = wid }
}

// NewPool creates a worker pool.
func NewPool(q *queue.Queue, d Dispatcher, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		queue:        q,
		dispatcher:   d,
		concurrency:  4,
		batchSize:    queue.DefaultBatchSize,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the drain goroutines and the reaper. It returns
// immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.runCtx, p.cancel = context.WithCancel(context.Background())

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Int("batch_size", p.batchSize),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.drainLoop()
	}

	if p.visibility > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all goroutines to stop and waits for in-flight batches.
// If ctx expires first, in-flight dispatches are cancelled; their
// outcome is still recorded.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active dispatches")
		p.cancel()
		p.wg.Wait()
	}
	p.cancel()

	return nil
}

// Drain claims one batch and dispatches its items in claim order. It
// returns the number of items claimed. Dispatch failures are recorded on
// the items and only logged here.
func (p *Pool) Drain(ctx context.Context) (int, error) {
	if err := p.limiter.Wait(ctx, ClaimKey); err != nil {
		return 0, err
	}

	items, err := p.queue.ClaimBatch(ctx, p.workerID, p.batchSize)
	if err != nil {
		return 0, err
	}

	for _, item := range items {
		if err := p.dispatcher.DispatchItem(ctx, item); err != nil {
			p.logger.Debug("item dispatch failed",
				slog.String("item_id", item.ID.String()),
				slog.String("event", item.Name()),
				slog.Int("attempt", item.Attempts),
				slog.String("error", err.Error()),
			)
		}
	}
	return len(items), nil
}

// drainLoop is run by each drain goroutine.
func (p *Pool) drainLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		n, err := p.Drain(p.runCtx)
		if err != nil {
			if p.runCtx.Err() == nil {
				p.logger.Error("drain error", slog.String("error", err.Error()))
			}
			p.sleep()
			continue
		}
		if n == 0 {
			p.sleep()
		}
	}
}

// reaperLoop periodically requeues items abandoned in processing.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	interval := p.visibility / 2
	if interval <= 0 {
		interval = p.visibility
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Reap(p.runCtx)
		}
	}
}

// Reap runs one reaper pass: requeue stale processing items and, when a
// retention is set, purge old processed items.
func (p *Pool) Reap(ctx context.Context) {
	if _, err := p.queue.ReleaseStale(ctx, p.visibility); err != nil {
		p.logger.Error("reap stale items error", slog.String("error", err.Error()))
	}
	if p.retention <= 0 {
		return
	}
	n, err := p.queue.PurgeProcessed(ctx, p.retention)
	if err != nil {
		p.logger.Error("purge processed items error", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		p.logger.Info("purged processed items", slog.Int64("count", n))
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}
