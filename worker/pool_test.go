package worker_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/outpost/dispatcher"
	"github.com/xraph/outpost/event"
	"github.com/xraph/outpost/queue"
	"github.com/xraph/outpost/store/memory"
	"github.com/xraph/outpost/worker"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func setupTestPool(t *testing.T, hook dispatcher.HookFunc, opts ...worker.PoolOption) (*worker.Pool, *queue.Queue) {
	t.Helper()
	logger := slog.Default()
	q := queue.New(memory.New(), queue.WithLogger(logger))
	d := dispatcher.New(q, nil, nil, dispatcher.WithHook(hook), dispatcher.WithLogger(logger))
	return worker.NewPool(q, d, logger, opts...), q
}

func enqueue(t *testing.T, q *queue.Queue, site string) *queue.Item {
	t.Helper()
	item, err := q.Enqueue(context.Background(), &event.Envelope{Name: event.ContentUpdated, SiteID: site})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return item
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _ := setupTestPool(t, nil, worker.WithConcurrency(2), worker.WithPollInterval(20*time.Millisecond))

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	// Double stop should be no-op.
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_DrainDispatchesInClaimOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	pool, q := setupTestPool(t, func(_ context.Context, _ string, env *event.Envelope) error {
		mu.Lock()
		seen = append(seen, env.SiteID)
		mu.Unlock()
		return nil
	}, worker.WithBatchSize(10))

	for _, site := range []string{"a", "b", "c"} {
		enqueue(t, q, site)
		time.Sleep(2 * time.Millisecond)
	}

	n, err := pool.Drain(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("Drain = %d, %v", n, err)
	}
	if len(seen) != 3 || seen[0] != "a" || seen[1] != "b" || seen[2] != "c" {
		t.Errorf("dispatch order = %v", seen)
	}
	if c, _ := q.Count(context.Background(), queue.StatusProcessed); c != 3 {
		t.Errorf("processed = %d", c)
	}

	if n, _ := pool.Drain(context.Background()); n != 0 {
		t.Errorf("second drain claimed %d items", n)
	}
}

func TestPool_ProcessesItems(t *testing.T) {
	var processed atomic.Int32
	pool, q := setupTestPool(t, func(context.Context, string, *event.Envelope) error {
		processed.Add(1)
		return nil
	}, worker.WithConcurrency(2), worker.WithPollInterval(5*time.Millisecond))

	for range 5 {
		enqueue(t, q, "s1")
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, func() bool { return processed.Load() == 5 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
	if c, _ := q.Count(context.Background(), queue.StatusProcessed); c != 5 {
		t.Errorf("processed = %d, want 5", c)
	}
}

func TestPool_FailedItemIsRequeued(t *testing.T) {
	pool, q := setupTestPool(t, func(context.Context, string, *event.Envelope) error {
		return errors.New("hook failed")
	})

	item := enqueue(t, q, "s1")
	if n, err := pool.Drain(context.Background()); err != nil || n != 1 {
		t.Fatalf("Drain = %d, %v", n, err)
	}
	got, _ := q.Get(context.Background(), item.ID)
	if got.Status != queue.StatusQueued || got.LastError != "hook failed" {
		t.Errorf("item = %+v", got)
	}
}

func TestPool_ConcurrentPoolsNeverShareItems(t *testing.T) {
	s := memory.New()
	q := queue.New(s)

	var mu sync.Mutex
	counts := map[string]int{}
	hook := func(_ context.Context, _ string, env *event.Envelope) error {
		mu.Lock()
		counts[env.ActorID]++
		mu.Unlock()
		return nil
	}
	d := dispatcher.New(q, nil, nil, dispatcher.WithHook(hook))

	const total = 60
	for i := range total {
		env := &event.Envelope{Name: event.CommentCreated, ActorType: event.ActorUser, ActorID: fmt.Sprintf("u%d", i)}
		if _, err := q.Enqueue(context.Background(), env); err != nil {
			t.Fatal(err)
		}
	}

	pools := []*worker.Pool{
		worker.NewPool(q, d, nil, worker.WithConcurrency(3), worker.WithBatchSize(4), worker.WithPollInterval(time.Millisecond)),
		worker.NewPool(q, d, nil, worker.WithConcurrency(3), worker.WithBatchSize(4), worker.WithPollInterval(time.Millisecond)),
	}
	for _, p := range pools {
		if err := p.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, func() bool {
		c, _ := q.Count(context.Background(), queue.StatusProcessed)
		return c == total
	})
	for _, p := range pools {
		_ = p.Stop(context.Background())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(counts) != total {
		t.Fatalf("distinct items dispatched = %d, want %d", len(counts), total)
	}
	for actor, n := range counts {
		if n != 1 {
			t.Errorf("item %s dispatched %d times", actor, n)
		}
	}
}

func TestPool_ReapRequeuesStaleItems(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	q := queue.New(memory.New(), queue.WithClock(c.Now))
	pool := worker.NewPool(q, dispatcher.New(q, nil, nil), nil,
		worker.WithVisibilityTimeout(5*time.Minute),
		worker.WithRetention(time.Hour),
	)

	item := enqueue(t, q, "s1")
	// Simulate a worker that claimed the item and died.
	if _, err := q.ClaimBatch(context.Background(), pool.WorkerID(), 1); err != nil {
		t.Fatal(err)
	}

	c.Advance(time.Minute)
	pool.Reap(context.Background())
	if got, _ := q.Get(context.Background(), item.ID); got.Status != queue.StatusProcessing {
		t.Fatalf("item reaped before the visibility timeout: %s", got.Status)
	}

	c.Advance(5 * time.Minute)
	pool.Reap(context.Background())
	got, _ := q.Get(context.Background(), item.ID)
	if got.Status != queue.StatusQueued || got.Attempts != 1 {
		t.Errorf("item after reap = %+v", got)
	}
}

func TestPool_ClaimLimiterHonoursContext(t *testing.T) {
	limiter := queue.NewLimiter(queue.LimitConfig{}, queue.LimitConfig{Key: worker.ClaimKey, RateLimit: 0.001, RateBurst: 1})
	pool, _ := setupTestPool(t, nil, worker.WithClaimLimiter(limiter))

	if _, err := pool.Drain(context.Background()); err != nil {
		t.Fatalf("first drain: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := pool.Drain(ctx); err == nil {
		t.Error("expected the limiter to refuse a second claim within the deadline")
	}
}
