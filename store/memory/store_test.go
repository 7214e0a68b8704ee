package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/backoff"
	"github.com/xraph/outpost/event"
	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/queue"
	"github.com/xraph/outpost/schedule"
	"github.com/xraph/outpost/webhook"
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Queue tests
// ──────────────────────────────────────────────────

func newItem(createdAt time.Time) *queue.Item {
	return &queue.Item{
		Entity: outpost.Entity{CreatedAt: createdAt, UpdatedAt: createdAt},
		ID:     id.NewItemID(),
		Envelope: event.Envelope{
			Version:   1,
			Name:      event.ContentPublished,
			Timestamp: createdAt,
			SiteID:    "s1",
			ActorType: event.ActorSystem,
			Payload:   json.RawMessage(`{"postId":"p1"}`),
		},
		Status:      queue.StatusQueued,
		AvailableAt: createdAt,
	}
}

func TestEnqueueDuplicate(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	it := newItem(time.Now().UTC())
	if err := s.EnqueueItem(ctx, it); err != nil {
		t.Fatalf("EnqueueItem: %v", err)
	}
	if err := s.EnqueueItem(ctx, it); !errors.Is(err, outpost.ErrItemAlreadyExists) {
		t.Fatalf("expected ErrItemAlreadyExists, got %v", err)
	}
}

func TestClaimOrderAndEligibility(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	older := newItem(now.Add(-2 * time.Minute))
	newer := newItem(now.Add(-1 * time.Minute))
	future := newItem(now.Add(-3 * time.Minute))
	future.AvailableAt = now.Add(time.Hour)
	for _, it := range []*queue.Item{newer, future, older} {
		if err := s.EnqueueItem(ctx, it); err != nil {
			t.Fatal(err)
		}
	}

	worker := id.NewWorkerID()
	got, err := s.ClaimItems(ctx, worker, now, 10)
	if err != nil {
		t.Fatalf("ClaimItems: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("claimed %d items, want 2", len(got))
	}
	if got[0].ID != older.ID || got[1].ID != newer.ID {
		t.Errorf("expected oldest first, got %s then %s", got[0].ID, got[1].ID)
	}
	for _, it := range got {
		if it.Status != queue.StatusProcessing || it.Attempts != 1 {
			t.Errorf("item %s: status=%s attempts=%d", it.ID, it.Status, it.Attempts)
		}
		if it.ClaimedBy != worker || it.ClaimedAt == nil {
			t.Errorf("item %s not stamped with claimant", it.ID)
		}
	}

	again, err := s.ClaimItems(ctx, worker, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second claim returned %d items, want 0", len(again))
	}
}

func TestClaimMutualExclusion(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	const items = 200
	for i := range items {
		if err := s.EnqueueItem(ctx, newItem(now.Add(time.Duration(-i)*time.Millisecond))); err != nil {
			t.Fatal(err)
		}
	}

	const workers = 16
	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := id.NewWorkerID()
			for {
				batch, err := s.ClaimItems(ctx, w, now, 7)
				if err != nil {
					t.Error(err)
					return
				}
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, it := range batch {
					seen[it.ID.String()]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != items {
		t.Fatalf("claimed %d distinct items, want %d", len(seen), items)
	}
	for key, n := range seen {
		if n != 1 {
			t.Errorf("item %s claimed %d times", key, n)
		}
	}
}

func TestMarkProcessedTransitions(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	it := newItem(now)
	if err := s.EnqueueItem(ctx, it); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkItemProcessed(ctx, it.Claim()); !errors.Is(err, outpost.ErrInvalidState) {
		t.Fatalf("queued item: expected ErrInvalidState, got %v", err)
	}
	claimed, err := s.ClaimItems(ctx, id.NewWorkerID(), now, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimItems: %v %v", claimed, err)
	}
	c := claimed[0].Claim()
	if err := s.MarkItemProcessed(ctx, c); err != nil {
		t.Fatalf("first MarkItemProcessed: %v", err)
	}
	if err := s.MarkItemProcessed(ctx, c); err != nil {
		t.Fatalf("second MarkItemProcessed should be a no-op, got %v", err)
	}
	if err := s.MarkItemProcessed(ctx, queue.Claim{ItemID: id.NewItemID()}); !errors.Is(err, outpost.ErrItemNotFound) {
		t.Fatalf("unknown item: expected ErrItemNotFound, got %v", err)
	}
	if err := s.RequeueItem(ctx, c, now, "x"); !errors.Is(err, outpost.ErrInvalidState) {
		t.Fatalf("requeue processed: expected ErrInvalidState, got %v", err)
	}
}

func TestTransitionsFencedByClaim(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	workerA, workerB, workerC := id.NewWorkerID(), id.NewWorkerID(), id.NewWorkerID()

	it := newItem(now.Add(-time.Hour))
	if err := s.EnqueueItem(ctx, it); err != nil {
		t.Fatal(err)
	}
	first, err := s.ClaimItems(ctx, workerA, now.Add(-30*time.Minute), 1)
	if err != nil || len(first) != 1 {
		t.Fatalf("claim A: %v %v", first, err)
	}
	if n, err := s.ReleaseStale(ctx, now.Add(-10*time.Minute)); err != nil || n != 1 {
		t.Fatalf("ReleaseStale = %d, %v", n, err)
	}
	second, err := s.ClaimItems(ctx, workerB, time.Now().UTC(), 1)
	if err != nil || len(second) != 1 {
		t.Fatalf("claim B: %v %v", second, err)
	}

	stale := first[0].Claim()
	if err := s.RequeueItem(ctx, stale, now, "late"); !errors.Is(err, outpost.ErrClaimLost) {
		t.Fatalf("stale RequeueItem: expected ErrClaimLost, got %v", err)
	}
	if err := s.DeadLetterItem(ctx, stale, "late"); !errors.Is(err, outpost.ErrClaimLost) {
		t.Fatalf("stale DeadLetterItem: expected ErrClaimLost, got %v", err)
	}
	if err := s.MarkItemProcessed(ctx, stale); !errors.Is(err, outpost.ErrClaimLost) {
		t.Fatalf("stale MarkItemProcessed: expected ErrClaimLost, got %v", err)
	}
	wrongAttempt := second[0].Claim()
	wrongAttempt.Attempt--
	if err := s.MarkItemProcessed(ctx, wrongAttempt); !errors.Is(err, outpost.ErrClaimLost) {
		t.Fatalf("old attempt: expected ErrClaimLost, got %v", err)
	}
	if claimed, _ := s.ClaimItems(ctx, workerC, time.Now().UTC(), 1); len(claimed) != 0 {
		t.Fatalf("item claimed while B holds it: %v", claimed)
	}

	got, _ := s.GetItem(ctx, it.ID)
	if got.Status != queue.StatusProcessing || got.Attempts != 2 || got.LastError != "" {
		t.Fatalf("B's claim was disturbed: %+v", got)
	}
	if err := s.MarkItemProcessed(ctx, second[0].Claim()); err != nil {
		t.Fatalf("MarkItemProcessed by B: %v", err)
	}
}

func TestRequeueAndDeadLetter(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	a, b := newItem(now.Add(-time.Second)), newItem(now)
	for _, it := range []*queue.Item{a, b} {
		if err := s.EnqueueItem(ctx, it); err != nil {
			t.Fatal(err)
		}
	}
	claimed, err := s.ClaimItems(ctx, id.NewWorkerID(), now, 2)
	if err != nil || len(claimed) != 2 {
		t.Fatalf("ClaimItems: %v %v", claimed, err)
	}

	retryAt := now.Add(time.Minute)
	if err := s.RequeueItem(ctx, claimed[0].Claim(), retryAt, "boom"); err != nil {
		t.Fatalf("RequeueItem: %v", err)
	}
	if err := s.DeadLetterItem(ctx, claimed[1].Claim(), "fatal"); err != nil {
		t.Fatalf("DeadLetterItem: %v", err)
	}

	gotA, _ := s.GetItem(ctx, a.ID)
	if gotA.Status != queue.StatusQueued || !gotA.AvailableAt.Equal(retryAt) || gotA.LastError != "boom" || gotA.Attempts != 1 {
		t.Errorf("requeued item: %+v", gotA)
	}
	gotB, _ := s.GetItem(ctx, b.ID)
	if gotB.Status != queue.StatusDeadLetter || gotB.LastError != "fatal" {
		t.Errorf("dead-lettered item: %+v", gotB)
	}

	if claimed, _ := s.ClaimItems(ctx, id.NewWorkerID(), now, 10); len(claimed) != 0 {
		t.Errorf("backoff item claimed before AvailableAt")
	}
	if claimed, _ := s.ClaimItems(ctx, id.NewWorkerID(), retryAt, 10); len(claimed) != 1 || claimed[0].Attempts != 2 {
		t.Errorf("expected requeued item with attempts=2 at retryAt, got %v", claimed)
	}

	if n, _ := s.CountItems(ctx, queue.StatusDeadLetter); n != 1 {
		t.Errorf("dead_letter count = %d", n)
	}
	if n, _ := s.CountItems(ctx, ""); n != 2 {
		t.Errorf("total count = %d", n)
	}
}

func TestReleaseStaleAndPurge(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	stale := newItem(now.Add(-time.Hour))
	if err := s.EnqueueItem(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimItems(ctx, id.NewWorkerID(), now.Add(-30*time.Minute), 1); err != nil {
		t.Fatal(err)
	}

	n, err := s.ReleaseStale(ctx, now.Add(-10*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("ReleaseStale = %d, %v", n, err)
	}
	got, _ := s.GetItem(ctx, stale.ID)
	if got.Status != queue.StatusQueued || got.Attempts != 1 || got.ClaimedAt != nil {
		t.Errorf("released item: %+v", got)
	}

	again, err := s.ClaimItems(ctx, id.NewWorkerID(), time.Now().UTC(), 1)
	if err != nil || len(again) != 1 {
		t.Fatalf("reclaim: %v %v", again, err)
	}
	if err := s.MarkItemProcessed(ctx, again[0].Claim()); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.PurgeProcessed(ctx, time.Now().UTC().Add(time.Second)); n != 1 {
		t.Errorf("PurgeProcessed removed %d, want 1", n)
	}
	if _, err := s.GetItem(ctx, stale.ID); !errors.Is(err, outpost.ErrItemNotFound) {
		t.Errorf("expected purged item to be gone, got %v", err)
	}
}

func TestListItemsPagination(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := range 5 {
		if err := s.EnqueueItem(ctx, newItem(now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}
	page, err := s.ListItems(ctx, queue.ListOpts{Status: queue.StatusQueued, Limit: 2, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || !page[0].CreatedAt.Equal(now.Add(time.Second)) {
		t.Errorf("unexpected page: %d items", len(page))
	}
	if rest, _ := s.ListItems(ctx, queue.ListOpts{Offset: 10}); len(rest) != 0 {
		t.Errorf("offset past end returned %d items", len(rest))
	}
}

// ──────────────────────────────────────────────────
// Schedule tests
// ──────────────────────────────────────────────────

func newEntry(name string, next time.Time) *schedule.Entry {
	return &schedule.Entry{
		Entity:          outpost.NewEntity(),
		ID:              id.NewScheduleID(),
		OwnerType:       schedule.OwnerCore,
		OwnerID:         "core",
		Name:            name,
		ActionKey:       "core.noop",
		Enabled:         true,
		RunEveryMinutes: 60,
		NextRunAt:       next,
	}
}

func TestScheduleDuplicateKey(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.CreateSchedule(ctx, newEntry("sitemap", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateSchedule(ctx, newEntry("sitemap", time.Now())); !errors.Is(err, outpost.ErrDuplicateSchedule) {
		t.Fatalf("expected ErrDuplicateSchedule, got %v", err)
	}
	found, err := s.FindSchedule(ctx, schedule.OwnerCore, "core", "", "sitemap")
	if err != nil || found.Name != "sitemap" {
		t.Fatalf("FindSchedule = %v, %v", found, err)
	}
}

func TestClaimDueSchedules(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	due1 := newEntry("a", now.Add(-2*time.Minute))
	due2 := newEntry("b", now.Add(-time.Minute))
	later := newEntry("c", now.Add(time.Hour))
	disabled := newEntry("d", now.Add(-time.Hour))
	disabled.Enabled = false
	dead := newEntry("e", now.Add(-time.Hour))
	dead.DeadLettered = true
	for _, e := range []*schedule.Entry{due2, later, disabled, dead, due1} {
		if err := s.CreateSchedule(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ClaimDueSchedules(ctx, "w1", now, 10, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != due1.ID || got[1].ID != due2.ID {
		t.Fatalf("unexpected due set: %v", got)
	}
	if got[0].LockedBy != "w1" || got[0].LockedUntil == nil {
		t.Errorf("entry not leased: %+v", got[0])
	}

	if again, _ := s.ClaimDueSchedules(ctx, "w2", now, 10, time.Minute); len(again) != 0 {
		t.Errorf("leased entries claimed again by another worker")
	}
	if expired, _ := s.ClaimDueSchedules(ctx, "w2", now.Add(2*time.Minute), 10, time.Minute); len(expired) != 2 {
		t.Errorf("expected expired leases to be reclaimable, got %d", len(expired))
	}
}

func TestLeaseAndRecordRun(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	e := newEntry("a", now.Add(time.Hour))
	if err := s.CreateSchedule(ctx, e); err != nil {
		t.Fatal(err)
	}

	leased, err := s.LeaseSchedule(ctx, e.ID, "w1", now, time.Minute)
	if err != nil {
		t.Fatalf("LeaseSchedule: %v", err)
	}
	if _, err := s.LeaseSchedule(ctx, e.ID, "w2", now, time.Minute); !errors.Is(err, outpost.ErrScheduleLocked) {
		t.Fatalf("expected ErrScheduleLocked, got %v", err)
	}

	audit := leased.Apply(now, schedule.TriggerManual, nil, backoffPolicy())
	if err := s.RecordRun(ctx, leased, audit); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	got, _ := s.GetSchedule(ctx, e.ID)
	if got.LockedBy != "" || got.LockedUntil != nil || got.LastStatus != schedule.StatusSuccess {
		t.Errorf("unexpected entry after run: %+v", got)
	}
	audits, _ := s.ListRunAudits(ctx, e.ID, 0)
	if len(audits) != 1 || audits[0].Trigger != schedule.TriggerManual {
		t.Errorf("unexpected audits: %v", audits)
	}

	stolen := *leased
	stolen.LockedBy = "someone-else"
	if err := s.RecordRun(ctx, &stolen, audit); !errors.Is(err, outpost.ErrScheduleLocked) {
		t.Errorf("expected ErrScheduleLocked for foreign lease, got %v", err)
	}
}

func TestLeaseDeadLetteredAndReset(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	e := newEntry("a", now)
	e.DeadLettered = true
	e.RetryCount = 3
	if err := s.CreateSchedule(ctx, e); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LeaseSchedule(ctx, e.ID, "w1", now, time.Minute); !errors.Is(err, outpost.ErrScheduleDeadLettered) {
		t.Fatalf("expected ErrScheduleDeadLettered, got %v", err)
	}

	if err := s.ResetDeadLetter(ctx, e.ID, now); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetSchedule(ctx, e.ID)
	if got.DeadLettered || got.RetryCount != 0 || got.DeadLetteredAt != nil {
		t.Errorf("reset did not clear state: %+v", got)
	}

	if err := s.SetScheduleEnabled(ctx, e.ID, false); err != nil {
		t.Fatal(err)
	}
	if due, _ := s.ClaimDueSchedules(ctx, "w1", now, 10, time.Minute); len(due) != 0 {
		t.Errorf("disabled entry was claimed")
	}
	if err := s.DeleteSchedule(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSchedule(ctx, e.ID); !errors.Is(err, outpost.ErrScheduleNotFound) {
		t.Errorf("expected ErrScheduleNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Webhook tests
// ──────────────────────────────────────────────────

func TestSubscriptionsAndDeliveries(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	sub := &webhook.Subscription{
		Entity:       outpost.NewEntity(),
		ID:           id.NewSubscriptionID(),
		EventPattern: "content_*",
		URL:          "https://example.test/hook",
		Secret:       "shh",
		Active:       true,
	}
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}
	sub.Active = false
	if err := s.UpdateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSubscription(ctx, sub.ID)
	if err != nil || got.Active {
		t.Fatalf("GetSubscription = %+v, %v", got, err)
	}

	itemID := id.NewItemID()
	for i := 1; i <= 3; i++ {
		d := &webhook.Delivery{ID: id.NewDeliveryID(), SubscriptionID: sub.ID, EventID: itemID, Attempt: i, Outcome: webhook.OutcomeFailed}
		if err := s.RecordDelivery(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	ds, _ := s.ListDeliveries(ctx, webhook.ListOpts{EventID: itemID, Limit: 2})
	if len(ds) != 2 || ds[0].Attempt != 3 {
		t.Errorf("expected newest two deliveries, got %v", ds)
	}

	if err := s.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteSubscription(ctx, sub.ID); !errors.Is(err, outpost.ErrSubscriptionNotFound) {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func backoffPolicy() backoff.SchedulePolicy { return backoff.SchedulePolicy{} }
