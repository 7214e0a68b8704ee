//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/event"
	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/queue"
	"github.com/xraph/outpost/schedule"
	"github.com/xraph/outpost/store/postgres"
	"github.com/xraph/outpost/webhook"
)

// setupTestStore creates a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("outpost_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	store, err := postgres.New(ctx, connStr, postgres.WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	return store
}

func newItem(createdAt time.Time) *queue.Item {
	createdAt = createdAt.UTC().Truncate(time.Microsecond)
	return &queue.Item{
		Entity: outpost.Entity{CreatedAt: createdAt, UpdatedAt: createdAt},
		ID:     id.NewItemID(),
		Envelope: event.Envelope{
			Version:   event.Version,
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

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_PingAndMigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Queue tests
// ──────────────────────────────────────────────────

func TestQueue_EnqueueClaimAndTransitions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	older := newItem(now.Add(-2 * time.Minute))
	newer := newItem(now.Add(-time.Minute))
	future := newItem(now.Add(-3 * time.Minute))
	future.AvailableAt = now.Add(time.Hour)
	for _, it := range []*queue.Item{newer, future, older} {
		if err := s.EnqueueItem(ctx, it); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := s.EnqueueItem(ctx, older); !errors.Is(err, outpost.ErrItemAlreadyExists) {
		t.Fatalf("expected ErrItemAlreadyExists, got %v", err)
	}

	worker := id.NewWorkerID()
	got, err := s.ClaimItems(ctx, worker, now, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(got) != 2 || got[0].ID != older.ID || got[1].ID != newer.ID {
		t.Fatalf("expected [older newer], got %d items", len(got))
	}
	for _, it := range got {
		if it.Status != queue.StatusProcessing || it.Attempts != 1 || it.ClaimedBy != worker {
			t.Errorf("claimed item %s: status=%s attempts=%d by=%s", it.ID, it.Status, it.Attempts, it.ClaimedBy)
		}
		if it.Envelope.Name != event.ContentPublished || it.Envelope.SiteID != "s1" {
			t.Errorf("envelope not round-tripped: %+v", it.Envelope)
		}
	}

	if err := s.MarkItemProcessed(ctx, got[0].Claim()); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if err := s.MarkItemProcessed(ctx, got[0].Claim()); err != nil {
		t.Fatalf("second mark processed should be a no-op, got %v", err)
	}
	if err := s.RequeueItem(ctx, got[0].Claim(), now, "boom"); !errors.Is(err, outpost.ErrInvalidState) {
		t.Fatalf("requeue processed item: expected ErrInvalidState, got %v", err)
	}
	if err := s.MarkItemProcessed(ctx, queue.Claim{ItemID: id.NewItemID()}); !errors.Is(err, outpost.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}

	retryAt := now.Add(4 * time.Second)
	if err := s.RequeueItem(ctx, got[1].Claim(), retryAt, "boom"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	requeued, err := s.GetItem(ctx, newer.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if requeued.Status != queue.StatusQueued || requeued.LastError != "boom" || requeued.Attempts != 1 {
		t.Errorf("unexpected requeued item: %+v", requeued)
	}
	if !requeued.ClaimedBy.IsNil() || requeued.ClaimedAt != nil {
		t.Errorf("requeue should clear the claim")
	}

	if n, _ := s.CountItems(ctx, queue.StatusProcessed); n != 1 {
		t.Errorf("processed count = %d, want 1", n)
	}
	if n, _ := s.CountItems(ctx, ""); n != 3 {
		t.Errorf("total count = %d, want 3", n)
	}
}

func TestQueue_ConcurrentClaimsAreDisjoint(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	const total = 50
	for i := range total {
		if err := s.EnqueueItem(ctx, newItem(now.Add(-time.Duration(total-i)*time.Millisecond))); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = make(map[id.ItemID]int)
		wg   sync.WaitGroup
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := id.NewWorkerID()
			for {
				got, err := s.ClaimItems(ctx, worker, time.Now().UTC(), 3)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if len(got) == 0 {
					return
				}
				mu.Lock()
				for _, it := range got {
					seen[it.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("claimed %d distinct items, want %d", len(seen), total)
	}
	for itemID, n := range seen {
		if n != 1 {
			t.Errorf("item %s claimed %d times", itemID, n)
		}
	}
}

func TestQueue_ReleasedClaimIsFenced(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	it := newItem(now.Add(-time.Hour))
	if err := s.EnqueueItem(ctx, it); err != nil {
		t.Fatal(err)
	}
	first, err := s.ClaimItems(ctx, id.NewWorkerID(), now.Add(-30*time.Minute), 1)
	if err != nil || len(first) != 1 {
		t.Fatalf("claim A: %v %v", first, err)
	}
	if n, err := s.ReleaseStale(ctx, now.Add(-10*time.Minute)); err != nil || n != 1 {
		t.Fatalf("release stale = %d, %v", n, err)
	}
	second, err := s.ClaimItems(ctx, id.NewWorkerID(), time.Now().UTC(), 1)
	if err != nil || len(second) != 1 {
		t.Fatalf("claim B: %v %v", second, err)
	}

	stale := first[0].Claim()
	if err := s.RequeueItem(ctx, stale, now, "late"); !errors.Is(err, outpost.ErrClaimLost) {
		t.Fatalf("stale requeue: expected ErrClaimLost, got %v", err)
	}
	if err := s.MarkItemProcessed(ctx, stale); !errors.Is(err, outpost.ErrClaimLost) {
		t.Fatalf("stale mark processed: expected ErrClaimLost, got %v", err)
	}
	if got, _ := s.ClaimItems(ctx, id.NewWorkerID(), time.Now().UTC(), 1); len(got) != 0 {
		t.Fatalf("item claimed while B holds it")
	}
	if err := s.DeadLetterItem(ctx, second[0].Claim(), "fatal"); err != nil {
		t.Fatalf("dead-letter by B: %v", err)
	}
}

func TestQueue_DeadLetterReleaseAndPurge(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a, b, c := newItem(now.Add(-3*time.Minute)), newItem(now.Add(-2*time.Minute)), newItem(now.Add(-time.Minute))
	for _, it := range []*queue.Item{a, b, c} {
		if err := s.EnqueueItem(ctx, it); err != nil {
			t.Fatal(err)
		}
	}
	claimed, err := s.ClaimItems(ctx, id.NewWorkerID(), now, 3)
	if err != nil || len(claimed) != 3 {
		t.Fatalf("claim: %v %v", claimed, err)
	}

	if err := s.DeadLetterItem(ctx, claimed[0].Claim(), "exhausted"); err != nil {
		t.Fatalf("dead-letter: %v", err)
	}
	if err := s.MarkItemProcessed(ctx, claimed[1].Claim()); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	released, err := s.ReleaseStale(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("release stale: %v", err)
	}
	if released != 1 {
		t.Fatalf("released %d, want 1", released)
	}
	got, err := s.GetItem(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != queue.StatusQueued || got.Attempts != 1 {
		t.Errorf("released item: status=%s attempts=%d", got.Status, got.Attempts)
	}

	purged, err := s.PurgeProcessed(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged %d, want 1", purged)
	}

	dead, err := s.ListItems(ctx, queue.ListOpts{Status: queue.StatusDeadLetter})
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 1 || dead[0].LastError != "exhausted" {
		t.Errorf("unexpected dead-letter list: %+v", dead)
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
		ActionKey:       "cleanup",
		Payload:         json.RawMessage(`{"days":30}`),
		Enabled:         true,
		RunEveryMinutes: 60,
		MaxRetries:      2,
		NextRunAt:       next.UTC().Truncate(time.Microsecond),
	}
}

func TestSchedule_CreateClaimAndRecordRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	due := newEntry("due", now.Add(-time.Minute))
	later := newEntry("later", now.Add(time.Hour))
	for _, e := range []*schedule.Entry{due, later} {
		if err := s.CreateSchedule(ctx, e); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	dup := newEntry("due", now)
	if err := s.CreateSchedule(ctx, dup); !errors.Is(err, outpost.ErrDuplicateSchedule) {
		t.Fatalf("expected ErrDuplicateSchedule, got %v", err)
	}

	found, err := s.FindSchedule(ctx, schedule.OwnerCore, "core", "", "due")
	if err != nil || found.ID != due.ID {
		t.Fatalf("find: %v", err)
	}
	if string(found.Payload) != `{"days": 30}` && string(found.Payload) != `{"days":30}` {
		t.Errorf("payload = %s", found.Payload)
	}

	claimed, err := s.ClaimDueSchedules(ctx, "w1", now, 10, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != due.ID || claimed[0].LockedBy != "w1" {
		t.Fatalf("expected only the due entry leased by w1, got %d", len(claimed))
	}
	again, err := s.ClaimDueSchedules(ctx, "w2", now, 10, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("leased entry claimed twice")
	}

	e := claimed[0]
	ranAt := now
	e.LastRunAt = &ranAt
	e.LastStatus = schedule.StatusSuccess
	e.NextRunAt = now.Add(time.Hour)
	e.UpdatedAt = now
	audit := &schedule.RunAudit{
		ID:         id.NewRunID(),
		ScheduleID: e.ID,
		Trigger:    schedule.TriggerScheduled,
		Outcome:    schedule.OutcomeSuccess,
		CreatedAt:  now,
	}

	stale := *e
	stale.LockedBy = "w2"
	if err := s.RecordRun(ctx, &stale, audit); !errors.Is(err, outpost.ErrScheduleLocked) {
		t.Fatalf("stale holder: expected ErrScheduleLocked, got %v", err)
	}
	if err := s.RecordRun(ctx, e, audit); err != nil {
		t.Fatalf("record run: %v", err)
	}

	got, err := s.GetSchedule(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LockedBy != "" || got.LockedUntil != nil {
		t.Errorf("lease not released: %q %v", got.LockedBy, got.LockedUntil)
	}
	if !got.NextRunAt.Equal(now.Add(time.Hour)) || got.LastStatus != schedule.StatusSuccess {
		t.Errorf("run state not persisted: %+v", got)
	}

	audits, err := s.ListRunAudits(ctx, e.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(audits) != 1 || audits[0].Outcome != schedule.OutcomeSuccess {
		t.Errorf("expected one success audit, got %+v", audits)
	}
}

func TestSchedule_LeaseDeadLetteredAndReset(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e := newEntry("nightly", now.Add(time.Hour))
	dlAt := now
	e.DeadLettered = true
	e.DeadLetteredAt = &dlAt
	e.RetryCount = 3
	if err := s.CreateSchedule(ctx, e); err != nil {
		t.Fatal(err)
	}

	if _, err := s.LeaseSchedule(ctx, e.ID, "w1", now, time.Minute); !errors.Is(err, outpost.ErrScheduleDeadLettered) {
		t.Fatalf("expected ErrScheduleDeadLettered, got %v", err)
	}
	if err := s.ResetDeadLetter(ctx, e.ID, now); err != nil {
		t.Fatalf("reset: %v", err)
	}
	leased, err := s.LeaseSchedule(ctx, e.ID, "w1", now, time.Minute)
	if err != nil {
		t.Fatalf("lease after reset: %v", err)
	}
	if leased.RetryCount != 0 || leased.DeadLettered {
		t.Errorf("reset did not clear retry state: %+v", leased)
	}
	if _, err := s.LeaseSchedule(ctx, e.ID, "w2", now, time.Minute); !errors.Is(err, outpost.ErrScheduleLocked) {
		t.Fatalf("expected ErrScheduleLocked, got %v", err)
	}
	if _, err := s.LeaseSchedule(ctx, id.NewScheduleID(), "w1", now, time.Minute); !errors.Is(err, outpost.ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound, got %v", err)
	}

	if err := s.SetScheduleEnabled(ctx, e.ID, false); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteSchedule(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSchedule(ctx, e.ID); !errors.Is(err, outpost.ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound after delete, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Webhook tests
// ──────────────────────────────────────────────────

func TestWebhook_SubscriptionsAndDeliveries(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sub := &webhook.Subscription{
		Entity:       outpost.NewEntity(),
		ID:           id.NewSubscriptionID(),
		SiteID:       "s1",
		EventPattern: "content.*",
		URL:          "https://hooks.example.com/in",
		Secret:       "shh",
		Active:       true,
	}
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	sub.Active = false
	if err := s.UpdateSubscription(ctx, sub); err != nil {
		t.Fatalf("update subscription: %v", err)
	}
	got, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Active || got.Secret != "shh" {
		t.Errorf("unexpected subscription: %+v", got)
	}

	itemID := id.NewItemID()
	for attempt := 1; attempt <= 2; attempt++ {
		d := &webhook.Delivery{
			ID:             id.NewDeliveryID(),
			SubscriptionID: sub.ID,
			EventID:        itemID,
			EventName:      event.ContentPublished,
			Attempt:        attempt,
			Outcome:        webhook.OutcomeFailed,
			StatusCode:     500,
			CreatedAt:      time.Now().UTC().Add(time.Duration(attempt) * time.Second),
		}
		if err := s.RecordDelivery(ctx, d); err != nil {
			t.Fatalf("record delivery: %v", err)
		}
	}

	ds, err := s.ListDeliveries(ctx, webhook.ListOpts{EventID: itemID, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || ds[0].Attempt != 2 {
		t.Errorf("expected newest delivery first, got %+v", ds)
	}

	if err := s.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteSubscription(ctx, sub.ID); !errors.Is(err, outpost.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
	if all, _ := s.ListDeliveries(ctx, webhook.ListOpts{SubscriptionID: sub.ID}); len(all) != 2 {
		t.Errorf("deliveries should survive subscription delete, got %d", len(all))
	}
}
