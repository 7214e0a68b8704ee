package schedule_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/backoff"
	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/schedule"
	"github.com/xraph/outpost/store/memory"
)

// fakeRunner applies a configurable result and records it, the same way
// the dispatcher does.
type fakeRunner struct {
	store schedule.Store
	now   func() time.Time
	fail  error

	mu   sync.Mutex
	runs []schedule.Trigger
}

func (r *fakeRunner) RunSchedule(ctx context.Context, e *schedule.Entry, trigger schedule.Trigger) (*schedule.RunAudit, error) {
	r.mu.Lock()
	r.runs = append(r.runs, trigger)
	r.mu.Unlock()

	audit := e.Apply(r.now(), trigger, r.fail, backoff.SchedulePolicy{})
	if err := r.store.RecordRun(ctx, e, audit); err != nil {
		return nil, err
	}
	return audit, nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newScheduler(t *testing.T) (*schedule.Scheduler, *fakeRunner, *memory.Store, *clock) {
	t.Helper()
	s := memory.New()
	c := &clock{t: t0}
	r := &fakeRunner{store: s, now: c.now}
	sch := schedule.NewScheduler(s, r, id.NewWorkerID(), slog.Default(), schedule.WithClock(c.now))
	return sch, r, s, c
}

func TestScheduler_RegisterIsIdempotent(t *testing.T) {
	sch, _, _, _ := newScheduler(t)
	ctx := context.Background()

	first, err := sch.Register(ctx, validEntry())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !first.NextRunAt.Equal(t0) {
		t.Errorf("zero NextRunAt should become now, got %v", first.NextRunAt)
	}

	again := validEntry()
	second, err := sch.Register(ctx, again)
	if err != nil {
		t.Fatalf("second Register: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected existing entry %s, got %s", first.ID, second.ID)
	}

	bad := validEntry()
	bad.ActionKey = ""
	if _, err := sch.Register(ctx, bad); !errors.Is(err, outpost.ErrInvalidSchedule) {
		t.Errorf("expected ErrInvalidSchedule, got %v", err)
	}
}

func TestScheduler_RunDueAdvancesCadence(t *testing.T) {
	sch, runner, _, c := newScheduler(t)
	ctx := context.Background()

	e, err := sch.Register(ctx, validEntry())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ran, err := sch.RunDue(ctx)
	if err != nil || ran != 1 {
		t.Fatalf("RunDue = %d, %v", ran, err)
	}

	// Not due again until the interval elapses.
	c.advance(time.Minute)
	if ran, _ := sch.RunDue(ctx); ran != 0 {
		t.Errorf("entry ran early: %d", ran)
	}

	c.advance(14 * time.Minute)
	if ran, _ := sch.RunDue(ctx); ran != 1 {
		t.Errorf("entry did not run after interval: %d", ran)
	}

	got, _ := sch.Get(ctx, e.ID)
	if got.LockedBy != "" || got.LockedUntil != nil {
		t.Errorf("lease not released: %+v", got)
	}
	if got.LastStatus != schedule.StatusSuccess {
		t.Errorf("LastStatus = %q", got.LastStatus)
	}
	if runner.count() != 2 {
		t.Errorf("runner calls = %d", runner.count())
	}

	audits, _ := sch.ListAudits(ctx, e.ID, 10)
	if len(audits) != 2 {
		t.Errorf("audits = %d, want 2", len(audits))
	}
}

func TestScheduler_DisabledEntriesDoNotRun(t *testing.T) {
	sch, runner, _, _ := newScheduler(t)
	ctx := context.Background()

	e, _ := sch.Register(ctx, validEntry())
	if err := sch.SetEnabled(ctx, e.ID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if ran, _ := sch.RunDue(ctx); ran != 0 || runner.count() != 0 {
		t.Errorf("disabled entry ran")
	}
}

func TestScheduler_DeadLetterAndReset(t *testing.T) {
	sch, runner, _, c := newScheduler(t)
	ctx := context.Background()
	runner.fail = errors.New("boom")

	in := validEntry()
	in.MaxRetries = 1
	in.BackoffBaseSeconds = 10
	e, _ := sch.Register(ctx, in)

	_, _ = sch.RunDue(ctx)
	c.advance(10 * time.Second)
	_, _ = sch.RunDue(ctx)

	got, _ := sch.Get(ctx, e.ID)
	if !got.DeadLettered || got.LastStatus != schedule.StatusDeadLetter {
		t.Fatalf("expected dead-lettered entry, got %+v", got)
	}

	c.advance(time.Hour)
	if ran, _ := sch.RunDue(ctx); ran != 0 {
		t.Error("dead-lettered entry ran")
	}
	if _, err := sch.RunNow(ctx, e.ID); !errors.Is(err, outpost.ErrScheduleDeadLettered) {
		t.Errorf("RunNow on dead-lettered entry: %v", err)
	}

	if err := sch.ResetDeadLetter(ctx, e.ID); err != nil {
		t.Fatalf("ResetDeadLetter: %v", err)
	}
	runner.fail = nil
	if ran, _ := sch.RunDue(ctx); ran != 1 {
		t.Errorf("reset entry did not run")
	}
	got, _ = sch.Get(ctx, e.ID)
	if got.DeadLettered || got.RetryCount != 0 {
		t.Errorf("entry after reset = %+v", got)
	}
}

func TestScheduler_RunNowRecordsManualTrigger(t *testing.T) {
	sch, _, _, _ := newScheduler(t)
	ctx := context.Background()

	in := validEntry()
	in.NextRunAt = t0.Add(time.Hour)
	e, _ := sch.Register(ctx, in)

	audit, err := sch.RunNow(ctx, e.ID)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if audit.Trigger != schedule.TriggerManual || audit.Outcome != schedule.OutcomeSuccess {
		t.Errorf("audit = %+v", audit)
	}

	if _, err := sch.RunNow(ctx, id.NewScheduleID()); !errors.Is(err, outpost.ErrScheduleNotFound) {
		t.Errorf("expected ErrScheduleNotFound, got %v", err)
	}
}

func TestScheduler_LeaseExcludesConcurrentRun(t *testing.T) {
	s := memory.New()
	c := &clock{t: t0}
	ctx := context.Background()

	a := schedule.NewScheduler(s, &fakeRunner{store: s, now: c.now}, id.NewWorkerID(), nil, schedule.WithClock(c.now))
	e, _ := a.Register(ctx, validEntry())

	// Another process holds the lease.
	if _, err := s.LeaseSchedule(ctx, e.ID, "other", t0, time.Minute); err != nil {
		t.Fatalf("LeaseSchedule: %v", err)
	}
	if ran, _ := a.RunDue(ctx); ran != 0 {
		t.Error("leased entry was claimed twice")
	}
	if _, err := a.RunNow(ctx, e.ID); !errors.Is(err, outpost.ErrScheduleLocked) {
		t.Errorf("expected ErrScheduleLocked, got %v", err)
	}

	// After the lease expires the entry is claimable again.
	c.advance(2 * time.Minute)
	if ran, _ := a.RunDue(ctx); ran != 1 {
		t.Error("expired lease was not reclaimed")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	sch, runner, _, _ := newScheduler(t)
	ctx := context.Background()
	_, _ = sch.Register(ctx, validEntry())

	sch2 := schedule.NewScheduler(memory.New(), runner, id.NewWorkerID(), nil, schedule.WithTickInterval(5*time.Millisecond))
	if err := sch2.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := sch2.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Stop is idempotent.
	if err := sch2.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
