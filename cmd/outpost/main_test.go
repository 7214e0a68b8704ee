package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/engine"
	"github.com/xraph/outpost/event"
	"github.com/xraph/outpost/queue"
	"github.com/xraph/outpost/schedule"
	"github.com/xraph/outpost/store/memory"
)

func TestEnqueueCommand_MemoryStore(t *testing.T) {
	t.Setenv("OUTPOST_STORE", "memory")

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"enqueue", event.ContentPublished, "--site", "s1", "--payload", `{"postId":"p1"}`, "--env-file", ""})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !strings.HasPrefix(out.String(), "qitem_") {
		t.Errorf("expected an item id, got %q", out.String())
	}
}

func TestEnqueueCommand_RejectsBadInput(t *testing.T) {
	t.Setenv("OUTPOST_STORE", "memory")

	for name, args := range map[string][]string{
		"bad payload":   {"enqueue", event.ContentPublished, "--payload", "{", "--env-file", ""},
		"unknown event": {"enqueue", "nope", "--env-file", ""},
		"no event":      {"enqueue", "--env-file", ""},
	} {
		t.Run(name, func(t *testing.T) {
			cmd := rootCmd()
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetArgs(args)
			if err := cmd.ExecuteContext(context.Background()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRunNowCommand_RejectsForeignID(t *testing.T) {
	t.Setenv("OUTPOST_STORE", "memory")

	cmd := rootCmd()
	cmd.SetArgs([]string{"run-now", "not-an-id", "--env-file", ""})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Error("expected parse error")
	}
}

func TestMaintenance_PurgeSchedule(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	o, err := outpost.New(outpost.WithStore(store), outpost.WithScheduleTickInterval(0))
	if err != nil {
		t.Fatal(err)
	}
	eng, err := engine.Build(o)
	if err != nil {
		t.Fatal(err)
	}
	registerMaintenance(eng)

	item, err := eng.Enqueue(ctx, &event.Envelope{Name: event.ContentPublished, SiteID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if n, err := eng.Drain(ctx); err != nil || n != 1 {
		t.Fatalf("drain = %d, %v", n, err)
	}
	got, err := eng.Queue().Get(ctx, item.ID)
	if err != nil || got.Status != queue.StatusProcessed {
		t.Fatalf("item not processed: %+v, %v", got, err)
	}

	if err := registerMaintenanceSchedules(ctx, eng, time.Nanosecond); err != nil {
		t.Fatal(err)
	}
	// Second registration returns the existing entry.
	if err := registerMaintenanceSchedules(ctx, eng, time.Nanosecond); err != nil {
		t.Fatal(err)
	}
	entries, err := eng.Scheduler().List(ctx)
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries = %d, %v", len(entries), err)
	}

	time.Sleep(time.Millisecond)
	audit, err := eng.RunNow(ctx, entries[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if audit.Outcome != schedule.OutcomeSuccess || audit.Trigger != schedule.TriggerManual {
		t.Fatalf("audit = %+v", audit)
	}
	if n, _ := eng.Queue().Count(ctx, queue.StatusProcessed); n != 0 {
		t.Errorf("processed items left = %d, want 0", n)
	}
}
