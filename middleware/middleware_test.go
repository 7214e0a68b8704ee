package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/forge"

	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/middleware"
)

func eventTask() *middleware.Task {
	return &middleware.Task{
		Kind:    middleware.KindEvent,
		ID:      id.NewItemID().String(),
		Name:    "content_published",
		SiteID:  "site_1",
		AppID:   "cms",
		Attempt: 2,
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string
	record := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *middleware.Task, next middleware.Handler) error {
			order = append(order, name+"-before")
			err := next(ctx)
			order = append(order, name+"-after")
			return err
		}
	}

	chain := middleware.Chain(record("mw1"), record("mw2"))
	err := chain(context.Background(), eventTask(), func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_EmptyAndErrors(t *testing.T) {
	want := errors.New("handler error")
	err := middleware.Chain()(context.Background(), eventTask(), func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(slog.Default())

	err := mw(context.Background(), eventTask(), func(_ context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if got := err.Error(); got != "panic in event content_published: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestLogging_PassesResultThrough(t *testing.T) {
	mw := middleware.Logging(slog.Default())
	want := errors.New("fail")

	if err := mw(context.Background(), eventTask(), func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mw(context.Background(), eventTask(), func(_ context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestScope_RestoresSite(t *testing.T) {
	err := middleware.Scope()(context.Background(), eventTask(), func(ctx context.Context) error {
		s, ok := forge.ScopeFrom(ctx)
		if !ok {
			t.Fatal("expected scope in context")
		}
		if s.AppID() != "cms" || s.OrgID() != "site_1" {
			t.Errorf("scope = (%q, %q)", s.AppID(), s.OrgID())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestScope_NoOpWhenGlobal(t *testing.T) {
	task := &middleware.Task{Kind: middleware.KindSchedule, Name: "core.cleanup"}
	err := middleware.Scope()(context.Background(), task, func(ctx context.Context) error {
		if _, ok := forge.ScopeFrom(ctx); ok {
			t.Fatal("expected no scope for a global task")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestTimeout_CancelsHandler(t *testing.T) {
	task := eventTask()
	task.Timeout = 10 * time.Millisecond

	err := middleware.Timeout(slog.Default())(context.Background(), task, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
