package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover returns middleware that recovers from panics in the handler chain.
// The panic becomes an ordinary error, so it flows into the retry policy;
// the stack trace is only logged.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *Task, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("handler panicked",
					slog.String("kind", string(t.Kind)),
					slog.String("name", t.Name),
					slog.String("id", t.ID),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in %s %s: %v", t.Kind, t.Name, r)
			}
		}()
		return next(ctx)
	}
}
