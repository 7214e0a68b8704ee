package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs task start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *Task, next Handler) error {
		logger.Debug("task started",
			slog.String("kind", string(t.Kind)),
			slog.String("name", t.Name),
			slog.String("id", t.ID),
			slog.Int("attempt", t.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("task failed",
				slog.String("kind", string(t.Kind)),
				slog.String("name", t.Name),
				slog.String("id", t.ID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("task completed",
				slog.String("kind", string(t.Kind)),
				slog.String("name", t.Name),
				slog.String("id", t.ID),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
