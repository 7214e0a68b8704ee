package middleware

import (
	"context"

	"github.com/xraph/outpost/scope"
)

// Scope returns middleware that restores the site scope captured at
// enqueue time, so handlers see the same forge.Scope as the producer.
func Scope() Middleware {
	return func(ctx context.Context, t *Task, next Handler) error {
		return next(scope.Restore(ctx, t.AppID, t.SiteID))
	}
}
