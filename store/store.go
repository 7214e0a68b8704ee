// Package store defines the aggregate persistence interface. Each subsystem
// (queue, schedule, webhook) defines its own store interface and the
// composite Store composes them all. Backends: Postgres, SQLite and Memory
// implement Store; Redis implements queue.Store only.
package store

import (
	"context"

	"github.com/xraph/outpost/queue"
	"github.com/xraph/outpost/schedule"
	"github.com/xraph/outpost/webhook"
)

// Store is the aggregate persistence interface. A single backend
// implements all subsystem stores.
type Store interface {
	queue.Store
	schedule.Store
	webhook.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
