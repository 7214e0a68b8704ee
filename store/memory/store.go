// Package memory provides a fully in-memory implementation of store.Store.
// A single mutex linearises every operation, which makes the claim
// primitives trivially atomic. Intended for unit tests and development.
package memory

import (
	"context"
	"sync"

	"github.com/xraph/outpost/queue"
	"github.com/xraph/outpost/schedule"
	"github.com/xraph/outpost/webhook"
)

// Ensure Store implements every subsystem store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ queue.Store    = (*Store)(nil)
	_ schedule.Store = (*Store)(nil)
	_ webhook.Store  = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access.
type Store struct {
	mu sync.Mutex

	items         map[string]*queue.Item
	schedules     map[string]*schedule.Entry
	audits        []*schedule.RunAudit
	subscriptions map[string]*webhook.Subscription
	deliveries    []*webhook.Delivery
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		items:         make(map[string]*queue.Item),
		schedules:     make(map[string]*schedule.Entry),
		subscriptions: make(map[string]*webhook.Subscription),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }
