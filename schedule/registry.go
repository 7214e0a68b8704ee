package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc is a type-erased schedule handler receiving the entry's raw
// JSON payload.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Definition is a typed handler for one action key. T is the payload
// type (must be JSON-serializable).
type Definition[T any] struct {
	// ActionKey is the key entries reference, e.g. "core.sitemap.rebuild".
	ActionKey string

	// Handler processes the decoded payload.
	Handler func(ctx context.Context, payload T) error
}

// NewDefinition creates a typed definition.
func NewDefinition[T any](actionKey string, handler func(ctx context.Context, payload T) error) *Definition[T] {
	return &Definition[T]{ActionKey: actionKey, Handler: handler}
}

// Registry maps action keys to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a raw handler to an action key, replacing any previous one.
func (r *Registry) Register(actionKey string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionKey] = h
}

// RegisterDefinition registers a typed definition. The payload is decoded
// into T before the handler runs; a decode failure fails the run.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	r.Register(def.ActionKey, func(ctx context.Context, payload json.RawMessage) error {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return fmt.Errorf("unmarshal payload for action %q: %w", def.ActionKey, err)
			}
		}
		return def.Handler(ctx, t)
	})
}

// Get returns the handler for actionKey.
func (r *Registry) Get(actionKey string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[actionKey]
	return h, ok
}

// Keys returns all registered action keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
