package queue

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// LimitConfig defines the throttle for one key.
type LimitConfig struct {
	// Key identifies the throttled resource (e.g. "claim" or a host name).
	Key string

	// RateLimit is the sustained operations per second. Zero disables
	// rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst. Defaults to 1 when RateLimit is
	// set.
	RateBurst int

	// MaxConcurrency caps simultaneous Acquire holders. Zero means no cap.
	MaxConcurrency int
}

type keyState struct {
	config  LimitConfig
	limiter *rate.Limiter
	slots   *semaphore.Weighted
	active  int
}

func newKeyState(cfg LimitConfig) *keyState {
	ks := &keyState{config: cfg}
	if cfg.MaxConcurrency > 0 {
		ks.slots = semaphore.NewWeighted(int64(cfg.MaxConcurrency))
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ks.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ks
}

// Limiter throttles operations per key. Keys without an explicit config
// get their own state built from the default config. It is safe for
// concurrent use.
type Limiter struct {
	mu       sync.Mutex
	defaults LimitConfig
	keys     map[string]*keyState
}

// NewLimiter creates a Limiter. defaults applies to any key not listed in
// overrides.
func NewLimiter(defaults LimitConfig, overrides ...LimitConfig) *Limiter {
	l := &Limiter{defaults: defaults, keys: make(map[string]*keyState, len(overrides))}
	for _, cfg := range overrides {
		l.keys[cfg.Key] = newKeyState(cfg)
	}
	return l
}

func (l *Limiter) state(key string) *keyState {
	ks := l.keys[key]
	if ks == nil {
		cfg := l.defaults
		cfg.Key = key
		ks = newKeyState(cfg)
		l.keys[key] = ks
	}
	return ks
}

// Wait blocks until key's token bucket admits one operation or ctx ends.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	lim := l.state(key).limiter
	l.mu.Unlock()

	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

// Acquire blocks until key has a free concurrency slot and its token
// bucket admits one operation, or ctx ends. On success the caller must
// call Release when done.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	ks := l.state(key)
	l.mu.Unlock()

	if ks.slots != nil {
		if err := ks.slots.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	if ks.limiter != nil {
		if err := ks.limiter.Wait(ctx); err != nil {
			if ks.slots != nil {
				ks.slots.Release(1)
			}
			return err
		}
	}

	l.mu.Lock()
	ks.active++
	l.mu.Unlock()
	return nil
}

// Release ends an operation started with Acquire.
func (l *Limiter) Release(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	ks := l.keys[key]
	if ks == nil || ks.active == 0 {
		l.mu.Unlock()
		return
	}
	ks.active--
	l.mu.Unlock()

	if ks.slots != nil {
		ks.slots.Release(1)
	}
}
