// Package backoff provides retry delay strategies and the two retry
// policies built on them: one for queue items, one for schedule entries.
// Everything here is a pure function of its inputs and safe for concurrent
// use.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear increases the delay linearly with the attempt number.
// Delay = min(Initial * attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	return clamp(float64(l.Initial)*float64(attempt), l.Max)
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return clamp(float64(e.Initial)*math.Pow(2, float64(attempt-1)), e.Max)
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
// This prevents thundering herd when many retries happen simultaneously.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := clamp(float64(e.Initial)*math.Pow(2, float64(attempt-1)), e.Max)
	return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// clamp converts a computed delay to a Duration. It is capped at maxDelay
// when set and saturates at the largest Duration instead of wrapping
// negative.
func clamp(f float64, maxDelay time.Duration) time.Duration {
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case maxDelay > 0 && f >= float64(maxDelay):
		return maxDelay
	case f >= math.MaxInt64:
		return math.MaxInt64
	default:
		return time.Duration(f)
	}
}

// ──────────────────────────────────────────────────
// Parse
// ──────────────────────────────────────────────────

// Parse builds a strategy from its configuration name: "constant",
// "linear", "exponential" or "exponential_jitter".
func Parse(name string, initial, maxDelay time.Duration) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "constant":
		return NewConstant(initial), nil
	case "linear":
		return NewLinear(initial, maxDelay), nil
	case "", "exponential":
		return NewExponential(initial, maxDelay), nil
	case "exponential_jitter", "jitter":
		return NewExponentialWithJitter(initial, maxDelay), nil
	default:
		return nil, fmt.Errorf("backoff: unknown strategy %q", name)
	}
}

// DefaultStrategy returns the queue item backoff: Exponential with 2s
// initial and a 300s ceiling, so Delay(n) = min(300s, 2^n s).
func DefaultStrategy() Strategy {
	return NewExponential(2*time.Second, 300*time.Second)
}
