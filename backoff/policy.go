package backoff

import "time"

// DefaultMaxAttempts is the queue item attempt count at which a failed item
// is dead-lettered instead of requeued.
const DefaultMaxAttempts = 8

// DefaultScheduleMaxDelay caps schedule retry delays when
// SchedulePolicy.Max is zero.
const DefaultScheduleMaxDelay = 24 * time.Hour

// Decision is the outcome of a retry policy for one failure.
type Decision struct {
	// DeadLetter is true when retries are exhausted.
	DeadLetter bool
	// Attempt is the failure count after this failure (queue attempts or
	// the schedule's new retry count).
	Attempt int
	// Delay is the wait before the next attempt. Zero when DeadLetter.
	Delay time.Duration
	// NextAt is now+Delay. Zero when DeadLetter.
	NextAt time.Time
}

// ItemPolicy decides what happens to a queue item after a failed attempt.
type ItemPolicy struct {
	Strategy    Strategy
	MaxAttempts int
}

// DefaultItemPolicy returns the queue policy: DefaultStrategy and
// DefaultMaxAttempts.
func DefaultItemPolicy() ItemPolicy {
	return ItemPolicy{Strategy: DefaultStrategy(), MaxAttempts: DefaultMaxAttempts}
}

// Decide returns the decision for an item that has been claimed attempts
// times and just failed. Items dead-letter once attempts >= MaxAttempts.
func (p ItemPolicy) Decide(attempts int, now time.Time) Decision {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if attempts >= maxAttempts {
		return Decision{DeadLetter: true, Attempt: attempts}
	}

	strategy := p.Strategy
	if strategy == nil {
		strategy = DefaultStrategy()
	}
	delay := strategy.Delay(attempts)
	return Decision{Attempt: attempts, Delay: delay, NextAt: now.Add(delay)}
}

// SchedulePolicy decides what happens to a schedule entry after a failed
// run. Entries carry their own tolerance (maxRetries) and base delay.
type SchedulePolicy struct {
	// Max caps the computed delay. Zero means DefaultScheduleMaxDelay.
	Max time.Duration
}

// Decide applies the schedule rule: the new retry count is retryCount+1;
// the entry dead-letters when that exceeds maxRetries, otherwise the next
// run is delayed by base * 2^retryCount (pre-increment), capped at Max.
func (p SchedulePolicy) Decide(retryCount, maxRetries int, base time.Duration, now time.Time) Decision {
	next := retryCount + 1
	if next > maxRetries {
		return Decision{DeadLetter: true, Attempt: next}
	}

	if base <= 0 {
		base = time.Minute
	}
	maxDelay := p.Max
	if maxDelay <= 0 {
		maxDelay = DefaultScheduleMaxDelay
	}
	delay := NewExponential(base, maxDelay).Delay(retryCount + 1)
	return Decision{Attempt: next, Delay: delay, NextAt: now.Add(delay)}
}
