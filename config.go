package outpost

import "time"

// Config holds configuration for an Outpost engine.
type Config struct {
	// Concurrency is the number of drain goroutines in the worker pool.
	Concurrency int

	// BatchSize is the number of queue items claimed per drain cycle.
	// It bounds the worst-case latency of one polling cycle.
	BatchSize int

	// PollInterval is how long an idle drain goroutine sleeps before
	// claiming again.
	PollInterval time.Duration

	// ClaimRate caps claim calls per second across the local pool.
	// Zero disables the limiter.
	ClaimRate float64

	// HandlerTimeout bounds one hook chain or schedule handler call. Zero
	// means no limit beyond the caller's context.
	HandlerTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// VisibilityTimeout is how long an item may stay in processing before
	// the reaper returns it to the queue. Zero disables the reaper.
	VisibilityTimeout time.Duration

	// ProcessedRetention is how long processed items are kept before the
	// reaper deletes them. Zero keeps them forever.
	ProcessedRetention time.Duration

	// ScheduleTickInterval is how often the scheduler looks for due entries.
	// Zero disables the scheduler loop; manual runs still work.
	ScheduleTickInterval time.Duration

	// ScheduleBatchSize is the number of due schedule entries leased per tick.
	ScheduleBatchSize int

	// ScheduleLockTTL is how long a leased schedule entry stays locked.
	ScheduleLockTTL time.Duration

	// WebhookTimeout bounds a single outbound webhook request.
	WebhookTimeout time.Duration

	// WebhookParallelism bounds concurrent deliveries for one event.
	WebhookParallelism int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:          4,
		BatchSize:            10,
		PollInterval:         1 * time.Second,
		ShutdownTimeout:      30 * time.Second,
		VisibilityTimeout:    5 * time.Minute,
		ScheduleTickInterval: 15 * time.Second,
		ScheduleBatchSize:    25,
		ScheduleLockTTL:      5 * time.Minute,
		WebhookTimeout:       10 * time.Second,
		WebhookParallelism:   8,
	}
}
