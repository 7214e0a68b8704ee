package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/id"
)

// Runner executes one leased entry and persists the result. The
// dispatcher provides the implementation.
type Runner interface {
	RunSchedule(ctx context.Context, e *Entry, trigger Trigger) (*RunAudit, error)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler looks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLockTTL sets how long a leased entry stays locked.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithBatchSize sets how many due entries are leased per tick.
func WithBatchSize(n int) SchedulerOption {
	return func(s *Scheduler) { s.batchSize = n }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler leases due entries and runs them through a Runner. It keeps no
// state between ticks; any number of schedulers may share one store.
type Scheduler struct {
	store    Store
	runner   Runner
	workerID id.WorkerID
	logger   *slog.Logger

	tickInterval time.Duration
	lockTTL      time.Duration
	batchSize    int
	now          func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(store Store, runner Runner, workerID id.WorkerID, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:        store,
		runner:       runner,
		workerID:     workerID,
		logger:       logger,
		tickInterval: 15 * time.Second,
		lockTTL:      5 * time.Minute,
		batchSize:    25,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the tick loop to stop and waits for the current tick.
func (s *Scheduler) Stop(_ context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stopCh
		cancel()
	}()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.RunDue(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduler tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunDue leases the currently due entries and runs each one. It returns how
// many entries ran. A failing handler is not an error here; it is recorded
// on the entry.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	entries, err := s.store.ClaimDueSchedules(ctx, s.workerID.String(), s.now().UTC(), s.batchSize, s.lockTTL)
	if err != nil {
		return 0, fmt.Errorf("outpost: claim due schedules: %w", err)
	}

	ran := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.runner.RunSchedule(ctx, e, TriggerScheduled); err != nil {
			s.logger.Error("schedule run not recorded",
				slog.String("schedule_id", e.ID.String()),
				slog.String("schedule", e.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		ran++
	}
	return ran, nil
}

// RunNow runs one entry immediately, outside its cadence. Dead-lettered or
// currently leased entries are refused.
func (s *Scheduler) RunNow(ctx context.Context, scheduleID id.ScheduleID) (*RunAudit, error) {
	e, err := s.store.LeaseSchedule(ctx, scheduleID, s.workerID.String(), s.now().UTC(), s.lockTTL)
	if err != nil {
		return nil, err
	}
	s.logger.Info("manual schedule run",
		slog.String("schedule_id", e.ID.String()),
		slog.String("schedule", e.Name),
	)
	return s.runner.RunSchedule(ctx, e, TriggerManual)
}

// Register creates an entry, or returns the existing one with the same
// owner, site and name. A zero NextRunAt makes the entry due immediately.
func (s *Scheduler) Register(ctx context.Context, e *Entry) (*Entry, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if e.ID.IsNil() {
		e.ID = id.NewScheduleID()
	}
	if e.CreatedAt.IsZero() {
		e.Entity = outpost.Entity{CreatedAt: now, UpdatedAt: now}
	}
	if e.NextRunAt.IsZero() {
		e.NextRunAt = now
	}

	err := s.store.CreateSchedule(ctx, e)
	if errors.Is(err, outpost.ErrDuplicateSchedule) {
		return s.store.FindSchedule(ctx, e.OwnerType, e.OwnerID, e.SiteID, e.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("outpost: register schedule %q: %w", e.Name, err)
	}

	s.logger.Info("schedule registered",
		slog.String("schedule_id", e.ID.String()),
		slog.String("schedule", e.Name),
		slog.String("action", e.ActionKey),
	)
	return e, nil
}

// SetEnabled enables or disables an entry.
func (s *Scheduler) SetEnabled(ctx context.Context, scheduleID id.ScheduleID, enabled bool) error {
	return s.store.SetScheduleEnabled(ctx, scheduleID, enabled)
}

// ResetDeadLetter revives a dead-lettered entry and makes it due now.
func (s *Scheduler) ResetDeadLetter(ctx context.Context, scheduleID id.ScheduleID) error {
	if err := s.store.ResetDeadLetter(ctx, scheduleID, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("schedule dead-letter reset", slog.String("schedule_id", scheduleID.String()))
	return nil
}

// Get returns one entry.
func (s *Scheduler) Get(ctx context.Context, scheduleID id.ScheduleID) (*Entry, error) {
	return s.store.GetSchedule(ctx, scheduleID)
}

// List returns every entry.
func (s *Scheduler) List(ctx context.Context) ([]*Entry, error) {
	return s.store.ListSchedules(ctx)
}

// Delete removes an entry.
func (s *Scheduler) Delete(ctx context.Context, scheduleID id.ScheduleID) error {
	return s.store.DeleteSchedule(ctx, scheduleID)
}

// ListAudits returns an entry's run history, newest first.
func (s *Scheduler) ListAudits(ctx context.Context, scheduleID id.ScheduleID, limit int) ([]*RunAudit, error) {
	return s.store.ListRunAudits(ctx, scheduleID, limit)
}
