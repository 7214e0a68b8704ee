package schedule

import (
	"context"
	"time"

	"github.com/xraph/outpost/id"
)

// Store defines the persistence contract for schedule entries and their
// run audit trail.
type Store interface {
	// CreateSchedule persists a new entry. Returns outpost.ErrDuplicateSchedule
	// if an entry with the same owner, site and name exists.
	CreateSchedule(ctx context.Context, e *Entry) error

	// GetSchedule retrieves an entry by ID.
	GetSchedule(ctx context.Context, scheduleID id.ScheduleID) (*Entry, error)

	// FindSchedule retrieves an entry by its natural key.
	FindSchedule(ctx context.Context, ownerType OwnerType, ownerID, siteID, name string) (*Entry, error)

	// ListSchedules returns all entries ordered by NextRunAt.
	ListSchedules(ctx context.Context) ([]*Entry, error)

	// ClaimDueSchedules atomically leases up to limit entries that are
	// enabled, not dead-lettered, have NextRunAt <= now and hold no live
	// lease, oldest NextRunAt first. Each returned entry has LockedBy set to
	// workerID and LockedUntil to now+ttl. Concurrent callers never receive
	// the same entry.
	ClaimDueSchedules(ctx context.Context, workerID string, now time.Time, limit int, ttl time.Duration) ([]*Entry, error)

	// LeaseSchedule leases one entry regardless of NextRunAt or Enabled, for
	// a manual run. Returns outpost.ErrScheduleDeadLettered or
	// outpost.ErrScheduleLocked when the entry cannot be leased.
	LeaseSchedule(ctx context.Context, scheduleID id.ScheduleID, workerID string, now time.Time, ttl time.Duration) (*Entry, error)

	// RecordRun persists the run-state fields of e, releases its lease and
	// appends audit in one atomic step. The update only applies while
	// e.LockedBy still holds the lease; otherwise outpost.ErrScheduleLocked.
	RecordRun(ctx context.Context, e *Entry, audit *RunAudit) error

	// SetScheduleEnabled toggles an entry.
	SetScheduleEnabled(ctx context.Context, scheduleID id.ScheduleID, enabled bool) error

	// ResetDeadLetter clears the dead-letter state, zeroes RetryCount and
	// makes the entry due at nextRunAt.
	ResetDeadLetter(ctx context.Context, scheduleID id.ScheduleID, nextRunAt time.Time) error

	// DeleteSchedule removes an entry. Its audit rows are kept.
	DeleteSchedule(ctx context.Context, scheduleID id.ScheduleID) error

	// ListRunAudits returns the audit trail of an entry, newest first.
	// limit <= 0 means no limit.
	ListRunAudits(ctx context.Context, scheduleID id.ScheduleID, limit int) ([]*RunAudit, error)
}
