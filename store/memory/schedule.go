package memory

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/schedule"
)

func copyEntry(e *schedule.Entry) *schedule.Entry {
	cp := *e
	if e.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	cp.DeadLetteredAt = copyTime(e.DeadLetteredAt)
	cp.LastRunAt = copyTime(e.LastRunAt)
	cp.LockedUntil = copyTime(e.LockedUntil)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func sameKey(a, b *schedule.Entry) bool {
	return a.OwnerType == b.OwnerType && a.OwnerID == b.OwnerID && a.SiteID == b.SiteID && a.Name == b.Name
}

// CreateSchedule persists a new entry.
func (m *Store) CreateSchedule(_ context.Context, e *schedule.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.schedules[e.ID.String()]; exists {
		return outpost.ErrDuplicateSchedule
	}
	for _, existing := range m.schedules {
		if sameKey(existing, e) {
			return outpost.ErrDuplicateSchedule
		}
	}
	m.schedules[e.ID.String()] = copyEntry(e)
	return nil
}

// GetSchedule retrieves an entry by ID.
func (m *Store) GetSchedule(_ context.Context, scheduleID id.ScheduleID) (*schedule.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.schedules[scheduleID.String()]
	if !ok {
		return nil, outpost.ErrScheduleNotFound
	}
	return copyEntry(e), nil
}

// FindSchedule retrieves an entry by owner, site and name.
func (m *Store) FindSchedule(_ context.Context, ownerType schedule.OwnerType, ownerID, siteID, name string) (*schedule.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := &schedule.Entry{OwnerType: ownerType, OwnerID: ownerID, SiteID: siteID, Name: name}
	for _, e := range m.schedules {
		if sameKey(e, key) {
			return copyEntry(e), nil
		}
	}
	return nil, outpost.ErrScheduleNotFound
}

// ListSchedules returns all entries ordered by NextRunAt.
func (m *Store) ListSchedules(_ context.Context) ([]*schedule.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*schedule.Entry, 0, len(m.schedules))
	for _, e := range m.schedules {
		out = append(out, copyEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	return out, nil
}

func lease(e *schedule.Entry, workerID string, now time.Time, ttl time.Duration) {
	until := now.Add(ttl)
	e.LockedBy = workerID
	e.LockedUntil = &until
}

// ClaimDueSchedules leases up to limit due, unlocked entries.
func (m *Store) ClaimDueSchedules(_ context.Context, workerID string, now time.Time, limit int, ttl time.Duration) ([]*schedule.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := make([]*schedule.Entry, 0)
	for _, e := range m.schedules {
		if e.Due(now) && !e.Locked(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRunAt.Before(due[j].NextRunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*schedule.Entry, 0, len(due))
	for _, e := range due {
		lease(e, workerID, now, ttl)
		out = append(out, copyEntry(e))
	}
	return out, nil
}

// LeaseSchedule leases one entry for a manual run.
func (m *Store) LeaseSchedule(_ context.Context, scheduleID id.ScheduleID, workerID string, now time.Time, ttl time.Duration) (*schedule.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.schedules[scheduleID.String()]
	if !ok {
		return nil, outpost.ErrScheduleNotFound
	}
	if e.DeadLettered {
		return nil, outpost.ErrScheduleDeadLettered
	}
	if e.Locked(now) {
		return nil, outpost.ErrScheduleLocked
	}
	lease(e, workerID, now, ttl)
	return copyEntry(e), nil
}

// RecordRun persists run state, releases the lease and appends the audit.
func (m *Store) RecordRun(_ context.Context, e *schedule.Entry, audit *schedule.RunAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.schedules[e.ID.String()]
	if !ok {
		return outpost.ErrScheduleNotFound
	}
	if cur.LockedBy != e.LockedBy {
		return outpost.ErrScheduleLocked
	}

	cur.RetryCount = e.RetryCount
	cur.DeadLettered = e.DeadLettered
	cur.DeadLetteredAt = copyTime(e.DeadLetteredAt)
	cur.NextRunAt = e.NextRunAt
	cur.LastRunAt = copyTime(e.LastRunAt)
	cur.LastStatus = e.LastStatus
	cur.LastError = e.LastError
	cur.LockedBy = ""
	cur.LockedUntil = nil
	cur.UpdatedAt = e.UpdatedAt

	cp := *audit
	m.audits = append(m.audits, &cp)
	return nil
}

// SetScheduleEnabled toggles an entry.
func (m *Store) SetScheduleEnabled(_ context.Context, scheduleID id.ScheduleID, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.schedules[scheduleID.String()]
	if !ok {
		return outpost.ErrScheduleNotFound
	}
	e.Enabled = enabled
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// ResetDeadLetter clears dead-letter state.
func (m *Store) ResetDeadLetter(_ context.Context, scheduleID id.ScheduleID, nextRunAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.schedules[scheduleID.String()]
	if !ok {
		return outpost.ErrScheduleNotFound
	}
	e.DeadLettered = false
	e.DeadLetteredAt = nil
	e.RetryCount = 0
	e.NextRunAt = nextRunAt
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteSchedule removes an entry.
func (m *Store) DeleteSchedule(_ context.Context, scheduleID id.ScheduleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := scheduleID.String()
	if _, ok := m.schedules[key]; !ok {
		return outpost.ErrScheduleNotFound
	}
	delete(m.schedules, key)
	return nil
}

// ListRunAudits returns audit rows for an entry, newest first.
func (m *Store) ListRunAudits(_ context.Context, scheduleID id.ScheduleID, limit int) ([]*schedule.RunAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*schedule.RunAudit, 0)
	for i := len(m.audits) - 1; i >= 0; i-- {
		a := m.audits[i]
		if a.ScheduleID != scheduleID {
			continue
		}
		cp := *a
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
