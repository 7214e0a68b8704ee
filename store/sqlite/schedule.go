package sqlite

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/schedule"
)

// CreateSchedule persists a new entry.
func (s *Store) CreateSchedule(ctx context.Context, e *schedule.Entry) error {
	if _, err := s.sdb.NewInsert(toScheduleModel(e)).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return outpost.ErrDuplicateSchedule
		}
		return fmt.Errorf("outpost/sqlite: create schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves an entry by ID.
func (s *Store) GetSchedule(ctx context.Context, scheduleID id.ScheduleID) (*schedule.Entry, error) {
	m := new(scheduleModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", scheduleID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, outpost.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("outpost/sqlite: get schedule: %w", err)
	}
	return fromScheduleModel(m)
}

// FindSchedule retrieves an entry by owner, site and name.
func (s *Store) FindSchedule(ctx context.Context, ownerType schedule.OwnerType, ownerID, siteID, name string) (*schedule.Entry, error) {
	m := new(scheduleModel)
	err := s.sdb.NewSelect(m).
		Where("owner_type = ?", string(ownerType)).
		Where("owner_id = ?", ownerID).
		Where("site_id = ?", siteID).
		Where("name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, outpost.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("outpost/sqlite: find schedule: %w", err)
	}
	return fromScheduleModel(m)
}

// ListSchedules returns all entries ordered by NextRunAt.
func (s *Store) ListSchedules(ctx context.Context) ([]*schedule.Entry, error) {
	var models []scheduleModel
	err := s.sdb.NewSelect(&models).
		OrderExpr("next_run_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("outpost/sqlite: list schedules: %w", err)
	}
	entries, err := schedulesFromModels(models)
	if err != nil {
		return nil, fmt.Errorf("outpost/sqlite: list schedules convert: %w", err)
	}
	return entries, nil
}

// ClaimDueSchedules leases up to limit due, unlocked entries.
func (s *Store) ClaimDueSchedules(ctx context.Context, workerID string, now time.Time, limit int, ttl time.Duration) ([]*schedule.Entry, error) {
	at := micros(now)

	var models []scheduleModel
	err := s.sdb.NewRaw(`
		UPDATE outpost_schedules
		SET locked_by = ?, locked_until = ?
		WHERE id IN (
			SELECT id FROM outpost_schedules
			WHERE enabled = 1 AND dead_lettered = 0
			  AND next_run_at <= ?
			  AND (locked_until IS NULL OR locked_until <= ?)
			ORDER BY next_run_at ASC, id ASC
			LIMIT ?
		)
		RETURNING *`,
		workerID, micros(now.Add(ttl)), at, at, limit,
	).Scan(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("outpost/sqlite: claim due schedules: %w", err)
	}

	entries, err := schedulesFromModels(models)
	if err != nil {
		return nil, fmt.Errorf("outpost/sqlite: claim due convert: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].NextRunAt.Before(entries[j].NextRunAt)
	})
	return entries, nil
}

// LeaseSchedule leases one entry for a manual run.
func (s *Store) LeaseSchedule(ctx context.Context, scheduleID id.ScheduleID, workerID string, now time.Time, ttl time.Duration) (*schedule.Entry, error) {
	res, err := s.sdb.NewUpdate((*scheduleModel)(nil)).
		Set("locked_by = ?", workerID).
		Set("locked_until = ?", micros(now.Add(ttl))).
		Where("id = ?", scheduleID.String()).
		Where("dead_lettered = 0").
		Where("(locked_until IS NULL OR locked_until <= ?)", micros(now)).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("outpost/sqlite: lease schedule: %w", err)
	}

	cur, getErr := s.GetSchedule(ctx, scheduleID)
	if getErr != nil {
		return nil, getErr
	}
	if rows, _ := res.RowsAffected(); rows > 0 { //nolint:errcheck // driver always returns nil
		return cur, nil
	}
	if cur.DeadLettered {
		return nil, outpost.ErrScheduleDeadLettered
	}
	return nil, outpost.ErrScheduleLocked
}

// RecordRun persists run state, releases the lease and appends the audit
// row. The update is guarded by locked_by; the audit row is only written
// once the guarded update has applied.
func (s *Store) RecordRun(ctx context.Context, e *schedule.Entry, audit *schedule.RunAudit) error {
	res, err := s.sdb.NewUpdate((*scheduleModel)(nil)).
		Set("retry_count = ?", e.RetryCount).
		Set("dead_lettered = ?", e.DeadLettered).
		Set("dead_lettered_at = ?", microsPtr(e.DeadLetteredAt)).
		Set("next_run_at = ?", micros(e.NextRunAt)).
		Set("last_run_at = ?", microsPtr(e.LastRunAt)).
		Set("last_status = ?", string(e.LastStatus)).
		Set("last_error = ?", e.LastError).
		Set("locked_by = ''").
		Set("locked_until = NULL").
		Set("updated_at = ?", micros(e.UpdatedAt)).
		Where("id = ?", e.ID.String()).
		Where("locked_by = ?", e.LockedBy).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("outpost/sqlite: record run: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		if _, getErr := s.GetSchedule(ctx, e.ID); getErr != nil {
			return getErr
		}
		return outpost.ErrScheduleLocked
	}

	if _, err := s.sdb.NewInsert(toRunAuditModel(audit)).Exec(ctx); err != nil {
		return fmt.Errorf("outpost/sqlite: insert run audit: %w", err)
	}
	return nil
}

// SetScheduleEnabled toggles an entry.
func (s *Store) SetScheduleEnabled(ctx context.Context, scheduleID id.ScheduleID, enabled bool) error {
	res, err := s.sdb.NewUpdate((*scheduleModel)(nil)).
		Set("enabled = ?", enabled).
		Set("updated_at = ?", micros(time.Now())).
		Where("id = ?", scheduleID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("outpost/sqlite: set schedule enabled: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		return outpost.ErrScheduleNotFound
	}
	return nil
}

// ResetDeadLetter clears dead-letter state and makes the entry due at
// nextRunAt.
func (s *Store) ResetDeadLetter(ctx context.Context, scheduleID id.ScheduleID, nextRunAt time.Time) error {
	res, err := s.sdb.NewUpdate((*scheduleModel)(nil)).
		Set("dead_lettered = ?", false).
		Set("dead_lettered_at = NULL").
		Set("retry_count = 0").
		Set("next_run_at = ?", micros(nextRunAt)).
		Set("updated_at = ?", micros(time.Now())).
		Where("id = ?", scheduleID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("outpost/sqlite: reset dead letter: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		return outpost.ErrScheduleNotFound
	}
	return nil
}

// DeleteSchedule removes an entry. Audit rows are kept.
func (s *Store) DeleteSchedule(ctx context.Context, scheduleID id.ScheduleID) error {
	res, err := s.sdb.NewDelete((*scheduleModel)(nil)).
		Where("id = ?", scheduleID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("outpost/sqlite: delete schedule: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		return outpost.ErrScheduleNotFound
	}
	return nil
}

// ListRunAudits returns audit rows for an entry, newest first.
func (s *Store) ListRunAudits(ctx context.Context, scheduleID id.ScheduleID, limit int) ([]*schedule.RunAudit, error) {
	var models []runAuditModel
	q := s.sdb.NewSelect(&models).
		Where("schedule_id = ?", scheduleID.String()).
		OrderExpr("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("outpost/sqlite: list run audits: %w", err)
	}

	audits := make([]*schedule.RunAudit, 0, len(models))
	for i := range models {
		a, err := fromRunAuditModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("outpost/sqlite: list run audits convert: %w", err)
		}
		audits = append(audits, a)
	}
	return audits, nil
}

func schedulesFromModels(models []scheduleModel) ([]*schedule.Entry, error) {
	entries := make([]*schedule.Entry, 0, len(models))
	for i := range models {
		e, err := fromScheduleModel(&models[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
