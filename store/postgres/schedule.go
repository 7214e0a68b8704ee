package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/schedule"
)

const scheduleColumns = `
	id, owner_type, owner_id, site_id, name, action_key, payload, enabled,
	run_every_minutes, cron, max_retries, backoff_base_seconds, retry_count,
	dead_lettered, dead_lettered_at, next_run_at, last_run_at, last_status,
	last_error, locked_by, locked_until, created_at, updated_at`

// nullablePayload maps an empty payload to SQL NULL.
func nullablePayload(p json.RawMessage) any {
	if len(p) == 0 {
		return nil
	}
	return []byte(p)
}

// CreateSchedule persists a new entry.
func (s *Store) CreateSchedule(ctx context.Context, e *schedule.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outpost_schedules (`+scheduleColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23
		)`,
		e.ID.String(), string(e.OwnerType), e.OwnerID, e.SiteID, e.Name, e.ActionKey,
		nullablePayload(e.Payload), e.Enabled,
		e.RunEveryMinutes, e.Cron, e.MaxRetries, e.BackoffBaseSeconds, e.RetryCount,
		e.DeadLettered, e.DeadLetteredAt, e.NextRunAt.UTC(), e.LastRunAt, string(e.LastStatus),
		e.LastError, e.LockedBy, e.LockedUntil, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return outpost.ErrDuplicateSchedule
		}
		return fmt.Errorf("outpost/postgres: create schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves an entry by ID.
func (s *Store) GetSchedule(ctx context.Context, scheduleID id.ScheduleID) (*schedule.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+scheduleColumns+` FROM outpost_schedules WHERE id = $1`,
		scheduleID.String(),
	)
	return s.oneSchedule(row, "get schedule")
}

// FindSchedule retrieves an entry by owner, site and name.
func (s *Store) FindSchedule(ctx context.Context, ownerType schedule.OwnerType, ownerID, siteID, name string) (*schedule.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+scheduleColumns+` FROM outpost_schedules
		WHERE owner_type = $1 AND owner_id = $2 AND site_id = $3 AND name = $4`,
		string(ownerType), ownerID, siteID, name,
	)
	return s.oneSchedule(row, "find schedule")
}

func (s *Store) oneSchedule(row pgx.Row, op string) (*schedule.Entry, error) {
	e, err := scanSchedule(row)
	if err != nil {
		if isNoRows(err) {
			return nil, outpost.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("outpost/postgres: %s: %w", op, err)
	}
	return e, nil
}

// ListSchedules returns all entries ordered by NextRunAt.
func (s *Store) ListSchedules(ctx context.Context) ([]*schedule.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT`+scheduleColumns+` FROM outpost_schedules ORDER BY next_run_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("outpost/postgres: list schedules: %w", err)
	}
	defer rows.Close()

	return collectSchedules(rows)
}

// ClaimDueSchedules leases up to limit due, unlocked entries. An expired
// lease counts as unlocked.
func (s *Store) ClaimDueSchedules(ctx context.Context, workerID string, now time.Time, limit int, ttl time.Duration) ([]*schedule.Entry, error) {
	now = now.UTC()
	rows, err := s.pool.Query(ctx, `
		WITH leased AS (
			UPDATE outpost_schedules
			SET locked_by = $1, locked_until = $3
			WHERE id IN (
				SELECT id FROM outpost_schedules
				WHERE enabled AND NOT dead_lettered
				  AND next_run_at <= $2
				  AND (locked_until IS NULL OR locked_until <= $2)
				ORDER BY next_run_at ASC, id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $4
			)
			RETURNING`+scheduleColumns+`
		)
		SELECT * FROM leased ORDER BY next_run_at ASC, id ASC`,
		workerID, now, now.Add(ttl), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("outpost/postgres: claim due schedules: %w", err)
	}
	defer rows.Close()

	return collectSchedules(rows)
}

// LeaseSchedule leases one entry for a manual run.
func (s *Store) LeaseSchedule(ctx context.Context, scheduleID id.ScheduleID, workerID string, now time.Time, ttl time.Duration) (*schedule.Entry, error) {
	now = now.UTC()
	row := s.pool.QueryRow(ctx, `
		UPDATE outpost_schedules
		SET locked_by = $2, locked_until = $4
		WHERE id = $1 AND NOT dead_lettered
		  AND (locked_until IS NULL OR locked_until <= $3)
		RETURNING`+scheduleColumns,
		scheduleID.String(), workerID, now, now.Add(ttl),
	)
	e, err := scanSchedule(row)
	if err == nil {
		return e, nil
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("outpost/postgres: lease schedule: %w", err)
	}

	cur, getErr := s.GetSchedule(ctx, scheduleID)
	if getErr != nil {
		return nil, getErr
	}
	if cur.DeadLettered {
		return nil, outpost.ErrScheduleDeadLettered
	}
	return nil, outpost.ErrScheduleLocked
}

// RecordRun persists run state, releases the lease and appends the audit
// row in one transaction. The update is guarded by locked_by so a worker
// whose lease was taken over cannot overwrite the new holder's state.
func (s *Store) RecordRun(ctx context.Context, e *schedule.Entry, audit *schedule.RunAudit) error {
	var missed bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE outpost_schedules
			SET retry_count = $3, dead_lettered = $4, dead_lettered_at = $5,
			    next_run_at = $6, last_run_at = $7, last_status = $8,
			    last_error = $9, locked_by = '', locked_until = NULL,
			    updated_at = $10
			WHERE id = $1 AND locked_by = $2`,
			e.ID.String(), e.LockedBy,
			e.RetryCount, e.DeadLettered, e.DeadLetteredAt,
			e.NextRunAt.UTC(), e.LastRunAt, string(e.LastStatus),
			e.LastError, e.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			missed = true
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO outpost_run_audits (id, schedule_id, trigger, outcome, error, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			audit.ID.String(), audit.ScheduleID.String(), string(audit.Trigger),
			string(audit.Outcome), audit.Error, audit.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("outpost/postgres: record run: %w", err)
	}
	if !missed {
		return nil
	}

	if _, getErr := s.GetSchedule(ctx, e.ID); getErr != nil {
		return getErr
	}
	return outpost.ErrScheduleLocked
}

// SetScheduleEnabled toggles an entry.
func (s *Store) SetScheduleEnabled(ctx context.Context, scheduleID id.ScheduleID, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outpost_schedules SET enabled = $2, updated_at = NOW() WHERE id = $1`,
		scheduleID.String(), enabled,
	)
	if err != nil {
		return fmt.Errorf("outpost/postgres: set schedule enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return outpost.ErrScheduleNotFound
	}
	return nil
}

// ResetDeadLetter clears dead-letter state and makes the entry due at
// nextRunAt.
func (s *Store) ResetDeadLetter(ctx context.Context, scheduleID id.ScheduleID, nextRunAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outpost_schedules
		SET dead_lettered = FALSE, dead_lettered_at = NULL, retry_count = 0,
		    next_run_at = $2, updated_at = NOW()
		WHERE id = $1`,
		scheduleID.String(), nextRunAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("outpost/postgres: reset dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return outpost.ErrScheduleNotFound
	}
	return nil
}

// DeleteSchedule removes an entry. Audit rows are kept.
func (s *Store) DeleteSchedule(ctx context.Context, scheduleID id.ScheduleID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM outpost_schedules WHERE id = $1`, scheduleID.String(),
	)
	if err != nil {
		return fmt.Errorf("outpost/postgres: delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return outpost.ErrScheduleNotFound
	}
	return nil
}

// ListRunAudits returns audit rows for an entry, newest first.
func (s *Store) ListRunAudits(ctx context.Context, scheduleID id.ScheduleID, limit int) ([]*schedule.RunAudit, error) {
	query := `
		SELECT id, schedule_id, trigger, outcome, error, created_at
		FROM outpost_run_audits
		WHERE schedule_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []any{scheduleID.String()}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("outpost/postgres: list run audits: %w", err)
	}
	defer rows.Close()

	audits := make([]*schedule.RunAudit, 0)
	for rows.Next() {
		var (
			a                schedule.RunAudit
			idStr, schedStr  string
			trigger, outcome string
		)
		if err := rows.Scan(&idStr, &schedStr, &trigger, &outcome, &a.Error, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("outpost/postgres: scan run audit: %w", err)
		}
		if a.ID, err = id.ParseRunID(idStr); err != nil {
			return nil, fmt.Errorf("outpost/postgres: parse run id %q: %w", idStr, err)
		}
		if a.ScheduleID, err = id.ParseScheduleID(schedStr); err != nil {
			return nil, fmt.Errorf("outpost/postgres: parse schedule id %q: %w", schedStr, err)
		}
		a.Trigger = schedule.Trigger(trigger)
		a.Outcome = schedule.Outcome(outcome)
		a.CreatedAt = a.CreatedAt.UTC()
		audits = append(audits, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outpost/postgres: iterate run audits: %w", err)
	}
	return audits, nil
}

// scanSchedule scans a single schedule row.
func scanSchedule(row pgx.Row) (*schedule.Entry, error) {
	var (
		e          schedule.Entry
		idStr      string
		ownerType  string
		payload    []byte
		lastStatus string
	)
	err := row.Scan(
		&idStr, &ownerType, &e.OwnerID, &e.SiteID, &e.Name, &e.ActionKey, &payload, &e.Enabled,
		&e.RunEveryMinutes, &e.Cron, &e.MaxRetries, &e.BackoffBaseSeconds, &e.RetryCount,
		&e.DeadLettered, &e.DeadLetteredAt, &e.NextRunAt, &e.LastRunAt, &lastStatus,
		&e.LastError, &e.LockedBy, &e.LockedUntil, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := id.ParseScheduleID(idStr)
	if err != nil {
		return nil, fmt.Errorf("outpost/postgres: parse schedule id %q: %w", idStr, err)
	}
	e.ID = parsed
	e.OwnerType = schedule.OwnerType(ownerType)
	e.LastStatus = schedule.Status(lastStatus)
	if len(payload) > 0 {
		e.Payload = json.RawMessage(payload)
	}

	e.NextRunAt = e.NextRunAt.UTC()
	e.DeadLetteredAt = utc(e.DeadLetteredAt)
	e.LastRunAt = utc(e.LastRunAt)
	e.LockedUntil = utc(e.LockedUntil)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

// collectSchedules collects all entries from query rows.
func collectSchedules(rows pgx.Rows) ([]*schedule.Entry, error) {
	entries := make([]*schedule.Entry, 0)
	for rows.Next() {
		e, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("outpost/postgres: scan schedule row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outpost/postgres: iterate schedule rows: %w", err)
	}
	return entries, nil
}
