package schedule

import (
	"encoding/json"
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/backoff"
	"github.com/xraph/outpost/id"
)

// OwnerType identifies who registered an entry.
type OwnerType string

const (
	OwnerCore   OwnerType = "core"
	OwnerPlugin OwnerType = "plugin"
	OwnerTheme  OwnerType = "theme"
)

// Status is the outcome of an entry's most recent run.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusRetrying   Status = "retrying"
	StatusDeadLetter Status = "dead_letter"
)

// Trigger records why a run happened.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// Outcome is the result recorded in a RunAudit row.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeFailed     Outcome = "failed"
	OutcomeDeadLetter Outcome = "dead_letter"
)

// DefaultBackoffBase is used when an entry has BackoffBaseSeconds <= 0.
const DefaultBackoffBase = 60 * time.Second

// Entry is a recurring job definition with its own retry state.
type Entry struct {
	outpost.Entity

	ID                 id.ScheduleID   `json:"id"`
	OwnerType          OwnerType       `json:"owner_type"`
	OwnerID            string          `json:"owner_id"`
	SiteID             string          `json:"site_id,omitempty"`
	Name               string          `json:"name"`
	ActionKey          string          `json:"action_key"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	Enabled            bool            `json:"enabled"`
	RunEveryMinutes    int             `json:"run_every_minutes"`
	Cron               string          `json:"cron,omitempty"`
	MaxRetries         int             `json:"max_retries"`
	BackoffBaseSeconds int             `json:"backoff_base_seconds"`
	RetryCount         int             `json:"retry_count"`
	DeadLettered       bool            `json:"dead_lettered"`
	DeadLetteredAt     *time.Time      `json:"dead_lettered_at,omitempty"`
	NextRunAt          time.Time       `json:"next_run_at"`
	LastRunAt          *time.Time      `json:"last_run_at,omitempty"`
	LastStatus         Status          `json:"last_status,omitempty"`
	LastError          string          `json:"last_error,omitempty"`
	LockedBy           string          `json:"locked_by,omitempty"`
	LockedUntil        *time.Time      `json:"locked_until,omitempty"`
}

// RunAudit is one immutable row per execution attempt.
type RunAudit struct {
	ID         id.RunID      `json:"id"`
	ScheduleID id.ScheduleID `json:"schedule_id"`
	Trigger    Trigger       `json:"trigger"`
	Outcome    Outcome       `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Validate checks the fields an administrative caller must supply.
func (e *Entry) Validate() error {
	switch e.OwnerType {
	case OwnerCore, OwnerPlugin, OwnerTheme:
	default:
		return fmt.Errorf("%w: unknown owner type %q", outpost.ErrInvalidSchedule, e.OwnerType)
	}
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", outpost.ErrInvalidSchedule)
	}
	if e.ActionKey == "" {
		return fmt.Errorf("%w: action key is required", outpost.ErrInvalidSchedule)
	}
	if e.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0", outpost.ErrInvalidSchedule)
	}
	if e.BackoffBaseSeconds < 0 {
		return fmt.Errorf("%w: backoff base seconds must be >= 0", outpost.ErrInvalidSchedule)
	}
	if e.Cron != "" {
		if _, err := ParseCron(e.Cron); err != nil {
			return fmt.Errorf("%w: cron %q: %v", outpost.ErrInvalidSchedule, e.Cron, err)
		}
	} else if e.RunEveryMinutes < 1 {
		return fmt.Errorf("%w: run every minutes must be >= 1", outpost.ErrInvalidSchedule)
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", outpost.ErrInvalidSchedule)
	}
	return nil
}

// Due reports whether the scheduler may run the entry at now, ignoring
// leases.
func (e *Entry) Due(now time.Time) bool {
	return e.Enabled && !e.DeadLettered && !e.NextRunAt.After(now)
}

// Locked reports whether a lease is held at now.
func (e *Entry) Locked(now time.Time) bool {
	return e.LockedUntil != nil && e.LockedUntil.After(now)
}

// BackoffBase returns the entry's retry base delay. Zero selects
// DefaultBackoffBase.
func (e *Entry) BackoffBase() time.Duration {
	if e.BackoffBaseSeconds <= 0 {
		return DefaultBackoffBase
	}
	return time.Duration(e.BackoffBaseSeconds) * time.Second
}

// NextAfter returns the next regular run time after t: the cron
// expression's next activation when set, otherwise t + RunEveryMinutes.
func (e *Entry) NextAfter(t time.Time) time.Time {
	if e.Cron != "" {
		if sched, err := ParseCron(e.Cron); err == nil {
			return sched.Next(t)
		}
	}
	every := e.RunEveryMinutes
	if every < 1 {
		every = 1
	}
	return t.Add(time.Duration(every) * time.Minute)
}

// Apply folds the result of one run into the entry and returns the audit
// row to append. runErr == nil is a success. The caller persists both
// together.
func (e *Entry) Apply(now time.Time, trigger Trigger, runErr error, policy backoff.SchedulePolicy) *RunAudit {
	audit := &RunAudit{
		ID:         id.NewRunID(),
		ScheduleID: e.ID,
		Trigger:    trigger,
		CreatedAt:  now,
	}
	e.LastRunAt = &now
	e.UpdatedAt = now

	if runErr == nil {
		e.RetryCount = 0
		e.LastStatus = StatusSuccess
		e.LastError = ""
		e.NextRunAt = e.NextAfter(now)
		audit.Outcome = OutcomeSuccess
		return audit
	}

	msg := outpost.TruncateError(runErr)
	e.LastError = msg
	audit.Error = msg

	d := policy.Decide(e.RetryCount, e.MaxRetries, e.BackoffBase(), now)
	e.RetryCount = d.Attempt
	if d.DeadLetter {
		e.DeadLettered = true
		e.DeadLetteredAt = &now
		e.LastStatus = StatusDeadLetter
		audit.Outcome = OutcomeDeadLetter
		return audit
	}
	e.LastStatus = StatusRetrying
	e.NextRunAt = d.NextAt
	audit.Outcome = OutcomeFailed
	return audit
}

// cronParser supports standard 5-field cron and descriptors like "@daily".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseCron parses a cron expression.
func ParseCron(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}
