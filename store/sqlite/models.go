package sqlite

import (
	"encoding/json"
	"fmt"

	"github.com/xraph/grove"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/event"
	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/queue"
	"github.com/xraph/outpost/schedule"
	"github.com/xraph/outpost/webhook"
)

// ── Item model ────────────────────────────────────────────────────

type itemModel struct {
	grove.BaseModel `grove:"table:outpost_items"`

	ID          string `grove:"id,pk"`
	Name        string `grove:"name,notnull"`
	SiteID      string `grove:"site_id,notnull"`
	Envelope    string `grove:"envelope,notnull"`
	Status      string `grove:"status,notnull,default:'queued'"`
	Attempts    int    `grove:"attempts,notnull,default:0"`
	AvailableAt int64  `grove:"available_at,notnull"`
	LastError   string `grove:"last_error,notnull"`
	ClaimedBy   string `grove:"claimed_by,notnull"`
	ClaimedAt   *int64 `grove:"claimed_at"`
	CreatedAt   int64  `grove:"created_at,notnull"`
	UpdatedAt   int64  `grove:"updated_at,notnull"`
}

func toItemModel(it *queue.Item) (*itemModel, error) {
	env, err := json.Marshal(it.Envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return &itemModel{
		ID:          it.ID.String(),
		Name:        it.Envelope.Name,
		SiteID:      it.Envelope.SiteID,
		Envelope:    string(env),
		Status:      string(it.Status),
		Attempts:    it.Attempts,
		AvailableAt: micros(it.AvailableAt),
		LastError:   it.LastError,
		ClaimedBy:   it.ClaimedBy.String(),
		ClaimedAt:   microsPtr(it.ClaimedAt),
		CreatedAt:   micros(it.CreatedAt),
		UpdatedAt:   micros(it.UpdatedAt),
	}, nil
}

func fromItemModel(m *itemModel) (*queue.Item, error) {
	itemID, err := id.ParseItemID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse item id %q: %w", m.ID, err)
	}
	var env event.Envelope
	if err := json.Unmarshal([]byte(m.Envelope), &env); err != nil {
		return nil, fmt.Errorf("decode envelope %s: %w", m.ID, err)
	}
	it := &queue.Item{
		Entity: outpost.Entity{
			CreatedAt: fromMicros(m.CreatedAt),
			UpdatedAt: fromMicros(m.UpdatedAt),
		},
		ID:          itemID,
		Envelope:    env,
		Status:      queue.Status(m.Status),
		Attempts:    m.Attempts,
		AvailableAt: fromMicros(m.AvailableAt),
		LastError:   m.LastError,
		ClaimedAt:   fromMicrosPtr(m.ClaimedAt),
	}
	if m.ClaimedBy != "" {
		if worker, workerErr := id.ParseWorkerID(m.ClaimedBy); workerErr == nil {
			it.ClaimedBy = worker
		}
	}
	return it, nil
}

// ── Schedule models ───────────────────────────────────────────────

type scheduleModel struct {
	grove.BaseModel `grove:"table:outpost_schedules"`

	ID                 string  `grove:"id,pk"`
	OwnerType          string  `grove:"owner_type,notnull"`
	OwnerID            string  `grove:"owner_id,notnull"`
	SiteID             string  `grove:"site_id,notnull"`
	Name               string  `grove:"name,notnull"`
	ActionKey          string  `grove:"action_key,notnull"`
	Payload            *string `grove:"payload"`
	Enabled            bool    `grove:"enabled,notnull"`
	RunEveryMinutes    int     `grove:"run_every_minutes,notnull"`
	Cron               string  `grove:"cron,notnull"`
	MaxRetries         int     `grove:"max_retries,notnull"`
	BackoffBaseSeconds int     `grove:"backoff_base_seconds,notnull"`
	RetryCount         int     `grove:"retry_count,notnull"`
	DeadLettered       bool    `grove:"dead_lettered,notnull"`
	DeadLetteredAt     *int64  `grove:"dead_lettered_at"`
	NextRunAt          int64   `grove:"next_run_at,notnull"`
	LastRunAt          *int64  `grove:"last_run_at"`
	LastStatus         string  `grove:"last_status,notnull"`
	LastError          string  `grove:"last_error,notnull"`
	LockedBy           string  `grove:"locked_by,notnull"`
	LockedUntil        *int64  `grove:"locked_until"`
	CreatedAt          int64   `grove:"created_at,notnull"`
	UpdatedAt          int64   `grove:"updated_at,notnull"`
}

func toScheduleModel(e *schedule.Entry) *scheduleModel {
	m := &scheduleModel{
		ID:                 e.ID.String(),
		OwnerType:          string(e.OwnerType),
		OwnerID:            e.OwnerID,
		SiteID:             e.SiteID,
		Name:               e.Name,
		ActionKey:          e.ActionKey,
		Enabled:            e.Enabled,
		RunEveryMinutes:    e.RunEveryMinutes,
		Cron:               e.Cron,
		MaxRetries:         e.MaxRetries,
		BackoffBaseSeconds: e.BackoffBaseSeconds,
		RetryCount:         e.RetryCount,
		DeadLettered:       e.DeadLettered,
		DeadLetteredAt:     microsPtr(e.DeadLetteredAt),
		NextRunAt:          micros(e.NextRunAt),
		LastRunAt:          microsPtr(e.LastRunAt),
		LastStatus:         string(e.LastStatus),
		LastError:          e.LastError,
		LockedBy:           e.LockedBy,
		LockedUntil:        microsPtr(e.LockedUntil),
		CreatedAt:          micros(e.CreatedAt),
		UpdatedAt:          micros(e.UpdatedAt),
	}
	if len(e.Payload) > 0 {
		p := string(e.Payload)
		m.Payload = &p
	}
	return m
}

func fromScheduleModel(m *scheduleModel) (*schedule.Entry, error) {
	scheduleID, err := id.ParseScheduleID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse schedule id %q: %w", m.ID, err)
	}
	e := &schedule.Entry{
		Entity: outpost.Entity{
			CreatedAt: fromMicros(m.CreatedAt),
			UpdatedAt: fromMicros(m.UpdatedAt),
		},
		ID:                 scheduleID,
		OwnerType:          schedule.OwnerType(m.OwnerType),
		OwnerID:            m.OwnerID,
		SiteID:             m.SiteID,
		Name:               m.Name,
		ActionKey:          m.ActionKey,
		Enabled:            m.Enabled,
		RunEveryMinutes:    m.RunEveryMinutes,
		Cron:               m.Cron,
		MaxRetries:         m.MaxRetries,
		BackoffBaseSeconds: m.BackoffBaseSeconds,
		RetryCount:         m.RetryCount,
		DeadLettered:       m.DeadLettered,
		DeadLetteredAt:     fromMicrosPtr(m.DeadLetteredAt),
		NextRunAt:          fromMicros(m.NextRunAt),
		LastRunAt:          fromMicrosPtr(m.LastRunAt),
		LastStatus:         schedule.Status(m.LastStatus),
		LastError:          m.LastError,
		LockedBy:           m.LockedBy,
		LockedUntil:        fromMicrosPtr(m.LockedUntil),
	}
	if m.Payload != nil {
		e.Payload = json.RawMessage(*m.Payload)
	}
	return e, nil
}

type runAuditModel struct {
	grove.BaseModel `grove:"table:outpost_run_audits"`

	ID         string `grove:"id,pk"`
	ScheduleID string `grove:"schedule_id,notnull"`
	Trigger    string `grove:"trigger,notnull"`
	Outcome    string `grove:"outcome,notnull"`
	Error      string `grove:"error,notnull"`
	CreatedAt  int64  `grove:"created_at,notnull"`
}

func toRunAuditModel(a *schedule.RunAudit) *runAuditModel {
	return &runAuditModel{
		ID:         a.ID.String(),
		ScheduleID: a.ScheduleID.String(),
		Trigger:    string(a.Trigger),
		Outcome:    string(a.Outcome),
		Error:      a.Error,
		CreatedAt:  micros(a.CreatedAt),
	}
}

func fromRunAuditModel(m *runAuditModel) (*schedule.RunAudit, error) {
	runID, err := id.ParseRunID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse run id %q: %w", m.ID, err)
	}
	scheduleID, err := id.ParseScheduleID(m.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("parse schedule id %q: %w", m.ScheduleID, err)
	}
	return &schedule.RunAudit{
		ID:         runID,
		ScheduleID: scheduleID,
		Trigger:    schedule.Trigger(m.Trigger),
		Outcome:    schedule.Outcome(m.Outcome),
		Error:      m.Error,
		CreatedAt:  fromMicros(m.CreatedAt),
	}, nil
}

// ── Webhook models ────────────────────────────────────────────────

type subscriptionModel struct {
	grove.BaseModel `grove:"table:outpost_subscriptions"`

	ID           string `grove:"id,pk"`
	SiteID       string `grove:"site_id,notnull"`
	EventPattern string `grove:"event_pattern,notnull"`
	URL          string `grove:"url,notnull"`
	Secret       string `grove:"secret,notnull"`
	Active       bool   `grove:"active,notnull"`
	CreatedAt    int64  `grove:"created_at,notnull"`
	UpdatedAt    int64  `grove:"updated_at,notnull"`
}

func toSubscriptionModel(s *webhook.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:           s.ID.String(),
		SiteID:       s.SiteID,
		EventPattern: s.EventPattern,
		URL:          s.URL,
		Secret:       s.Secret,
		Active:       s.Active,
		CreatedAt:    micros(s.CreatedAt),
		UpdatedAt:    micros(s.UpdatedAt),
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*webhook.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription id %q: %w", m.ID, err)
	}
	return &webhook.Subscription{
		Entity: outpost.Entity{
			CreatedAt: fromMicros(m.CreatedAt),
			UpdatedAt: fromMicros(m.UpdatedAt),
		},
		ID:           subID,
		SiteID:       m.SiteID,
		EventPattern: m.EventPattern,
		URL:          m.URL,
		Secret:       m.Secret,
		Active:       m.Active,
	}, nil
}

type deliveryModel struct {
	grove.BaseModel `grove:"table:outpost_deliveries"`

	ID             string `grove:"id,pk"`
	SubscriptionID string `grove:"subscription_id,notnull"`
	EventID        string `grove:"event_id,notnull"`
	EventName      string `grove:"event_name,notnull"`
	Attempt        int    `grove:"attempt,notnull"`
	Outcome        string `grove:"outcome,notnull"`
	StatusCode     int    `grove:"status_code,notnull"`
	Error          string `grove:"error,notnull"`
	DurationMs     int64  `grove:"duration_ms,notnull"`
	CreatedAt      int64  `grove:"created_at,notnull"`
}

func toDeliveryModel(d *webhook.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:             d.ID.String(),
		SubscriptionID: d.SubscriptionID.String(),
		EventID:        d.EventID.String(),
		EventName:      d.EventName,
		Attempt:        d.Attempt,
		Outcome:        string(d.Outcome),
		StatusCode:     d.StatusCode,
		Error:          d.Error,
		DurationMs:     d.DurationMs,
		CreatedAt:      micros(d.CreatedAt),
	}
}

func fromDeliveryModel(m *deliveryModel) (*webhook.Delivery, error) {
	deliveryID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery id %q: %w", m.ID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription id %q: %w", m.SubscriptionID, err)
	}
	itemID, err := id.ParseItemID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event id %q: %w", m.EventID, err)
	}
	return &webhook.Delivery{
		ID:             deliveryID,
		SubscriptionID: subID,
		EventID:        itemID,
		EventName:      m.EventName,
		Attempt:        m.Attempt,
		Outcome:        webhook.Outcome(m.Outcome),
		StatusCode:     m.StatusCode,
		Error:          m.Error,
		DurationMs:     m.DurationMs,
		CreatedAt:      fromMicros(m.CreatedAt),
	}, nil
}
