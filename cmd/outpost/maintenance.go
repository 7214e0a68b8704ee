package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/xraph/outpost/engine"
	"github.com/xraph/outpost/schedule"
)

const (
	actionPurgeProcessed = "outpost.purge_processed"
	actionReleaseStale   = "outpost.release_stale"
)

type purgePayload struct {
	Retention string `json:"retention"`
}

type releasePayload struct {
	Visibility string `json:"visibility"`
}

// registerMaintenance binds the built-in queue housekeeping actions.
func registerMaintenance(eng *engine.Engine) {
	engine.RegisterDefinition(eng, schedule.NewDefinition(actionPurgeProcessed,
		func(ctx context.Context, p purgePayload) error {
			retention, err := parseDurationOr(p.Retention, 7*24*time.Hour)
			if err != nil {
				return err
			}
			n, err := eng.Queue().PurgeProcessed(ctx, retention)
			if err != nil {
				return err
			}
			slog.InfoContext(ctx, "purged processed items", slog.Int64("count", n))
			return nil
		}))

	engine.RegisterDefinition(eng, schedule.NewDefinition(actionReleaseStale,
		func(ctx context.Context, p releasePayload) error {
			visibility, err := parseDurationOr(p.Visibility, eng.Outpost().Config().VisibilityTimeout)
			if err != nil {
				return err
			}
			n, err := eng.Queue().ReleaseStale(ctx, visibility)
			if err != nil {
				return err
			}
			slog.InfoContext(ctx, "released stale items", slog.Int64("count", n))
			return nil
		}))
}

// registerMaintenanceSchedules creates the hourly purge entry. Re-running
// it is a no-op once the entry exists.
func registerMaintenanceSchedules(ctx context.Context, eng *engine.Engine, retention time.Duration) error {
	var p purgePayload
	if retention > 0 {
		p.Retention = retention.String()
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = eng.RegisterSchedule(ctx, &schedule.Entry{
		OwnerType:       schedule.OwnerCore,
		OwnerID:         "outpost",
		Name:            "purge-processed",
		ActionKey:       actionPurgeProcessed,
		Payload:         payload,
		Enabled:         true,
		RunEveryMinutes: 60,
		MaxRetries:      3,
	})
	return err
}

func parseDurationOr(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
