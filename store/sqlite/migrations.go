package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the outpost sqlite store.
var Migrations = migrate.NewGroup("outpost")

// execAll runs statements in order, stopping at the first error.
func execAll(ctx context.Context, exec migrate.Executor, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := exec.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	Migrations.MustRegister(
		// 001: Queue items.
		&migrate.Migration{
			Name:    "create_items_table",
			Version: "20260301120000",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				return execAll(ctx, exec, `
					CREATE TABLE IF NOT EXISTS outpost_items (
						id            TEXT PRIMARY KEY,
						name          TEXT NOT NULL,
						site_id       TEXT NOT NULL DEFAULT '',
						envelope      TEXT NOT NULL,
						status        TEXT NOT NULL DEFAULT 'queued',
						attempts      INTEGER NOT NULL DEFAULT 0,
						available_at  INTEGER NOT NULL,
						last_error    TEXT NOT NULL DEFAULT '',
						claimed_by    TEXT NOT NULL DEFAULT '',
						claimed_at    INTEGER,
						created_at    INTEGER NOT NULL,
						updated_at    INTEGER NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_outpost_items_claim
						ON outpost_items (status, available_at, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_outpost_items_stale
						ON outpost_items (status, claimed_at)`,
				)
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				return execAll(ctx, exec, `DROP TABLE IF EXISTS outpost_items`)
			},
		},

		// 002: Schedules and run audits.
		&migrate.Migration{
			Name:    "create_schedules_tables",
			Version: "20260301120100",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				return execAll(ctx, exec, `
					CREATE TABLE IF NOT EXISTS outpost_schedules (
						id                    TEXT PRIMARY KEY,
						owner_type            TEXT NOT NULL,
						owner_id              TEXT NOT NULL,
						site_id               TEXT NOT NULL DEFAULT '',
						name                  TEXT NOT NULL,
						action_key            TEXT NOT NULL,
						payload               TEXT,
						enabled               INTEGER NOT NULL DEFAULT 1,
						run_every_minutes     INTEGER NOT NULL DEFAULT 0,
						cron                  TEXT NOT NULL DEFAULT '',
						max_retries           INTEGER NOT NULL DEFAULT 0,
						backoff_base_seconds  INTEGER NOT NULL DEFAULT 0,
						retry_count           INTEGER NOT NULL DEFAULT 0,
						dead_lettered         INTEGER NOT NULL DEFAULT 0,
						dead_lettered_at      INTEGER,
						next_run_at           INTEGER NOT NULL,
						last_run_at           INTEGER,
						last_status           TEXT NOT NULL DEFAULT '',
						last_error            TEXT NOT NULL DEFAULT '',
						locked_by             TEXT NOT NULL DEFAULT '',
						locked_until          INTEGER,
						created_at            INTEGER NOT NULL,
						updated_at            INTEGER NOT NULL,
						UNIQUE (owner_type, owner_id, site_id, name)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_outpost_schedules_due
						ON outpost_schedules (enabled, dead_lettered, next_run_at)`,
					`CREATE TABLE IF NOT EXISTS outpost_run_audits (
						id           TEXT PRIMARY KEY,
						schedule_id  TEXT NOT NULL,
						trigger      TEXT NOT NULL,
						outcome      TEXT NOT NULL,
						error        TEXT NOT NULL DEFAULT '',
						created_at   INTEGER NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_outpost_run_audits_schedule
						ON outpost_run_audits (schedule_id, created_at)`,
				)
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				return execAll(ctx, exec,
					`DROP TABLE IF EXISTS outpost_run_audits`,
					`DROP TABLE IF EXISTS outpost_schedules`,
				)
			},
		},

		// 003: Webhook subscriptions and deliveries.
		&migrate.Migration{
			Name:    "create_webhook_tables",
			Version: "20260301120200",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				return execAll(ctx, exec, `
					CREATE TABLE IF NOT EXISTS outpost_subscriptions (
						id             TEXT PRIMARY KEY,
						site_id        TEXT NOT NULL DEFAULT '',
						event_pattern  TEXT NOT NULL DEFAULT '*',
						url            TEXT NOT NULL,
						secret         TEXT NOT NULL DEFAULT '',
						active         INTEGER NOT NULL DEFAULT 1,
						created_at     INTEGER NOT NULL,
						updated_at     INTEGER NOT NULL
					)`,
					`CREATE TABLE IF NOT EXISTS outpost_deliveries (
						id               TEXT PRIMARY KEY,
						subscription_id  TEXT NOT NULL,
						event_id         TEXT NOT NULL,
						event_name       TEXT NOT NULL,
						attempt          INTEGER NOT NULL DEFAULT 1,
						outcome          TEXT NOT NULL,
						status_code      INTEGER NOT NULL DEFAULT 0,
						error            TEXT NOT NULL DEFAULT '',
						duration_ms      INTEGER NOT NULL DEFAULT 0,
						created_at       INTEGER NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_outpost_deliveries_subscription
						ON outpost_deliveries (subscription_id, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_outpost_deliveries_event
						ON outpost_deliveries (event_id)`,
				)
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				return execAll(ctx, exec,
					`DROP TABLE IF EXISTS outpost_deliveries`,
					`DROP TABLE IF EXISTS outpost_subscriptions`,
				)
			},
		},
	)
}
