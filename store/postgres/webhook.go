package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/webhook"
)

const subscriptionColumns = `
	id, site_id, event_pattern, url, secret, active, created_at, updated_at`

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outpost_subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sub.ID.String(), sub.SiteID, sub.EventPattern, sub.URL, sub.Secret,
		sub.Active, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("outpost/postgres: create subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*webhook.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+subscriptionColumns+` FROM outpost_subscriptions WHERE id = $1`,
		subID.String(),
	)
	sub, err := scanSubscription(row)
	if err != nil {
		if isNoRows(err) {
			return nil, outpost.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("outpost/postgres: get subscription: %w", err)
	}
	return sub, nil
}

// UpdateSubscription replaces a subscription's mutable fields.
func (s *Store) UpdateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outpost_subscriptions
		SET site_id = $2, event_pattern = $3, url = $4, secret = $5,
		    active = $6, updated_at = NOW()
		WHERE id = $1`,
		sub.ID.String(), sub.SiteID, sub.EventPattern, sub.URL, sub.Secret, sub.Active,
	)
	if err != nil {
		return fmt.Errorf("outpost/postgres: update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return outpost.ErrSubscriptionNotFound
	}
	return nil
}

// DeleteSubscription removes a subscription. Deliveries are kept.
func (s *Store) DeleteSubscription(ctx context.Context, subID id.SubscriptionID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM outpost_subscriptions WHERE id = $1`, subID.String(),
	)
	if err != nil {
		return fmt.Errorf("outpost/postgres: delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return outpost.ErrSubscriptionNotFound
	}
	return nil
}

// ListSubscriptions returns all subscriptions.
func (s *Store) ListSubscriptions(ctx context.Context) ([]*webhook.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT`+subscriptionColumns+` FROM outpost_subscriptions ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("outpost/postgres: list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]*webhook.Subscription, 0)
	for rows.Next() {
		sub, scanErr := scanSubscription(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("outpost/postgres: scan subscription row: %w", scanErr)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outpost/postgres: iterate subscription rows: %w", err)
	}
	return subs, nil
}

// RecordDelivery appends a delivery attempt.
func (s *Store) RecordDelivery(ctx context.Context, d *webhook.Delivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outpost_deliveries (
			id, subscription_id, event_id, event_name, attempt, outcome,
			status_code, error, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID.String(), d.SubscriptionID.String(), d.EventID.String(), d.EventName,
		d.Attempt, string(d.Outcome), d.StatusCode, d.Error, d.DurationMs, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("outpost/postgres: record delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns attempts, newest first.
func (s *Store) ListDeliveries(ctx context.Context, opts webhook.ListOpts) ([]*webhook.Delivery, error) {
	query := `
		SELECT id, subscription_id, event_id, event_name, attempt, outcome,
		       status_code, error, duration_ms, created_at
		FROM outpost_deliveries WHERE 1=1`
	args := []any{}
	argIdx := 1

	if !opts.SubscriptionID.IsNil() {
		query += fmt.Sprintf(" AND subscription_id = $%d", argIdx)
		args = append(args, opts.SubscriptionID.String())
		argIdx++
	}
	if !opts.EventID.IsNil() {
		query += fmt.Sprintf(" AND event_id = $%d", argIdx)
		args = append(args, opts.EventID.String())
		argIdx++
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("outpost/postgres: list deliveries: %w", err)
	}
	defer rows.Close()

	out := make([]*webhook.Delivery, 0)
	for rows.Next() {
		var (
			d                    webhook.Delivery
			idStr, subStr, evStr string
			outcome              string
		)
		if err := rows.Scan(
			&idStr, &subStr, &evStr, &d.EventName, &d.Attempt, &outcome,
			&d.StatusCode, &d.Error, &d.DurationMs, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("outpost/postgres: scan delivery row: %w", err)
		}
		if d.ID, err = id.ParseDeliveryID(idStr); err != nil {
			return nil, fmt.Errorf("outpost/postgres: parse delivery id %q: %w", idStr, err)
		}
		if d.SubscriptionID, err = id.ParseSubscriptionID(subStr); err != nil {
			return nil, fmt.Errorf("outpost/postgres: parse subscription id %q: %w", subStr, err)
		}
		if d.EventID, err = id.ParseItemID(evStr); err != nil {
			return nil, fmt.Errorf("outpost/postgres: parse event id %q: %w", evStr, err)
		}
		d.Outcome = webhook.Outcome(outcome)
		d.CreatedAt = d.CreatedAt.UTC()
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outpost/postgres: iterate delivery rows: %w", err)
	}
	return out, nil
}

// scanSubscription scans a single subscription row.
func scanSubscription(row pgx.Row) (*webhook.Subscription, error) {
	var (
		sub   webhook.Subscription
		idStr string
	)
	err := row.Scan(
		&idStr, &sub.SiteID, &sub.EventPattern, &sub.URL, &sub.Secret,
		&sub.Active, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	parsed, err := id.ParseSubscriptionID(idStr)
	if err != nil {
		return nil, fmt.Errorf("outpost/postgres: parse subscription id %q: %w", idStr, err)
	}
	sub.ID = parsed
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return &sub, nil
}
