package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/webhook"
)

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	if _, err := s.sdb.NewInsert(toSubscriptionModel(sub)).Exec(ctx); err != nil {
		return fmt.Errorf("outpost/sqlite: create subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*webhook.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, outpost.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("outpost/sqlite: get subscription: %w", err)
	}
	return fromSubscriptionModel(m)
}

// UpdateSubscription replaces a subscription's mutable fields.
func (s *Store) UpdateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = micros(time.Now())
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("outpost/sqlite: update subscription: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		return outpost.ErrSubscriptionNotFound
	}
	return nil
}

// DeleteSubscription removes a subscription. Deliveries are kept.
func (s *Store) DeleteSubscription(ctx context.Context, subID id.SubscriptionID) error {
	res, err := s.sdb.NewDelete((*subscriptionModel)(nil)).
		Where("id = ?", subID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("outpost/sqlite: delete subscription: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 { //nolint:errcheck // driver always returns nil
		return outpost.ErrSubscriptionNotFound
	}
	return nil
}

// ListSubscriptions returns all subscriptions.
func (s *Store) ListSubscriptions(ctx context.Context) ([]*webhook.Subscription, error) {
	var models []subscriptionModel
	if err := s.sdb.NewSelect(&models).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("outpost/sqlite: list subscriptions: %w", err)
	}

	subs := make([]*webhook.Subscription, 0, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("outpost/sqlite: list subscriptions convert: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// RecordDelivery appends a delivery attempt.
func (s *Store) RecordDelivery(ctx context.Context, d *webhook.Delivery) error {
	if _, err := s.sdb.NewInsert(toDeliveryModel(d)).Exec(ctx); err != nil {
		return fmt.Errorf("outpost/sqlite: record delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns attempts, newest first.
func (s *Store) ListDeliveries(ctx context.Context, opts webhook.ListOpts) ([]*webhook.Delivery, error) {
	var models []deliveryModel
	q := s.sdb.NewSelect(&models)
	if !opts.SubscriptionID.IsNil() {
		q = q.Where("subscription_id = ?", opts.SubscriptionID.String())
	}
	if !opts.EventID.IsNil() {
		q = q.Where("event_id = ?", opts.EventID.String())
	}
	q = q.OrderExpr("created_at DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("outpost/sqlite: list deliveries: %w", err)
	}

	out := make([]*webhook.Delivery, 0, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("outpost/sqlite: list deliveries convert: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}
