package webhook

import (
	"context"

	"github.com/xraph/outpost/id"
)

// SubscriptionSource lists subscriptions for fanout. Fanout only reads it.
type SubscriptionSource interface {
	ListSubscriptions(ctx context.Context) ([]*Subscription, error)
}

// ListOpts filters delivery queries.
type ListOpts struct {
	// SubscriptionID restricts to one subscription. Nil means all.
	SubscriptionID id.SubscriptionID
	// EventID restricts to one queue item. Nil means all.
	EventID id.ItemID
	// Limit is the maximum number of rows. Zero means no limit.
	Limit int
}

// DeliveryStore records delivery attempts.
type DeliveryStore interface {
	// RecordDelivery appends one attempt.
	RecordDelivery(ctx context.Context, d *Delivery) error

	// ListDeliveries returns attempts, newest first.
	ListDeliveries(ctx context.Context, opts ListOpts) ([]*Delivery, error)
}

// Store is the full webhook persistence contract.
type Store interface {
	SubscriptionSource
	DeliveryStore

	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, s *Subscription) error

	// GetSubscription retrieves a subscription by ID.
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)

	// UpdateSubscription replaces a subscription's mutable fields.
	UpdateSubscription(ctx context.Context, s *Subscription) error

	// DeleteSubscription removes a subscription. Its deliveries are kept.
	DeleteSubscription(ctx context.Context, subID id.SubscriptionID) error
}
