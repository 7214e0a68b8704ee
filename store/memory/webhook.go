package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/id"
	"github.com/xraph/outpost/webhook"
)

// CreateSubscription persists a new subscription.
func (m *Store) CreateSubscription(_ context.Context, s *webhook.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.subscriptions[s.ID.String()] = &cp
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (m *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*webhook.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subscriptions[subID.String()]
	if !ok {
		return nil, outpost.ErrSubscriptionNotFound
	}
	cp := *s
	return &cp, nil
}

// UpdateSubscription replaces a subscription.
func (m *Store) UpdateSubscription(_ context.Context, s *webhook.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.ID.String()
	if _, ok := m.subscriptions[key]; !ok {
		return outpost.ErrSubscriptionNotFound
	}
	cp := *s
	cp.UpdatedAt = time.Now().UTC()
	m.subscriptions[key] = &cp
	return nil
}

// DeleteSubscription removes a subscription.
func (m *Store) DeleteSubscription(_ context.Context, subID id.SubscriptionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := subID.String()
	if _, ok := m.subscriptions[key]; !ok {
		return outpost.ErrSubscriptionNotFound
	}
	delete(m.subscriptions, key)
	return nil
}

// ListSubscriptions returns all subscriptions ordered by creation.
func (m *Store) ListSubscriptions(_ context.Context) ([]*webhook.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*webhook.Subscription, 0, len(m.subscriptions))
	for _, s := range m.subscriptions {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// RecordDelivery appends a delivery attempt.
func (m *Store) RecordDelivery(_ context.Context, d *webhook.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *d
	m.deliveries = append(m.deliveries, &cp)
	return nil
}

// ListDeliveries returns attempts, newest first.
func (m *Store) ListDeliveries(_ context.Context, opts webhook.ListOpts) ([]*webhook.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*webhook.Delivery, 0)
	for i := len(m.deliveries) - 1; i >= 0; i-- {
		d := m.deliveries[i]
		if !opts.SubscriptionID.IsNil() && d.SubscriptionID != opts.SubscriptionID {
			continue
		}
		if !opts.EventID.IsNil() && d.EventID != opts.EventID {
			continue
		}
		cp := *d
		out = append(out, &cp)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}
