package webhook

import (
	"path"
	"time"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/id"
)

// Subscription is an external endpoint registered for a set of events.
type Subscription struct {
	outpost.Entity

	ID           id.SubscriptionID `json:"id"`
	SiteID       string            `json:"site_id,omitempty"`
	EventPattern string            `json:"event_pattern"`
	URL          string            `json:"url"`
	Secret       string            `json:"-"`
	Active       bool              `json:"active"`
}

// Matches reports whether the subscription should receive an event.
func (s *Subscription) Matches(eventName, siteID string) bool {
	if !s.Active {
		return false
	}
	if s.SiteID != "" && s.SiteID != siteID {
		return false
	}
	return Match(s.EventPattern, eventName)
}

// Match reports whether eventName matches a glob pattern. An empty
// pattern or "*" matches everything; malformed patterns match nothing.
func Match(pattern, eventName string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, eventName)
	return err == nil && ok
}

// Outcome is the result of one delivery attempt.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
)

// Delivery is one outbound attempt. Rows are append-only.
type Delivery struct {
	ID             id.DeliveryID     `json:"id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	EventID        id.ItemID         `json:"event_id"`
	EventName      string            `json:"event_name"`
	Attempt        int               `json:"attempt"`
	Outcome        Outcome           `json:"outcome"`
	StatusCode     int               `json:"status_code,omitempty"`
	Error          string            `json:"error,omitempty"`
	DurationMs     int64             `json:"duration_ms"`
	CreatedAt      time.Time         `json:"created_at"`
}
