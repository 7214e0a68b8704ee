package queue

import (
	"time"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/event"
	"github.com/xraph/outpost/id"
)

// Status is the lifecycle state of a queue item.
type Status string

const (
	// StatusQueued means the item is waiting for a claim once AvailableAt
	// has passed.
	StatusQueued Status = "queued"
	// StatusProcessing means a worker has claimed the item.
	StatusProcessing Status = "processing"
	// StatusProcessed is terminal: dispatch succeeded.
	StatusProcessed Status = "processed"
	// StatusDeadLetter is terminal: retries were exhausted.
	StatusDeadLetter Status = "dead_letter"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusDeadLetter
}

// Item is one enqueued domain event.
type Item struct {
	outpost.Entity

	ID          id.ItemID      `json:"id"`
	Envelope    event.Envelope `json:"envelope"`
	Status      Status         `json:"status"`
	Attempts    int            `json:"attempts"`
	AvailableAt time.Time      `json:"available_at"`
	LastError   string         `json:"last_error,omitempty"`
	ClaimedBy   id.WorkerID    `json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time     `json:"claimed_at,omitempty"`
}

// Name returns the envelope's event name.
func (i *Item) Name() string { return i.Envelope.Name }

// Claim is the token a worker holds for one claimed attempt of an item.
// Transitions apply only while the stored item still carries the same
// worker and attempt number, so a claim released by the reaper and taken
// by someone else can no longer move the item.
type Claim struct {
	ItemID   id.ItemID
	WorkerID id.WorkerID
	Attempt  int
}

// Claim returns the claim token for the item as it was returned by
// ClaimItems.
func (i *Item) Claim() Claim {
	return Claim{ItemID: i.ID, WorkerID: i.ClaimedBy, Attempt: i.Attempts}
}

// Holds reports whether c is the item's current claim.
func (i *Item) Holds(c Claim) bool {
	return i.Status == StatusProcessing && i.Attempts == c.Attempt &&
		i.ClaimedBy.String() == c.WorkerID.String()
}

// Eligible reports whether the item may be claimed at now.
func (i *Item) Eligible(now time.Time) bool {
	return i.Status == StatusQueued && !i.AvailableAt.After(now)
}
