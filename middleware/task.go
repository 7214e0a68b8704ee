package middleware

import "time"

// Kind distinguishes the two execution paths.
type Kind string

const (
	// KindEvent is a queue item run through the hook chain.
	KindEvent Kind = "event"
	// KindSchedule is a schedule entry run through its action handler.
	KindSchedule Kind = "schedule"
)

// Task describes the unit of work a middleware chain wraps.
type Task struct {
	Kind Kind
	// ID is the queue item or schedule entry ID.
	ID string
	// Name is the event name or the schedule's action key.
	Name    string
	SiteID  string
	AppID   string
	Attempt int
	// Timeout bounds the handler call when non-zero.
	Timeout time.Duration
}
