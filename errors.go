package outpost

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("outpost: no store configured")
	ErrStoreClosed     = errors.New("outpost: store closed")
	ErrMigrationFailed = errors.New("outpost: migration failed")

	// Not found errors.
	ErrItemNotFound         = errors.New("outpost: queue item not found")
	ErrScheduleNotFound     = errors.New("outpost: schedule entry not found")
	ErrSubscriptionNotFound = errors.New("outpost: webhook subscription not found")

	// Conflict errors.
	ErrItemAlreadyExists = errors.New("outpost: queue item already exists")
	ErrDuplicateSchedule = errors.New("outpost: duplicate schedule entry")

	// Validation errors.
	ErrInvalidEnvelope = errors.New("outpost: invalid event envelope")
	ErrUnknownEvent    = errors.New("outpost: unknown event name")
	ErrUnknownAction   = errors.New("outpost: unknown schedule action")
	ErrInvalidSchedule = errors.New("outpost: invalid schedule entry")

	// State errors.
	ErrInvalidState         = errors.New("outpost: invalid state transition")
	ErrScheduleDeadLettered = errors.New("outpost: schedule entry is dead-lettered")
	ErrScheduleLocked       = errors.New("outpost: schedule entry is locked by another worker")
	ErrClaimLost            = errors.New("outpost: queue item claim is no longer held")
)
