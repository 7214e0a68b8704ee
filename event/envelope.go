package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/outpost"
)

// Version is the only envelope version this engine produces and accepts.
const Version = 1

// ActorType identifies who caused an event.
type ActorType string

const (
	// ActorAnonymous is an unauthenticated visitor.
	ActorAnonymous ActorType = "anonymous"
	// ActorUser is an authenticated site member.
	ActorUser ActorType = "user"
	// ActorAdmin is an authenticated administrator.
	ActorAdmin ActorType = "admin"
	// ActorSystem is the platform itself (schedules, migrations, imports).
	ActorSystem ActorType = "system"
)

// Valid reports whether a is one of the known actor types.
func (a ActorType) Valid() bool {
	switch a {
	case ActorAnonymous, ActorUser, ActorAdmin, ActorSystem:
		return true
	}
	return false
}

// Envelope is the versioned wrapper persisted with every queue item.
type Envelope struct {
	Version   int               `json:"version"`
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	SiteID    string            `json:"siteId,omitempty"`
	Domain    string            `json:"domain,omitempty"`
	Path      string            `json:"path,omitempty"`
	ActorType ActorType         `json:"actorType"`
	ActorID   string            `json:"actorId,omitempty"`
	Payload   json.RawMessage   `json:"payload"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Normalize fills the defaults a producer may omit: version, timestamp,
// actor type and an empty JSON object payload.
func (e *Envelope) Normalize(now time.Time) {
	if e.Version == 0 {
		e.Version = Version
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}
	if e.ActorType == "" {
		e.ActorType = ActorSystem
	}
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage(`{}`)
	}
}

// Validate checks the envelope against the enqueue contract.
func (e *Envelope) Validate() error {
	if e.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", outpost.ErrInvalidEnvelope, e.Version)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", outpost.ErrInvalidEnvelope)
	}
	if !e.ActorType.Valid() {
		return fmt.Errorf("%w: unknown actor type %q", outpost.ErrInvalidEnvelope, e.ActorType)
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", outpost.ErrInvalidEnvelope)
	}
	if !Known(e.Name) {
		return fmt.Errorf("%w: %q", outpost.ErrUnknownEvent, e.Name)
	}
	return nil
}

// Marshal encodes the envelope for storage.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a stored envelope.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", outpost.ErrInvalidEnvelope, err)
	}
	return &e, nil
}
