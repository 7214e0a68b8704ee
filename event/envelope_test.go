package event_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/event"
)

func TestKnown(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{event.ContentPublished, true},
		{event.SettingUpdated, true},
		{"plugin.seo.sitemap_built", true},
		{"theme.dark.toggled", true},
		{"custom.x", true},
		{"plugin.", false},
		{"plugin..", false},
		{"content_exploded", false},
		{"", false},
		{"pluginx.thing", false},
	}
	for _, tt := range tests {
		if got := event.Known(tt.name); got != tt.want {
			t.Errorf("Known(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env := &event.Envelope{Name: event.ContentPublished}
	env.Normalize(now)

	if env.Version != event.Version {
		t.Errorf("Version = %d, want %d", env.Version, event.Version)
	}
	if !env.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", env.Timestamp, now)
	}
	if env.ActorType != event.ActorSystem {
		t.Errorf("ActorType = %q, want %q", env.ActorType, event.ActorSystem)
	}
	if string(env.Payload) != `{}` {
		t.Errorf("Payload = %s, want {}", env.Payload)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("Validate after Normalize: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	base := func() *event.Envelope {
		e := &event.Envelope{Name: event.ContentPublished, SiteID: "s1"}
		e.Normalize(time.Now())
		return e
	}

	tests := []struct {
		name   string
		mutate func(*event.Envelope)
		want   error
	}{
		{"unknown name", func(e *event.Envelope) { e.Name = "made_up" }, outpost.ErrUnknownEvent},
		{"bad version", func(e *event.Envelope) { e.Version = 2 }, outpost.ErrInvalidEnvelope},
		{"bad actor", func(e *event.Envelope) { e.ActorType = "robot" }, outpost.ErrInvalidEnvelope},
		{"zero timestamp", func(e *event.Envelope) { e.Timestamp = time.Time{} }, outpost.ErrInvalidEnvelope},
		{"bad payload", func(e *event.Envelope) { e.Payload = json.RawMessage(`{nope`) }, outpost.ErrInvalidEnvelope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := base()
			tt.mutate(e)
			if err := e.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEnvelopeWireFormat(t *testing.T) {
	env := &event.Envelope{
		Version:   1,
		Name:      event.ContentPublished,
		Timestamp: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		SiteID:    "s1",
		ActorType: event.ActorAdmin,
		ActorID:   "u1",
		Payload:   json.RawMessage(`{"postId":"p1"}`),
	}
	data, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"version", "name", "timestamp", "siteId", "actorType", "actorId", "payload"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
	for _, key := range []string{"domain", "path", "meta"} {
		if _, ok := raw[key]; ok {
			t.Errorf("empty optional key %q should be omitted", key)
		}
	}

	back, err := event.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.SiteID != "s1" || string(back.Payload) != `{"postId":"p1"}` {
		t.Errorf("unexpected envelope after decode: %+v", back)
	}
}

func TestCatalogSorted(t *testing.T) {
	names := event.Catalog()
	if len(names) == 0 {
		t.Fatal("expected core names")
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("catalog not sorted at %d: %v", i, names)
		}
	}
}
