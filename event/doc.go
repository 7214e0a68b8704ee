// Package event defines the versioned envelope every queued domain event
// travels in, and the catalog of event names the engine accepts.
//
// An envelope is validated at enqueue time. Its Name must either be one of
// the core CMS event names ([Catalog]) or carry an extension namespace
// prefix such as "plugin." or "theme.":
//
//	env := &event.Envelope{
//	    Name:      event.ContentPublished,
//	    SiteID:    "site_1",
//	    ActorType: event.ActorUser,
//	    ActorID:   "user_42",
//	    Payload:   json.RawMessage(`{"postId":"p1"}`),
//	}
//	if err := env.Validate(); err != nil { ... }
package event
