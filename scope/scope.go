// Package scope bridges site tenancy between context.Context and queue
// items. A CMS site is carried as a forge org scope under the platform app:
// forge.WithScope on the producer side, forge.ScopeFrom on the handler side.
package scope

import (
	"context"

	"github.com/xraph/forge"
)

// Capture extracts the app and site identifiers from the context.
// Returns empty strings if no scope is present.
func Capture(ctx context.Context) (appID, siteID string) {
	s, ok := forge.ScopeFrom(ctx)
	if !ok {
		return "", ""
	}
	return s.AppID(), s.OrgID()
}

// Site returns only the site identifier from the context.
func Site(ctx context.Context) string {
	_, siteID := Capture(ctx)
	return siteID
}

// Restore attaches a scope for the given app and site to the context.
// If both are empty the context is returned unchanged, so global events
// and schedules run unscoped.
func Restore(ctx context.Context, appID, siteID string) context.Context {
	if appID == "" && siteID == "" {
		return ctx
	}
	var s forge.Scope
	if siteID != "" {
		s = forge.NewOrgScope(appID, siteID)
	} else {
		s = forge.NewAppScope(appID)
	}
	return forge.WithScope(ctx, s)
}
