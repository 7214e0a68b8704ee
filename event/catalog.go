package event

import (
	"sort"
	"strings"
)

// Core CMS event names.
const (
	ContentPublished = "content_published"
	ContentUpdated   = "content_updated"
	ContentDeleted   = "content_deleted"
	ContentScheduled = "content_scheduled"
	CommentCreated   = "comment_created"
	CommentApproved  = "comment_approved"
	MediaUploaded    = "media_uploaded"
	MediaDeleted     = "media_deleted"
	UserRegistered   = "user_registered"
	UserUpdated      = "user_updated"
	SiteCreated      = "site_created"
	SiteUpdated      = "site_updated"
	SiteDeleted      = "site_deleted"
	TaxonomyUpdated  = "taxonomy_updated"
	MenuUpdated      = "menu_updated"
	SettingUpdated   = "setting_updated"
)

var core = map[string]struct{}{
	ContentPublished: {},
	ContentUpdated:   {},
	ContentDeleted:   {},
	ContentScheduled: {},
	CommentCreated:   {},
	CommentApproved:  {},
	MediaUploaded:    {},
	MediaDeleted:     {},
	UserRegistered:   {},
	UserUpdated:      {},
	SiteCreated:      {},
	SiteUpdated:      {},
	SiteDeleted:      {},
	TaxonomyUpdated:  {},
	MenuUpdated:      {},
	SettingUpdated:   {},
}

// ExtensionPrefixes are the namespaces under which plugins and themes may
// publish their own events, e.g. "plugin.seo.sitemap_built".
var ExtensionPrefixes = []string{"plugin.", "theme.", "custom."}

// Known reports whether name is a core event or a namespaced extension
// event with a non-empty suffix.
func Known(name string) bool {
	if _, ok := core[name]; ok {
		return true
	}
	for _, p := range ExtensionPrefixes {
		if rest, ok := strings.CutPrefix(name, p); ok && strings.Trim(rest, ".") != "" {
			return true
		}
	}
	return false
}

// Catalog returns the core event names in sorted order.
func Catalog() []string {
	names := make([]string, 0, len(core))
	for n := range core {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
