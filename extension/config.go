package extension

import "github.com/xraph/outpost"

// Config holds configuration for the Outpost Forge extension.
type Config struct {
	// DisableMigrate disables auto-migration on start.
	DisableMigrate bool `default:"false" json:"disable_migrate"`

	// RequireConfig makes Register fail when no config key is present.
	RequireConfig bool `json:"-"`

	// Outpost holds the core engine configuration. A zero value means
	// outpost.DefaultConfig.
	Outpost outpost.Config `json:"outpost"`
}

// DefaultConfig returns the extension defaults.
func DefaultConfig() Config {
	return Config{Outpost: outpost.DefaultConfig()}
}
