package extension

import (
	"log/slog"

	"github.com/xraph/grove"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/dispatcher"
	"github.com/xraph/outpost/ext"
	mw "github.com/xraph/outpost/middleware"
	"github.com/xraph/outpost/schedule"
)

// ExtOption configures the Outpost Forge extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend.
func WithStore(s outpost.Storer) ExtOption {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDatabase builds a SQLite store on the given grove database.
// WithStore takes precedence when both are set.
func WithGroveDatabase(db *grove.DB) ExtOption {
	return func(e *Extension) {
		e.groveDB = db
	}
}

// WithConcurrency sets the number of drain goroutines.
func WithConcurrency(n int) ExtOption {
	return func(e *Extension) {
		e.outpostOpts = append(e.outpostOpts, outpost.WithConcurrency(n))
	}
}

// WithHook sets the in-process event consumer.
func WithHook(h dispatcher.HookFunc) ExtOption {
	return func(e *Extension) {
		e.hook = h
	}
}

// WithHandler registers a schedule handler bound at Register time.
func WithHandler(actionKey string, h schedule.HandlerFunc) ExtOption {
	return func(e *Extension) {
		e.handlers[actionKey] = h
	}
}

// WithExtension registers an outpost extension (lifecycle hooks).
func WithExtension(x ext.Extension) ExtOption {
	return func(e *Extension) {
		e.exts = append(e.exts, x)
	}
}

// WithMiddleware adds middleware to the outpost engine.
func WithMiddleware(m mw.Middleware) ExtOption {
	return func(e *Extension) {
		e.mws = append(e.mws, m)
	}
}

// WithConfig sets the extension configuration directly.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) {
		e.config = cfg
	}
}

// WithDisableMigrate disables auto-migration on start.
func WithDisableMigrate() ExtOption {
	return func(e *Extension) {
		e.config.DisableMigrate = true
	}
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) ExtOption {
	return func(e *Extension) {
		e.config.RequireConfig = require
	}
}

// WithLogger sets the structured logger for the outpost engine.
func WithLogger(l *slog.Logger) ExtOption {
	return func(e *Extension) {
		e.logger = l
	}
}
