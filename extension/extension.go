// Package extension provides the Forge extension adapter for Outpost.
//
// It implements the forge.Extension interface so the queue, scheduler and
// webhook fanout run inside a Forge application's lifecycle.
//
// Configuration can be provided programmatically via ExtOption functions
// or via YAML configuration files under "extensions.outpost" or "outpost" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/forge"
	"github.com/xraph/grove"

	"github.com/xraph/outpost"
	"github.com/xraph/outpost/dispatcher"
	"github.com/xraph/outpost/engine"
	"github.com/xraph/outpost/ext"
	mw "github.com/xraph/outpost/middleware"
	"github.com/xraph/outpost/schedule"
	sqlitestore "github.com/xraph/outpost/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "outpost"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Durable CMS event queue, schedule engine and webhook fanout"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Outpost as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config      Config
	eng         *engine.Engine
	logger      *slog.Logger
	store       outpost.Storer
	groveDB     *grove.DB
	outpostOpts []outpost.Option
	hook        dispatcher.HookFunc
	handlers    map[string]schedule.HandlerFunc
	exts        []ext.Extension
	mws         []mw.Middleware
}

// New creates an Outpost Forge extension with the given options.
func New(opts ...ExtOption) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
		handlers:      make(map[string]schedule.HandlerFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying outpost engine.
// This is nil until Register is called.
func (e *Extension) Engine() *engine.Engine { return e.eng }

// Register implements [forge.Extension]. It loads configuration and builds
// the engine.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}
	if err := e.loadConfiguration(); err != nil {
		return err
	}
	return e.init()
}

// init builds the outpost coordinator and engine.
func (e *Extension) init() error {
	store := e.store
	if store == nil && e.groveDB != nil {
		store = sqlitestore.New(e.groveDB)
	}
	if store == nil {
		return fmt.Errorf("outpost: %w", outpost.ErrNoStore)
	}

	logger := e.logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := make([]outpost.Option, 0, len(e.outpostOpts)+3)
	opts = append(opts,
		outpost.WithConfig(e.config.Outpost),
		outpost.WithStore(store),
		outpost.WithLogger(logger),
	)
	opts = append(opts, e.outpostOpts...)

	o, err := outpost.New(opts...)
	if err != nil {
		return fmt.Errorf("outpost: create coordinator: %w", err)
	}

	engOpts := make([]engine.Option, 0, len(e.exts)+len(e.mws)+1)
	if e.hook != nil {
		engOpts = append(engOpts, engine.WithHook(e.hook))
	}
	for _, x := range e.exts {
		engOpts = append(engOpts, engine.WithExtension(x))
	}
	for _, m := range e.mws {
		engOpts = append(engOpts, engine.WithMiddleware(m))
	}

	e.eng, err = engine.Build(o, engOpts...)
	if err != nil {
		return fmt.Errorf("outpost: build engine: %w", err)
	}
	for key, h := range e.handlers {
		e.eng.RegisterHandler(key, h)
	}
	return nil
}

// Start runs auto-migration if enabled and starts the engine's loops.
func (e *Extension) Start(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("outpost: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.eng.Outpost().Store().Migrate(ctx); err != nil {
			return fmt.Errorf("outpost: migration failed: %w", err)
		}
	}

	if err := e.eng.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop gracefully shuts down the engine.
func (e *Extension) Stop(ctx context.Context) error {
	if e.eng == nil {
		e.MarkStopped()
		return nil
	}
	err := e.eng.Stop(ctx)
	e.MarkStopped()
	return err
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.eng == nil {
		return errors.New("outpost: extension not initialized")
	}
	return e.eng.Outpost().Store().Ping(ctx)
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("outpost: configuration is required but not found in config files; " +
				"ensure 'extensions.outpost' or 'outpost' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("outpost: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("concurrency", e.config.Outpost.Concurrency),
		forge.F("schedule_tick", e.config.Outpost.ScheduleTickInterval.String()),
	)
	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.outpost", "outpost"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("outpost: loaded config from file", forge.F("key", key))
			return cfg, true
		}
		e.Logger().Warn("outpost: failed to bind config", forge.F("key", key))
	}
	return Config{}, false
}

// mergeWithDefaults fills a zero engine configuration with defaults.
func mergeWithDefaults(cfg Config) Config {
	if cfg.Outpost == (outpost.Config{}) {
		cfg.Outpost = DefaultConfig().Outpost
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML takes precedence; programmatic bool flags fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if yamlConfig.Outpost == (outpost.Config{}) {
		yamlConfig.Outpost = programmaticConfig.Outpost
	}
	return mergeWithDefaults(yamlConfig)
}
