package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"github.com/xraph/grove"

	"github.com/xraph/outpost"
	audithook "github.com/xraph/outpost/audit_hook"
	"github.com/xraph/outpost/dispatcher"
	"github.com/xraph/outpost/engine"
	"github.com/xraph/outpost/event"
	"github.com/xraph/outpost/internal/config"
	"github.com/xraph/outpost/store/memory"
	"github.com/xraph/outpost/store/postgres"
	"github.com/xraph/outpost/store/redis"
	"github.com/xraph/outpost/store/sqlite"
)

// runtime is the wired state shared by every subcommand.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	store  outpost.Storer
	engine *engine.Engine

	closers []func() error
}

func newRuntime(ctx context.Context, envFiles []string, opts ...engine.Option) (*runtime, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: cfg.Logger(os.Stderr)}
	slog.SetDefault(rt.logger)

	if err := rt.openStore(ctx); err != nil {
		rt.close()
		return nil, err
	}

	o, err := outpost.New(
		outpost.WithConfig(cfg.Engine()),
		outpost.WithLogger(rt.logger),
		outpost.WithStore(rt.store),
	)
	if err != nil {
		rt.close()
		return nil, err
	}

	itemPolicy, err := cfg.ItemPolicy()
	if err != nil {
		rt.close()
		return nil, err
	}

	audit := audithook.New(audithook.LogRecorder(rt.logger),
		audithook.WithActions(audithook.FailureActions()...),
		audithook.WithLogger(rt.logger),
	)
	opts = append([]engine.Option{
		engine.WithHook(logHook(rt.logger)),
		engine.WithExtension(audit),
		engine.WithItemPolicy(itemPolicy),
		engine.WithSchedulePolicy(cfg.SchedulePolicy()),
	}, opts...)
	if limits, ok := cfg.HostLimits(); ok {
		opts = append(opts, engine.WithWebhookHostLimits(limits))
	}
	rt.engine, err = engine.Build(o, opts...)
	if err != nil {
		rt.close()
		return nil, err
	}
	registerMaintenance(rt.engine)
	return rt, nil
}

func (rt *runtime) openStore(ctx context.Context) error {
	switch rt.cfg.Store {
	case config.StorePostgres:
		s, err := postgres.New(ctx, rt.cfg.DSN, postgres.WithLogger(rt.logger))
		if err != nil {
			return err
		}
		rt.store = s

	case config.StoreSQLite:
		db, err := grove.Open(ctx, "sqlite", rt.cfg.DSN)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		rt.store = sqlite.New(db, sqlite.WithLogger(rt.logger))
		rt.closers = append(rt.closers, db.Close)

	case config.StoreRedis:
		redisOpts, err := goredis.ParseURL(rt.cfg.DSN)
		if err != nil {
			return fmt.Errorf("parse redis dsn: %w", err)
		}
		client := goredis.NewClient(redisOpts)
		rt.store = redis.New(client, redis.WithLogger(rt.logger))
		rt.closers = append(rt.closers, client.Close)

	case config.StoreMemory:
		rt.store = memory.New()
		rt.logger.Warn("using in-memory store, state is lost on exit")

	default:
		return fmt.Errorf("unknown store %q", rt.cfg.Store)
	}
	return rt.store.Ping(ctx)
}

// close releases the store and the client handles the runtime opened.
func (rt *runtime) close() {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("close store", slog.String("error", err.Error()))
		}
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn("close", slog.String("error", err.Error()))
		}
	}
	rt.closers = nil
}

// logHook is the default in-process consumer: it records each event so a
// bare worker still drains its queue.
func logHook(logger *slog.Logger) dispatcher.HookFunc {
	return func(_ context.Context, name string, env *event.Envelope) error {
		logger.Info("event",
			slog.String("event", name),
			slog.String("site_id", env.SiteID),
			slog.String("actor_type", string(env.ActorType)),
			slog.String("actor_id", env.ActorID),
		)
		return nil
	}
}
