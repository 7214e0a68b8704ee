// Package engine wires all Outpost subsystems together and provides
// the primary application-level API for enqueuing events and registering
// scheduled work.
//
// # Building an Engine
//
//	o, err := outpost.New(
//	    outpost.WithStore(pgStore),
//	    outpost.WithConcurrency(8),
//	)
//
//	eng, err := engine.Build(o,
//	    engine.WithHook(hooks.Execute),
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	    engine.WithWebhookHostLimits(queue.LimitConfig{RateLimit: 5}),
//	)
//
// # Registering Work
//
//	engine.RegisterDefinition(eng, schedule.NewDefinition("core.sitemap.rebuild", RebuildSitemap))
//
//	eng.RegisterSchedule(ctx, &schedule.Entry{
//	    OwnerType:       schedule.OwnerCore,
//	    Name:            "sitemap",
//	    ActionKey:       "core.sitemap.rebuild",
//	    Enabled:         true,
//	    RunEveryMinutes: 60,
//	})
//
// # Enqueuing Events
//
//	eng.Enqueue(ctx, &event.Envelope{Name: event.ContentPublished, SiteID: "s1"})
//
// # Options
//
//   - [WithHook] — set the in-process hook chain consumer
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the execution chain
//   - [WithItemPolicy] / [WithSchedulePolicy] — set retry policies
//   - [WithSubscriptionSource] — read webhook subscriptions from elsewhere
//   - [WithWebhookHostLimits] — throttle deliveries per host
//   - [WithTracerProvider] / [WithMeterProvider] — set OpenTelemetry providers
package engine
