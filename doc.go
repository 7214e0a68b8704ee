// Package outpost provides a durable, at-least-once background dispatch
// engine for Go. It offers a queue for domain events, a recurring schedule
// engine, and a fan-out dispatcher that delivers events to an in-process
// hook chain and to external webhook subscribers.
//
// Outpost is designed as a library, not a service. Import it, configure a
// store, register schedule handlers as ordinary Go functions, and inject
// the hook chain your application already owns.
//
// # Quick Start
//
//	o, err := outpost.New(outpost.WithStore(pgStore))
//	eng, err := engine.Build(o, engine.WithHook(hooks.Execute))
//
//	eng.Enqueue(ctx, &event.Envelope{Name: "content_published", SiteID: "s1"})
//	eng.Start(ctx)
//
// # Architecture
//
// Every subsystem (queue, schedule, webhook) defines its own store
// interface. A single backend may implement all of them (memory, postgres,
// sqlite) or only the queue (redis).
//
// Correctness under concurrent workers comes solely from the store's
// atomic claim primitive: no in-process coordination is required between
// worker processes.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package outpost
