// Package middleware provides composable middleware around the two
// execution paths: the hook chain for queue items and the action handler
// for schedule entries.
//
// A [Middleware] receives a [Task] describing the work and the next
// [Handler]. Middleware are composed with [Chain], first element outermost:
//
//	chain := middleware.Chain(
//	    middleware.Recover(logger),
//	    middleware.Tracing(),
//	    middleware.Metrics(),
//	    middleware.Logging(logger),
//	    middleware.Scope(),
//	)
//
// # Built-in Middleware
//
//   - [Recover] turns panics into errors so they count as a failed attempt
//   - [Logging] logs kind, name, duration and outcome
//   - [Timeout] cancels the handler context after Task.Timeout
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records per-task duration and outcome counters
//   - [Scope] restores the site's forge scope into the context
package middleware
