// Package observability provides an OpenTelemetry metrics extension for
// Outpost. MetricsExtension implements the lifecycle hooks in package ext
// and keeps system-wide counters for queue items, schedule runs and
// webhook deliveries.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
