// Package observability records OpenTelemetry metrics from orchestration
// events. [MetricsListener] subscribes to an [event.Bus] and keeps
// system-wide counters for job transitions, dead letters and agent
// membership changes.
//
// Spans for individual operations are produced by the orchestrator
// itself; see orchestrator.WithTracerProvider.
package observability
