package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/conductor/event"
)

// meterName is the instrumentation scope name for conductor metrics.
const meterName = "github.com/xraph/conductor"

var _ event.Listener = (*MetricsListener)(nil)

// MetricsListener turns orchestration events into OTel instruments.
//
// Instruments:
//   - conductor.job.transitions (Int64Counter): one per job event,
//     with attributes: event, job_type
//   - conductor.job.dead_lettered (Int64Counter): jobs that exhausted
//     their retry budget, with attribute job_type
//   - conductor.job.duration (Float64Histogram): seconds between start
//     and completion of completed jobs, with attribute job_type
//   - conductor.job.retry_delay (Float64Histogram): scheduled retry
//     delays in seconds, with attribute job_type
//   - conductor.agent.changes (Int64Counter): agent registrations and
//     deregistrations, with attribute event
//   - conductor.agent.offline (Int64Counter): agents marked offline
//   - conductor.job.released (Int64Counter): running jobs returned to
//     pending because their agent went away
type MetricsListener struct {
	transitions  metric.Int64Counter
	deadLettered metric.Int64Counter
	duration     metric.Float64Histogram
	retryDelay   metric.Float64Histogram
	agentChanges metric.Int64Counter
	offline      metric.Int64Counter
	released     metric.Int64Counter
}

// NewMetricsListener returns a listener using the global MeterProvider.
// If no MeterProvider is configured, noop instruments are used.
func NewMetricsListener() *MetricsListener {
	return NewMetricsListenerWithMeter(otel.Meter(meterName))
}

// NewMetricsListenerWithMeter returns a listener recording through meter.
// This variant allows injecting a specific MeterProvider for testing.
func NewMetricsListenerWithMeter(meter metric.Meter) *MetricsListener {
	// On error the OTel API returns noop instruments.
	transitions, _ := meter.Int64Counter(
		"conductor.job.transitions",
		metric.WithDescription("Job lifecycle events"),
		metric.WithUnit("{event}"),
	)
	deadLettered, _ := meter.Int64Counter(
		"conductor.job.dead_lettered",
		metric.WithDescription("Jobs moved to the dead letter queue"),
		metric.WithUnit("{job}"),
	)
	duration, _ := meter.Float64Histogram(
		"conductor.job.duration",
		metric.WithDescription("Time from start to completion of completed jobs"),
		metric.WithUnit("s"),
	)
	retryDelay, _ := meter.Float64Histogram(
		"conductor.job.retry_delay",
		metric.WithDescription("Backoff delay before a failed job becomes eligible again"),
		metric.WithUnit("s"),
	)
	agentChanges, _ := meter.Int64Counter(
		"conductor.agent.changes",
		metric.WithDescription("Agent registrations and deregistrations"),
		metric.WithUnit("{event}"),
	)
	offline, _ := meter.Int64Counter(
		"conductor.agent.offline",
		metric.WithDescription("Agents marked offline by a heartbeat sweep"),
		metric.WithUnit("{agent}"),
	)
	released, _ := meter.Int64Counter(
		"conductor.job.released",
		metric.WithDescription("Running jobs returned to pending after agent loss"),
		metric.WithUnit("{job}"),
	)

	return &MetricsListener{
		transitions:  transitions,
		deadLettered: deadLettered,
		duration:     duration,
		retryDelay:   retryDelay,
		agentChanges: agentChanges,
		offline:      offline,
		released:     released,
	}
}

// Name implements event.Listener.
func (m *MetricsListener) Name() string { return "observability-metrics" }

// Handle implements event.Listener.
func (m *MetricsListener) Handle(ctx context.Context, e *event.Event) error {
	switch e.Name {
	case event.AgentRegistered, event.AgentDeregistered:
		m.agentChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("event", e.Name)))
	case event.AgentsStaleCheck:
	default:
		if e.Job != nil {
			m.handleJob(ctx, e)
		}
	}

	if s := e.Sweep; s != nil {
		if s.OfflineAgents > 0 {
			m.offline.Add(ctx, int64(s.OfflineAgents))
		}
		if s.ReleasedJobs > 0 {
			m.released.Add(ctx, int64(s.ReleasedJobs))
		}
	}
	return nil
}

func (m *MetricsListener) handleJob(ctx context.Context, e *event.Event) {
	j := e.Job
	typ := attribute.String("job_type", j.Type)
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("event", e.Name), typ))

	switch e.Name {
	case event.JobCompleted:
		if j.StartedAt != nil && j.CompletedAt != nil {
			m.duration.Record(ctx, j.CompletedAt.Sub(*j.StartedAt).Seconds(), metric.WithAttributes(typ))
		}
	case event.JobRetryScheduled:
		m.retryDelay.Record(ctx, e.RetryDelay.Seconds(), metric.WithAttributes(typ))
	case event.JobFailed:
		if e.DeadLetter != nil {
			m.deadLettered.Add(ctx, 1, metric.WithAttributes(typ))
		}
	}
}
