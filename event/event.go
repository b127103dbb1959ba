// Package event carries orchestration notifications from the core to
// listeners: the async best-effort [Bus], the [Sink] interface the core
// emits into, and wire codecs for forwarding events out of process.
package event

import (
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/agent"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// Notification names.
const (
	JobEnqueued       = "job.enqueued"
	JobClaimed        = "job.claimed"
	JobCompleted      = "job.completed"
	JobFailed         = "job.failed"
	JobRetryScheduled = "job.retry_scheduled"
	JobCancelled      = "job.cancelled"
	JobProgress       = "job.progress"
	AgentRegistered   = "agent.registered"
	AgentDeregistered = "agent.deregistered"
	AgentsStaleCheck  = "agents.stale_check"
)

// Names returns every notification name the core emits.
func Names() []string {
	return []string{
		JobEnqueued,
		JobClaimed,
		JobCompleted,
		JobFailed,
		JobRetryScheduled,
		JobCancelled,
		JobProgress,
		AgentRegistered,
		AgentDeregistered,
		AgentsStaleCheck,
	}
}

// Event is one notification. Exactly the fields relevant to Name are set.
// Job, Agent and DeadLetter are snapshots: listeners may keep them.
type Event struct {
	ID         id.EventID
	Name       string
	OccurredAt time.Time
	// Actor is who triggered the change. Nil for internal callers such as
	// the heartbeat monitor.
	Actor conductor.Actor

	Job        *job.Job
	Agent      *agent.Agent
	DeadLetter *dlq.Entry
	Sweep      *agent.SweepResult

	// PreviousStatus is the job status before the transition.
	PreviousStatus job.Status
	// RetryDelay is set on job.retry_scheduled.
	RetryDelay time.Duration
}

// New returns an Event with a fresh ID.
func New(name string, at time.Time) *Event {
	return &Event{
		ID:         id.NewEventID(),
		Name:       name,
		OccurredAt: at,
	}
}

// ForJob returns an Event about j, snapshotting it.
func ForJob(name string, at time.Time, actor conductor.Actor, j *job.Job) *Event {
	e := New(name, at)
	e.Actor = actor
	e.Job = j.Clone()
	return e
}
