package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/event"
)

var _ event.Listener = (*Listener)(nil)

// Recorder is the interface audit backends implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit trail record.
type AuditEvent struct {
	// What happened
	Action     string    `json:"action"`
	Resource   string    `json:"resource"`
	Category   string    `json:"category"`
	OccurredAt time.Time `json:"occurred_at"`

	// Who did it. Empty for internal callers.
	ActorKind string `json:"actor_kind,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Listener records orchestration events through a [Recorder].
type Listener struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	progress bool
	logger   *slog.Logger
}

// New creates a Listener that records audit events through r.
func New(r Recorder, opts ...Option) *Listener {
	l := &Listener{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name implements event.Listener.
func (l *Listener) Name() string { return "audit-hook" }

// Handle implements event.Listener. Recorder failures are logged and
// swallowed so one broken backend does not spam the bus.
func (l *Listener) Handle(ctx context.Context, e *event.Event) error {
	if l.enabled != nil && !l.enabled[e.Name] {
		return nil
	}
	if e.Name == event.JobProgress && !l.progress && l.enabled == nil {
		return nil
	}

	evt := l.build(e)
	if evt == nil {
		return nil
	}
	if err := l.recorder.Record(ctx, evt); err != nil {
		l.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (l *Listener) build(e *event.Event) *AuditEvent {
	evt := &AuditEvent{
		Action:     e.Name,
		OccurredAt: e.OccurredAt,
		Severity:   SeverityInfo,
		Outcome:    OutcomeSuccess,
		Metadata:   map[string]any{},
	}
	if e.Actor != nil {
		evt.ActorKind = string(conductor.KindOf(e.Actor))
		evt.ActorID = conductor.ActorID(e.Actor)
	}

	switch {
	case e.Job != nil:
		j := e.Job
		evt.Resource, evt.Category, evt.ResourceID = ResourceJob, CategoryJob, j.ID.String()
		meta(evt, "job_type", j.Type, "status", string(j.Status), "owner_id", j.OwnerID)
		if e.PreviousStatus != "" {
			meta(evt, "previous_status", string(e.PreviousStatus))
		}
		if j.LockedBy != "" {
			meta(evt, "locked_by", j.LockedBy)
		}
	case e.Agent != nil:
		evt.Resource, evt.Category, evt.ResourceID = ResourceAgent, CategoryAgent, e.Agent.ID
		meta(evt, "hostname", e.Agent.Hostname, "capabilities", e.Agent.Capabilities)
	case e.Sweep != nil:
		evt.Resource, evt.Category = ResourceAgent, CategoryAgent
	default:
		return nil
	}

	switch e.Name {
	case event.JobRetryScheduled:
		evt.Severity, evt.Outcome = SeverityWarning, OutcomeFailure
		meta(evt, "retry_count", e.Job.RetryCount, "max_retries", e.Job.MaxRetries,
			"retry_delay_ms", e.RetryDelay.Milliseconds())
		evt.Reason = string(e.Job.Error)
	case event.JobFailed:
		evt.Severity, evt.Outcome = SeverityCritical, OutcomeFailure
		meta(evt, "retry_count", e.Job.RetryCount, "max_retries", e.Job.MaxRetries)
		if e.DeadLetter != nil {
			meta(evt, "dead_letter_id", e.DeadLetter.ID.String())
		}
		evt.Reason = string(e.Job.Error)
	case event.JobProgress:
		meta(evt, "progress", e.Job.Progress)
	}

	if s := e.Sweep; s != nil {
		meta(evt, "offline_agents", s.OfflineAgents, "released_jobs", s.ReleasedJobs)
		if len(s.AgentIDs) > 0 {
			meta(evt, "agent_ids", s.AgentIDs)
		}
		if s.ReleasedJobs > 0 {
			evt.Severity = SeverityWarning
		}
	}
	return evt
}

// meta adds key-value pairs to evt.Metadata.
func meta(evt *AuditEvent, kvPairs ...any) {
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		evt.Metadata[key] = kvPairs[i+1]
	}
}
