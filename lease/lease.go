// Package lease implements the poll-and-claim path: an agent asks for
// work and atomically receives at most one eligible job.
package lease

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/agent"
	"github.com/xraph/conductor/event"
	"github.com/xraph/conductor/job"
)

// Request is a poll from one agent.
type Request struct {
	// AgentID identifies the polling agent. Required.
	AgentID string `json:"agent_id"`
	// Capabilities are the job types the agent serves. Empty matches
	// nothing.
	Capabilities []string `json:"capabilities"`
	// OwnerFilter restricts the claim to one owner's jobs. It only
	// applies to internal callers; user actors are always restricted to
	// their own jobs and agent actors always serve the shared pool.
	OwnerFilter string `json:"owner_filter,omitempty"`
}

// Heartbeater records the opportunistic heartbeat issued after a claim.
// *agent.Registry implements it.
type Heartbeater interface {
	Touch(ctx context.Context, agentID string)
}

var _ Heartbeater = (*agent.Registry)(nil)

// Manager leases jobs to polling agents.
type Manager struct {
	store     job.Store
	heartbeat Heartbeater
	sink      event.Sink
	clock     conductor.Clock
	logger    *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithHeartbeater sets the component that refreshes the claiming agent's
// heartbeat. Without one no heartbeat is recorded.
func WithHeartbeater(h Heartbeater) Option {
	return func(m *Manager) { m.heartbeat = h }
}

// WithEventSink sets where job.claimed notifications go.
func WithEventSink(s event.Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithClock sets the time source.
func WithClock(c conductor.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager over the given job store.
func NewManager(store job.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		sink:   event.Nop{},
		clock:  conductor.SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Poll claims the oldest eligible job for req.AgentID, or returns nil
// when nothing is eligible. The claim is a single atomic store operation:
// concurrent polls never lease the same job twice.
func (m *Manager) Poll(ctx context.Context, actor conductor.Actor, req Request) (*job.Job, error) {
	if req.AgentID == "" {
		return nil, fmt.Errorf("%w: empty agent id", conductor.ErrInvalidInput)
	}
	if a, ok := actor.(conductor.Agent); ok && a.ID != req.AgentID {
		return nil, fmt.Errorf("%w: agent %s cannot poll as %s", conductor.ErrUnauthorized, a.ID, req.AgentID)
	}

	caps := agent.NormalizeCapabilities(req.Capabilities)
	if len(caps) == 0 {
		return nil, nil
	}

	opts := job.ClaimOpts{
		AgentID: req.AgentID,
		Types:   caps,
		OwnerID: ownerFilter(actor, req.OwnerFilter),
		Now:     m.clock.Now(),
	}
	j, err := m.store.ClaimJob(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("claim job for %s: %w", req.AgentID, err)
	}
	if j == nil {
		return nil, nil
	}

	if m.heartbeat != nil {
		m.heartbeat.Touch(ctx, req.AgentID)
	}

	m.logger.Debug("job claimed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("agent_id", req.AgentID),
	)
	e := event.ForJob(event.JobClaimed, opts.Now, actor, j)
	e.PreviousStatus = job.StatusPending
	m.sink.Emit(ctx, e)
	return j, nil
}

func ownerFilter(actor conductor.Actor, requested string) string {
	switch a := actor.(type) {
	case conductor.User:
		return a.ID
	case conductor.Agent:
		return ""
	default:
		return requested
	}
}
