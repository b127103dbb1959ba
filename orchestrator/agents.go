package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/agent"
	"github.com/xraph/conductor/authz"
	"github.com/xraph/conductor/event"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/lease"
	"github.com/xraph/conductor/store"
)

// Poll claims the oldest eligible job for the polling agent, or returns
// nil when nothing matches. Concurrent polls never receive the same job.
func (s *Service) Poll(ctx context.Context, actor conductor.Actor, req lease.Request) (j *job.Job, err error) {
	ctx, span := s.startSpan(ctx, "poll", actor, attribute.String("conductor.agent.id", req.AgentID))
	defer func() { endSpan(span, err) }()

	if err := s.authorize(ctx, actor, authz.OpPoll); err != nil {
		return nil, err
	}
	j, err = s.leases.Poll(ctx, actor, req)
	if err != nil {
		return nil, err
	}
	if j != nil {
		span.SetAttributes(attribute.String("conductor.job.id", j.ID.String()))
	}
	return j, nil
}

// checkSelf rejects an agent actor acting for another agent ID.
func checkSelf(actor conductor.Actor, agentID string) error {
	if a, ok := actor.(conductor.Agent); ok && a.ID != agentID {
		return fmt.Errorf("%w: agent %s cannot act as %s", conductor.ErrUnauthorized, a.ID, agentID)
	}
	return nil
}

// RegisterAgent records an agent and marks it online. An agent actor
// registers itself: an empty req.ID takes the actor's ID.
func (s *Service) RegisterAgent(ctx context.Context, actor conductor.Actor, req agent.RegisterRequest) (a *agent.Agent, err error) {
	ctx, span := s.startSpan(ctx, "register_agent", actor, attribute.String("conductor.agent.id", req.ID))
	defer func() { endSpan(span, err) }()

	if err := s.authorize(ctx, actor, authz.OpRegisterAgent); err != nil {
		return nil, err
	}
	if self, ok := actor.(conductor.Agent); ok && req.ID == "" {
		req.ID = self.ID
	}
	if err := checkSelf(actor, req.ID); err != nil {
		return nil, err
	}

	a, err = s.agents.Register(ctx, req)
	if err != nil {
		return nil, err
	}
	e := event.New(event.AgentRegistered, a.LastHeartbeat)
	e.Actor = actor
	e.Agent = a.Clone()
	s.sink.Emit(ctx, e)
	return a, nil
}

// Heartbeat refreshes the agent's liveness. Heartbeats from unknown
// agents are ignored.
func (s *Service) Heartbeat(ctx context.Context, actor conductor.Actor, agentID string) (err error) {
	ctx, span := s.startSpan(ctx, "heartbeat", actor, attribute.String("conductor.agent.id", agentID))
	defer func() { endSpan(span, err) }()

	if err := s.authorize(ctx, actor, authz.OpHeartbeat); err != nil {
		return err
	}
	if err := checkSelf(actor, agentID); err != nil {
		return err
	}
	return s.agents.Heartbeat(ctx, agentID)
}

// DeregisterAgent marks the agent offline and returns its running jobs to
// the pool in one transaction. It returns the number of jobs released.
func (s *Service) DeregisterAgent(ctx context.Context, actor conductor.Actor, agentID string) (released int, err error) {
	ctx, span := s.startSpan(ctx, "deregister_agent", actor, attribute.String("conductor.agent.id", agentID))
	defer func() { endSpan(span, err) }()

	if err := s.authorize(ctx, actor, authz.OpDeregisterAgent); err != nil {
		return 0, err
	}
	if agentID == "" {
		return 0, fmt.Errorf("%w: empty agent id", conductor.ErrInvalidInput)
	}
	if err := checkSelf(actor, agentID); err != nil {
		return 0, err
	}

	now := s.clock.Now()
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SetAgentOffline(ctx, agentID, now); err != nil {
			return err
		}
		n, err := tx.ReleaseJobs(ctx, []string{agentID}, now)
		released = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("deregister agent %s: %w", agentID, err)
	}

	s.logger.Info("agent deregistered",
		slog.String("agent_id", agentID),
		slog.Int("released_jobs", released),
	)
	e := event.New(event.AgentDeregistered, now)
	e.Actor = actor
	if a, err := s.store.GetAgent(ctx, agentID); err == nil {
		e.Agent = a
	}
	e.Sweep = &agent.SweepResult{OfflineAgents: 1, ReleasedJobs: released, AgentIDs: []string{agentID}}
	s.sink.Emit(ctx, e)
	return released, nil
}

// GetAgent returns one registered agent.
func (s *Service) GetAgent(ctx context.Context, actor conductor.Actor, agentID string) (*agent.Agent, error) {
	if err := s.authorize(ctx, actor, authz.OpListAgents); err != nil {
		return nil, err
	}
	return s.agents.Get(ctx, agentID)
}

// ListAgents returns registered agents, optionally filtered by status.
func (s *Service) ListAgents(ctx context.Context, actor conductor.Actor, opts agent.ListOpts) ([]*agent.Agent, error) {
	if err := s.authorize(ctx, actor, authz.OpListAgents); err != nil {
		return nil, err
	}
	return s.agents.List(ctx, opts)
}

// CheckStaleAgents runs one heartbeat sweep: agents silent for longer
// than timeout go offline and their running jobs return to pending
// without consuming a retry. A non-positive timeout uses the configured
// StaleAgentTimeout.
func (s *Service) CheckStaleAgents(ctx context.Context, actor conductor.Actor, timeout time.Duration) (res agent.SweepResult, err error) {
	ctx, span := s.startSpan(ctx, "check_stale_agents", actor)
	defer func() { endSpan(span, err) }()

	if err := s.authorize(ctx, actor, authz.OpSweep); err != nil {
		return agent.SweepResult{}, err
	}
	res, err = s.monitor.CheckStaleAgents(ctx, timeout)
	if err != nil {
		return agent.SweepResult{}, err
	}
	span.SetAttributes(
		attribute.Int("conductor.sweep.offline_agents", res.OfflineAgents),
		attribute.Int("conductor.sweep.released_jobs", res.ReleasedJobs),
	)
	return res, nil
}
