package agent

import (
	"context"
	"time"
)

// ListOpts controls filtering for agent list queries.
type ListOpts struct {
	// Status filters by status. Empty means all.
	Status Status
}

// Store defines the persistence contract for agents. Marking agents
// offline and releasing their jobs is transactional and lives on store.Tx.
type Store interface {
	// UpsertAgent creates the agent or, when an agent with the same ID
	// exists, overwrites its hostname, capabilities, status and heartbeat
	// while keeping CreatedAt. Returns the stored agent.
	UpsertAgent(ctx context.Context, a *Agent) (*Agent, error)

	// GetAgent retrieves an agent by ID.
	GetAgent(ctx context.Context, agentID string) (*Agent, error)

	// ListAgents returns agents ordered by ID.
	ListAgents(ctx context.Context, opts ListOpts) ([]*Agent, error)

	// TouchAgent sets LastHeartbeat to at and Status to online.
	// Returns conductor.ErrAgentNotFound for unknown agents.
	TouchAgent(ctx context.Context, agentID string, at time.Time) error
}
