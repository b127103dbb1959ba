package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
)

// RegisterRequest carries the fields of a registration. An empty ID
// registers a new agent under a generated ID.
type RegisterRequest struct {
	ID           string   `json:"id,omitempty"`
	Hostname     string   `json:"hostname"`
	Capabilities []string `json:"capabilities"`
}

// Registry records agent registrations and heartbeats.
type Registry struct {
	store  Store
	clock  conductor.Clock
	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock sets the time source.
func WithClock(c conductor.Clock) RegistryOption {
	return func(r *Registry) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a Registry over the given store.
func NewRegistry(store Store, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:  store,
		clock:  conductor.SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register upserts the agent and marks it online with a fresh heartbeat.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*Agent, error) {
	agentID := req.ID
	if agentID == "" {
		agentID = id.NewAgentID()
	}
	now := r.clock.Now()
	a := &Agent{
		Entity:        conductor.NewEntityAt(now),
		ID:            agentID,
		Hostname:      req.Hostname,
		Capabilities:  NormalizeCapabilities(req.Capabilities),
		Status:        StatusOnline,
		LastHeartbeat: now,
	}
	stored, err := r.store.UpsertAgent(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("register agent %s: %w", agentID, err)
	}
	r.logger.Info("agent registered",
		slog.String("agent_id", stored.ID),
		slog.String("hostname", stored.Hostname),
		slog.Any("capabilities", stored.Capabilities),
	)
	return stored, nil
}

// Heartbeat refreshes the agent's LastHeartbeat and marks it online.
// An unknown agent is logged and ignored.
func (r *Registry) Heartbeat(ctx context.Context, agentID string) error {
	if agentID == "" {
		return fmt.Errorf("%w: empty agent id", conductor.ErrInvalidInput)
	}
	err := r.store.TouchAgent(ctx, agentID, r.clock.Now())
	if errors.Is(err, conductor.ErrAgentNotFound) {
		r.logger.Warn("heartbeat from unknown agent", slog.String("agent_id", agentID))
		return nil
	}
	return err
}

// Touch is the best-effort heartbeat issued after a successful claim.
// It never returns an error.
func (r *Registry) Touch(ctx context.Context, agentID string) {
	if err := r.store.TouchAgent(ctx, agentID, r.clock.Now()); err != nil {
		r.logger.Warn("opportunistic heartbeat failed",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()),
		)
	}
}

// Get returns the agent with the given ID.
func (r *Registry) Get(ctx context.Context, agentID string) (*Agent, error) {
	return r.store.GetAgent(ctx, agentID)
}

// List returns agents matching opts.
func (r *Registry) List(ctx context.Context, opts ListOpts) ([]*Agent, error) {
	return r.store.ListAgents(ctx, opts)
}
