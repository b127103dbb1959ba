package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/agent"
	"github.com/xraph/conductor/api"
)

// RegisterAgent registers or refreshes an agent. An agent actor with an
// empty req.ID registers itself.
func (c *Client) RegisterAgent(ctx context.Context, req agent.RegisterRequest) (*agent.Agent, error) {
	var a agent.Agent
	if _, err := c.call(ctx, http.MethodPost, "/v1/agents", req, &a, conductor.ErrAgentNotFound); err != nil {
		return nil, err
	}
	return &a, nil
}

// Heartbeat records that the agent is alive.
func (c *Client) Heartbeat(ctx context.Context, agentID string) error {
	_, err := c.call(ctx, http.MethodPost, agentPath(agentID)+"/heartbeat", nil, nil, conductor.ErrAgentNotFound)
	return err
}

// DeregisterAgent marks the agent offline and returns its running jobs to
// the pool. It reports how many jobs were released.
func (c *Client) DeregisterAgent(ctx context.Context, agentID string) (int, error) {
	var resp api.DeregisterResponse
	if _, err := c.call(ctx, http.MethodDelete, agentPath(agentID), nil, &resp, conductor.ErrAgentNotFound); err != nil {
		return 0, err
	}
	return resp.ReleasedJobs, nil
}

// Poll leases the oldest eligible job for agentID, or returns nil when
// none is eligible. A rate-limited poll returns an error matching
// ErrRateLimited.
func (c *Client) Poll(ctx context.Context, agentID string, capabilities []string) (*Job, error) {
	var j Job
	noContent, err := c.call(ctx, http.MethodPost, "/v1/poll", api.PollRequest{
		AgentID:      agentID,
		Capabilities: capabilities,
	}, &j, conductor.ErrJobNotFound)
	if err != nil {
		return nil, err
	}
	if noContent {
		return nil, nil
	}
	return &j, nil
}

func agentPath(agentID string) string {
	return "/v1/agents/" + url.PathEscape(agentID)
}
