package agent

import (
	"slices"
	"time"

	"github.com/xraph/conductor"
)

// Status represents the liveness state of an agent.
type Status string

const (
	// StatusOnline means the agent has heartbeated within the stale timeout.
	StatusOnline Status = "online"
	// StatusOffline means the monitor (or an explicit deregistration)
	// declared the agent gone. Its leases have been released.
	StatusOffline Status = "offline"
	// StatusBusy means the agent reported itself saturated. Only online
	// agents are swept by the monitor.
	StatusBusy Status = "busy"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusBusy:
		return true
	default:
		return false
	}
}

// Agent is a worker process that leases jobs whose type is in its
// capability set.
type Agent struct {
	conductor.Entity

	ID            string    `json:"id"`
	Hostname      string    `json:"hostname"`
	Capabilities  []string  `json:"capabilities"`
	Status        Status    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Can reports whether the agent serves jobs of the given type.
func (a *Agent) Can(jobType string) bool {
	return slices.Contains(a.Capabilities, jobType)
}

// Stale reports whether the agent is online and last heartbeated before
// cutoff.
func (a *Agent) Stale(cutoff time.Time) bool {
	return a.Status == StatusOnline && a.LastHeartbeat.Before(cutoff)
}

// Clone returns a deep copy of a.
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.Capabilities = slices.Clone(a.Capabilities)
	return &cp
}

// NormalizeCapabilities drops empty tags and duplicates while keeping the
// caller's order.
func NormalizeCapabilities(caps []string) []string {
	out := make([]string, 0, len(caps))
	seen := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// SweepResult reports what a stale-agent sweep changed.
type SweepResult struct {
	// OfflineAgents is the number of agents marked offline.
	OfflineAgents int `json:"offline_agents"`
	// ReleasedJobs is the number of running jobs returned to pending.
	ReleasedJobs int `json:"released_jobs"`
	// AgentIDs lists the agents marked offline.
	AgentIDs []string `json:"agent_ids,omitempty"`
}
