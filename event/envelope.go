package event

import "time"

// Envelope is the wire form of an Event. Job payloads and results are
// left out: they are opaque to the core and may be large.
type Envelope struct {
	ID             string     `json:"id" msgpack:"id"`
	Name           string     `json:"name" msgpack:"name"`
	OccurredAt     time.Time  `json:"occurred_at" msgpack:"occurred_at"`
	ActorKind      string     `json:"actor_kind,omitempty" msgpack:"actor_kind,omitempty"`
	ActorID        string     `json:"actor_id,omitempty" msgpack:"actor_id,omitempty"`
	Job            *JobView   `json:"job,omitempty" msgpack:"job,omitempty"`
	Agent          *AgentView `json:"agent,omitempty" msgpack:"agent,omitempty"`
	DeadLetterID   string     `json:"dead_letter_id,omitempty" msgpack:"dead_letter_id,omitempty"`
	OfflineAgents  int        `json:"offline_agents,omitempty" msgpack:"offline_agents,omitempty"`
	ReleasedJobs   int        `json:"released_jobs,omitempty" msgpack:"released_jobs,omitempty"`
	StaleAgentIDs  []string   `json:"stale_agent_ids,omitempty" msgpack:"stale_agent_ids,omitempty"`
	PreviousStatus string     `json:"previous_status,omitempty" msgpack:"previous_status,omitempty"`
	RetryDelayMs   int64      `json:"retry_delay_ms,omitempty" msgpack:"retry_delay_ms,omitempty"`
}

// JobView is the wire form of a job snapshot.
type JobView struct {
	ID          string     `json:"id" msgpack:"id"`
	Type        string     `json:"type" msgpack:"type"`
	Status      string     `json:"status" msgpack:"status"`
	OwnerID     string     `json:"owner_id" msgpack:"owner_id"`
	OwnerKind   string     `json:"owner_kind" msgpack:"owner_kind"`
	LockedBy    string     `json:"locked_by,omitempty" msgpack:"locked_by,omitempty"`
	Progress    int        `json:"progress" msgpack:"progress"`
	RetryCount  int        `json:"retry_count" msgpack:"retry_count"`
	MaxRetries  int        `json:"max_retries" msgpack:"max_retries"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty" msgpack:"next_retry_at,omitempty"`
}

// AgentView is the wire form of an agent snapshot.
type AgentView struct {
	ID           string   `json:"id" msgpack:"id"`
	Hostname     string   `json:"hostname" msgpack:"hostname"`
	Capabilities []string `json:"capabilities" msgpack:"capabilities"`
	Status       string   `json:"status" msgpack:"status"`
}

// ToEnvelope flattens e into its wire form.
func ToEnvelope(e *Event) *Envelope {
	env := &Envelope{
		ID:             e.ID.String(),
		Name:           e.Name,
		OccurredAt:     e.OccurredAt,
		PreviousStatus: string(e.PreviousStatus),
		RetryDelayMs:   e.RetryDelay.Milliseconds(),
	}
	if e.Actor != nil {
		env.ActorKind = string(e.Actor.Kind())
		env.ActorID = e.Actor.ActorID()
	}
	if j := e.Job; j != nil {
		env.Job = &JobView{
			ID:          j.ID.String(),
			Type:        j.Type,
			Status:      string(j.Status),
			OwnerID:     j.OwnerID,
			OwnerKind:   string(j.OwnerKind),
			LockedBy:    j.LockedBy,
			Progress:    j.Progress,
			RetryCount:  j.RetryCount,
			MaxRetries:  j.MaxRetries,
			NextRetryAt: j.NextRetryAt,
		}
	}
	if a := e.Agent; a != nil {
		env.Agent = &AgentView{
			ID:           a.ID,
			Hostname:     a.Hostname,
			Capabilities: a.Capabilities,
			Status:       string(a.Status),
		}
	}
	if e.DeadLetter != nil {
		env.DeadLetterID = e.DeadLetter.ID.String()
	}
	if s := e.Sweep; s != nil {
		env.OfflineAgents = s.OfflineAgents
		env.ReleasedJobs = s.ReleasedJobs
		env.StaleAgentIDs = s.AgentIDs
	}
	return env
}
