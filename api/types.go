package api

import (
	"encoding/json"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/agent"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/job"
)

// EnqueueRequest is the body of POST /v1/jobs. Payload may be any JSON
// value; it is stored as its raw bytes.
type EnqueueRequest struct {
	Type       string              `json:"type"`
	Payload    json.RawMessage     `json:"payload,omitempty"`
	MaxRetries *int                `json:"max_retries,omitempty"`
	OwnerID    string              `json:"owner_id,omitempty"`
	OwnerKind  conductor.ActorKind `json:"owner_kind,omitempty"`
}

// CompleteRequest is the body of POST /v1/jobs/{jobID}/complete.
type CompleteRequest struct {
	Result json.RawMessage `json:"result,omitempty"`
}

// FailRequest is the body of POST /v1/jobs/{jobID}/fail.
type FailRequest struct {
	Error json.RawMessage `json:"error,omitempty"`
}

// ProgressRequest is the body of POST /v1/jobs/{jobID}/progress.
type ProgressRequest struct {
	Progress int `json:"progress"`
}

// PollRequest is the body of POST /v1/poll.
type PollRequest struct {
	AgentID      string   `json:"agent_id"`
	Capabilities []string `json:"capabilities"`
	OwnerFilter  string   `json:"owner_filter,omitempty"`
}

// RegisterAgentRequest is the body of POST /v1/agents.
type RegisterAgentRequest = agent.RegisterRequest

// JobResponse is the wire form of a job. Blobs that hold valid JSON are
// inlined; anything else is rendered as a JSON string.
type JobResponse struct {
	ID          string              `json:"id"`
	Type        string              `json:"type"`
	Status      job.Status          `json:"status"`
	Payload     json.RawMessage     `json:"payload,omitempty"`
	Result      json.RawMessage     `json:"result,omitempty"`
	Error       json.RawMessage     `json:"error,omitempty"`
	OwnerID     string              `json:"owner_id"`
	OwnerKind   conductor.ActorKind `json:"owner_kind"`
	LockedBy    string              `json:"locked_by,omitempty"`
	LockedAt    *time.Time          `json:"locked_at,omitempty"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Progress    int                 `json:"progress"`
	RetryCount  int                 `json:"retry_count"`
	MaxRetries  int                 `json:"max_retries"`
	NextRetryAt *time.Time          `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func newJobResponse(j *job.Job) *JobResponse {
	return &JobResponse{
		ID:          j.ID.String(),
		Type:        j.Type,
		Status:      j.Status,
		Payload:     blob(j.Payload),
		Result:      blob(j.Result),
		Error:       blob(j.Error),
		OwnerID:     j.OwnerID,
		OwnerKind:   j.OwnerKind,
		LockedBy:    j.LockedBy,
		LockedAt:    j.LockedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Progress:    j.Progress,
		RetryCount:  j.RetryCount,
		MaxRetries:  j.MaxRetries,
		NextRetryAt: j.NextRetryAt,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

func newJobResponses(js []*job.Job) []*JobResponse {
	out := make([]*JobResponse, 0, len(js))
	for _, j := range js {
		out = append(out, newJobResponse(j))
	}
	return out
}

// DeadLetterResponse is the wire form of a dead letter entry.
type DeadLetterResponse struct {
	ID            string              `json:"id"`
	OriginalJobID string              `json:"original_job_id"`
	Type          string              `json:"type"`
	Payload       json.RawMessage     `json:"payload,omitempty"`
	Error         json.RawMessage     `json:"error,omitempty"`
	RetryCount    int                 `json:"retry_count"`
	MaxRetries    int                 `json:"max_retries"`
	OwnerID       string              `json:"owner_id"`
	OwnerKind     conductor.ActorKind `json:"owner_kind"`
	FailedAt      time.Time           `json:"failed_at"`
	ReplayedAt    *time.Time          `json:"replayed_at,omitempty"`
}

func newDeadLetterResponse(e *dlq.Entry) *DeadLetterResponse {
	return &DeadLetterResponse{
		ID:            e.ID.String(),
		OriginalJobID: e.OriginalJobID.String(),
		Type:          e.Type,
		Payload:       blob(e.Payload),
		Error:         blob(e.Error),
		RetryCount:    e.RetryCount,
		MaxRetries:    e.MaxRetries,
		OwnerID:       e.OwnerID,
		OwnerKind:     e.OwnerKind,
		FailedAt:      e.FailedAt,
		ReplayedAt:    e.ReplayedAt,
	}
}

// blob renders opaque bytes for a JSON response.
func blob(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	s, _ := json.Marshal(string(b))
	return s
}

// JobCountsResponse holds job counts by status.
type JobCountsResponse struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// StatsResponse aggregates job, agent and dead letter figures.
type StatsResponse struct {
	Jobs          JobCountsResponse `json:"jobs"`
	AgentsOnline  int               `json:"agents_online"`
	AgentsOffline int               `json:"agents_offline"`
	DLQCount      int64             `json:"dlq_count"`
}

// DeregisterResponse reports how many jobs were released.
type DeregisterResponse struct {
	ReleasedJobs int `json:"released_jobs"`
}

// PurgeDLQResponse reports how many dead letters were removed.
type PurgeDLQResponse struct {
	Purged int64 `json:"purged"`
}

// DLQCountResponse holds the dead letter count.
type DLQCountResponse struct {
	Count int64 `json:"count"`
}
