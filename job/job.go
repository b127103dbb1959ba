package job

import (
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is waiting to be claimed by an agent.
	StatusPending Status = "pending"
	// StatusRunning means an agent holds the lease and is executing it.
	StatusRunning Status = "running"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job exhausted its retry budget.
	StatusFailed Status = "failed"
	// StatusCancelled means the job's owner cancelled it.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job is a unit of work leased by agents. Payload, Result and Error are
// opaque blobs: the core stores and returns them but never decodes them.
type Job struct {
	conductor.Entity

	ID          id.JobID            `json:"id"`
	Type        string              `json:"type"`
	Payload     []byte              `json:"payload,omitempty"`
	Result      []byte              `json:"result,omitempty"`
	Error       []byte              `json:"error,omitempty"`
	Status      Status              `json:"status"`
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
}

// Clone returns a deep copy of j so stores can hand out values that
// callers may mutate freely.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Payload = cloneBytes(j.Payload)
	cp.Result = cloneBytes(j.Result)
	cp.Error = cloneBytes(j.Error)
	cp.LockedAt = cloneTime(j.LockedAt)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.NextRetryAt = cloneTime(j.NextRetryAt)
	return &cp
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
