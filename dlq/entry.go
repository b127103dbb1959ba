package dlq

import (
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// Entry is an immutable snapshot of a job taken when it exhausted its
// retry budget. Only ReplayedAt changes after the entry is written.
type Entry struct {
	ID            id.DLQID            `json:"id"`
	OriginalJobID id.JobID            `json:"original_job_id"`
	Type          string              `json:"type"`
	Payload       []byte              `json:"payload,omitempty"`
	Error         []byte              `json:"error,omitempty"`
	RetryCount    int                 `json:"retry_count"`
	MaxRetries    int                 `json:"max_retries"`
	OwnerID       string              `json:"owner_id"`
	OwnerKind     conductor.ActorKind `json:"owner_kind"`
	FailedAt      time.Time           `json:"failed_at"`
	ReplayedAt    *time.Time          `json:"replayed_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// NewEntry snapshots a permanently failed job.
func NewEntry(j *job.Job, failedAt time.Time) *Entry {
	return &Entry{
		ID:            id.NewDLQID(),
		OriginalJobID: j.ID,
		Type:          j.Type,
		Payload:       append([]byte(nil), j.Payload...),
		Error:         append([]byte(nil), j.Error...),
		RetryCount:    j.RetryCount,
		MaxRetries:    j.MaxRetries,
		OwnerID:       j.OwnerID,
		OwnerKind:     j.OwnerKind,
		FailedAt:      failedAt,
		CreatedAt:     failedAt,
	}
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	cp.Error = append([]byte(nil), e.Error...)
	if e.ReplayedAt != nil {
		t := *e.ReplayedAt
		cp.ReplayedAt = &t
	}
	return &cp
}
