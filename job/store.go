package job

import (
	"context"
	"time"

	"github.com/xraph/conductor/id"
)

// ClaimOpts selects the job an agent may lease.
type ClaimOpts struct {
	// AgentID becomes the job's LockedBy.
	AgentID string
	// Types is the agent's capability set. An empty set matches nothing.
	Types []string
	// OwnerID restricts the claim to jobs with this owner. Empty means
	// the shared pool.
	OwnerID string
	// Now is the claim time. Jobs with NextRetryAt after Now are skipped.
	Now time.Time
}

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Status filters by status. Empty means all.
	Status Status
	// Type filters by job type. Empty means all.
	Type string
	// OwnerID filters by owner. Empty means all owners.
	OwnerID string
	// LockedBy filters by lease holder. Empty means any.
	LockedBy string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Status filters by status. Empty means all.
	Status Status
	// Type filters by job type. Empty means all.
	Type string
}

// Store defines the persistence contract for jobs. Read-modify-write
// transitions other than claiming go through store.Tx.
type Store interface {
	// CreateJob persists a new job.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobs returns jobs matching opts ordered by creation time.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching opts.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// ClaimJob atomically selects the oldest eligible pending job
	// (CreatedAt, then ID) and leases it to opts.AgentID. Concurrent
	// callers never receive the same job. Returns nil, nil when nothing
	// is eligible.
	ClaimJob(ctx context.Context, opts ClaimOpts) (*Job, error)
}
