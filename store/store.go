package store

import (
	"context"
	"time"

	"github.com/xraph/conductor/agent"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// Store is the aggregate persistence interface. A single backend
// (memory, postgres, sqlite) implements every subsystem store plus the
// transactional entry point used by the orchestrator.
type Store interface {
	job.Store
	agent.Store
	dlq.Store

	// WithTx runs fn inside one store transaction. The transaction
	// commits when fn returns nil and rolls back otherwise. fn must use
	// only the Tx it is given; calling WithTx again from fn is not
	// supported.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Tx is the set of operations that must observe and mutate state
// atomically. Every read-modify-write in the orchestrator goes through it.
type Tx interface {
	// LockJob loads a job and holds a row lock on it until the
	// transaction ends. Returns conductor.ErrJobNotFound.
	LockJob(ctx context.Context, jobID id.JobID) (*job.Job, error)

	// SaveJob writes every mutable field of a job previously loaded with
	// LockJob.
	SaveJob(ctx context.Context, j *job.Job) error

	// PushDLQ writes a dead letter entry.
	PushDLQ(ctx context.Context, entry *dlq.Entry) error

	// MarkAgentsOffline sets every online agent whose last heartbeat is
	// before cutoff to offline and returns their IDs.
	MarkAgentsOffline(ctx context.Context, cutoff, now time.Time) ([]string, error)

	// SetAgentOffline marks one agent offline. Returns
	// conductor.ErrAgentNotFound.
	SetAgentOffline(ctx context.Context, agentID string, now time.Time) error

	// ReleaseJobs returns every running job leased by one of agentIDs to
	// pending and clears its lease. Retry counts are untouched. Returns
	// the number of jobs released.
	ReleaseJobs(ctx context.Context, agentIDs []string, now time.Time) (int, error)
}
