package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/store"
)

// pgTx adapts a pgx.Tx to store.Tx.
type pgTx struct {
	tx pgx.Tx
}

var _ store.Tx = (*pgTx)(nil)

// LockJob loads a job with SELECT ... FOR UPDATE.
func (t *pgTx) LockJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return getJob(ctx, t.tx, jobID, " FOR UPDATE")
}

func (t *pgTx) SaveJob(ctx context.Context, j *job.Job) error {
	return saveJob(ctx, t.tx, j)
}

func (t *pgTx) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	return pushDLQ(ctx, t.tx, entry)
}

func (t *pgTx) MarkAgentsOffline(ctx context.Context, cutoff, now time.Time) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
		UPDATE conductor_agents SET status = 'offline', updated_at = $2
		WHERE status = 'online' AND last_heartbeat < $1
		RETURNING id`,
		cutoff, now,
	)
	if err != nil {
		return nil, storeErr("mark agents offline", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storeErr("mark agents offline", err)
	}
	return ids, nil
}

func (t *pgTx) SetAgentOffline(ctx context.Context, agentID string, now time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE conductor_agents SET status = 'offline', updated_at = $2 WHERE id = $1`,
		agentID, now,
	)
	if err != nil {
		return storeErr("set agent offline", err)
	}
	if tag.RowsAffected() == 0 {
		return conductor.ErrAgentNotFound
	}
	return nil
}

func (t *pgTx) ReleaseJobs(ctx context.Context, agentIDs []string, now time.Time) (int, error) {
	if len(agentIDs) == 0 {
		return 0, nil
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE conductor_jobs
		SET status = 'pending', locked_by = NULL, locked_at = NULL, updated_at = $2
		WHERE status = 'running' AND locked_by = ANY($1)`,
		agentIDs, now,
	)
	if err != nil {
		return 0, storeErr("release jobs", err)
	}
	return int(tag.RowsAffected()), nil
}
