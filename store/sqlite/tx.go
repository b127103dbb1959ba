package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/store"
)

// sqlTx adapts a *sql.Tx to store.Tx. The store's single connection
// already excludes concurrent writers, so LockJob is a plain read.
type sqlTx struct {
	tx *sql.Tx
}

var _ store.Tx = (*sqlTx)(nil)

func (t *sqlTx) LockJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return getJob(ctx, t.tx, jobID)
}

func (t *sqlTx) SaveJob(ctx context.Context, j *job.Job) error {
	return saveJob(ctx, t.tx, j)
}

func (t *sqlTx) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	return pushDLQ(ctx, t.tx, entry)
}

func (t *sqlTx) MarkAgentsOffline(ctx context.Context, cutoff, now time.Time) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		UPDATE conductor_agents SET status = 'offline', updated_at = ?
		WHERE status = 'online' AND last_heartbeat < ?
		RETURNING id`,
		toMicros(now), toMicros(cutoff),
	)
	if err != nil {
		return nil, storeErr("mark agents offline", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var agentID string
		if err := rows.Scan(&agentID); err != nil {
			return nil, storeErr("mark agents offline", err)
		}
		ids = append(ids, agentID)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("mark agents offline", err)
	}
	return ids, nil
}

func (t *sqlTx) SetAgentOffline(ctx context.Context, agentID string, now time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE conductor_agents SET status = 'offline', updated_at = ? WHERE id = ?`,
		toMicros(now), agentID,
	)
	if err != nil {
		return storeErr("set agent offline", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conductor.ErrAgentNotFound
	}
	return nil
}

func (t *sqlTx) ReleaseJobs(ctx context.Context, agentIDs []string, now time.Time) (int, error) {
	if len(agentIDs) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(agentIDs)+1)
	args = append(args, toMicros(now))
	for _, a := range agentIDs {
		args = append(args, a)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE conductor_jobs
		SET status = 'pending', locked_by = NULL, locked_at = NULL, updated_at = ?
		WHERE status = 'running' AND locked_by IN (`+placeholders(len(agentIDs))+`)`,
		args...,
	)
	if err != nil {
		return 0, storeErr("release jobs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("release jobs", err)
	}
	return int(n), nil
}
