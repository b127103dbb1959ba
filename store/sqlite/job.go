package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

const jobColumns = `
	id, type, payload, result, error, status, owner_id, owner_kind,
	locked_by, locked_at, started_at, completed_at,
	progress, retry_count, max_retries, next_retry_at, created_at, updated_at`

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conductor_jobs (`+jobColumns+`)
		VALUES (`+placeholders(18)+`)`,
		j.ID.String(), j.Type, j.Payload, j.Result, j.Error, string(j.Status),
		j.OwnerID, string(j.OwnerKind),
		toNullString(j.LockedBy), toNullMicros(j.LockedAt), toNullMicros(j.StartedAt), toNullMicros(j.CompletedAt),
		j.Progress, j.RetryCount, j.MaxRetries, toNullMicros(j.NextRetryAt),
		toMicros(j.CreatedAt), toMicros(j.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conductor.ErrJobAlreadyExists
		}
		return storeErr("create job", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return getJob(ctx, s.db, jobID)
}

func getJob(ctx context.Context, q querier, jobID id.JobID) (*job.Job, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM conductor_jobs WHERE id = ?`, jobID.String())
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrJobNotFound
		}
		return nil, storeErr("get job", err)
	}
	return j, nil
}

// ListJobs returns jobs matching opts, oldest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var w where
	w.eq("status", string(opts.Status))
	w.eq("type", opts.Type)
	w.eq("owner_id", opts.OwnerID)
	w.eq("locked_by", opts.LockedBy)

	query := `SELECT ` + jobColumns + ` FROM conductor_jobs` + w.String() +
		` ORDER BY created_at ASC, id ASC` + w.page(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, storeErr("list jobs", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	var w where
	w.eq("status", string(opts.Status))
	w.eq("type", opts.Type)

	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conductor_jobs`+w.String(), w.args...).Scan(&count)
	if err != nil {
		return 0, storeErr("count jobs", err)
	}
	return count, nil
}

// ClaimJob leases the oldest eligible pending job with a single
// UPDATE ... RETURNING statement.
func (s *Store) ClaimJob(ctx context.Context, opts job.ClaimOpts) (*job.Job, error) {
	if len(opts.Types) == 0 {
		return nil, nil
	}
	now := toMicros(opts.Now)

	args := make([]any, 0, len(opts.Types)+6)
	args = append(args, opts.AgentID, now, now, now)
	for _, t := range opts.Types {
		args = append(args, t)
	}
	args = append(args, now, opts.OwnerID, opts.OwnerID)

	row := s.db.QueryRowContext(ctx, `
		UPDATE conductor_jobs SET
			status = 'running', locked_by = ?, locked_at = ?, started_at = ?,
			next_retry_at = NULL, updated_at = ?
		WHERE id = (
			SELECT id FROM conductor_jobs
			WHERE status = 'pending'
			  AND type IN (`+placeholders(len(opts.Types))+`)
			  AND (next_retry_at IS NULL OR next_retry_at <= ?)
			  AND (? = '' OR owner_id = ?)
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		)
		RETURNING `+jobColumns,
		args...,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, storeErr("claim job", err)
	}
	return j, nil
}

// saveJob writes every mutable field of j.
func saveJob(ctx context.Context, q querier, j *job.Job) error {
	if err := j.CheckInvariants(); err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE conductor_jobs SET
			result = ?, error = ?, status = ?, locked_by = ?, locked_at = ?,
			started_at = ?, completed_at = ?, progress = ?, retry_count = ?,
			next_retry_at = ?, updated_at = ?
		WHERE id = ?`,
		j.Result, j.Error, string(j.Status),
		toNullString(j.LockedBy), toNullMicros(j.LockedAt), toNullMicros(j.StartedAt), toNullMicros(j.CompletedAt),
		j.Progress, j.RetryCount, toNullMicros(j.NextRetryAt), toMicros(j.UpdatedAt),
		j.ID.String(),
	)
	if err != nil {
		return storeErr("save job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conductor.ErrJobNotFound
	}
	return nil
}

// scanJob scans a single job row.
func scanJob(row scanner) (*job.Job, error) {
	var (
		j                                job.Job
		idStr, status, ownerKind         string
		lockedBy                         sql.NullString
		lockedAt, startedAt, completedAt sql.NullInt64
		nextRetryAt                      sql.NullInt64
		createdAt, updatedAt             int64
	)
	err := row.Scan(
		&idStr, &j.Type, &j.Payload, &j.Result, &j.Error, &status,
		&j.OwnerID, &ownerKind,
		&lockedBy, &lockedAt, &startedAt, &completedAt,
		&j.Progress, &j.RetryCount, &j.MaxRetries, &nextRetryAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("conductor/sqlite: parse job id %q: %w", idStr, err)
	}
	j.ID = parsedID
	j.Status = job.Status(status)
	j.OwnerKind = conductor.ActorKind(ownerKind)
	j.LockedBy = lockedBy.String
	j.LockedAt = fromNullMicros(lockedAt)
	j.StartedAt = fromNullMicros(startedAt)
	j.CompletedAt = fromNullMicros(completedAt)
	j.NextRetryAt = fromNullMicros(nextRetryAt)
	j.CreatedAt = fromMicros(createdAt)
	j.UpdatedAt = fromMicros(updatedAt)
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows *sql.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conductor/sqlite: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate job rows", err)
	}
	return jobs, nil
}
