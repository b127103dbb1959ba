package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conductor_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		j.ID.String(), j.Type, j.Payload, j.Result, j.Error, string(j.Status),
		j.OwnerID, string(j.OwnerKind),
		nullString(j.LockedBy), j.LockedAt, j.StartedAt, j.CompletedAt,
		j.Progress, j.RetryCount, j.MaxRetries, j.NextRetryAt,
		j.CreatedAt, j.UpdatedAt,
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
	return getJob(ctx, s.pool, jobID, "")
}

func getJob(ctx context.Context, q querier, jobID id.JobID, suffix string) (*job.Job, error) {
	row := q.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM conductor_jobs WHERE id = $1`+suffix,
		jobID.String(),
	)
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

	rows, err := s.pool.Query(ctx, query, w.args...)
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
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conductor_jobs`+w.String(), w.args...).Scan(&count)
	if err != nil {
		return 0, storeErr("count jobs", err)
	}
	return count, nil
}

// ClaimJob leases the oldest eligible pending job in one statement. The
// subselect skips rows other transactions have locked, so concurrent
// claims neither block each other nor return the same job.
func (s *Store) ClaimJob(ctx context.Context, opts job.ClaimOpts) (*job.Job, error) {
	if len(opts.Types) == 0 {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE conductor_jobs SET
			status = 'running', locked_by = $1, locked_at = $2, started_at = $2,
			next_retry_at = NULL, updated_at = $2
		WHERE id = (
			SELECT id FROM conductor_jobs
			WHERE status = 'pending'
			  AND type = ANY($3)
			  AND (next_retry_at IS NULL OR next_retry_at <= $2)
			  AND ($4::text = '' OR owner_id = $4)
			ORDER BY created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		opts.AgentID, opts.Now, opts.Types, opts.OwnerID,
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
	tag, err := q.Exec(ctx, `
		UPDATE conductor_jobs SET
			result = $2, error = $3, status = $4, locked_by = $5, locked_at = $6,
			started_at = $7, completed_at = $8, progress = $9, retry_count = $10,
			next_retry_at = $11, updated_at = $12
		WHERE id = $1`,
		j.ID.String(), j.Result, j.Error, string(j.Status),
		nullString(j.LockedBy), j.LockedAt, j.StartedAt, j.CompletedAt,
		j.Progress, j.RetryCount, j.NextRetryAt, j.UpdatedAt,
	)
	if err != nil {
		return storeErr("save job", err)
	}
	if tag.RowsAffected() == 0 {
		return conductor.ErrJobNotFound
	}
	return nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		status    string
		ownerKind string
		lockedBy  *string
	)
	err := row.Scan(
		&idStr, &j.Type, &j.Payload, &j.Result, &j.Error, &status,
		&j.OwnerID, &ownerKind,
		&lockedBy, &j.LockedAt, &j.StartedAt, &j.CompletedAt,
		&j.Progress, &j.RetryCount, &j.MaxRetries, &j.NextRetryAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: parse job id %q: %w", idStr, err)
	}
	j.ID = parsedID
	j.Status = job.Status(status)
	j.OwnerKind = conductor.ActorKind(ownerKind)
	j.LockedBy = derefString(lockedBy)
	j.LockedAt = utc(j.LockedAt)
	j.StartedAt = utc(j.StartedAt)
	j.CompletedAt = utc(j.CompletedAt)
	j.NextRetryAt = utc(j.NextRetryAt)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conductor/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate job rows", err)
	}
	return jobs, nil
}

// where accumulates AND-ed equality filters with positional arguments.
type where struct {
	clauses []string
	args    []any
}

// eq adds "col = $n" unless v is empty.
func (w *where) eq(col, v string) {
	if v == "" {
		return
	}
	w.args = append(w.args, v)
	w.clauses = append(w.clauses, fmt.Sprintf("%s = $%d", col, len(w.args)))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// page appends LIMIT and OFFSET placeholders.
func (w *where) page(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		w.args = append(w.args, limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(w.args))
	}
	if offset > 0 {
		w.args = append(w.args, offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(w.args))
	}
	return b.String()
}
