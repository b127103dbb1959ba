package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
)

const dlqColumns = `
	id, original_job_id, type, payload, error, retry_count, max_retries,
	owner_id, owner_kind, failed_at, replayed_at, created_at`

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	return pushDLQ(ctx, s.pool, entry)
}

func pushDLQ(ctx context.Context, q querier, entry *dlq.Entry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO conductor_dlq (`+dlqColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID.String(), entry.OriginalJobID.String(), entry.Type,
		entry.Payload, entry.Error, entry.RetryCount, entry.MaxRetries,
		entry.OwnerID, string(entry.OwnerKind),
		entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return storeErr("push dlq", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, oldest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var w where
	w.eq("type", opts.Type)
	w.eq("owner_id", opts.OwnerID)

	query := `SELECT ` + dlqColumns + ` FROM conductor_dlq` + w.String() +
		` ORDER BY failed_at ASC, id ASC` + w.page(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, storeErr("list dlq", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conductor/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate dlq rows", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+dlqColumns+` FROM conductor_dlq WHERE id = $1`, entryID.String())
	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrDLQNotFound
		}
		return nil, storeErr("get dlq", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conductor_dlq SET replayed_at = $2 WHERE id = $1`,
		entryID.String(), at,
	)
	if err != nil {
		return storeErr("replay dlq", err)
	}
	if tag.RowsAffected() == 0 {
		return conductor.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries with failed_at before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conductor_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, storeErr("purge dlq", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conductor_dlq`).Scan(&count); err != nil {
		return 0, storeErr("count dlq", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ row.
func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e         dlq.Entry
		idStr     string
		jobIDStr  string
		ownerKind string
	)
	err := row.Scan(
		&idStr, &jobIDStr, &e.Type, &e.Payload, &e.Error,
		&e.RetryCount, &e.MaxRetries, &e.OwnerID, &ownerKind,
		&e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.ID, err = id.ParseDLQID(idStr); err != nil {
		return nil, fmt.Errorf("conductor/postgres: parse dlq id %q: %w", idStr, err)
	}
	if e.OriginalJobID, err = id.ParseJobID(jobIDStr); err != nil {
		return nil, fmt.Errorf("conductor/postgres: parse job id %q: %w", jobIDStr, err)
	}
	e.OwnerKind = conductor.ActorKind(ownerKind)
	e.FailedAt = e.FailedAt.UTC()
	e.ReplayedAt = utc(e.ReplayedAt)
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}
