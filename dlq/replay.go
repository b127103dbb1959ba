package dlq

import (
	"context"
	"log/slog"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// Replay re-enqueues a DLQ entry as a new pending job and marks the
// entry as replayed. The new job gets a fresh ID, zero retry count, the
// original owner and retry budget, and is eligible immediately.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	j := &job.Job{
		Entity:     conductor.NewEntityAt(now),
		ID:         id.NewJobID(),
		Type:       entry.Type,
		Payload:    entry.Payload,
		Status:     job.StatusPending,
		OwnerID:    entry.OwnerID,
		OwnerKind:  entry.OwnerKind,
		MaxRetries: entry.MaxRetries,
	}

	if err := s.jobStore.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID, now); err != nil {
		// The job is already enqueued. Return it with the error.
		s.logger.Error("failed to mark dead letter replayed",
			slog.String("entry_id", entryID.String()),
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return j, err
	}

	s.logger.Info("dead letter replayed",
		slog.String("entry_id", entryID.String()),
		slog.String("original_job_id", entry.OriginalJobID.String()),
		slog.String("job_id", j.ID.String()),
	)
	return j, nil
}
