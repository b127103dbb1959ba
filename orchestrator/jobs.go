package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/authz"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/event"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/store"
)

// EnqueueRequest describes a job to submit.
type EnqueueRequest struct {
	Type    string `json:"type"`
	Payload []byte `json:"payload,omitempty"`
	// MaxRetries is the retry budget. Nil uses the configured default.
	MaxRetries *int `json:"max_retries,omitempty"`
	// OwnerID and OwnerKind name the owner when an internal caller
	// enqueues on someone's behalf. They are ignored for actors, who
	// always own what they submit.
	OwnerID   string              `json:"owner_id,omitempty"`
	OwnerKind conductor.ActorKind `json:"owner_kind,omitempty"`
}

// Enqueue creates a pending job owned by actor.
func (s *Service) Enqueue(ctx context.Context, actor conductor.Actor, req EnqueueRequest) (j *job.Job, err error) {
	ctx, span := s.startSpan(ctx, "enqueue", actor, attribute.String("conductor.job.type", req.Type))
	defer func() { endSpan(span, err) }()

	if err := s.authorize(ctx, actor, authz.OpEnqueue); err != nil {
		return nil, err
	}
	if req.Type == "" {
		return nil, fmt.Errorf("%w: empty job type", conductor.ErrInvalidInput)
	}
	maxRetries := s.config.DefaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	if maxRetries < 0 || maxRetries > job.MaxRetriesLimit {
		return nil, fmt.Errorf("%w: max retries %d outside [0, %d]", conductor.ErrInvalidInput, maxRetries, job.MaxRetriesLimit)
	}

	ownerID, ownerKind := req.OwnerID, req.OwnerKind
	if actor != nil {
		ownerID, ownerKind = actor.ActorID(), actor.Kind()
	}
	if ownerKind == "" {
		ownerKind = conductor.KindUser
	}
	if ownerID == "" || !ownerKind.Valid() {
		return nil, fmt.Errorf("%w: job owner %q of kind %q", conductor.ErrInvalidInput, ownerID, ownerKind)
	}

	now := s.clock.Now()
	j = &job.Job{
		Entity:     conductor.NewEntityAt(now),
		ID:         id.NewJobID(),
		Type:       req.Type,
		Payload:    req.Payload,
		Status:     job.StatusPending,
		OwnerID:    ownerID,
		OwnerKind:  ownerKind,
		MaxRetries: maxRetries,
	}
	if err := s.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", req.Type, err)
	}

	s.logger.Info("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("owner_id", j.OwnerID),
	)
	s.sink.Emit(ctx, event.ForJob(event.JobEnqueued, now, actor, j))
	return j, nil
}

// GetJob returns a job the actor owns or currently holds.
func (s *Service) GetJob(ctx context.Context, actor conductor.Actor, jobID id.JobID) (j *job.Job, err error) {
	ctx, span := s.startSpan(ctx, "get_job", actor, attribute.String("conductor.job.id", jobID.String()))
	defer func() { endSpan(span, err) }()

	if err := s.authorize(ctx, actor, authz.OpGetJob); err != nil {
		return nil, err
	}
	return s.readJob(ctx, actor, jobID)
}

func (s *Service) readJob(ctx context.Context, actor conductor.Actor, jobID id.JobID) (*job.Job, error) {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !j.CanRead(actor) {
		return nil, fmt.Errorf("%w: read job %s", conductor.ErrUnauthorized, jobID)
	}
	return j, nil
}

// ListJobs returns jobs visible to actor: users see the jobs they own,
// agents the jobs they hold, internal callers everything.
func (s *Service) ListJobs(ctx context.Context, actor conductor.Actor, opts job.ListOpts) (js []*job.Job, err error) {
	ctx, span := s.startSpan(ctx, "list_jobs", actor)
	defer func() { endSpan(span, err) }()

	if err := s.authorize(ctx, actor, authz.OpListJobs); err != nil {
		return nil, err
	}
	switch a := actor.(type) {
	case conductor.User:
		opts.OwnerID = a.ID
	case conductor.Agent:
		opts.LockedBy = a.ID
	}
	return s.store.ListJobs(ctx, opts)
}

// CountJobs returns the number of jobs matching opts.
func (s *Service) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	return s.store.CountJobs(ctx, opts)
}

// mutateJob runs fn on the locked job inside one transaction and saves
// the result. fn performs the authorization and state checks.
func (s *Service) mutateJob(ctx context.Context, jobID id.JobID, fn func(ctx context.Context, tx store.Tx, j *job.Job, now time.Time) error) (*job.Job, error) {
	var out *job.Job
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, j, s.clock.Now()); err != nil {
			return err
		}
		if err := tx.SaveJob(ctx, j); err != nil {
			return err
		}
		out = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Complete records a successful outcome. The job's owner or the agent
// holding its lease may complete it. Completing a job that is already
// completed, failed or cancelled returns conductor.ErrInvalidState.
func (s *Service) Complete(ctx context.Context, actor conductor.Actor, jobID id.JobID, result []byte) (j *job.Job, err error) {
	ctx, span := s.startSpan(ctx, "complete", actor, attribute.String("conductor.job.id", jobID.String()))
	defer func() { endSpan(span, err) }()

	if err := s.authorize(ctx, actor, authz.OpComplete); err != nil {
		return nil, err
	}

	var prev job.Status
	j, err = s.mutateJob(ctx, jobID, func(_ context.Context, _ store.Tx, j *job.Job, now time.Time) error {
		if !j.CanReport(actor) {
			return fmt.Errorf("%w: complete job %s", conductor.ErrUnauthorized, jobID)
		}
		prev = j.Status
		return j.Complete(result, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("job completed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("actor", conductor.ActorID(actor)),
	)
	e := event.ForJob(event.JobCompleted, j.UpdatedAt, actor, j)
	e.PreviousStatus = prev
	s.sink.Emit(ctx, e)
	return j, nil
}

// Fail records a failed attempt. While the incremented retry count stays
// within MaxRetries the job returns to pending with an exponential delay;
// otherwise it becomes failed and a dead letter entry is written in the
// same transaction. A business failure is not an error: Fail returns the
// job's new state.
func (s *Service) Fail(ctx context.Context, actor conductor.Actor, jobID id.JobID, errBlob []byte) (j *job.Job, err error) {
	ctx, span := s.startSpan(ctx, "fail", actor, attribute.String("conductor.job.id", jobID.String()))
	defer func() { endSpan(span, err) }()

	if err := s.authorize(ctx, actor, authz.OpFail); err != nil {
		return nil, err
	}

	var (
		prev    job.Status
		retry   bool
		delay   time.Duration
		deadLtr *dlq.Entry
	)
	j, err = s.mutateJob(ctx, jobID, func(ctx context.Context, tx store.Tx, j *job.Job, now time.Time) error {
		if !j.CanReport(actor) {
			return fmt.Errorf("%w: fail job %s", conductor.ErrUnauthorized, jobID)
		}
		if j.Status.Terminal() {
			return fmt.Errorf("%w: job %s is already %s", conductor.ErrInvalidState, jobID, j.Status)
		}
		prev = j.Status

		d := s.policy.Decide(j.RetryCount, j.MaxRetries, now)
		if d.Retry {
			retry, delay = true, d.Delay
			return j.ScheduleRetry(errBlob, d.RetryCount, d.NextRetryAt, now)
		}
		if err := j.FailPermanently(errBlob, d.RetryCount, now); err != nil {
			return err
		}
		deadLtr = dlq.NewEntry(j, now)
		return tx.PushDLQ(ctx, deadLtr)
	})
	if err != nil {
		return nil, err
	}

	if retry {
		s.logger.Warn("job attempt failed, retry scheduled",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Int("retry_count", j.RetryCount),
			slog.Int("max_retries", j.MaxRetries),
			slog.Duration("delay", delay),
		)
		e := event.ForJob(event.JobRetryScheduled, j.UpdatedAt, actor, j)
		e.PreviousStatus = prev
		e.RetryDelay = delay
		s.sink.Emit(ctx, e)
		return j, nil
	}

	s.logger.Error("job failed permanently",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("retry_count", j.RetryCount),
		slog.String("dlq_id", deadLtr.ID.String()),
	)
	e := event.ForJob(event.JobFailed, j.UpdatedAt, actor, j)
	e.PreviousStatus = prev
	e.DeadLetter = deadLtr
	s.sink.Emit(ctx, e)
	return j, nil
}

// Cancel stops a pending or running job. Only the owner may cancel.
// An agent already executing the job observes the cancellation on its
// next read; nothing is preempted.
func (s *Service) Cancel(ctx context.Context, actor conductor.Actor, jobID id.JobID) (j *job.Job, err error) {
	ctx, span := s.startSpan(ctx, "cancel", actor, attribute.String("conductor.job.id", jobID.String()))
	defer func() { endSpan(span, err) }()

	if err := s.authorize(ctx, actor, authz.OpCancel); err != nil {
		return nil, err
	}

	var prev job.Status
	j, err = s.mutateJob(ctx, jobID, func(_ context.Context, _ store.Tx, j *job.Job, now time.Time) error {
		if !j.CanCancel(actor) {
			return fmt.Errorf("%w: cancel job %s", conductor.ErrUnauthorized, jobID)
		}
		prev = j.Status
		return j.Cancel(now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("job cancelled",
		slog.String("job_id", j.ID.String()),
		slog.String("previous_status", string(prev)),
	)
	e := event.ForJob(event.JobCancelled, j.UpdatedAt, actor, j)
	e.PreviousStatus = prev
	s.sink.Emit(ctx, e)
	return j, nil
}

// UpdateProgress stores the job's progress, clamped to [0, 100]. Only the
// agent holding the lease may write it, and only while the job runs.
func (s *Service) UpdateProgress(ctx context.Context, actor conductor.Actor, jobID id.JobID, progress int) (err error) {
	ctx, span := s.startSpan(ctx, "update_progress", actor,
		attribute.String("conductor.job.id", jobID.String()),
		attribute.Int("conductor.job.progress", progress),
	)
	defer func() { endSpan(span, err) }()

	if err := s.authorize(ctx, actor, authz.OpProgress); err != nil {
		return err
	}

	j, err := s.mutateJob(ctx, jobID, func(_ context.Context, _ store.Tx, j *job.Job, now time.Time) error {
		if !j.CanUpdateProgress(actor) {
			return fmt.Errorf("%w: progress on job %s", conductor.ErrUnauthorized, jobID)
		}
		return j.SetProgress(progress, now)
	})
	if err != nil {
		return err
	}

	s.sink.Emit(ctx, event.ForJob(event.JobProgress, j.UpdatedAt, actor, j))
	return nil
}
