package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/authz"
	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// WaitOptions controls WaitForCompletion.
type WaitOptions struct {
	// Timeout bounds the whole wait. Zero waits until ctx ends.
	Timeout time.Duration
	// Interval is the first delay between reads. Defaults to
	// Config.WaitPollInterval.
	Interval time.Duration
	// MaxInterval caps the delay between reads. Defaults to
	// Config.WaitMaxInterval.
	MaxInterval time.Duration
}

// WaitForCompletion reads the job until it reaches a terminal status and
// returns it. The delay between reads grows exponentially from Interval
// up to MaxInterval. When Timeout passes first it returns
// conductor.ErrWaitTimeout; when ctx ends it returns ctx's error.
func (s *Service) WaitForCompletion(ctx context.Context, actor conductor.Actor, jobID id.JobID, opts WaitOptions) (j *job.Job, err error) {
	ctx, span := s.startSpan(ctx, "wait_for_completion", actor, attribute.String("conductor.job.id", jobID.String()))
	defer func() { endSpan(span, err) }()

	if err := s.authorize(ctx, actor, authz.OpWait); err != nil {
		return nil, err
	}
	if opts.Interval <= 0 {
		opts.Interval = s.config.WaitPollInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = s.config.WaitMaxInterval
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, opts.Timeout, conductor.ErrWaitTimeout)
		defer cancel()
	}

	delays := backoff.NewExponential(opts.Interval, opts.MaxInterval)
	for attempt := 1; ; attempt++ {
		j, err = s.readJob(ctx, actor, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, waitErr(ctx)
			}
			return nil, err
		}
		if j.Status.Terminal() {
			span.SetAttributes(attribute.String("conductor.job.status", string(j.Status)))
			return j, nil
		}

		timer := time.NewTimer(delays.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Debug("stopped waiting for job",
				slog.String("job_id", jobID.String()),
				slog.String("status", string(j.Status)),
			)
			return nil, waitErr(ctx)
		case <-timer.C:
		}
	}
}

func waitErr(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, conductor.ErrWaitTimeout) {
		return conductor.ErrWaitTimeout
	}
	if cause != nil {
		return cause
	}
	return ctx.Err()
}
