package job

import (
	"fmt"
	"time"

	"github.com/xraph/conductor"
)

// Progress bounds.
const (
	MinProgress = 0
	MaxProgress = 100
)

// MaxRetriesLimit is the largest retry budget a job may carry. Retry
// delays double, so the last retry of a larger budget would be scheduled
// centuries ahead.
const MaxRetriesLimit = 30

// transitions lists every legal status change.
var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled, StatusCompleted, StatusFailed, StatusPending},
	StatusRunning: {StatusCompleted, StatusPending, StatusFailed, StatusCancelled},
}

// CanTransition reports whether a job may move from one status to another.
// Completing or failing a job that was never claimed is allowed, as is a
// PENDING→PENDING retry reschedule.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (j *Job) transition(to Status, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: job %s %s -> %s", conductor.ErrInvalidState, j.ID, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = now
	return nil
}

func (j *Job) clearLease() {
	j.LockedBy = ""
	j.LockedAt = nil
}

// Eligible reports whether j may be claimed under opts at opts.Now.
func (j *Job) Eligible(opts ClaimOpts) bool {
	if j.Status != StatusPending {
		return false
	}
	if j.NextRetryAt != nil && j.NextRetryAt.After(opts.Now) {
		return false
	}
	if opts.OwnerID != "" && j.OwnerID != opts.OwnerID {
		return false
	}
	for _, t := range opts.Types {
		if t == j.Type {
			return true
		}
	}
	return false
}

// Claim leases the job to agentID.
func (j *Job) Claim(agentID string, now time.Time) error {
	if j.Status != StatusPending {
		return fmt.Errorf("%w: job %s is %s, not pending", conductor.ErrInvalidState, j.ID, j.Status)
	}
	if err := j.transition(StatusRunning, now); err != nil {
		return err
	}
	t := now
	j.LockedBy = agentID
	j.LockedAt = &t
	j.StartedAt = &t
	j.NextRetryAt = nil
	return nil
}

// Complete records a successful outcome.
func (j *Job) Complete(result []byte, now time.Time) error {
	if err := j.transition(StatusCompleted, now); err != nil {
		return err
	}
	t := now
	j.Result = result
	j.CompletedAt = &t
	j.Progress = MaxProgress
	j.NextRetryAt = nil
	j.clearLease()
	return nil
}

// ScheduleRetry returns the job to the pool after a failed attempt. The
// caller has already decided that the retry budget allows it.
func (j *Job) ScheduleRetry(errBlob []byte, retryCount int, at time.Time, now time.Time) error {
	if err := j.transition(StatusPending, now); err != nil {
		return err
	}
	t := at
	j.RetryCount = retryCount
	j.NextRetryAt = &t
	j.Error = errBlob
	j.clearLease()
	return nil
}

// FailPermanently records that the job exhausted its retry budget.
func (j *Job) FailPermanently(errBlob []byte, retryCount int, now time.Time) error {
	if err := j.transition(StatusFailed, now); err != nil {
		return err
	}
	t := now
	j.RetryCount = retryCount
	j.Error = errBlob
	j.CompletedAt = &t
	j.Progress = MinProgress
	j.NextRetryAt = nil
	j.clearLease()
	return nil
}

// Cancel stops the job cooperatively: an agent already executing it learns
// of the cancellation on its next status read.
func (j *Job) Cancel(now time.Time) error {
	if j.Status != StatusPending && j.Status != StatusRunning {
		return fmt.Errorf("%w: job %s is %s", conductor.ErrNotCancellable, j.ID, j.Status)
	}
	if err := j.transition(StatusCancelled, now); err != nil {
		return err
	}
	t := now
	j.CompletedAt = &t
	j.NextRetryAt = nil
	j.clearLease()
	return nil
}

// Release returns a RUNNING job to the pool without counting an attempt.
func (j *Job) Release(now time.Time) error {
	if j.Status != StatusRunning {
		return fmt.Errorf("%w: job %s is %s, not running", conductor.ErrInvalidState, j.ID, j.Status)
	}
	if err := j.transition(StatusPending, now); err != nil {
		return err
	}
	j.clearLease()
	return nil
}

// SetProgress stores p clamped to [MinProgress, MaxProgress].
func (j *Job) SetProgress(p int, now time.Time) error {
	if j.Status != StatusRunning {
		return fmt.Errorf("%w: progress on %s job %s", conductor.ErrInvalidState, j.Status, j.ID)
	}
	j.Progress = ClampProgress(p)
	j.UpdatedAt = now
	return nil
}

// ClampProgress bounds p to [MinProgress, MaxProgress].
func ClampProgress(p int) int {
	return min(max(p, MinProgress), MaxProgress)
}

// CheckInvariants verifies the structural invariants that every stored
// job must satisfy.
func (j *Job) CheckInvariants() error {
	switch {
	case !j.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", conductor.ErrInvalidState, j.Status)
	case (j.LockedBy != "") != (j.Status == StatusRunning):
		return fmt.Errorf("%w: locked_by %q with status %s", conductor.ErrInvalidState, j.LockedBy, j.Status)
	case j.NextRetryAt != nil && j.Status != StatusPending:
		return fmt.Errorf("%w: next_retry_at set with status %s", conductor.ErrInvalidState, j.Status)
	case j.Progress < MinProgress || j.Progress > MaxProgress:
		return fmt.Errorf("%w: progress %d out of range", conductor.ErrInvalidState, j.Progress)
	case j.RetryCount < 0 || j.MaxRetries < 0:
		return fmt.Errorf("%w: negative retry counters", conductor.ErrInvalidState)
	case j.Status != StatusFailed && j.RetryCount > j.MaxRetries:
		return fmt.Errorf("%w: retry_count %d exceeds max_retries %d", conductor.ErrInvalidState, j.RetryCount, j.MaxRetries)
	}
	return nil
}
