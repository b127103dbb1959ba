package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/authz"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/event"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// canSeeEntry mirrors job ownership for dead letters: users see their
// own entries, agents none, internal callers all.
func canSeeEntry(actor conductor.Actor, e *dlq.Entry) bool {
	switch a := actor.(type) {
	case nil:
		return true
	case conductor.User:
		return e.OwnerKind == conductor.KindUser && e.OwnerID == a.ID
	default:
		return false
	}
}

// ListDeadLetters returns dead letter entries. User actors only see
// entries for jobs they owned.
func (s *Service) ListDeadLetters(ctx context.Context, actor conductor.Actor, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	if err := s.authorize(ctx, actor, authz.OpDLQRead); err != nil {
		return nil, err
	}
	switch a := actor.(type) {
	case conductor.User:
		opts.OwnerID = a.ID
	case conductor.Agent:
		return nil, fmt.Errorf("%w: agents cannot read dead letters", conductor.ErrUnauthorized)
	}
	return s.dlq.List(ctx, opts)
}

// GetDeadLetter returns one dead letter entry.
func (s *Service) GetDeadLetter(ctx context.Context, actor conductor.Actor, entryID id.DLQID) (*dlq.Entry, error) {
	if err := s.authorize(ctx, actor, authz.OpDLQRead); err != nil {
		return nil, err
	}
	e, err := s.dlq.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if !canSeeEntry(actor, e) {
		return nil, fmt.Errorf("%w: read dead letter %s", conductor.ErrUnauthorized, entryID)
	}
	return e, nil
}

// ReplayDeadLetter re-enqueues a dead lettered job as a fresh pending job
// with the original owner, type, payload and retry budget.
func (s *Service) ReplayDeadLetter(ctx context.Context, actor conductor.Actor, entryID id.DLQID) (j *job.Job, err error) {
	ctx, span := s.startSpan(ctx, "replay_dead_letter", actor, attribute.String("conductor.dlq.id", entryID.String()))
	defer func() { endSpan(span, err) }()

	if err := s.authorize(ctx, actor, authz.OpDLQReplay); err != nil {
		return nil, err
	}
	e, err := s.dlq.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if !canSeeEntry(actor, e) {
		return nil, fmt.Errorf("%w: replay dead letter %s", conductor.ErrUnauthorized, entryID)
	}

	j, err = s.dlq.Replay(ctx, entryID)
	if j != nil {
		s.sink.Emit(ctx, event.ForJob(event.JobEnqueued, j.CreatedAt, actor, j))
	}
	return j, err
}

// PurgeDeadLetters removes entries that failed before the given time.
// Only internal callers may purge.
func (s *Service) PurgeDeadLetters(ctx context.Context, actor conductor.Actor, before time.Time) (int64, error) {
	if err := s.authorize(ctx, actor, authz.OpDLQPurge); err != nil {
		return 0, err
	}
	if actor != nil {
		return 0, fmt.Errorf("%w: purge dead letters", conductor.ErrUnauthorized)
	}
	return s.dlq.Purge(ctx, before)
}

// CountDeadLetters returns the number of dead letter entries.
func (s *Service) CountDeadLetters(ctx context.Context) (int64, error) {
	return s.dlq.Count(ctx)
}
