// Package authz decides, before the core runs, whether an actor may invoke
// an operation at all. It is coarse-grained: per-job ownership and lease
// checks still happen inside the core's transactions.
package authz

import (
	"context"
	"fmt"
	"slices"

	"github.com/xraph/conductor"
)

// Operation names an orchestration operation.
type Operation string

// Operations.
const (
	OpEnqueue         Operation = "job:enqueue"
	OpGetJob          Operation = "job:read"
	OpListJobs        Operation = "job:list"
	OpPoll            Operation = "job:poll"
	OpComplete        Operation = "job:complete"
	OpFail            Operation = "job:fail"
	OpCancel          Operation = "job:cancel"
	OpProgress        Operation = "job:progress"
	OpWait            Operation = "job:wait"
	OpRegisterAgent   Operation = "agent:register"
	OpHeartbeat       Operation = "agent:heartbeat"
	OpDeregisterAgent Operation = "agent:deregister"
	OpListAgents      Operation = "agent:list"
	OpSweep           Operation = "agent:sweep"
	OpDLQRead         Operation = "dlq:read"
	OpDLQReplay       Operation = "dlq:replay"
	OpDLQPurge        Operation = "dlq:purge"

	// OpAll is the wildcard granting every operation.
	OpAll Operation = "*"
)

// Guard authorizes an actor for an operation. A nil actor is an internal
// caller; guards must allow it.
type Guard interface {
	Authorize(ctx context.Context, actor conductor.Actor, op Operation) error
}

// AllowAll permits every operation.
type AllowAll struct{}

// Authorize implements Guard.
func (AllowAll) Authorize(context.Context, conductor.Actor, Operation) error { return nil }

// Policy grants operations per actor kind. Unlisted combinations are
// denied with conductor.ErrUnauthorized.
type Policy struct {
	grants map[conductor.ActorKind][]Operation
}

var _ Guard = (*Policy)(nil)

// NewPolicy returns an empty Policy that denies everything except
// internal callers.
func NewPolicy() *Policy {
	return &Policy{grants: make(map[conductor.ActorKind][]Operation)}
}

// Allow grants ops to every actor of the given kind.
func (p *Policy) Allow(kind conductor.ActorKind, ops ...Operation) *Policy {
	p.grants[kind] = append(p.grants[kind], ops...)
	return p
}

// Authorize implements Guard.
func (p *Policy) Authorize(_ context.Context, actor conductor.Actor, op Operation) error {
	if actor == nil {
		return nil
	}
	granted := p.grants[actor.Kind()]
	if slices.Contains(granted, OpAll) || slices.Contains(granted, op) {
		return nil
	}
	return fmt.Errorf("%w: %s %s may not %s", conductor.ErrUnauthorized, actor.Kind(), actor.ActorID(), op)
}

// DefaultPolicy lets users submit, inspect, cancel and report on their
// jobs and manage dead letters, and lets agents register, heartbeat,
// poll and report. Sweeping and purging are left to internal callers.
func DefaultPolicy() *Policy {
	return NewPolicy().
		Allow(conductor.KindUser,
			OpEnqueue, OpGetJob, OpListJobs, OpPoll, OpComplete, OpFail,
			OpCancel, OpWait, OpListAgents, OpDLQRead, OpDLQReplay,
		).
		Allow(conductor.KindAgent,
			OpEnqueue, OpGetJob, OpPoll, OpComplete, OpFail, OpProgress,
			OpWait, OpRegisterAgent, OpHeartbeat, OpDeregisterAgent,
		)
}
