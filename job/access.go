package job

import "github.com/xraph/conductor"

// OwnedBy reports whether a is the actor that created the job.
func (j *Job) OwnedBy(a conductor.Actor) bool {
	switch v := a.(type) {
	case conductor.User:
		return j.OwnerKind == conductor.KindUser && j.OwnerID == v.ID
	case conductor.Agent:
		return j.OwnerKind == conductor.KindAgent && j.OwnerID == v.ID
	default:
		return false
	}
}

// HeldBy reports whether a is the agent currently leasing the job.
func (j *Job) HeldBy(a conductor.Actor) bool {
	switch v := a.(type) {
	case conductor.Agent:
		return j.Status == StatusRunning && j.LockedBy == v.ID
	case conductor.User:
		return false
	default:
		return false
	}
}

// CanReport reports whether a may complete or fail the job: either the
// original requester or the executing agent.
func (j *Job) CanReport(a conductor.Actor) bool {
	return a == nil || j.OwnedBy(a) || j.HeldBy(a)
}

// CanCancel reports whether a may cancel the job. Only the owner may.
func (j *Job) CanCancel(a conductor.Actor) bool {
	return a == nil || j.OwnedBy(a)
}

// CanUpdateProgress reports whether a may write progress. Only the lease
// holder may.
func (j *Job) CanUpdateProgress(a conductor.Actor) bool {
	return a == nil || j.HeldBy(a)
}

// CanRead reports whether a may read the job.
func (j *Job) CanRead(a conductor.Actor) bool {
	return a == nil || j.OwnedBy(a) || j.HeldBy(a)
}
