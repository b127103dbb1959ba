// Package job defines the job entity, its state machine, the ownership
// rules that gate each transition, and the store interface.
//
// # State Machine
//
//	pending → running → completed
//	pending → running → pending   (retry scheduled, or lease reclaimed)
//	pending → running → failed    (retries exhausted, dead-lettered)
//	pending → cancelled
//	running → cancelled
//
// completed, failed and cancelled are terminal. Every transition is a
// method on [Job] ([Job.Claim], [Job.Complete], [Job.ScheduleRetry],
// [Job.FailPermanently], [Job.Cancel], [Job.Release]) so that every store
// backend applies identical semantics.
//
// # Invariants
//
//   - LockedBy is set if and only if Status is running.
//   - NextRetryAt is set only while pending.
//   - Progress is in [0, 100] and only the lease holder may change it.
//
// # Ownership
//
// OwnerID/OwnerKind record who created the job. [Job.CanReport] (complete,
// fail) accepts the owner or the lease holder, [Job.CanCancel] only the
// owner, and [Job.CanUpdateProgress] only the lease holder.
package job
