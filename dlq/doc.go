// Package dlq provides the dead letter queue for jobs that have exhausted
// their retry budget. It supports inspection, replay, and purging.
//
// When a failing job's retry count exceeds its MaxRetries, the orchestrator
// writes a [Entry] in the same transaction that marks the job failed. The
// entry preserves the payload, the last error blob, and the retry counts.
//
// # Entry
//
// A [Entry] captures:
//   - OriginalJobID / Type: original job identity
//   - Payload: the opaque payload at time of failure
//   - Error: the final error blob
//   - RetryCount / MaxRetries: exhausted retry budget
//   - OwnerID / OwnerKind: who submitted the original job
//   - FailedAt: when the terminal failure occurred
//   - ReplayedAt: set when the entry is replayed (nil if not yet replayed)
//
// # Replay
//
// [Service.Replay] enqueues a fresh pending job with the same type,
// payload, owner and retry budget, then sets ReplayedAt on the entry.
// The original failed job is left untouched.
package dlq
