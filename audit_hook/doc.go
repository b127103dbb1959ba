// Package audithook bridges orchestration events to an audit trail.
//
// Every job and agent event becomes a structured [AuditEvent] passed to a
// [Recorder]. Severity follows the outcome: info for normal operations,
// warning for retries and reclaimed leases, critical for jobs that landed
// in the dead letter queue.
//
// # Usage
//
//	bus := event.NewBus(event.WithListeners(
//	    audithook.New(audithook.NewSlogRecorder(logger)),
//	))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobCancelled,
//	    ),
//	)
package audithook
