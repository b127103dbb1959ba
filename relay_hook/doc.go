// Package relayhook forwards orchestration events to Redis pub/sub so
// processes outside the orchestrator (dashboards, webhook senders,
// agents waiting on a job) can follow job and agent lifecycle changes.
//
// Each event is encoded with an [event.Codec] and published on a
// per-event channel, e.g. "conductor.job.completed".
//
// Usage:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	bus := event.NewBus(event.WithListeners(relayhook.New(rdb)))
//
// To restrict which events are published:
//
//	hook := relayhook.New(rdb,
//	    relayhook.WithEvents(event.JobCompleted, event.JobFailed),
//	    relayhook.WithCodec(&event.MsgpackCodec{}),
//	)
package relayhook
