// Package stream fans orchestration events out to live subscribers such
// as server-sent event connections. A [Broker] is an event.Listener; each
// [Subscriber] receives the envelopes published on its topics.
//
// Topics:
//
//	firehose       every event
//	jobs           every job event
//	agents         every agent event
//	job:<jobID>    events about one job
//	agent:<id>     events about one agent
package stream
