// Package conductor is the job orchestration core: heterogeneous worker
// agents lease units of work from a shared store-backed queue, report
// progress and outcome, and are recovered from automatically when they
// stop heartbeating.
//
// The store is the queue. Every mutating operation is a single atomic
// store transaction, so any number of API servers and agents may share one
// database.
//
// # Quick Start
//
//	bus := event.NewBus(event.WithLogger(logger))
//	svc := orchestrator.New(memory.New(),
//	    orchestrator.WithLogger(logger),
//	    orchestrator.WithEventSink(bus),
//	)
//
//	builder := conductor.Agent{ID: "builder-7"}
//	a, _ := svc.RegisterAgent(ctx, builder, agent.RegisterRequest{
//	    Hostname:     "builder-7.local",
//	    Capabilities: []string{"build", "test"},
//	})
//	j, _ := svc.Poll(ctx, builder, lease.Request{
//	    AgentID:      a.ID,
//	    Capabilities: a.Capabilities,
//	})
//
// Out-of-process agents use package client over the HTTP API in package
// api, or the ready-made polling runtime in package worker.
//
// # Architecture
//
// Each subsystem (job, agent, dlq) defines its entity and its own store
// interface. The composite store.Store embeds them all and adds a
// transactional [store.Tx] used for read-check-write operations. The
// orchestrator package composes the lease manager, retry policy, agent
// registry and heartbeat monitor into the façade that callers use.
//
// Job and dead-letter IDs use TypeID: type-prefixed, K-sortable,
// UUIDv7-based identifiers.
package conductor
