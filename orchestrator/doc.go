// Package orchestrator is the single entry point callers use to drive the
// job orchestration core. A [Service] composes the lease manager, agent
// registry, heartbeat monitor, retry policy and dead letter queue over one
// [store.Store], and enforces job ownership on every operation.
//
// Every job mutation runs as a locked read-modify-write inside one store
// transaction. Notifications go to the configured [event.Sink] after the
// transaction commits, so listeners never observe rolled back changes and
// a slow listener never blocks a caller.
//
// Quick start:
//
//	st := memory.New()
//	svc := orchestrator.New(st)
//
//	owner := conductor.User{ID: "u1"}
//	j, _ := svc.Enqueue(ctx, owner, orchestrator.EnqueueRequest{Type: "resize"})
//
//	worker := conductor.Agent{ID: "agent-1"}
//	claimed, _ := svc.Poll(ctx, worker, lease.Request{
//		AgentID:      "agent-1",
//		Capabilities: []string{"resize"},
//	})
//	_, _ = svc.Complete(ctx, worker, claimed.ID, []byte(`{"ok":true}`))
//
//	done, _ := svc.WaitForCompletion(ctx, owner, j.ID, orchestrator.WaitOptions{})
//
// Actors are [conductor.User] and [conductor.Agent]. A nil actor is a
// trusted internal caller, such as the heartbeat monitor or an operator
// tool, for which ownership checks do not apply.
package orchestrator
