// Package agent defines the worker agent entity, its store interface, and
// the [Registry] that records registrations and heartbeats.
//
// Registration is an upsert keyed by agent ID: re-registering an existing
// agent replaces its hostname and capabilities and marks it online.
// Registering without an ID always creates a new agent with a generated
// "agt_" ID.
//
// Heartbeats from unknown agents are logged and ignored so that the
// opportunistic heartbeat issued by a poll never breaks the poll.
// Agents only go offline through the heartbeat monitor or an explicit
// deregistration, both of which release the agent's leases atomically.
package agent
