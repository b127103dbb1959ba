package relayhook

import "github.com/xraph/conductor/event"

// DefaultPrefix is prepended to event names to form channel names.
const DefaultPrefix = "conductor"

// Topic describes one published channel.
type Topic struct {
	Event       string
	Description string
	Group       string
}

// Channel returns the channel name for an event under prefix.
func Channel(prefix, eventName string) string {
	if prefix == "" {
		return eventName
	}
	return prefix + "." + eventName
}

// AllTopics returns a description of every event this hook can publish.
func AllTopics() []Topic {
	return []Topic{
		// ── Job events ──────────────────────────────────
		{Event: event.JobEnqueued, Description: "A job was submitted and is waiting for an agent.", Group: "jobs"},
		{Event: event.JobClaimed, Description: "An agent leased a job.", Group: "jobs"},
		{Event: event.JobCompleted, Description: "A job finished successfully.", Group: "jobs"},
		{Event: event.JobFailed, Description: "A job exhausted its retries and was dead-lettered.", Group: "jobs"},
		{Event: event.JobRetryScheduled, Description: "A failed job was rescheduled with backoff.", Group: "jobs"},
		{Event: event.JobCancelled, Description: "A job was cancelled by its owner.", Group: "jobs"},
		{Event: event.JobProgress, Description: "An agent reported progress on a running job.", Group: "jobs"},

		// ── Agent events ────────────────────────────────
		{Event: event.AgentRegistered, Description: "An agent registered or refreshed its capabilities.", Group: "agents"},
		{Event: event.AgentDeregistered, Description: "An agent left and its jobs were released.", Group: "agents"},
		{Event: event.AgentsStaleCheck, Description: "A heartbeat sweep marked silent agents offline.", Group: "agents"},
	}
}
