package audithook

import "github.com/xraph/conductor/event"

// Audit event actions. Each constant is the event name it records.
const (
	ActionJobEnqueued       = event.JobEnqueued
	ActionJobClaimed        = event.JobClaimed
	ActionJobCompleted      = event.JobCompleted
	ActionJobFailed         = event.JobFailed
	ActionJobRetryScheduled = event.JobRetryScheduled
	ActionJobCancelled      = event.JobCancelled
	ActionJobProgress       = event.JobProgress
	ActionAgentRegistered   = event.AgentRegistered
	ActionAgentDeregistered = event.AgentDeregistered
	ActionAgentsStaleCheck  = event.AgentsStaleCheck
)

// Audit event categories group related actions.
const (
	CategoryJob   = "conductor.job"
	CategoryAgent = "conductor.agent"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob   = "job"
	ResourceAgent = "agent"
)

// AllActions returns every action this listener can record.
func AllActions() []string {
	return event.Names()
}
