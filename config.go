package conductor

import "time"

// Config holds configuration for the orchestration core.
type Config struct {
	// StaleAgentTimeout is how long an agent may go without a heartbeat
	// before the monitor marks it offline and releases its jobs.
	StaleAgentTimeout time.Duration `json:"stale_agent_timeout" yaml:"stale_agent_timeout"`

	// SweepInterval is how often the heartbeat monitor runs.
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`

	// SweepSchedule is an optional cron expression ("@every 15s",
	// "*/1 * * * *") that overrides SweepInterval.
	SweepSchedule string `json:"sweep_schedule,omitempty" yaml:"sweep_schedule"`

	// RetryBaseDelay is the delay before the first retry of a failed job.
	// Each later retry doubles it.
	RetryBaseDelay time.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`

	// DefaultMaxRetries applies to jobs enqueued without an explicit budget.
	DefaultMaxRetries int `json:"default_max_retries" yaml:"default_max_retries"`

	// WaitPollInterval is the first delay between reads in WaitForCompletion.
	WaitPollInterval time.Duration `json:"wait_poll_interval" yaml:"wait_poll_interval"`

	// WaitMaxInterval caps the backoff between reads in WaitForCompletion.
	WaitMaxInterval time.Duration `json:"wait_max_interval" yaml:"wait_max_interval"`

	// EventBuffer is the number of notifications the event bus queues
	// before it starts dropping.
	EventBuffer int `json:"event_buffer" yaml:"event_buffer"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		StaleAgentTimeout: 60 * time.Second,
		SweepInterval:     30 * time.Second,
		RetryBaseDelay:    1 * time.Second,
		DefaultMaxRetries: 3,
		WaitPollInterval:  1 * time.Second,
		WaitMaxInterval:   10 * time.Second,
		EventBuffer:       256,
	}
}
