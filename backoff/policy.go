package backoff

import "time"

// Decision is the outcome of a failed attempt.
type Decision struct {
	// Retry is true when the job goes back to pending. False means it is
	// permanently failed and must be dead-lettered.
	Retry bool
	// RetryCount is the job's retry count after this failure.
	RetryCount int
	// Delay is the wait before the job becomes eligible again. Zero when
	// Retry is false.
	Delay time.Duration
	// NextRetryAt is now + Delay. Zero when Retry is false.
	NextRetryAt time.Time
}

// Policy maps a failed attempt to a Decision.
type Policy struct {
	strategy Strategy
}

// NewPolicy returns a Policy whose first retry waits base and each later
// retry doubles the previous wait.
func NewPolicy(base time.Duration) *Policy {
	return &Policy{strategy: NewExponential(base, 0)}
}

// NewPolicyWithStrategy returns a Policy that delays retries with s.
func NewPolicyWithStrategy(s Strategy) *Policy {
	return &Policy{strategy: s}
}

// Decide computes the transition for a job that failed with retryCount
// prior failures and a budget of maxRetries. The job retries while the
// incremented count stays within the budget. The delay exponent uses the
// count before the increment: the first retry waits base, the second
// 2*base, the third 4*base.
func (p *Policy) Decide(retryCount, maxRetries int, now time.Time) Decision {
	next := retryCount + 1
	if next > maxRetries {
		return Decision{RetryCount: next}
	}
	d := p.strategy.Delay(retryCount + 1)
	return Decision{
		Retry:       true,
		RetryCount:  next,
		Delay:       d,
		NextRetryAt: now.Add(d),
	}
}
