package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxPollBuckets is the bucket count past which allow prunes idle buckets.
const maxPollBuckets = 1024

// pollLimiter keeps one token bucket per agent.
type pollLimiter struct {
	limit rate.Limit
	burst int

	mu     sync.Mutex
	agents map[string]*rate.Limiter
}

func newPollLimiter(limit rate.Limit, burst int) *pollLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &pollLimiter{
		limit:  limit,
		burst:  burst,
		agents: make(map[string]*rate.Limiter),
	}
}

// allow reports whether agentID may poll now.
func (p *pollLimiter) allow(agentID string) bool {
	if p.limit <= 0 {
		return true
	}
	p.mu.Lock()
	l, ok := p.agents[agentID]
	if !ok {
		if len(p.agents) >= maxPollBuckets {
			p.pruneLocked()
		}
		l = rate.NewLimiter(p.limit, p.burst)
		p.agents[agentID] = l
	}
	p.mu.Unlock()
	return l.Allow()
}

// forget drops the bucket of a departed agent.
func (p *pollLimiter) forget(agentID string) {
	p.mu.Lock()
	delete(p.agents, agentID)
	p.mu.Unlock()
}

// pruneLocked drops buckets that have refilled to burst. A full bucket
// behaves exactly like a new one, so dropping it changes no decision.
func (p *pollLimiter) pruneLocked() {
	for id, l := range p.agents {
		if l.Tokens() >= float64(p.burst) {
			delete(p.agents, id)
		}
	}
}
