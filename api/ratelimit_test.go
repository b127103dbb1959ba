package api

import (
	"fmt"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func (p *pollLimiter) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.agents)
}

func TestPollLimiter_PrunesFullBuckets(t *testing.T) {
	p := newPollLimiter(rate.Every(time.Hour), 1)
	if !p.allow("busy") {
		t.Fatal("first poll denied")
	}
	for i := 1; i < maxPollBuckets; i++ {
		p.agents[fmt.Sprintf("idle-%d", i)] = rate.NewLimiter(p.limit, p.burst)
	}
	if got := p.size(); got != maxPollBuckets {
		t.Fatalf("size = %d, want %d", got, maxPollBuckets)
	}

	if !p.allow("new") {
		t.Error("new agent denied")
	}
	if got := p.size(); got != 2 {
		t.Errorf("size after prune = %d, want 2", got)
	}
	if p.allow("busy") {
		t.Error("exhausted bucket was reset by prune")
	}
}

func TestPollLimiter_Forget(t *testing.T) {
	p := newPollLimiter(rate.Every(time.Hour), 1)
	p.allow("a")
	if p.allow("a") {
		t.Fatal("second poll allowed")
	}
	p.forget("a")
	if p.size() != 0 {
		t.Errorf("size = %d, want 0", p.size())
	}
	if !p.allow("a") {
		t.Error("poll after forget denied")
	}
}
