package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/conductor/agent"
	"github.com/xraph/conductor/client"
)

// Pool runs one agent: it registers, heartbeats, and runs concurrent
// poll loops that execute leased jobs.
type Pool struct {
	api          Conductor
	executor     *Executor
	registry     *Registry
	agentID      string
	hostname     string
	concurrency  int
	pollInterval time.Duration
	logger       *slog.Logger

	heartbeatInterval time.Duration

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent poll loops.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how long a loop sleeps after an empty poll.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool heartbeats. A zero value
// disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithHostname sets the hostname sent on registration.
func WithHostname(h string) PoolOption {
	return func(p *Pool) { p.hostname = h }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a Pool for agentID. api is normally a *client.Client
// authenticated as conductor.Agent{ID: agentID}.
func NewPool(api Conductor, agentID string, registry *Registry, opts ...PoolOption) *Pool {
	p := &Pool{
		api:               api,
		registry:          registry,
		agentID:           agentID,
		concurrency:       1,
		pollInterval:      time.Second,
		heartbeatInterval: 15 * time.Second,
		logger:            slog.Default(),
		stopCh:            make(chan struct{}),
		activeJobs:        make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.executor = NewExecutor(api, registry, p.logger)
	return p
}

// AgentID returns the pool's agent ID.
func (p *Pool) AgentID() string { return p.agentID }

// Start registers the agent with the registry's job types as its
// capabilities and launches the poll and heartbeat loops.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if _, err := p.api.RegisterAgent(ctx, agent.RegisterRequest{
		ID:           p.agentID,
		Hostname:     p.hostname,
		Capabilities: p.registry.Types(),
	}); err != nil {
		return err
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("agent_id", p.agentID),
		slog.Int("concurrency", p.concurrency),
		slog.Any("capabilities", p.registry.Types()),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.pollLoop()
	}
	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}
	return nil
}

// Stop stops polling, waits for active jobs and deregisters the agent.
// If ctx ends first, active jobs are cancelled; the server releases any
// lease still held when the agent deregisters.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("agent_id", p.agentID))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	released, err := p.api.DeregisterAgent(context.WithoutCancel(ctx), p.agentID)
	if err != nil {
		return err
	}
	if released > 0 {
		p.logger.Warn("deregistration released jobs", slog.Int("released", released))
	}
	return nil
}

func (p *Pool) pollLoop() {
	defer p.wg.Done()

	caps := p.registry.Types()
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		j, err := p.api.Poll(context.Background(), p.agentID, caps)
		if err != nil {
			if !errors.Is(err, client.ErrRateLimited) {
				p.logger.Error("poll error", slog.String("error", err.Error()))
			}
			p.sleep()
			continue
		}
		if j == nil {
			p.sleep()
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		p.trackJob(j.ID, cancel)
		_ = p.executor.Execute(ctx, j)
		p.untrackJob(j.ID)
		cancel()
	}
}

func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.api.Heartbeat(context.Background(), p.agentID); err != nil {
				p.logger.Warn("heartbeat failed",
					slog.String("agent_id", p.agentID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
