// Package monitor reclaims leases held by agents that stopped
// heartbeating.
//
// A sweep marks every online agent whose last heartbeat is older than the
// stale timeout offline and, in the same transaction, returns the running
// jobs those agents hold to pending. Reclaiming a lease does not count as
// a failed attempt: retry counts are untouched. Sweeps are idempotent and
// safe to run concurrently from several processes.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/agent"
	"github.com/xraph/conductor/event"
	"github.com/xraph/conductor/store"
)

// DefaultTimeout is the stale timeout used when none is configured.
const DefaultTimeout = 60 * time.Second

// schedParser supports standard 5-field cron and descriptors like "@every 30s".
var schedParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a sweep schedule expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	s, err := schedParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: sweep schedule %q: %v", conductor.ErrInvalidInput, expr, err)
	}
	return s, nil
}

// Monitor runs stale-agent sweeps.
type Monitor struct {
	store    store.Store
	sink     event.Sink
	clock    conductor.Clock
	logger   *slog.Logger
	timeout  time.Duration
	interval time.Duration
	schedule cronlib.Schedule
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithTimeout sets the default stale timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithInterval sets how often Run sweeps.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithSchedule makes Run follow a cron schedule instead of a fixed
// interval.
func WithSchedule(s cronlib.Schedule) Option {
	return func(m *Monitor) { m.schedule = s }
}

// WithEventSink sets where agents.stale_check notifications go.
func WithEventSink(s event.Sink) Option {
	return func(m *Monitor) { m.sink = s }
}

// WithClock sets the time source.
func WithClock(c conductor.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a Monitor over the given store.
func New(s store.Store, opts ...Option) *Monitor {
	m := &Monitor{
		store:    s,
		sink:     event.Nop{},
		clock:    conductor.SystemClock{},
		logger:   slog.Default(),
		timeout:  DefaultTimeout,
		interval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckStaleAgents marks agents whose heartbeat is older than timeout
// offline and releases their running jobs, all in one transaction.
// A non-positive timeout uses the monitor's default. When no agent is
// stale it returns a zero result without touching jobs.
func (m *Monitor) CheckStaleAgents(ctx context.Context, timeout time.Duration) (agent.SweepResult, error) {
	if timeout <= 0 {
		timeout = m.timeout
	}
	now := m.clock.Now()
	cutoff := now.Add(-timeout)

	var res agent.SweepResult
	err := m.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ids, err := tx.MarkAgentsOffline(ctx, cutoff, now)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		released, err := tx.ReleaseJobs(ctx, ids, now)
		if err != nil {
			return err
		}
		res = agent.SweepResult{
			OfflineAgents: len(ids),
			ReleasedJobs:  released,
			AgentIDs:      ids,
		}
		return nil
	})
	if err != nil {
		return agent.SweepResult{}, fmt.Errorf("check stale agents: %w", err)
	}

	if res.OfflineAgents > 0 {
		m.logger.Warn("stale agents marked offline",
			slog.Int("offline_agents", res.OfflineAgents),
			slog.Int("released_jobs", res.ReleasedJobs),
			slog.Any("agent_ids", res.AgentIDs),
		)
		e := event.New(event.AgentsStaleCheck, now)
		sweep := res
		e.Sweep = &sweep
		m.sink.Emit(ctx, e)
	}
	return res, nil
}

// Run sweeps on the configured schedule (or interval) until ctx ends.
// Sweep errors are logged and the loop continues.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("heartbeat monitor started",
		slog.Duration("timeout", m.timeout),
		slog.Duration("interval", m.interval),
	)
	defer m.logger.Info("heartbeat monitor stopped")

	for {
		wait := m.nextWait()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			if _, err := m.CheckStaleAgents(ctx, m.timeout); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.logger.Error("stale agent sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (m *Monitor) nextWait() time.Duration {
	if m.schedule == nil {
		return m.interval
	}
	now := m.clock.Now()
	if d := m.schedule.Next(now).Sub(now); d > 0 {
		return d
	}
	return time.Second
}
