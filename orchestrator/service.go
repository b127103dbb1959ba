package orchestrator

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/agent"
	"github.com/xraph/conductor/authz"
	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/event"
	"github.com/xraph/conductor/lease"
	"github.com/xraph/conductor/monitor"
	"github.com/xraph/conductor/store"
)

// tracerName is the instrumentation scope name for orchestration spans.
const tracerName = "github.com/xraph/conductor"

// Service is the orchestration façade. Every caller-facing operation goes
// through it; it composes the lease manager, agent registry, heartbeat
// monitor, retry policy and dead letter queue over one store.
type Service struct {
	store   store.Store
	config  conductor.Config
	clock   conductor.Clock
	logger  *slog.Logger
	sink    event.Sink
	guard   authz.Guard
	policy  *backoff.Policy
	tracer  trace.Tracer
	tracerP trace.TracerProvider

	leases  *lease.Manager
	agents  *agent.Registry
	monitor *monitor.Monitor
	dlq     *dlq.Service
}

// Option configures a Service.
type Option func(*Service)

// WithConfig sets the service configuration.
func WithConfig(cfg conductor.Config) Option {
	return func(s *Service) { s.config = cfg }
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the time source shared by every component.
func WithClock(c conductor.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithEventSink sets where notifications go. Defaults to discarding them.
func WithEventSink(sink event.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithGuard sets the coarse-grained authorization guard. Defaults to
// authz.AllowAll; ownership checks run regardless.
func WithGuard(g authz.Guard) Option {
	return func(s *Service) { s.guard = g }
}

// WithRetryPolicy overrides the retry policy derived from the config.
func WithRetryPolicy(p *backoff.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithTracerProvider sets a custom OTel TracerProvider.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerP = tp }
}

// New creates a Service over the given store.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		config: conductor.DefaultConfig(),
		clock:  conductor.SystemClock{},
		logger: slog.Default(),
		sink:   event.Nop{},
		guard:  authz.AllowAll{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.policy == nil {
		s.policy = backoff.NewPolicy(s.config.RetryBaseDelay)
	}
	tp := s.tracerP
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	s.tracer = tp.Tracer(tracerName)

	s.agents = agent.NewRegistry(st,
		agent.WithClock(s.clock),
		agent.WithLogger(s.logger),
	)
	s.leases = lease.NewManager(st,
		lease.WithHeartbeater(s.agents),
		lease.WithEventSink(s.sink),
		lease.WithClock(s.clock),
		lease.WithLogger(s.logger),
	)
	monOpts := []monitor.Option{
		monitor.WithTimeout(s.config.StaleAgentTimeout),
		monitor.WithInterval(s.config.SweepInterval),
		monitor.WithEventSink(s.sink),
		monitor.WithClock(s.clock),
		monitor.WithLogger(s.logger),
	}
	if s.config.SweepSchedule != "" {
		if sched, err := monitor.ParseSchedule(s.config.SweepSchedule); err != nil {
			s.logger.Warn("ignoring invalid sweep schedule",
				slog.String("schedule", s.config.SweepSchedule),
				slog.String("error", err.Error()),
			)
		} else {
			monOpts = append(monOpts, monitor.WithSchedule(sched))
		}
	}
	s.monitor = monitor.New(st, monOpts...)
	s.dlq = dlq.NewService(st, st,
		dlq.WithClock(s.clock),
		dlq.WithLogger(s.logger),
	)
	return s
}

// Store returns the underlying store.
func (s *Service) Store() store.Store { return s.store }

// Config returns a copy of the service configuration.
func (s *Service) Config() conductor.Config { return s.config }

// Monitor returns the heartbeat monitor, for running periodic sweeps.
func (s *Service) Monitor() *monitor.Monitor { return s.monitor }

// RunMonitor runs periodic stale-agent sweeps until ctx ends.
func (s *Service) RunMonitor(ctx context.Context) error {
	return s.monitor.Run(ctx)
}

func (s *Service) authorize(ctx context.Context, actor conductor.Actor, op authz.Operation) error {
	return s.guard.Authorize(ctx, actor, op)
}
