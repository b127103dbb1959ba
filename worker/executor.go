// Package worker is an agent runtime for conductor. A Pool registers an
// agent, heartbeats on its behalf, polls for jobs matching its registered
// handlers and reports each outcome through an Executor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/agent"
	"github.com/xraph/conductor/client"
)

// Conductor is the subset of the conductor API an agent needs.
// *client.Client implements it.
type Conductor interface {
	RegisterAgent(ctx context.Context, req agent.RegisterRequest) (*agent.Agent, error)
	Heartbeat(ctx context.Context, agentID string) error
	DeregisterAgent(ctx context.Context, agentID string) (int, error)
	Poll(ctx context.Context, agentID string, capabilities []string) (*client.Job, error)
	Complete(ctx context.Context, jobID string, result any) (*client.Job, error)
	Fail(ctx context.Context, jobID string, jobErr any) (*client.Job, error)
	UpdateProgress(ctx context.Context, jobID string, progress int) error
}

var _ Conductor = (*client.Client)(nil)

// Handler executes one job. The returned bytes become the job result; a
// non-nil error fails the attempt and its message becomes the job error.
type Handler func(ctx context.Context, j *client.Job) ([]byte, error)

// Registry maps job types to handlers. The registered types are the
// agent's capabilities.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for jobType.
func (r *Registry) Register(jobType string, h Handler) {
	r.mu.Lock()
	r.handlers[jobType] = h
	r.mu.Unlock()
}

// Get returns the handler for jobType.
func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns the registered job types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// ErrNoHandler is reported as the job error when an agent leases a job
// type it has no handler for.
var ErrNoHandler = errors.New("worker: no handler registered")

type progressKey struct{}

type progressReporter func(ctx context.Context, progress int) error

// ReportProgress records progress for the job running in ctx. It is a
// no-op outside a handler.
func ReportProgress(ctx context.Context, progress int) error {
	report, ok := ctx.Value(progressKey{}).(progressReporter)
	if !ok {
		return nil
	}
	return report(ctx, progress)
}

// Executor runs a leased job through its handler and reports the outcome.
type Executor struct {
	api      Conductor
	registry *Registry
	logger   *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(api Conductor, registry *Registry, logger *slog.Logger) *Executor {
	return &Executor{api: api, registry: registry, logger: logger}
}

// Execute runs j and reports completion or failure. Handler panics are
// recovered and reported as failures. The returned error is the handler
// error, or the error from reporting the outcome.
func (e *Executor) Execute(ctx context.Context, j *client.Job) error {
	start := time.Now()
	ctx = context.WithValue(ctx, progressKey{}, progressReporter(func(ctx context.Context, p int) error {
		return e.api.UpdateProgress(ctx, j.ID, p)
	}))

	result, handlerErr := e.run(ctx, j)
	elapsed := time.Since(start)

	// Report with a fresh context so a cancelled job still gets an outcome.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if handlerErr != nil {
		updated, err := e.api.Fail(reportCtx, j.ID, handlerErr)
		if err != nil {
			e.reportErr("failed to report job failure", j, err)
			return err
		}
		e.logger.Warn("job failed",
			slog.String("job_id", j.ID),
			slog.String("job_type", j.Type),
			slog.String("status", string(updated.Status)),
			slog.Int("retry_count", updated.RetryCount),
			slog.String("error", handlerErr.Error()),
		)
		return handlerErr
	}

	if _, err := e.api.Complete(reportCtx, j.ID, result); err != nil {
		e.reportErr("failed to report job completion", j, err)
		return err
	}
	e.logger.Debug("job completed",
		slog.String("job_id", j.ID),
		slog.String("job_type", j.Type),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

// reportErr logs a rejected outcome report. Jobs cancelled or released by
// a stale sweep while running are rejected too; those log at Warn.
func (e *Executor) reportErr(msg string, j *client.Job, err error) {
	if superseded(err) {
		e.logger.Warn("job outcome discarded: lease no longer held",
			slog.String("job_id", j.ID),
			slog.String("job_type", j.Type),
			slog.String("error", err.Error()),
		)
		return
	}
	e.logger.Error(msg,
		slog.String("job_id", j.ID),
		slog.String("error", err.Error()),
	)
}

func superseded(err error) bool {
	return errors.Is(err, conductor.ErrUnauthorized) ||
		errors.Is(err, conductor.ErrInvalidState) ||
		errors.Is(err, conductor.ErrJobNotFound)
}

func (e *Executor) run(ctx context.Context, j *client.Job) (result []byte, err error) {
	h, ok := e.registry.Get(j.Type)
	if !ok {
		return nil, fmt.Errorf("%w for job type %q", ErrNoHandler, j.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("job handler panicked",
				slog.String("job_id", j.ID),
				slog.String("job_type", j.Type),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, j)
}
