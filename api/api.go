// Package api exposes the orchestrator over HTTP as a small JSON RPC
// surface routed with chi.
//
// The caller's identity comes from the X-Actor-Kind and X-Actor-ID
// headers, which an authenticating proxy in front of the service is
// expected to set. Requests without them are rejected unless the API was
// built with [WithTrustedAnonymous], in which case they run as internal
// callers.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/xraph/conductor/event"
	"github.com/xraph/conductor/orchestrator"
	"github.com/xraph/conductor/stream"
)

// API wires all HTTP handlers together for the orchestrator.
type API struct {
	svc     *orchestrator.Service
	logger  *slog.Logger
	polls   *pollLimiter
	maxWait time.Duration
	broker  *stream.Broker

	trustAnonymous bool
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger used for request and error logging.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithPollRate limits how often each agent may poll. A zero limit
// disables limiting.
func WithPollRate(limit rate.Limit, burst int) Option {
	return func(a *API) { a.polls = newPollLimiter(limit, burst) }
}

// WithMaxWait caps the timeout a client may request from the wait
// endpoint. Defaults to one minute.
func WithMaxWait(d time.Duration) Option {
	return func(a *API) { a.maxWait = d }
}

// WithBroker enables the server-sent event routes, fed by b. The broker
// must be subscribed to the service's event bus.
func WithBroker(b *stream.Broker) Option {
	return func(a *API) { a.broker = b }
}

// WithTrustedAnonymous treats requests without actor headers as trusted
// internal callers. Only use this behind a gateway that strips the
// headers from untrusted traffic.
func WithTrustedAnonymous() Option {
	return func(a *API) { a.trustAnonymous = true }
}

// New creates an API over svc.
func New(svc *orchestrator.Service, opts ...Option) *API {
	a := &API{
		svc:     svc,
		logger:  slog.Default(),
		polls:   newPollLimiter(0, 0),
		maxWait: time.Minute,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)

	r.Get("/healthz", a.healthz)
	r.Route("/v1", a.RegisterRoutes)
	return r
}

// RegisterRoutes registers all routes on r, relative to its mount point.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(a.withActor)

		a.registerJobRoutes(r)
		a.registerAgentRoutes(r)
		a.registerDLQRoutes(r)
		r.Get("/stats", a.stats)
		if a.broker != nil {
			r.Get("/events", a.streamEvents)
		}
	})
}

func (a *API) registerJobRoutes(r chi.Router) {
	r.Post("/jobs", a.enqueue)
	r.Get("/jobs", a.listJobs)
	r.Get("/jobs/counts", a.jobCounts)
	r.Route("/jobs/{jobID}", func(r chi.Router) {
		r.Get("/", a.getJob)
		r.Get("/wait", a.waitJob)
		r.Post("/complete", a.completeJob)
		r.Post("/fail", a.failJob)
		r.Post("/cancel", a.cancelJob)
		r.Post("/progress", a.updateProgress)
		if a.broker != nil {
			r.Get("/events", a.streamJobEvents)
		}
	})
	r.Post("/poll", a.poll)
}

func (a *API) registerAgentRoutes(r chi.Router) {
	r.Post("/agents", a.registerAgent)
	r.Get("/agents", a.listAgents)
	r.Post("/agents/sweep", a.sweepAgents)
	r.Get("/agents/{agentID}", a.getAgent)
	r.Delete("/agents/{agentID}", a.deregisterAgent)
	r.Post("/agents/{agentID}/heartbeat", a.heartbeat)
}

func (a *API) registerDLQRoutes(r chi.Router) {
	r.Get("/dlq", a.listDLQ)
	r.Delete("/dlq", a.purgeDLQ)
	r.Get("/dlq/count", a.dlqCount)
	r.Get("/dlq/{entryID}", a.getDLQ)
	r.Post("/dlq/{entryID}/replay", a.replayDLQ)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Store().Ping(r.Context()); err != nil {
		a.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// requestLogger logs one line per request through slog.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.LogAttrs(r.Context(), slog.LevelDebug, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Listener returns an event listener that drops the poll buckets of
// agents taken offline by a stale sweep or a deregistration. Subscribe it
// to the bus the service emits on.
func (a *API) Listener() event.Listener {
	return event.ListenerFunc("api-poll-limiter", func(_ context.Context, e *event.Event) error {
		if e.Sweep == nil {
			return nil
		}
		switch e.Name {
		case event.AgentsStaleCheck, event.AgentDeregistered:
			for _, id := range e.Sweep.AgentIDs {
				a.polls.forget(id)
			}
		}
		return nil
	})
}
