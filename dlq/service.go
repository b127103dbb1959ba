package dlq

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
	clock    conductor.Clock
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source.
func WithClock(c conductor.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		jobStore: jobStore,
		clock:    conductor.SystemClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push snapshots a permanently failed job outside of a transaction.
// The orchestrator writes entries inside the failing transaction instead;
// Push serves imports and tooling.
func (s *Service) Push(ctx context.Context, j *job.Job) (*Entry, error) {
	entry := NewEntry(j, s.clock.Now())
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns entries matching opts.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Get returns one entry.
func (s *Service) Get(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	return s.store.GetDLQ(ctx, entryID)
}

// Count returns the number of entries.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountDLQ(ctx)
}

// Purge removes entries that failed before the given time.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.store.PurgeDLQ(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("dead letters purged",
			slog.Int64("count", n),
			slog.Time("before", before),
		)
	}
	return n, nil
}
