package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/agent"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/store"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
// Every value handed in or out is copied, so callers never share memory
// with the store.
type Store struct {
	mu sync.RWMutex

	jobs   map[string]*job.Job
	agents map[string]*agent.Agent
	dlqs   map[string]*dlq.Entry
	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:   make(map[string]*job.Job),
		agents: make(map[string]*agent.Agent),
		dlqs:   make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping fails only after Close.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return conductor.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Every later call fails with
// ErrStoreClosed; the data is kept.
func (m *Store) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return conductor.ErrStoreClosed
	}

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return conductor.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, conductor.ErrStoreClosed
	}

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, conductor.ErrJobNotFound
	}
	return j.Clone(), nil
}

// ListJobs returns jobs matching opts ordered by creation time.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, conductor.ErrStoreClosed
	}

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.OwnerID != "" && j.OwnerID != opts.OwnerID {
			continue
		}
		if opts.LockedBy != "" && j.LockedBy != opts.LockedBy {
			continue
		}
		result = append(result, j.Clone())
	}
	sortFIFO(result)
	return paginate(result, opts.Offset, opts.Limit), nil
}

// CountJobs returns the number of jobs matching opts.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, conductor.ErrStoreClosed
	}

	var n int64
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		n++
	}
	return n, nil
}

// ClaimJob leases the oldest eligible job under the store's write lock,
// so selection and update are one atomic step.
func (m *Store) ClaimJob(_ context.Context, opts job.ClaimOpts) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, conductor.ErrStoreClosed
	}

	var best *job.Job
	for _, j := range m.jobs {
		if !j.Eligible(opts) {
			continue
		}
		if best == nil || fifoLess(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	if err := best.Claim(opts.AgentID, opts.Now); err != nil {
		return nil, err
	}
	return best.Clone(), nil
}

func fifoLess(a, b *job.Job) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.Less(b.ID)
}

func sortFIFO(js []*job.Job) {
	sort.Slice(js, func(i, k int) bool { return fifoLess(js[i], js[k]) })
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// ──────────────────────────────────────────────────
// Agent Store
// ──────────────────────────────────────────────────

// UpsertAgent creates or replaces an agent, keeping CreatedAt.
func (m *Store) UpsertAgent(_ context.Context, a *agent.Agent) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, conductor.ErrStoreClosed
	}

	cp := a.Clone()
	if existing, ok := m.agents[a.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	m.agents[a.ID] = cp
	return cp.Clone(), nil
}

// GetAgent retrieves an agent by ID.
func (m *Store) GetAgent(_ context.Context, agentID string) (*agent.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, conductor.ErrStoreClosed
	}

	a, ok := m.agents[agentID]
	if !ok {
		return nil, conductor.ErrAgentNotFound
	}
	return a.Clone(), nil
}

// ListAgents returns agents ordered by ID.
func (m *Store) ListAgents(_ context.Context, opts agent.ListOpts) ([]*agent.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, conductor.ErrStoreClosed
	}

	result := make([]*agent.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		result = append(result, a.Clone())
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID < result[k].ID })
	return result, nil
}

// TouchAgent records a heartbeat.
func (m *Store) TouchAgent(_ context.Context, agentID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return conductor.ErrStoreClosed
	}

	a, ok := m.agents[agentID]
	if !ok {
		return conductor.ErrAgentNotFound
	}
	a.LastHeartbeat = at
	a.Status = agent.StatusOnline
	a.UpdatedAt = at
	return nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds an entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return conductor.ErrStoreClosed
	}

	m.dlqs[entry.ID.String()] = entry.Clone()
	return nil
}

// ListDLQ returns DLQ entries matching the given options, oldest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, conductor.ErrStoreClosed
	}

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		if opts.OwnerID != "" && e.OwnerID != opts.OwnerID {
			continue
		}
		result = append(result, e.Clone())
	}
	sort.Slice(result, func(i, k int) bool {
		if !result[i].FailedAt.Equal(result[k].FailedAt) {
			return result[i].FailedAt.Before(result[k].FailedAt)
		}
		return result[i].ID.Less(result[k].ID)
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, conductor.ErrStoreClosed
	}

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, conductor.ErrDLQNotFound
	}
	return e.Clone(), nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return conductor.ErrStoreClosed
	}

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return conductor.ErrDLQNotFound
	}
	t := at
	e.ReplayedAt = &t
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, conductor.ErrStoreClosed
	}

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, conductor.ErrStoreClosed
	}

	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

// WithTx runs fn holding the store's write lock. Writes are staged on the
// transaction and applied only when fn returns nil.
func (m *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return conductor.ErrStoreClosed
	}
	tx := &memTx{
		m:      m,
		jobs:   make(map[string]*job.Job),
		agents: make(map[string]*agent.Agent),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	m      *Store
	jobs   map[string]*job.Job
	agents map[string]*agent.Agent
	dlqs   []*dlq.Entry
}

var _ store.Tx = (*memTx)(nil)

func (tx *memTx) job(key string) (*job.Job, bool) {
	if j, ok := tx.jobs[key]; ok {
		return j, true
	}
	j, ok := tx.m.jobs[key]
	return j, ok
}

func (tx *memTx) agent(key string) (*agent.Agent, bool) {
	if a, ok := tx.agents[key]; ok {
		return a, true
	}
	a, ok := tx.m.agents[key]
	return a, ok
}

func (tx *memTx) LockJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	j, ok := tx.job(jobID.String())
	if !ok {
		return nil, conductor.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (tx *memTx) SaveJob(_ context.Context, j *job.Job) error {
	key := j.ID.String()
	if _, ok := tx.job(key); !ok {
		return conductor.ErrJobNotFound
	}
	if err := j.CheckInvariants(); err != nil {
		return fmt.Errorf("conductor/memory: save job %s: %w", key, err)
	}
	tx.jobs[key] = j.Clone()
	return nil
}

func (tx *memTx) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	tx.dlqs = append(tx.dlqs, entry.Clone())
	return nil
}

func (tx *memTx) MarkAgentsOffline(_ context.Context, cutoff, now time.Time) ([]string, error) {
	var ids []string
	for key := range tx.m.agents {
		a, _ := tx.agent(key)
		if !a.Stale(cutoff) {
			continue
		}
		cp := a.Clone()
		cp.Status = agent.StatusOffline
		cp.UpdatedAt = now
		tx.agents[key] = cp
		ids = append(ids, key)
	}
	sort.Strings(ids)
	return ids, nil
}

func (tx *memTx) SetAgentOffline(_ context.Context, agentID string, now time.Time) error {
	a, ok := tx.agent(agentID)
	if !ok {
		return conductor.ErrAgentNotFound
	}
	cp := a.Clone()
	cp.Status = agent.StatusOffline
	cp.UpdatedAt = now
	tx.agents[agentID] = cp
	return nil
}

func (tx *memTx) ReleaseJobs(_ context.Context, agentIDs []string, now time.Time) (int, error) {
	if len(agentIDs) == 0 {
		return 0, nil
	}
	holders := make(map[string]struct{}, len(agentIDs))
	for _, a := range agentIDs {
		holders[a] = struct{}{}
	}

	released := 0
	for key := range tx.m.jobs {
		j, _ := tx.job(key)
		if j.Status != job.StatusRunning {
			continue
		}
		if _, ok := holders[j.LockedBy]; !ok {
			continue
		}
		cp := j.Clone()
		if err := cp.Release(now); err != nil {
			return 0, err
		}
		tx.jobs[key] = cp
		released++
	}
	return released, nil
}

func (tx *memTx) commit() {
	for k, j := range tx.jobs {
		tx.m.jobs[k] = j
	}
	for k, a := range tx.agents {
		tx.m.agents[k] = a
	}
	for _, e := range tx.dlqs {
		tx.m.dlqs[e.ID.String()] = e
	}
}
