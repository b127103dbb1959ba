// Package storetest is a conformance suite for store.Store backends.
// Each backend's tests call Run with a factory returning a fresh,
// migrated store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/agent"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/store"
)

// T0 is the reference time used by the suite.
var T0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

// Factory returns an empty, migrated store. It registers its own cleanup.
type Factory func(t *testing.T) store.Store

// Run executes every conformance test against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"JobRoundTrip", testJobRoundTrip},
		{"ListAndCount", testListAndCount},
		{"ClaimFIFO", testClaimFIFO},
		{"ClaimEligibility", testClaimEligibility},
		{"FarFutureRetry", testFarFutureRetry},
		{"ClaimConcurrentSingleWinner", testClaimConcurrent},
		{"Agents", testAgents},
		{"DLQ", testDLQ},
		{"TxCommit", testTxCommit},
		{"TxRollback", testTxRollback},
		{"TxRejectsBrokenInvariant", testTxInvariant},
		{"StaleSweep", testStaleSweep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// NewJob returns a pending job of typ owned by u1.
func NewJob(typ string, createdAt time.Time) *job.Job {
	return &job.Job{
		Entity:     conductor.NewEntityAt(createdAt),
		ID:         id.NewJobID(),
		Type:       typ,
		Payload:    []byte(`{"k":"v"}`),
		Status:     job.StatusPending,
		OwnerID:    "u1",
		OwnerKind:  conductor.KindUser,
		MaxRetries: 3,
	}
}

func mustCreate(t *testing.T, s store.Store, js ...*job.Job) {
	t.Helper()
	for _, j := range js {
		if err := s.CreateJob(context.Background(), j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}
}

func claim(t *testing.T, s store.Store, agentID string, types []string, now time.Time) *job.Job {
	t.Helper()
	j, err := s.ClaimJob(context.Background(), job.ClaimOpts{AgentID: agentID, Types: types, Now: now})
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	return j
}

func testJobRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("build", T0)
	mustCreate(t, s, j)

	if err := s.CreateJob(ctx, j); !errors.Is(err, conductor.ErrJobAlreadyExists) {
		t.Fatalf("duplicate CreateJob err = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != j.ID || got.Type != "build" || string(got.Payload) != `{"k":"v"}` {
		t.Errorf("got %+v", got)
	}
	if !got.CreatedAt.Equal(T0) || got.Status != job.StatusPending || got.LockedBy != "" {
		t.Errorf("createdAt=%v status=%q lockedBy=%q", got.CreatedAt, got.Status, got.LockedBy)
	}
	if got.OwnerID != "u1" || got.OwnerKind != conductor.KindUser || got.MaxRetries != 3 {
		t.Errorf("owner=%s/%s maxRetries=%d", got.OwnerKind, got.OwnerID, got.MaxRetries)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, conductor.ErrJobNotFound) {
		t.Errorf("GetJob unknown err = %v, want ErrJobNotFound", err)
	}
}

func testListAndCount(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewJob("build", T0)
	b := NewJob("build", T0.Add(time.Second))
	c := NewJob("deploy", T0.Add(2*time.Second))
	c.OwnerID = "u2"
	mustCreate(t, s, c, b, a)
	claim(t, s, "agent-1", []string{"build"}, T0.Add(time.Minute))

	all, err := s.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 3 || all[0].ID != a.ID || all[2].ID != c.ID {
		t.Fatalf("ListJobs order wrong: %d jobs", len(all))
	}

	page, _ := s.ListJobs(ctx, job.ListOpts{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != b.ID {
		t.Errorf("page = %v", page)
	}
	byOwner, _ := s.ListJobs(ctx, job.ListOpts{OwnerID: "u2"})
	if len(byOwner) != 1 || byOwner[0].ID != c.ID {
		t.Errorf("by owner = %v", byOwner)
	}
	held, _ := s.ListJobs(ctx, job.ListOpts{LockedBy: "agent-1"})
	if len(held) != 1 || held[0].ID != a.ID {
		t.Errorf("locked by agent-1 = %v", held)
	}

	n, err := s.CountJobs(ctx, job.CountOpts{Status: job.StatusPending})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if n != 2 {
		t.Errorf("pending count = %d, want 2", n)
	}
	if n, _ := s.CountJobs(ctx, job.CountOpts{Type: "deploy"}); n != 1 {
		t.Errorf("deploy count = %d, want 1", n)
	}
}

func testClaimFIFO(t *testing.T, s store.Store) {
	older := NewJob("build", T0)
	newer := NewJob("build", T0.Add(time.Second))
	mustCreate(t, s, newer, older)

	now := T0.Add(time.Minute)
	got := claim(t, s, "agent-1", []string{"build"}, now)
	if got == nil || got.ID != older.ID {
		t.Fatalf("claimed %v, want the older job", got)
	}
	if got.Status != job.StatusRunning || got.LockedBy != "agent-1" {
		t.Errorf("status=%q lockedBy=%q", got.Status, got.LockedBy)
	}
	if got.LockedAt == nil || !got.LockedAt.Equal(now) {
		t.Errorf("lockedAt = %v, want %v", got.LockedAt, now)
	}

	second := claim(t, s, "agent-2", []string{"build"}, now)
	if second == nil || second.ID != newer.ID {
		t.Fatalf("second claim = %v, want the newer job", second)
	}
	if third := claim(t, s, "agent-3", []string{"build"}, now); third != nil {
		t.Fatalf("third claim = %v, want nil", third)
	}
}

func testClaimEligibility(t *testing.T, s store.Store) {
	ctx := context.Background()
	deferred := NewJob("build", T0)
	retryAt := T0.Add(time.Hour)
	deferred.NextRetryAt = &retryAt
	deferred.RetryCount = 1
	other := NewJob("deploy", T0)
	foreign := NewJob("build", T0.Add(time.Second))
	foreign.OwnerID = "u2"
	mustCreate(t, s, deferred, other, foreign)

	if got := claim(t, s, "a", nil, T0.Add(time.Minute)); got != nil {
		t.Fatalf("claim with no types = %v, want nil", got)
	}

	got, err := s.ClaimJob(ctx, job.ClaimOpts{AgentID: "a", Types: []string{"build"}, OwnerID: "u1", Now: T0.Add(time.Minute)})
	if err != nil || got != nil {
		t.Fatalf("claim before retry time = %v, %v; want nil", got, err)
	}

	got = claim(t, s, "a", []string{"build"}, T0.Add(time.Minute))
	if got == nil || got.ID != foreign.ID {
		t.Fatalf("shared-pool claim = %v, want the u2 job", got)
	}

	got = claim(t, s, "a", []string{"build"}, retryAt)
	if got == nil || got.ID != deferred.ID {
		t.Fatalf("claim at retry time = %v, want the deferred job", got)
	}
	if got.NextRetryAt != nil || got.RetryCount != 1 {
		t.Errorf("nextRetryAt=%v retryCount=%d", got.NextRetryAt, got.RetryCount)
	}
}

// testFarFutureRetry stores a retry time past 2262, the end of the
// int64 nanosecond range.
func testFarFutureRetry(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("build", T0)
	mustCreate(t, s, j)

	retryAt := time.Date(2300, 1, 2, 3, 4, 5, 0, time.UTC)
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockJob(ctx, j.ID)
		if err != nil {
			return err
		}
		locked.RetryCount = 1
		locked.NextRetryAt = &retryAt
		locked.UpdatedAt = T0.Add(time.Minute)
		return tx.SaveJob(ctx, locked)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.Equal(retryAt) {
		t.Fatalf("nextRetryAt = %v, want %v", got.NextRetryAt, retryAt)
	}
	if c := claim(t, s, "a", []string{"build"}, T0.Add(time.Hour)); c != nil {
		t.Fatalf("claim before retry time = %v, want nil", c)
	}
}

func testClaimConcurrent(t *testing.T, s store.Store) {
	want := NewJob("build", T0)
	mustCreate(t, s, want)

	const pollers = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for i := range pollers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			j, err := s.ClaimJob(context.Background(), job.ClaimOpts{
				AgentID: fmt.Sprintf("agent-%d", i),
				Types:   []string{"build"},
				Now:     T0.Add(time.Minute),
			})
			if err != nil {
				t.Errorf("ClaimJob: %v", err)
				return
			}
			if j != nil {
				mu.Lock()
				wins = append(wins, j.LockedBy)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if len(wins) != 1 {
		t.Fatalf("%d claims succeeded, want 1", len(wins))
	}
	got, _ := s.GetJob(context.Background(), want.ID)
	if got.LockedBy != wins[0] {
		t.Errorf("stored lockedBy = %q, winner = %q", got.LockedBy, wins[0])
	}
}

func testAgents(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := &agent.Agent{
		Entity:        conductor.NewEntityAt(T0),
		ID:            "agent-1",
		Hostname:      "h1",
		Capabilities:  []string{"build", "test"},
		Status:        agent.StatusOnline,
		LastHeartbeat: T0,
	}
	if _, err := s.UpsertAgent(ctx, a); err != nil {
		t.Fatalf("UpsertAgent: %v", err)
	}

	later := *a
	later.Entity = conductor.NewEntityAt(T0.Add(time.Hour))
	later.Capabilities = []string{"deploy"}
	stored, err := s.UpsertAgent(ctx, &later)
	if err != nil {
		t.Fatalf("second UpsertAgent: %v", err)
	}
	if !stored.CreatedAt.Equal(T0) {
		t.Errorf("CreatedAt = %v, want original %v", stored.CreatedAt, T0)
	}
	if len(stored.Capabilities) != 1 || stored.Capabilities[0] != "deploy" {
		t.Errorf("capabilities = %v", stored.Capabilities)
	}

	if err := s.TouchAgent(ctx, "agent-1", T0.Add(2*time.Hour)); err != nil {
		t.Fatalf("TouchAgent: %v", err)
	}
	got, err := s.GetAgent(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if !got.LastHeartbeat.Equal(T0.Add(2 * time.Hour)) {
		t.Errorf("LastHeartbeat = %v", got.LastHeartbeat)
	}
	if err := s.TouchAgent(ctx, "ghost", T0); !errors.Is(err, conductor.ErrAgentNotFound) {
		t.Errorf("TouchAgent unknown err = %v, want ErrAgentNotFound", err)
	}
	if _, err := s.GetAgent(ctx, "ghost"); !errors.Is(err, conductor.ErrAgentNotFound) {
		t.Errorf("GetAgent unknown err = %v, want ErrAgentNotFound", err)
	}

	offline := &agent.Agent{Entity: conductor.NewEntityAt(T0), ID: "agent-0", Status: agent.StatusOffline, LastHeartbeat: T0}
	if _, err := s.UpsertAgent(ctx, offline); err != nil {
		t.Fatalf("UpsertAgent: %v", err)
	}
	all, _ := s.ListAgents(ctx, agent.ListOpts{})
	if len(all) != 2 || all[0].ID != "agent-0" {
		t.Errorf("ListAgents = %v", all)
	}
	online, _ := s.ListAgents(ctx, agent.ListOpts{Status: agent.StatusOnline})
	if len(online) != 1 || online[0].ID != "agent-1" {
		t.Errorf("online agents = %v", online)
	}
}

func testDLQ(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("build", T0)
	j.Error = []byte(`"boom"`)
	first := dlq.NewEntry(j, T0)
	second := dlq.NewEntry(NewJob("deploy", T0), T0.Add(time.Hour))
	second.OwnerID = "u2"
	for _, e := range []*dlq.Entry{second, first} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	all, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(all) != 2 || all[0].ID != first.ID {
		t.Fatalf("ListDLQ = %v", all)
	}
	if string(all[0].Error) != `"boom"` || all[0].OriginalJobID != j.ID {
		t.Errorf("entry = %+v", all[0])
	}
	mine, _ := s.ListDLQ(ctx, dlq.ListOpts{OwnerID: "u2"})
	if len(mine) != 1 || mine[0].ID != second.ID {
		t.Errorf("owner filter = %v", mine)
	}

	if err := s.ReplayDLQ(ctx, first.ID, T0.Add(time.Minute)); err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	got, _ := s.GetDLQ(ctx, first.ID)
	if got.ReplayedAt == nil || !got.ReplayedAt.Equal(T0.Add(time.Minute)) {
		t.Errorf("ReplayedAt = %v", got.ReplayedAt)
	}
	if err := s.ReplayDLQ(ctx, id.NewDLQID(), T0); !errors.Is(err, conductor.ErrDLQNotFound) {
		t.Errorf("ReplayDLQ unknown err = %v, want ErrDLQNotFound", err)
	}

	n, err := s.PurgeDLQ(ctx, T0.Add(time.Minute))
	if err != nil {
		t.Fatalf("PurgeDLQ: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if count, _ := s.CountDLQ(ctx); count != 1 {
		t.Errorf("CountDLQ = %d, want 1", count)
	}
}

func testTxCommit(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("build", T0)
	j.MaxRetries = 0
	mustCreate(t, s, j)

	now := T0.Add(time.Minute)
	entry := (*dlq.Entry)(nil)
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockJob(ctx, j.ID)
		if err != nil {
			return err
		}
		if err := locked.FailPermanently([]byte(`"boom"`), 1, now); err != nil {
			return err
		}
		if err := tx.SaveJob(ctx, locked); err != nil {
			return err
		}
		entry = dlq.NewEntry(locked, now)
		return tx.PushDLQ(ctx, entry)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusFailed || got.RetryCount != 1 || got.CompletedAt == nil {
		t.Errorf("status=%q retryCount=%d completedAt=%v", got.Status, got.RetryCount, got.CompletedAt)
	}
	if _, err := s.GetDLQ(ctx, entry.ID); err != nil {
		t.Errorf("GetDLQ after commit: %v", err)
	}

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.LockJob(ctx, id.NewJobID())
		return err
	})
	if !errors.Is(err, conductor.ErrJobNotFound) {
		t.Errorf("LockJob unknown err = %v, want ErrJobNotFound", err)
	}
}

func testTxRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("build", T0)
	mustCreate(t, s, j)

	sentinel := errors.New("abort")
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockJob(ctx, j.ID)
		if err != nil {
			return err
		}
		if err := locked.Cancel(T0.Add(time.Second)); err != nil {
			return err
		}
		if err := tx.SaveJob(ctx, locked); err != nil {
			return err
		}
		if err := tx.PushDLQ(ctx, dlq.NewEntry(locked, T0)); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithTx err = %v, want sentinel", err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != job.StatusPending {
		t.Errorf("status = %q, want pending after rollback", got.Status)
	}
	if n, _ := s.CountDLQ(ctx); n != 0 {
		t.Errorf("CountDLQ = %d after rollback, want 0", n)
	}
}

func testTxInvariant(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("build", T0)
	mustCreate(t, s, j)

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockJob(ctx, j.ID)
		if err != nil {
			return err
		}
		locked.LockedBy = "agent-1" // pending with a lease
		return tx.SaveJob(ctx, locked)
	})
	if !errors.Is(err, conductor.ErrInvalidState) {
		t.Fatalf("WithTx err = %v, want ErrInvalidState", err)
	}
}

func testStaleSweep(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, a := range []*agent.Agent{
		{Entity: conductor.NewEntityAt(T0), ID: "stale", Status: agent.StatusOnline, LastHeartbeat: T0},
		{Entity: conductor.NewEntityAt(T0), ID: "fresh", Status: agent.StatusOnline, LastHeartbeat: T0.Add(2 * time.Minute)},
		{Entity: conductor.NewEntityAt(T0), ID: "gone", Status: agent.StatusOffline, LastHeartbeat: T0},
	} {
		if _, err := s.UpsertAgent(ctx, a); err != nil {
			t.Fatalf("UpsertAgent: %v", err)
		}
	}
	held := NewJob("build", T0)
	held.RetryCount = 2
	kept := NewJob("build", T0.Add(time.Second))
	mustCreate(t, s, held, kept)
	claim(t, s, "stale", []string{"build"}, T0)
	claim(t, s, "fresh", []string{"build"}, T0)

	now := T0.Add(3 * time.Minute)
	var (
		ids      []string
		released int
	)
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if ids, err = tx.MarkAgentsOffline(ctx, now.Add(-2*time.Minute), now); err != nil {
			return err
		}
		released, err = tx.ReleaseJobs(ctx, ids, now)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if len(ids) != 1 || ids[0] != "stale" || released != 1 {
		t.Fatalf("ids=%v released=%d, want [stale] and 1", ids, released)
	}

	got, _ := s.GetJob(ctx, held.ID)
	if got.Status != job.StatusPending || got.LockedBy != "" || got.LockedAt != nil || got.RetryCount != 2 {
		t.Errorf("released job status=%q lockedBy=%q retryCount=%d", got.Status, got.LockedBy, got.RetryCount)
	}
	if other, _ := s.GetJob(ctx, kept.ID); other.LockedBy != "fresh" {
		t.Errorf("fresh agent's job lockedBy = %q", other.LockedBy)
	}
	if a, _ := s.GetAgent(ctx, "stale"); a.Status != agent.StatusOffline {
		t.Errorf("stale agent status = %q", a.Status)
	}

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetAgentOffline(ctx, "ghost", now)
	})
	if !errors.Is(err, conductor.ErrAgentNotFound) {
		t.Errorf("SetAgentOffline unknown err = %v, want ErrAgentNotFound", err)
	}
}
