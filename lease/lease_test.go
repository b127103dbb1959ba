package lease_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/agent"
	"github.com/xraph/conductor/event"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/lease"
	"github.com/xraph/conductor/store/memory"
)

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memory.Store
	clock  *conductor.ManualClock
	events *event.Recorder
	reg    *agent.Registry
	mgr    *lease.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.New(),
		clock:  conductor.NewManualClock(t0),
		events: &event.Recorder{},
	}
	f.reg = agent.NewRegistry(f.store, agent.WithClock(f.clock))
	f.mgr = lease.NewManager(f.store,
		lease.WithHeartbeater(f.reg),
		lease.WithEventSink(f.events),
		lease.WithClock(f.clock),
	)
	return f
}

func (f *fixture) addJob(t *testing.T, typ, owner string, createdAt time.Time) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:     conductor.NewEntityAt(createdAt),
		ID:         id.NewJobID(),
		Type:       typ,
		Status:     job.StatusPending,
		OwnerID:    owner,
		OwnerKind:  conductor.KindUser,
		MaxRetries: 3,
	}
	if err := f.store.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func TestPoll_ClaimsOldestEligible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addJob(t, "build", "u1", t0.Add(-2*time.Second))
	f.addJob(t, "build", "u1", t0.Add(-time.Second))

	got, err := f.mgr.Poll(ctx, conductor.Agent{ID: "agent-1"}, lease.Request{
		AgentID:      "agent-1",
		Capabilities: []string{"build"},
	})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got == nil || got.ID != a.ID {
		t.Fatalf("Poll returned %v, want job A", got)
	}
	if got.Status != job.StatusRunning || got.LockedBy != "agent-1" {
		t.Errorf("status=%q lockedBy=%q", got.Status, got.LockedBy)
	}
	if got.LockedAt == nil || !got.LockedAt.Equal(t0) || got.StartedAt == nil || !got.StartedAt.Equal(t0) {
		t.Errorf("lockedAt=%v startedAt=%v, want %v", got.LockedAt, got.StartedAt, t0)
	}
	if e := f.events.Last(event.JobClaimed); e == nil || e.Job.ID != a.ID {
		t.Error("expected job.claimed notification")
	}
}

func TestPoll_NoMatchReturnsNil(t *testing.T) {
	f := newFixture(t)
	f.addJob(t, "build", "u1", t0)

	got, err := f.mgr.Poll(context.Background(), nil, lease.Request{
		AgentID:      "agent-1",
		Capabilities: []string{"deploy"},
	})
	if err != nil || got != nil {
		t.Errorf("Poll = %v, %v; want nil, nil", got, err)
	}
	if len(f.events.Events()) != 0 {
		t.Errorf("unexpected events %v", f.events.Names())
	}
}

func TestPoll_Validation(t *testing.T) {
	f := newFixture(t)
	f.addJob(t, "build", "u1", t0)
	ctx := context.Background()

	if _, err := f.mgr.Poll(ctx, nil, lease.Request{Capabilities: []string{"build"}}); !errors.Is(err, conductor.ErrInvalidInput) {
		t.Errorf("empty agent id = %v, want ErrInvalidInput", err)
	}

	got, err := f.mgr.Poll(ctx, nil, lease.Request{AgentID: "agent-1", Capabilities: []string{"", ""}})
	if err != nil || got != nil {
		t.Errorf("empty capabilities = %v, %v; want nil, nil", got, err)
	}

	_, err = f.mgr.Poll(ctx, conductor.Agent{ID: "agent-2"}, lease.Request{AgentID: "agent-1", Capabilities: []string{"build"}})
	if !errors.Is(err, conductor.ErrUnauthorized) {
		t.Errorf("impersonation = %v, want ErrUnauthorized", err)
	}
}

func TestPoll_OwnershipPolicy(t *testing.T) {
	ctx := context.Background()
	req := lease.Request{AgentID: "agent-1", Capabilities: []string{"build"}, OwnerFilter: "u2"}

	t.Run("user actor sees only own jobs", func(t *testing.T) {
		f := newFixture(t)
		f.addJob(t, "build", "u1", t0.Add(-time.Second))
		mine := f.addJob(t, "build", "u2", t0)

		got, _ := f.mgr.Poll(ctx, conductor.User{ID: "u2"}, lease.Request{AgentID: "agent-1", Capabilities: []string{"build"}})
		if got == nil || got.ID != mine.ID {
			t.Errorf("got %v, want u2's job", got)
		}
	})

	t.Run("agent actor ignores owner filter", func(t *testing.T) {
		f := newFixture(t)
		oldest := f.addJob(t, "build", "u1", t0.Add(-time.Second))
		f.addJob(t, "build", "u2", t0)

		got, _ := f.mgr.Poll(ctx, conductor.Agent{ID: "agent-1"}, req)
		if got == nil || got.ID != oldest.ID {
			t.Errorf("got %v, want the oldest shared job", got)
		}
	})

	t.Run("internal caller honours owner filter", func(t *testing.T) {
		f := newFixture(t)
		f.addJob(t, "build", "u1", t0.Add(-time.Second))
		mine := f.addJob(t, "build", "u2", t0)

		got, _ := f.mgr.Poll(ctx, nil, req)
		if got == nil || got.ID != mine.ID {
			t.Errorf("got %v, want u2's job", got)
		}
	})
}

func TestPoll_RefreshesHeartbeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.reg.Register(ctx, agent.RegisterRequest{ID: "agent-1", Hostname: "h", Capabilities: []string{"build"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	f.addJob(t, "build", "u1", t0)

	f.clock.Advance(30 * time.Second)
	if _, err := f.mgr.Poll(ctx, nil, lease.Request{AgentID: "agent-1", Capabilities: []string{"build"}}); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	a, _ := f.store.GetAgent(ctx, "agent-1")
	if !a.LastHeartbeat.Equal(t0.Add(30 * time.Second)) {
		t.Errorf("LastHeartbeat = %v, want %v", a.LastHeartbeat, t0.Add(30*time.Second))
	}
}

func TestPoll_UnknownAgentStillClaims(t *testing.T) {
	f := newFixture(t)
	f.addJob(t, "build", "u1", t0)

	got, err := f.mgr.Poll(context.Background(), nil, lease.Request{AgentID: "never-registered", Capabilities: []string{"build"}})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got == nil {
		t.Error("heartbeat failure must not fail the poll")
	}
}

func TestPoll_TenConcurrentPollersOneJob(t *testing.T) {
	f := newFixture(t)
	f.addJob(t, "build", "u1", t0)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	start := make(chan struct{})
	for i := range 10 {
		agentID := "agent-" + string(rune('0'+i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			got, err := f.mgr.Poll(context.Background(), conductor.Agent{ID: agentID}, lease.Request{
				AgentID:      agentID,
				Capabilities: []string{"build"},
			})
			if err != nil {
				t.Errorf("Poll(%s): %v", agentID, err)
				return
			}
			if got != nil {
				mu.Lock()
				winners = append(winners, got.LockedBy)
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("winners = %v, want exactly one", winners)
	}
}
