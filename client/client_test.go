package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/agent"
	"github.com/xraph/conductor/api"
	"github.com/xraph/conductor/authz"
	"github.com/xraph/conductor/client"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/orchestrator"
	"github.com/xraph/conductor/store/memory"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := conductor.DefaultConfig()
	cfg.WaitPollInterval = 5 * time.Millisecond
	cfg.WaitMaxInterval = 20 * time.Millisecond
	svc := orchestrator.New(memory.New(),
		orchestrator.WithConfig(cfg),
		orchestrator.WithGuard(authz.DefaultPolicy()),
	)
	srv := httptest.NewServer(api.New(svc).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_JobLifecycle(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	user := client.New(srv.URL, client.WithActor(conductor.User{ID: "u1"}))
	worker := client.New(srv.URL, client.WithActor(conductor.Agent{ID: "agent-a"}))

	j, err := user.Enqueue(ctx, "render", map[string]int{"scene": 7}, client.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if j.Status != job.StatusPending || j.OwnerID != "u1" || j.MaxRetries != 0 {
		t.Fatalf("enqueued job = %+v", j)
	}

	a, err := worker.RegisterAgent(ctx, agent.RegisterRequest{Hostname: "a.local", Capabilities: []string{"render"}})
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if a.ID != "agent-a" {
		t.Fatalf("agent id = %q, want agent-a", a.ID)
	}
	if err := worker.Heartbeat(ctx, "agent-a"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	leased, err := worker.Poll(ctx, "agent-a", []string{"render"})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if leased == nil || leased.ID != j.ID || leased.Status != job.StatusRunning {
		t.Fatalf("leased = %+v", leased)
	}
	var payload map[string]int
	if err := json.Unmarshal(leased.Payload, &payload); err != nil || payload["scene"] != 7 {
		t.Fatalf("payload = %s (%v)", leased.Payload, err)
	}

	if err := worker.UpdateProgress(ctx, j.ID, 40); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	done, err := worker.Complete(ctx, j.ID, map[string]string{"frame": "ok"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != job.StatusCompleted || done.Progress != 100 {
		t.Fatalf("completed = %+v", done)
	}

	waited, err := user.Wait(ctx, j.ID, time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if waited.Status != job.StatusCompleted {
		t.Fatalf("waited status = %s", waited.Status)
	}

	next, err := worker.Poll(ctx, "agent-a", []string{"render"})
	if err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if next != nil {
		t.Fatalf("second Poll = %+v, want nil", next)
	}
}

func TestClient_FailDeadLetters(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	user := client.New(srv.URL, client.WithActor(conductor.User{ID: "u1"}))
	worker := client.New(srv.URL, client.WithActor(conductor.Agent{ID: "agent-a"}))

	j, err := user.Enqueue(ctx, "render", nil, client.WithMaxRetries(0))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := worker.Poll(ctx, "agent-a", []string{"render"}); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	failed, err := worker.Fail(ctx, j.ID, errors.New("out of memory"))
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if failed.Status != job.StatusFailed {
		t.Fatalf("status = %s, want failed", failed.Status)
	}
	var msg string
	if err := json.Unmarshal(failed.Error, &msg); err != nil || msg != "out of memory" {
		t.Fatalf("error blob = %s (%v)", failed.Error, err)
	}
}

func TestClient_ErrorsMatchSentinels(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	u1 := client.New(srv.URL, client.WithActor(conductor.User{ID: "u1"}))
	u2 := client.New(srv.URL, client.WithActor(conductor.User{ID: "u2"}))

	if _, err := u1.GetJob(ctx, "job_01h2xcejqtf2nbrexx3vqjhp41"); !errors.Is(err, conductor.ErrJobNotFound) {
		t.Fatalf("GetJob missing: err = %v, want ErrJobNotFound", err)
	}
	if _, err := u1.Enqueue(ctx, "", nil); !errors.Is(err, conductor.ErrInvalidInput) {
		t.Fatalf("Enqueue empty type: err = %v, want ErrInvalidInput", err)
	}
	if err := u1.Heartbeat(ctx, "nobody"); !errors.Is(err, conductor.ErrUnauthorized) {
		t.Fatalf("user Heartbeat: err = %v, want ErrUnauthorized", err)
	}

	j, err := u1.Enqueue(ctx, "render", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := u2.CancelJob(ctx, j.ID); !errors.Is(err, conductor.ErrUnauthorized) {
		t.Fatalf("foreign cancel: err = %v, want ErrUnauthorized", err)
	}
	if _, err := u1.CancelJob(ctx, j.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if _, err := u1.CancelJob(ctx, j.ID); !errors.Is(err, conductor.ErrInvalidState) {
		t.Fatalf("second cancel: err = %v, want ErrInvalidState", err)
	}

	var apiErr *client.Error
	_, err = u1.GetJob(ctx, "not-an-id")
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 400 {
		t.Fatalf("bad id: err = %v, want 400 client.Error", err)
	}
}

func TestClient_WaitTimeout(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	user := client.New(srv.URL, client.WithActor(conductor.User{ID: "u1"}))

	j, err := user.Enqueue(ctx, "render", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := user.Wait(ctx, j.ID, 30*time.Millisecond); !errors.Is(err, conductor.ErrWaitTimeout) {
		t.Fatalf("Wait: err = %v, want ErrWaitTimeout", err)
	}
}

func TestClient_ListAndDeregister(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()
	user := client.New(srv.URL, client.WithActor(conductor.User{ID: "u1"}))
	worker := client.New(srv.URL, client.WithActor(conductor.Agent{ID: "agent-a"}))

	for range 3 {
		if _, err := user.Enqueue(ctx, "render", nil); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if _, err := worker.RegisterAgent(ctx, agent.RegisterRequest{Capabilities: []string{"render"}}); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if _, err := worker.Poll(ctx, "agent-a", []string{"render"}); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	pending, err := user.ListJobs(ctx, client.ListJobsOpts{Status: job.StatusPending})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}

	released, err := worker.DeregisterAgent(ctx, "agent-a")
	if err != nil {
		t.Fatalf("DeregisterAgent: %v", err)
	}
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}
	all, err := user.ListJobs(ctx, client.ListJobsOpts{Status: job.StatusPending, Limit: 10})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("pending after deregister = %d, want 3", len(all))
	}
}
