package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/agent"
	"github.com/xraph/conductor/api"
	"github.com/xraph/conductor/authz"
	"github.com/xraph/conductor/event"
	"github.com/xraph/conductor/orchestrator"
	"github.com/xraph/conductor/store/memory"
)

type actorHeaders struct{ kind, id string }

var (
	anon   = actorHeaders{}
	user1  = actorHeaders{"user", "u1"}
	user2  = actorHeaders{"user", "u2"}
	agentA = actorHeaders{"agent", "agent-a"}
)

func newServer(t *testing.T, opts ...api.Option) http.Handler {
	t.Helper()
	svc := orchestrator.New(memory.New(), orchestrator.WithGuard(authz.DefaultPolicy()))
	return api.New(svc, opts...).Handler()
}

func do(t *testing.T, h http.Handler, as actorHeaders, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as.kind != "" {
		req.Header.Set(api.HeaderActorKind, as.kind)
		req.Header.Set(api.HeaderActorID, as.id)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}

func decodeJob(t *testing.T, rec *httptest.ResponseRecorder) api.JobResponse {
	t.Helper()
	var j api.JobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &j); err != nil {
		t.Fatalf("decode job: %v; body: %s", err, rec.Body.String())
	}
	return j
}

func enqueue(t *testing.T, h http.Handler, as actorHeaders, typ string, maxRetries int) api.JobResponse {
	t.Helper()
	rec := do(t, h, as, http.MethodPost, "/v1/jobs", map[string]any{
		"type":        typ,
		"payload":     map[string]int{"n": 1},
		"max_retries": maxRetries,
	})
	expectStatus(t, rec, http.StatusCreated)
	return decodeJob(t, rec)
}

func registerAndPoll(t *testing.T, h http.Handler, caps ...string) *httptest.ResponseRecorder {
	t.Helper()
	rec := do(t, h, agentA, http.MethodPost, "/v1/agents", map[string]any{
		"hostname":     "a.local",
		"capabilities": caps,
	})
	expectStatus(t, rec, http.StatusOK)
	return do(t, h, agentA, http.MethodPost, "/v1/poll", map[string]any{"capabilities": caps})
}

func TestHealthz(t *testing.T) {
	h := newServer(t)
	expectStatus(t, do(t, h, anon, http.MethodGet, "/healthz", nil), http.StatusOK)
}

func TestActorHeaders(t *testing.T) {
	h := newServer(t)

	expectStatus(t, do(t, h, anon, http.MethodGet, "/v1/jobs", nil), http.StatusUnauthorized)
	expectStatus(t, do(t, h, actorHeaders{"robot", "r1"}, http.MethodGet, "/v1/jobs", nil), http.StatusBadRequest)
	expectStatus(t, do(t, h, actorHeaders{"user", ""}, http.MethodGet, "/v1/jobs", nil), http.StatusBadRequest)
	expectStatus(t, do(t, h, user1, http.MethodGet, "/v1/jobs", nil), http.StatusOK)
}

func TestEnqueueAndGet(t *testing.T) {
	h := newServer(t)
	j := enqueue(t, h, user1, "render", 3)

	if j.Status != "pending" || j.OwnerID != "u1" || j.OwnerKind != "user" {
		t.Errorf("job = %+v", j)
	}
	if string(j.Payload) != `{"n":1}` {
		t.Errorf("payload = %s", j.Payload)
	}

	rec := do(t, h, user1, http.MethodGet, "/v1/jobs/"+j.ID, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeJob(t, rec); got.ID != j.ID {
		t.Errorf("GET returned %s, want %s", got.ID, j.ID)
	}

	expectStatus(t, do(t, h, user2, http.MethodGet, "/v1/jobs/"+j.ID, nil), http.StatusForbidden)
	expectStatus(t, do(t, h, user1, http.MethodGet, "/v1/jobs/not-an-id", nil), http.StatusBadRequest)
}

func TestEnqueue_InvalidInput(t *testing.T) {
	h := newServer(t)
	tests := []struct {
		name string
		body any
	}{
		{"empty type", map[string]any{"type": ""}},
		{"negative retries", map[string]any{"type": "render", "max_retries": -1}},
		{"retries over limit", map[string]any{"type": "render", "max_retries": 100}},
		{"unknown field", map[string]any{"type": "render", "priority": 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, do(t, h, user1, http.MethodPost, "/v1/jobs", tt.body), http.StatusBadRequest)
		})
	}
}

func TestLifecycle_PollCompleteConflict(t *testing.T) {
	h := newServer(t)
	j := enqueue(t, h, user1, "render", 3)

	rec := registerAndPoll(t, h, "render")
	expectStatus(t, rec, http.StatusOK)
	leased := decodeJob(t, rec)
	if leased.ID != j.ID || leased.Status != "running" || leased.LockedBy != "agent-a" {
		t.Fatalf("leased = %+v", leased)
	}

	expectStatus(t, do(t, h, agentA, http.MethodPost, "/v1/poll", map[string]any{"capabilities": []string{"render"}}), http.StatusNoContent)

	expectStatus(t, do(t, h, agentA, http.MethodPost, "/v1/jobs/"+j.ID+"/progress", map[string]int{"progress": 40}), http.StatusNoContent)

	rec = do(t, h, agentA, http.MethodPost, "/v1/jobs/"+j.ID+"/complete", map[string]any{"result": "done"})
	expectStatus(t, rec, http.StatusOK)
	done := decodeJob(t, rec)
	if done.Status != "completed" || string(done.Result) != `"done"` || done.Progress != 100 {
		t.Errorf("completed job = %+v", done)
	}

	expectStatus(t, do(t, h, agentA, http.MethodPost, "/v1/jobs/"+j.ID+"/complete", nil), http.StatusForbidden)
	expectStatus(t, do(t, h, user1, http.MethodPost, "/v1/jobs/"+j.ID+"/complete", nil), http.StatusConflict)
	expectStatus(t, do(t, h, user1, http.MethodPost, "/v1/jobs/"+j.ID+"/cancel", nil), http.StatusConflict)
}

func TestFail_DeadLetterAndReplay(t *testing.T) {
	h := newServer(t)
	j := enqueue(t, h, user1, "render", 0)
	expectStatus(t, registerAndPoll(t, h, "render"), http.StatusOK)

	rec := do(t, h, agentA, http.MethodPost, "/v1/jobs/"+j.ID+"/fail", map[string]any{"error": map[string]string{"msg": "boom"}})
	expectStatus(t, rec, http.StatusOK)
	if got := decodeJob(t, rec); got.Status != "failed" {
		t.Fatalf("status = %s, want failed", got.Status)
	}

	rec = do(t, h, user1, http.MethodGet, "/v1/dlq", nil)
	expectStatus(t, rec, http.StatusOK)
	var entries []api.DeadLetterResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode entries: %v", err)
	}
	if len(entries) != 1 || entries[0].OriginalJobID != j.ID {
		t.Fatalf("entries = %+v", entries)
	}

	rec = do(t, h, user2, http.MethodGet, "/v1/dlq", nil)
	expectStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "[]\n" {
		t.Errorf("other user sees %s", rec.Body.String())
	}
	expectStatus(t, do(t, h, agentA, http.MethodGet, "/v1/dlq", nil), http.StatusForbidden)

	rec = do(t, h, user1, http.MethodPost, "/v1/dlq/"+entries[0].ID+"/replay", nil)
	expectStatus(t, rec, http.StatusCreated)
	replayed := decodeJob(t, rec)
	if replayed.ID == j.ID || replayed.Status != "pending" || replayed.RetryCount != 0 {
		t.Errorf("replayed = %+v", replayed)
	}
}

func TestCancel_Authorization(t *testing.T) {
	h := newServer(t)
	j := enqueue(t, h, user1, "render", 1)

	expectStatus(t, do(t, h, user2, http.MethodPost, "/v1/jobs/"+j.ID+"/cancel", nil), http.StatusForbidden)

	rec := do(t, h, user1, http.MethodPost, "/v1/jobs/"+j.ID+"/cancel", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeJob(t, rec); got.Status != "cancelled" {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestPoll_RateLimited(t *testing.T) {
	h := newServer(t, api.WithPollRate(rate.Every(time.Hour), 1))

	expectStatus(t, registerAndPoll(t, h, "render"), http.StatusNoContent)
	rec := do(t, h, agentA, http.MethodPost, "/v1/poll", map[string]any{"capabilities": []string{"render"}})
	expectStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	expectStatus(t, do(t, h, agentA, http.MethodDelete, "/v1/agents/agent-a", nil), http.StatusOK)
	expectStatus(t, do(t, h, agentA, http.MethodPost, "/v1/poll", map[string]any{"capabilities": []string{"render"}}), http.StatusNoContent)
}

func TestPoll_AgentCannotPollAsAnother(t *testing.T) {
	h := newServer(t)
	rec := do(t, h, agentA, http.MethodPost, "/v1/poll", map[string]any{
		"agent_id":     "agent-b",
		"capabilities": []string{"render"},
	})
	expectStatus(t, rec, http.StatusForbidden)
}

func TestDeregister_ReleasesJobs(t *testing.T) {
	h := newServer(t)
	j := enqueue(t, h, user1, "render", 3)
	expectStatus(t, registerAndPoll(t, h, "render"), http.StatusOK)

	rec := do(t, h, agentA, http.MethodDelete, "/v1/agents/agent-a", nil)
	expectStatus(t, rec, http.StatusOK)
	var resp api.DeregisterResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ReleasedJobs != 1 {
		t.Errorf("released = %d, want 1", resp.ReleasedJobs)
	}

	rec = do(t, h, user1, http.MethodGet, "/v1/jobs/"+j.ID, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeJob(t, rec); got.Status != "pending" || got.LockedBy != "" {
		t.Errorf("job after deregister = %+v", got)
	}
}

func TestWait(t *testing.T) {
	h := newServer(t)
	j := enqueue(t, h, user1, "render", 3)

	expectStatus(t, do(t, h, user1, http.MethodGet, "/v1/jobs/"+j.ID+"/wait?timeout=20ms", nil), http.StatusRequestTimeout)
	expectStatus(t, do(t, h, user1, http.MethodGet, "/v1/jobs/"+j.ID+"/wait?timeout=soon", nil), http.StatusBadRequest)

	expectStatus(t, do(t, h, user1, http.MethodPost, "/v1/jobs/"+j.ID+"/cancel", nil), http.StatusOK)
	rec := do(t, h, user1, http.MethodGet, "/v1/jobs/"+j.ID+"/wait?timeout=1s", nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeJob(t, rec); got.Status != "cancelled" {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestNotFound(t *testing.T) {
	h := newServer(t, api.WithTrustedAnonymous())

	expectStatus(t, do(t, h, anon, http.MethodGet, "/v1/jobs/job_01h2xcejqtf2nbrexx3vqjhp41", nil), http.StatusNotFound)
	expectStatus(t, do(t, h, anon, http.MethodGet, "/v1/agents/nobody", nil), http.StatusNotFound)
	expectStatus(t, do(t, h, anon, http.MethodPost, "/v1/dlq/dlq_01h2xcejqtf2nbrexx3vqjhp41/replay", nil), http.StatusNotFound)
}

func TestStats_InternalOnly(t *testing.T) {
	h := newServer(t, api.WithTrustedAnonymous())
	enqueue(t, h, user1, "render", 3)
	enqueue(t, h, user2, "render", 3)

	expectStatus(t, do(t, h, user1, http.MethodGet, "/v1/stats", nil), http.StatusForbidden)

	rec := do(t, h, anon, http.MethodGet, "/v1/stats", nil)
	expectStatus(t, rec, http.StatusOK)
	var stats api.StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Jobs.Pending != 2 || stats.DLQCount != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSweepAndPurge_InternalOnly(t *testing.T) {
	h := newServer(t, api.WithTrustedAnonymous())

	expectStatus(t, do(t, h, user1, http.MethodPost, "/v1/agents/sweep", nil), http.StatusForbidden)
	expectStatus(t, do(t, h, anon, http.MethodPost, "/v1/agents/sweep?timeout=1m", nil), http.StatusOK)

	expectStatus(t, do(t, h, user1, http.MethodDelete, "/v1/dlq", nil), http.StatusForbidden)
	expectStatus(t, do(t, h, anon, http.MethodDelete, "/v1/dlq?before=yesterday", nil), http.StatusBadRequest)
	rec := do(t, h, anon, http.MethodDelete, "/v1/dlq?before=2030-01-01T00:00:00Z", nil)
	expectStatus(t, rec, http.StatusOK)
}

// syncSink hands events straight to a listener.
type syncSink struct{ l event.Listener }

func (s syncSink) Emit(ctx context.Context, e *event.Event) { _ = s.l.Handle(ctx, e) }

func TestPoll_StaleSweepResetsRateLimit(t *testing.T) {
	clock := conductor.NewManualClock(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	sink := &syncSink{}
	svc := orchestrator.New(memory.New(),
		orchestrator.WithGuard(authz.DefaultPolicy()),
		orchestrator.WithClock(clock),
		orchestrator.WithEventSink(sink),
	)
	a := api.New(svc, api.WithPollRate(rate.Every(time.Hour), 1), api.WithTrustedAnonymous())
	sink.l = a.Listener()
	h := a.Handler()

	expectStatus(t, registerAndPoll(t, h, "render"), http.StatusNoContent)
	poll := map[string]any{"capabilities": []string{"render"}}
	expectStatus(t, do(t, h, agentA, http.MethodPost, "/v1/poll", poll), http.StatusTooManyRequests)

	clock.Advance(time.Hour)
	rec := do(t, h, anon, http.MethodPost, "/v1/agents/sweep?timeout=1m", nil)
	expectStatus(t, rec, http.StatusOK)
	var res agent.SweepResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.OfflineAgents != 1 {
		t.Fatalf("sweep = %+v, want one offline agent", res)
	}

	if rec := do(t, h, agentA, http.MethodPost, "/v1/poll", poll); rec.Code == http.StatusTooManyRequests {
		t.Error("poll after stale sweep still rate limited")
	}
}
