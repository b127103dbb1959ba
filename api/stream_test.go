package api_test

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/api"
	"github.com/xraph/conductor/authz"
	"github.com/xraph/conductor/event"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/lease"
	"github.com/xraph/conductor/orchestrator"
	"github.com/xraph/conductor/store/memory"
	"github.com/xraph/conductor/stream"
)

func newStreamServer(t *testing.T) (*httptest.Server, *orchestrator.Service) {
	t.Helper()
	broker := stream.NewBroker()
	bus := event.NewBus(event.WithListeners(broker))
	t.Cleanup(func() { _ = bus.Close(context.Background()) })
	svc := orchestrator.New(memory.New(),
		orchestrator.WithGuard(authz.DefaultPolicy()),
		orchestrator.WithEventSink(bus),
	)
	srv := httptest.NewServer(api.New(svc, api.WithBroker(broker), api.WithTrustedAnonymous()).Handler())
	t.Cleanup(srv.Close)
	return srv, svc
}

func openStream(t *testing.T, url string, as actorHeaders) *http.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if as.kind != "" {
		req.Header.Set(api.HeaderActorKind, as.kind)
		req.Header.Set(api.HeaderActorID, as.id)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// readEvents collects event names until the stream ends or n are read.
func readEvents(resp *http.Response, n int) []string {
	var names []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			names = append(names, name)
			if len(names) == n {
				break
			}
		}
	}
	return names
}

func TestJobEvents_StreamUntilTerminal(t *testing.T) {
	srv, svc := newStreamServer(t)
	ctx := context.Background()
	owner := conductor.User{ID: "u1"}

	j, err := svc.Enqueue(ctx, owner, orchestrator.EnqueueRequest{Type: "render", MaxRetries: new(int)})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	resp := openStream(t, srv.URL+"/v1/jobs/"+j.ID.String()+"/events", user1)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	agentActor := conductor.Agent{ID: "agent-a"}
	if _, err := svc.Poll(ctx, agentActor, lease.Request{AgentID: "agent-a", Capabilities: []string{"render"}}); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if _, err := svc.Complete(ctx, agentActor, j.ID, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// The stream ends itself after the terminal event. job.enqueued may
	// still be in flight on the bus when the subscription starts.
	got := readEvents(resp, 10)
	if n := len(got); n < 2 || got[n-2] != event.JobClaimed || got[n-1] != event.JobCompleted {
		t.Fatalf("events = %v, want to end with %s, %s", got, event.JobClaimed, event.JobCompleted)
	}
}

func TestJobEvents_Authorization(t *testing.T) {
	srv, svc := newStreamServer(t)
	j, err := svc.Enqueue(context.Background(), conductor.User{ID: "u1"}, orchestrator.EnqueueRequest{Type: "render"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	resp := openStream(t, srv.URL+"/v1/jobs/"+j.ID.String()+"/events", user2)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	resp = openStream(t, srv.URL+"/v1/jobs/"+id.NewJobID().String()+"/events", user1)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestJobEvents_TerminalReturnsSnapshot(t *testing.T) {
	srv, svc := newStreamServer(t)
	ctx := context.Background()
	owner := conductor.User{ID: "u1"}
	j, err := svc.Enqueue(ctx, owner, orchestrator.EnqueueRequest{Type: "render"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := svc.Cancel(ctx, owner, j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	resp := openStream(t, srv.URL+"/v1/jobs/"+j.ID.String()+"/events", user1)
	if ct := resp.Header.Get("Content-Type"); resp.StatusCode != http.StatusOK || !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("status = %d, content type = %q", resp.StatusCode, ct)
	}
}

func TestFirehose_InternalOnly(t *testing.T) {
	srv, svc := newStreamServer(t)

	resp := openStream(t, srv.URL+"/v1/events", user1)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("user status = %d, want 403", resp.StatusCode)
	}
	resp = openStream(t, srv.URL+"/v1/events?topic=bogus", anon)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad topic status = %d, want 400", resp.StatusCode)
	}

	resp = openStream(t, srv.URL+"/v1/events?topic="+stream.TopicJobs, anon)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if _, err := svc.Enqueue(context.Background(), conductor.User{ID: "u1"}, orchestrator.EnqueueRequest{Type: "render"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := readEvents(resp, 1); len(got) != 1 || got[0] != event.JobEnqueued {
		t.Fatalf("events = %v, want [%s]", got, event.JobEnqueued)
	}
}
