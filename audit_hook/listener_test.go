package audithook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/agent"
	audithook "github.com/xraph/conductor/audit_hook"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/event"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type captureRecorder struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (r *captureRecorder) Record(_ context.Context, evt *audithook.AuditEvent) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

func (r *captureRecorder) last(t *testing.T) *audithook.AuditEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		t.Fatal("no audit events recorded")
	}
	return r.events[len(r.events)-1]
}

func (r *captureRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func testJob() *job.Job {
	return &job.Job{
		ID:         id.NewJobID(),
		Type:       "render",
		Status:     job.StatusPending,
		OwnerID:    "u1",
		OwnerKind:  conductor.KindUser,
		MaxRetries: 2,
	}
}

func handle(t *testing.T, l *audithook.Listener, e *event.Event) {
	t.Helper()
	if err := l.Handle(context.Background(), e); err != nil {
		t.Fatalf("Handle(%s): %v", e.Name, err)
	}
}

func TestListener_Name(t *testing.T) {
	l := audithook.New(&captureRecorder{})
	if l.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", l.Name())
	}
}

func TestListener_JobEvents(t *testing.T) {
	tests := []struct {
		name     string
		event    func() *event.Event
		severity string
		outcome  string
		reason   string
	}{
		{
			name: "enqueued",
			event: func() *event.Event {
				return event.ForJob(event.JobEnqueued, t0, conductor.User{ID: "u1"}, testJob())
			},
			severity: audithook.SeverityInfo,
			outcome:  audithook.OutcomeSuccess,
		},
		{
			name: "retry scheduled",
			event: func() *event.Event {
				j := testJob()
				j.RetryCount = 1
				j.Error = []byte("timeout")
				e := event.ForJob(event.JobRetryScheduled, t0, conductor.Agent{ID: "a1"}, j)
				e.RetryDelay = time.Second
				return e
			},
			severity: audithook.SeverityWarning,
			outcome:  audithook.OutcomeFailure,
			reason:   "timeout",
		},
		{
			name: "failed",
			event: func() *event.Event {
				j := testJob()
				j.Status = job.StatusFailed
				j.Error = []byte("boom")
				e := event.ForJob(event.JobFailed, t0, conductor.Agent{ID: "a1"}, j)
				e.DeadLetter = dlq.NewEntry(j, t0)
				return e
			},
			severity: audithook.SeverityCritical,
			outcome:  audithook.OutcomeFailure,
			reason:   "boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &captureRecorder{}
			l := audithook.New(rec)
			e := tt.event()
			handle(t, l, e)

			got := rec.last(t)
			if got.Action != e.Name {
				t.Errorf("Action = %q, want %q", got.Action, e.Name)
			}
			if got.Resource != audithook.ResourceJob || got.Category != audithook.CategoryJob {
				t.Errorf("Resource/Category = %q/%q", got.Resource, got.Category)
			}
			if got.ResourceID != e.Job.ID.String() {
				t.Errorf("ResourceID = %q, want %q", got.ResourceID, e.Job.ID)
			}
			if got.Severity != tt.severity || got.Outcome != tt.outcome {
				t.Errorf("Severity/Outcome = %q/%q, want %q/%q", got.Severity, got.Outcome, tt.severity, tt.outcome)
			}
			if got.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.reason)
			}
			if got.ActorID != conductor.ActorID(e.Actor) {
				t.Errorf("ActorID = %q, want %q", got.ActorID, conductor.ActorID(e.Actor))
			}
			if got.Metadata["job_type"] != "render" {
				t.Errorf("Metadata[job_type] = %v", got.Metadata["job_type"])
			}
		})
	}
}

func TestListener_DeadLetterMetadata(t *testing.T) {
	rec := &captureRecorder{}
	l := audithook.New(rec)
	j := testJob()
	j.Status = job.StatusFailed
	e := event.ForJob(event.JobFailed, t0, nil, j)
	e.DeadLetter = dlq.NewEntry(j, t0)
	handle(t, l, e)

	got := rec.last(t)
	if got.Metadata["dead_letter_id"] != e.DeadLetter.ID.String() {
		t.Errorf("dead_letter_id = %v, want %s", got.Metadata["dead_letter_id"], e.DeadLetter.ID)
	}
	if got.ActorID != "" || got.ActorKind != "" {
		t.Errorf("internal caller should have no actor, got %s/%s", got.ActorKind, got.ActorID)
	}
}

func TestListener_SweepIsWarningWhenJobsReleased(t *testing.T) {
	rec := &captureRecorder{}
	l := audithook.New(rec)
	e := event.New(event.AgentsStaleCheck, t0)
	e.Sweep = &agent.SweepResult{OfflineAgents: 1, ReleasedJobs: 2, AgentIDs: []string{"a1"}}
	handle(t, l, e)

	got := rec.last(t)
	if got.Resource != audithook.ResourceAgent {
		t.Errorf("Resource = %q", got.Resource)
	}
	if got.Severity != audithook.SeverityWarning {
		t.Errorf("Severity = %q, want warning", got.Severity)
	}
	if got.Metadata["released_jobs"] != 2 {
		t.Errorf("released_jobs = %v", got.Metadata["released_jobs"])
	}
}

func TestListener_AgentRegistered(t *testing.T) {
	rec := &captureRecorder{}
	l := audithook.New(rec)
	e := event.New(event.AgentRegistered, t0)
	e.Actor = conductor.Agent{ID: "a1"}
	e.Agent = &agent.Agent{ID: "a1", Hostname: "box", Capabilities: []string{"render"}}
	handle(t, l, e)

	got := rec.last(t)
	if got.ResourceID != "a1" || got.Category != audithook.CategoryAgent {
		t.Errorf("got %+v", got)
	}
}

func TestListener_SkipsProgressByDefault(t *testing.T) {
	rec := &captureRecorder{}
	handle(t, audithook.New(rec), event.ForJob(event.JobProgress, t0, nil, testJob()))
	if rec.count() != 0 {
		t.Fatalf("recorded %d events, want 0", rec.count())
	}

	handle(t, audithook.New(rec, audithook.WithProgress()), event.ForJob(event.JobProgress, t0, nil, testJob()))
	if rec.count() != 1 {
		t.Fatalf("recorded %d events, want 1", rec.count())
	}
}

func TestListener_WithActions(t *testing.T) {
	rec := &captureRecorder{}
	l := audithook.New(rec, audithook.WithActions(audithook.ActionJobCancelled))

	handle(t, l, event.ForJob(event.JobEnqueued, t0, nil, testJob()))
	handle(t, l, event.ForJob(event.JobCancelled, t0, nil, testJob()))

	if rec.count() != 1 {
		t.Fatalf("recorded %d events, want 1", rec.count())
	}
	if rec.last(t).Action != audithook.ActionJobCancelled {
		t.Errorf("Action = %q", rec.last(t).Action)
	}
}

func TestListener_RecorderErrorIsSwallowed(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	failing := audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("backend down")
	})
	l := audithook.New(failing, audithook.WithLogger(logger))

	if err := l.Handle(context.Background(), event.ForJob(event.JobEnqueued, t0, nil, testJob())); err != nil {
		t.Fatalf("Handle returned %v, want nil", err)
	}
	if !strings.Contains(buf.String(), "failed to record audit event") {
		t.Errorf("expected warning in log, got %q", buf.String())
	}
}

func TestSlogRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	l := audithook.New(audithook.NewSlogRecorder(logger))

	j := testJob()
	j.Status = job.StatusFailed
	e := event.ForJob(event.JobFailed, t0, conductor.Agent{ID: "a1"}, j)
	handle(t, l, e)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", rec["level"])
	}
	if rec["action"] != event.JobFailed || rec["actor_id"] != "a1" {
		t.Errorf("record = %v", rec)
	}
	if _, ok := rec["metadata"].(map[string]any); !ok {
		t.Errorf("metadata group missing: %v", rec)
	}
}

func TestAllActions(t *testing.T) {
	if got, want := len(audithook.AllActions()), len(event.Names()); got != want {
		t.Errorf("AllActions() = %d actions, want %d", got, want)
	}
}
