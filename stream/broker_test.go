package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/conductor/agent"
	"github.com/xraph/conductor/event"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/stream"
)

func jobEvent(name string) (*event.Event, string) {
	j := &job.Job{ID: id.NewJobID(), Type: "render", Status: job.StatusPending}
	return event.ForJob(name, time.Now().UTC(), nil, j), j.ID.String()
}

func receive(t *testing.T, sub *stream.Subscriber) *event.Envelope {
	t.Helper()
	select {
	case env := <-sub.C():
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func expectEmpty(t *testing.T, sub *stream.Subscriber) {
	t.Helper()
	select {
	case env := <-sub.C():
		t.Fatalf("unexpected event %q", env.Name)
	default:
	}
}

func TestBroker_TopicRouting(t *testing.T) {
	b := stream.NewBroker()
	e, jobID := jobEvent(event.JobEnqueued)

	firehose := b.Subscribe(stream.TopicFirehose)
	jobs := b.Subscribe(stream.TopicJobs)
	one := b.Subscribe(stream.JobTopic(jobID))
	other := b.Subscribe(stream.JobTopic("job_other"))
	agents := b.Subscribe(stream.TopicAgents)

	if err := b.Handle(context.Background(), e); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	for name, sub := range map[string]*stream.Subscriber{"firehose": firehose, "jobs": jobs, "job": one} {
		env := receive(t, sub)
		if env.Name != event.JobEnqueued || env.Job == nil || env.Job.ID != jobID {
			t.Fatalf("%s: envelope = %+v", name, env)
		}
	}
	expectEmpty(t, other)
	expectEmpty(t, agents)

	if got := b.Stats().TotalPublished; got != 3 {
		t.Fatalf("published = %d, want 3", got)
	}
}

func TestBroker_DeduplicatesAcrossTopics(t *testing.T) {
	b := stream.NewBroker()
	e, jobID := jobEvent(event.JobClaimed)
	sub := b.Subscribe(stream.TopicFirehose, stream.TopicJobs, stream.JobTopic(jobID))

	_ = b.Handle(context.Background(), e)

	receive(t, sub)
	expectEmpty(t, sub)
}

func TestBroker_AgentAndSweepTopics(t *testing.T) {
	b := stream.NewBroker()
	agentSub := b.Subscribe(stream.AgentTopic("agent-a"))
	agents := b.Subscribe(stream.TopicAgents)

	reg := event.New(event.AgentRegistered, time.Now())
	reg.Agent = &agent.Agent{ID: "agent-a", Status: agent.StatusOnline}
	_ = b.Handle(context.Background(), reg)

	sweep := event.New(event.AgentsStaleCheck, time.Now())
	sweep.Sweep = &agent.SweepResult{OfflineAgents: 1, ReleasedJobs: 2, AgentIDs: []string{"agent-a"}}
	_ = b.Handle(context.Background(), sweep)

	for _, sub := range []*stream.Subscriber{agentSub, agents} {
		if env := receive(t, sub); env.Name != event.AgentRegistered {
			t.Fatalf("first = %q, want %q", env.Name, event.AgentRegistered)
		}
		env := receive(t, sub)
		if env.Name != event.AgentsStaleCheck || env.ReleasedJobs != 2 {
			t.Fatalf("second = %+v", env)
		}
	}
}

func TestBroker_SlowSubscriberDrops(t *testing.T) {
	b := stream.NewBroker(stream.WithBufferSize(1))
	sub := b.Subscribe(stream.TopicJobs)

	for range 3 {
		e, _ := jobEvent(event.JobProgress)
		_ = b.Handle(context.Background(), e)
	}

	if sub.Dropped() != 2 {
		t.Fatalf("dropped = %d, want 2", sub.Dropped())
	}
	if b.Stats().TotalDropped != 2 {
		t.Fatalf("broker dropped = %d, want 2", b.Stats().TotalDropped)
	}
}

func TestBroker_UnsubscribeClosesChannel(t *testing.T) {
	b := stream.NewBroker()
	sub := b.Subscribe(stream.TopicJobs)
	b.Unsubscribe(sub)

	if _, ok := <-sub.C(); ok {
		t.Fatal("channel still open after Unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	e, _ := jobEvent(event.JobEnqueued)
	_ = b.Handle(context.Background(), e)

	stats := b.Stats()
	if stats.SubscriberCount != 0 || stats.TopicCount != 0 {
		t.Fatalf("stats = %+v, want empty", stats)
	}
}

func TestBroker_Close(t *testing.T) {
	b := stream.NewBroker()
	a := b.Subscribe(stream.TopicJobs)
	c := b.Subscribe(stream.TopicAgents)
	b.Close()
	for _, sub := range []*stream.Subscriber{a, c} {
		if _, ok := <-sub.C(); ok {
			t.Fatal("channel still open after Close")
		}
	}
}

func TestValidateTopic(t *testing.T) {
	tests := []struct {
		topic   string
		wantErr bool
	}{
		{stream.TopicFirehose, false},
		{stream.TopicJobs, false},
		{stream.TopicAgents, false},
		{stream.JobTopic("job_1"), false},
		{stream.AgentTopic("a"), false},
		{"job:", true},
		{"queue:x", true},
		{"nope", true},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			err := stream.ValidateTopic(tt.topic)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateTopic(%q) = %v, wantErr %v", tt.topic, err, tt.wantErr)
			}
		})
	}
}
