package event_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conductor/event"
)

type collector struct {
	mu    sync.Mutex
	names []string
}

func (c *collector) Name() string { return "collector" }

func (c *collector) Handle(_ context.Context, e *event.Event) error {
	c.mu.Lock()
	c.names = append(c.names, e.Name)
	c.mu.Unlock()
	return nil
}

func (c *collector) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

func closeBus(t *testing.T, b *event.Bus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestBus_DeliversInOrder(t *testing.T) {
	c := &collector{}
	b := event.NewBus(event.WithListeners(c))
	ctx := context.Background()
	now := time.Now()

	b.Emit(ctx, event.New(event.JobEnqueued, now))
	b.Emit(ctx, event.New(event.JobClaimed, now))
	b.Emit(ctx, event.New(event.JobCompleted, now))
	closeBus(t, b)

	want := []string{event.JobEnqueued, event.JobClaimed, event.JobCompleted}
	got := c.got()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if b.Delivered() != 3 {
		t.Errorf("Delivered = %d, want 3", b.Delivered())
	}
}

func TestBus_DropsWhenFull(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	slow := event.ListenerFunc("slow", func(_ context.Context, e *event.Event) error {
		if e.Name == event.JobEnqueued {
			started <- struct{}{}
			<-release
		}
		return nil
	})
	c := &collector{}
	b := event.NewBus(event.WithBuffer(1), event.WithListeners(slow, c))
	ctx := context.Background()
	now := time.Now()

	b.Emit(ctx, event.New(event.JobEnqueued, now))
	<-started
	// The delivery goroutine is parked in the slow listener; one slot left.
	b.Emit(ctx, event.New(event.JobClaimed, now))
	b.Emit(ctx, event.New(event.JobCompleted, now))

	if b.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", b.Dropped())
	}

	close(release)
	closeBus(t, b)

	got := c.got()
	if len(got) != 2 || got[0] != event.JobEnqueued || got[1] != event.JobClaimed {
		t.Errorf("delivered %v, want [job.enqueued job.claimed]", got)
	}
}

func TestBus_ListenerFailuresAreContained(t *testing.T) {
	failing := event.ListenerFunc("failing", func(context.Context, *event.Event) error {
		return errors.New("sink down")
	})
	panicking := event.ListenerFunc("panicking", func(context.Context, *event.Event) error {
		panic("boom")
	})
	c := &collector{}
	b := event.NewBus(event.WithListeners(failing, panicking, c))

	b.Emit(context.Background(), event.New(event.JobProgress, time.Now()))
	b.Emit(context.Background(), event.New(event.JobCompleted, time.Now()))
	closeBus(t, b)

	if got := c.got(); len(got) != 2 {
		t.Errorf("collector got %v, want 2 events despite failing listeners", got)
	}
}

func TestBus_EmitAfterCloseIsDropped(t *testing.T) {
	c := &collector{}
	b := event.NewBus(event.WithListeners(c))
	closeBus(t, b)

	b.Emit(context.Background(), event.New(event.JobCompleted, time.Now()))

	if b.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", b.Dropped())
	}
	if got := c.got(); len(got) != 0 {
		t.Errorf("collector got %v after close", got)
	}
	// Closing twice is harmless.
	closeBus(t, b)
}

func TestBus_ListenerSeesDetachedContext(t *testing.T) {
	errCh := make(chan error, 1)
	l := event.ListenerFunc("ctx", func(ctx context.Context, _ *event.Event) error {
		errCh <- ctx.Err()
		return nil
	})
	b := event.NewBus(event.WithListeners(l))

	ctx, cancel := context.WithCancel(context.Background())
	b.Emit(ctx, event.New(event.JobCancelled, time.Now()))
	cancel()
	closeBus(t, b)

	if err := <-errCh; err != nil {
		t.Errorf("listener ctx.Err() = %v, want nil", err)
	}
}

func TestBus_SubscribeAfterStart(t *testing.T) {
	b := event.NewBus()
	c := &collector{}
	b.Subscribe(c)

	b.Emit(context.Background(), event.New(event.AgentRegistered, time.Now()))
	closeBus(t, b)

	if got := c.got(); len(got) != 1 || got[0] != event.AgentRegistered {
		t.Errorf("got %v, want [agent.registered]", got)
	}
}

func TestRecorder(t *testing.T) {
	var r event.Recorder
	ctx := context.Background()
	now := time.Now()

	first := event.New(event.JobProgress, now)
	second := event.New(event.JobProgress, now)
	r.Emit(ctx, first)
	r.Emit(ctx, event.New(event.JobCompleted, now))
	r.Emit(ctx, second)

	if got := r.Names(); len(got) != 3 {
		t.Fatalf("Names = %v, want 3 entries", got)
	}
	if r.Last(event.JobProgress) != second {
		t.Error("Last(job.progress) did not return the latest event")
	}
	if r.Last(event.JobFailed) != nil {
		t.Error("Last(job.failed) should be nil")
	}
	r.Reset()
	if len(r.Events()) != 0 {
		t.Error("Reset did not clear events")
	}
}
