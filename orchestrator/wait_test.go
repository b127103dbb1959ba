package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/orchestrator"
)

var fastWait = orchestrator.WaitOptions{
	Interval:    2 * time.Millisecond,
	MaxInterval: 10 * time.Millisecond,
}

func TestWaitForCompletion_ReturnsTerminalJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.enqueue(t, u1, "build", 3)
	f.poll(t, agent1, "build")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = f.svc.Complete(ctx, agent1, j.ID, []byte("ok"))
	}()

	opts := fastWait
	opts.Timeout = 5 * time.Second
	got, err := f.svc.WaitForCompletion(ctx, u1, j.ID, opts)
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if got.Status != job.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
}

func TestWaitForCompletion_AlreadyTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := f.enqueue(t, u1, "build", 3)
	if _, err := f.svc.Cancel(ctx, u1, j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, err := f.svc.WaitForCompletion(ctx, u1, j.ID, fastWait)
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if got.Status != job.StatusCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}
}

func TestWaitForCompletion_Timeout(t *testing.T) {
	f := newFixture(t)
	j := f.enqueue(t, u1, "build", 3)

	opts := fastWait
	opts.Timeout = 30 * time.Millisecond
	_, err := f.svc.WaitForCompletion(context.Background(), u1, j.ID, opts)
	if !errors.Is(err, conductor.ErrWaitTimeout) {
		t.Fatalf("err = %v, want ErrWaitTimeout", err)
	}
}

func TestWaitForCompletion_CallerCancellation(t *testing.T) {
	f := newFixture(t)
	j := f.enqueue(t, u1, "build", 3)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	opts := fastWait
	opts.Timeout = 5 * time.Second
	_, err := f.svc.WaitForCompletion(ctx, u1, j.ID, opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, conductor.ErrWaitTimeout) {
		t.Fatal("caller cancellation reported as timeout")
	}
}

func TestWaitForCompletion_Errors(t *testing.T) {
	f := newFixture(t)
	j := f.enqueue(t, u1, "build", 3)

	if _, err := f.svc.WaitForCompletion(context.Background(), u2, j.ID, fastWait); !errors.Is(err, conductor.ErrUnauthorized) {
		t.Errorf("wait by other user err = %v, want ErrUnauthorized", err)
	}

	other := newFixture(t)
	if _, err := other.svc.WaitForCompletion(context.Background(), u1, j.ID, fastWait); !errors.Is(err, conductor.ErrJobNotFound) {
		t.Errorf("wait on unknown job err = %v, want ErrJobNotFound", err)
	}
}
