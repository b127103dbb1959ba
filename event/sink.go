package event

import (
	"context"
	"sync"
)

// Sink receives notifications from the core. Emit must not block and
// must not fail the caller.
type Sink interface {
	Emit(ctx context.Context, e *Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(context.Context, *Event) {}

// Recorder is a synchronous Sink that keeps every event in memory.
// It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []*Event
}

// Emit implements Sink.
func (r *Recorder) Emit(_ context.Context, e *Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns the recorded events in emission order.
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the names of the recorded events in emission order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

// Last returns the most recent event with the given name, or nil.
func (r *Recorder) Last(name string) *Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Name == name {
			return r.events[i]
		}
	}
	return nil
}

// Reset discards the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
