package stream

import (
	"sync"
	"sync/atomic"

	"github.com/xraph/conductor/event"
)

// Subscriber receives envelopes on a buffered channel. A full buffer
// drops the envelope rather than blocking the broker.
type Subscriber struct {
	id string
	ch chan *event.Envelope

	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64
}

func newSubscriber(subscriberID string, buffer int) *Subscriber {
	return &Subscriber{id: subscriberID, ch: make(chan *event.Envelope, buffer)}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the event channel. It is closed when the subscriber is removed.
func (s *Subscriber) C() <-chan *event.Envelope { return s.ch }

// Dropped returns how many envelopes were dropped on a full buffer.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

func (s *Subscriber) send(env *event.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- env:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
