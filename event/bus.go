package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Listener consumes events from a Bus.
type Listener interface {
	// Name returns a unique human-readable name for the listener.
	Name() string
	// Handle processes one event. Errors are logged, never propagated.
	Handle(ctx context.Context, e *Event) error
}

type funcListener struct {
	name string
	fn   func(context.Context, *Event) error
}

func (l funcListener) Name() string                               { return l.name }
func (l funcListener) Handle(ctx context.Context, e *Event) error { return l.fn(ctx, e) }

// ListenerFunc adapts a function to a named Listener.
func ListenerFunc(name string, fn func(context.Context, *Event) error) Listener {
	return funcListener{name: name, fn: fn}
}

// Bus is an asynchronous, best-effort Sink. Emit enqueues onto a bounded
// buffer and returns immediately; a single goroutine delivers events to
// listeners in emission order. When the buffer is full the event is
// dropped and counted. A listener that errors or panics is logged and
// skipped.
type Bus struct {
	logger *slog.Logger
	buffer int

	mu        sync.RWMutex
	closed    bool
	ch        chan delivery
	listeners []Listener

	dropped   atomic.Uint64
	delivered atomic.Uint64
	done      chan struct{}
}

type delivery struct {
	ctx context.Context
	evt *Event
}

var _ Sink = (*Bus)(nil)

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBuffer sets how many events may queue before Emit starts dropping.
func WithBuffer(n int) BusOption {
	return func(b *Bus) { b.buffer = n }
}

// WithLogger sets the logger used for listener failures and drops.
func WithLogger(l *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// WithListeners subscribes listeners at construction.
func WithListeners(ls ...Listener) BusOption {
	return func(b *Bus) { b.listeners = append(b.listeners, ls...) }
}

// NewBus creates a Bus and starts its delivery goroutine. Call Close to
// drain and stop it.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		logger: slog.Default(),
		buffer: 256,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.buffer < 0 {
		b.buffer = 0
	}
	b.ch = make(chan delivery, b.buffer)
	go b.loop()
	return b
}

// Subscribe adds a listener. Listeners are notified in subscription order.
func (b *Bus) Subscribe(l Listener) {
	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()
}

// Emit implements Sink. It never blocks.
func (b *Bus) Emit(ctx context.Context, e *Event) {
	if e == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		return
	}
	select {
	case b.ch <- delivery{ctx: context.WithoutCancel(ctx), evt: e}:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event dropped, bus buffer full",
			slog.String("event", e.Name),
			slog.String("event_id", e.ID.String()),
		)
	}
}

// Dropped returns the number of events discarded because the buffer was
// full or the bus was closed.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Delivered returns the number of events handed to listeners.
func (b *Bus) Delivered() uint64 { return b.delivered.Load() }

// Close stops accepting events and waits for queued events to be
// delivered, or for ctx to end.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) loop() {
	defer close(b.done)
	for d := range b.ch {
		b.mu.RLock()
		ls := b.listeners
		b.mu.RUnlock()
		for _, l := range ls {
			b.deliver(d.ctx, l, d.evt)
		}
		b.delivered.Add(1)
	}
}

func (b *Bus) deliver(ctx context.Context, l Listener, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logListenerError(l.Name(), e, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := l.Handle(ctx, e); err != nil {
		b.logListenerError(l.Name(), e, err)
	}
}

func (b *Bus) logListenerError(listener string, e *Event, err error) {
	b.logger.Warn("event listener error",
		slog.String("listener", listener),
		slog.String("event", e.Name),
		slog.String("error", err.Error()),
	)
}
