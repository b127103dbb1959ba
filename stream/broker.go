package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/xraph/conductor/event"
	"github.com/xraph/conductor/id"
)

var _ event.Listener = (*Broker)(nil)

// DefaultBufferSize is the default per-subscriber buffer.
const DefaultBufferSize = 64

// Broker fans events out to subscribers by topic.
type Broker struct {
	topics     *topicRegistry
	logger     *slog.Logger
	bufferSize int

	mu          sync.Mutex
	subscribers map[string]*Subscriber

	published atomic.Int64
	dropped   atomic.Int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber buffer.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) BrokerOption {
	return func(b *Broker) { b.logger = l }
}

// NewBroker creates a Broker.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:      newTopicRegistry(),
		logger:      slog.Default(),
		bufferSize:  DefaultBufferSize,
		subscribers: make(map[string]*Subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements event.Listener.
func (b *Broker) Name() string { return "stream-broker" }

// Handle implements event.Listener.
func (b *Broker) Handle(_ context.Context, e *event.Event) error {
	b.Publish(event.ToEnvelope(e))
	return nil
}

// Publish delivers env to every subscriber of its topics.
func (b *Broker) Publish(env *event.Envelope) {
	delivered, dropped := b.topics.broadcast(topicsFor(env), env)
	b.published.Add(int64(delivered))
	if dropped > 0 {
		b.dropped.Add(int64(dropped))
		b.logger.Debug("stream subscribers lagging",
			slog.String("event", env.Name),
			slog.Int("dropped", dropped),
		)
	}
}

// Subscribe registers a new subscriber on topics. Callers must validate
// topics and call Unsubscribe when done.
func (b *Broker) Subscribe(topics ...string) *Subscriber {
	sub := newSubscriber(id.NewEventID().String(), b.bufferSize)
	b.mu.Lock()
	b.subscribers[sub.ID()] = sub
	b.mu.Unlock()
	for _, topic := range topics {
		b.topics.subscribe(topic, sub)
	}
	return sub
}

// Unsubscribe removes sub from all topics and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.topics.unsubscribeAll(sub.ID())
	b.mu.Lock()
	delete(b.subscribers, sub.ID())
	b.mu.Unlock()
	sub.close()
}

// Close removes every subscriber.
func (b *Broker) Close() {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	for _, sub := range subs {
		b.Unsubscribe(sub)
	}
}

// Stats returns broker counters.
func (b *Broker) Stats() BrokerStats {
	b.mu.Lock()
	n := len(b.subscribers)
	b.mu.Unlock()
	return BrokerStats{
		TopicCount:      b.topics.count(),
		SubscriberCount: n,
		TotalPublished:  b.published.Load(),
		TotalDropped:    b.dropped.Load(),
	}
}

// BrokerStats contains broker counters.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}
