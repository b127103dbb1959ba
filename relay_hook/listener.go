package relayhook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/conductor/event"
)

// Publisher is the subset of redis.Cmdable the listener needs.
// *redis.Client, *redis.ClusterClient and *redis.Ring satisfy it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

var (
	_ event.Listener = (*Listener)(nil)
	_ Publisher      = (*redis.Client)(nil)
)

// Listener publishes every event it handles to Redis.
type Listener struct {
	pub     Publisher
	codec   event.Codec
	prefix  string
	enabled map[string]bool // nil = all enabled
	logger  *slog.Logger
}

// New creates a Listener publishing through pub.
func New(pub Publisher, opts ...Option) *Listener {
	l := &Listener{
		pub:    pub,
		codec:  &event.JSONCodec{},
		prefix: DefaultPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name implements event.Listener.
func (l *Listener) Name() string { return "relay-hook" }

// Handle implements event.Listener. Publish errors are returned so the
// bus logs them; delivery is not retried.
func (l *Listener) Handle(ctx context.Context, e *event.Event) error {
	if l.enabled != nil && !l.enabled[e.Name] {
		return nil
	}

	data, err := l.codec.Encode(e)
	if err != nil {
		return fmt.Errorf("relayhook: encode %s: %w", e.Name, err)
	}

	channel := Channel(l.prefix, e.Name)
	receivers, err := l.pub.Publish(ctx, channel, data).Result()
	if err != nil {
		return fmt.Errorf("relayhook: publish %s: %w", channel, err)
	}
	l.logger.Debug("event published",
		slog.String("channel", channel),
		slog.String("event_id", e.ID.String()),
		slog.String("codec", l.codec.Name()),
		slog.Int64("receivers", receivers),
	)
	return nil
}
