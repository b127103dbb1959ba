package relayhook

import (
	"log/slog"

	"github.com/xraph/conductor/event"
)

// Option configures a Listener.
type Option func(*Listener)

// WithEvents restricts the listener to publish only the listed events.
// By default every event is published. Unknown names are ignored.
func WithEvents(names ...string) Option {
	return func(l *Listener) {
		l.enabled = make(map[string]bool, len(names))
		for _, n := range names {
			l.enabled[n] = true
		}
	}
}

// WithCodec sets the wire codec. Defaults to JSON.
func WithCodec(c event.Codec) Option {
	return func(l *Listener) { l.codec = c }
}

// WithPrefix sets the channel prefix. Defaults to [DefaultPrefix].
func WithPrefix(prefix string) Option {
	return func(l *Listener) { l.prefix = prefix }
}

// WithLogger sets the logger used for publish failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) { l.logger = logger }
}
