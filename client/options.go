package client

import (
	"log/slog"
	"net/http"

	"github.com/xraph/conductor"
)

// Option configures a Client.
type Option func(*Client)

// WithActor sets the identity sent in the actor headers. Without one the
// server treats the client as anonymous.
func WithActor(a conductor.Actor) Option {
	return func(c *Client) { c.actor = a }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}
