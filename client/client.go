// Package client is a Go client for the conductor HTTP API.
//
// Usage:
//
//	c := client.New("http://conductor:8080", client.WithActor(conductor.User{ID: "u1"}))
//
//	// Enqueue a job and wait for it.
//	j, err := c.Enqueue(ctx, "render", map[string]any{"scene": 7})
//	done, err := c.Wait(ctx, j.ID, time.Minute)
//
// Agents use the same client with an agent actor; see package worker
// for a complete polling runtime.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/api"
)

// Job is a job as returned by the API.
type Job = api.JobResponse

// Client talks to one conductor server.
type Client struct {
	baseURL string
	http    *http.Client
	actor   conductor.Actor
	logger  *slog.Logger
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Actor returns the identity the client sends, or nil.
func (c *Client) Actor() conductor.Actor { return c.actor }

// Error is a non-2xx API response. It unwraps to the conductor sentinel
// matching its status code, so callers can use errors.Is.
type Error struct {
	StatusCode int
	Message    string
	sentinel   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("conductor api: %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error { return e.sentinel }

// ErrRateLimited is returned when the server rejects a poll with 429.
var ErrRateLimited = errors.New("client: rate limited")

func sentinelFor(status int, notFound error) error {
	switch status {
	case http.StatusBadRequest:
		return conductor.ErrInvalidInput
	case http.StatusUnauthorized, http.StatusForbidden:
		return conductor.ErrUnauthorized
	case http.StatusNotFound:
		return notFound
	case http.StatusConflict:
		return conductor.ErrInvalidState
	case http.StatusRequestTimeout:
		return conductor.ErrWaitTimeout
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusServiceUnavailable:
		return conductor.ErrStore
	default:
		return nil
	}
}

// call performs one request. A nil out discards the response body.
// It reports whether the server answered 204 No Content.
func (c *Client) call(ctx context.Context, method, path string, in, out any, notFound error) (noContent bool, err error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return false, fmt.Errorf("client: marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return false, fmt.Errorf("client: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.actor != nil {
		req.Header.Set(api.HeaderActorKind, string(c.actor.Kind()))
		req.Header.Set(api.HeaderActorID, c.actor.ActorID())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		c.logger.Debug("conductor api error",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("error", e.Error),
		)
		return false, &Error{
			StatusCode: resp.StatusCode,
			Message:    e.Error,
			sentinel:   sentinelFor(resp.StatusCode, notFound),
		}
	}
	if resp.StatusCode == http.StatusNoContent {
		return true, nil
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("client: decode response: %w", err)
	}
	return false, nil
}
