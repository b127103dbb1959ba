package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/api"
	"github.com/xraph/conductor/job"
)

// EnqueueOption configures an enqueue request.
type EnqueueOption func(*api.EnqueueRequest)

// WithMaxRetries sets the job's retry budget.
func WithMaxRetries(n int) EnqueueOption {
	return func(r *api.EnqueueRequest) { r.MaxRetries = &n }
}

// OnBehalfOf names the owner when an anonymous internal caller enqueues
// for someone else.
func OnBehalfOf(owner conductor.Actor) EnqueueOption {
	return func(r *api.EnqueueRequest) {
		r.OwnerID = conductor.ActorID(owner)
		r.OwnerKind = conductor.KindOf(owner)
	}
}

// Enqueue submits a job. payload is marshalled to JSON; a json.RawMessage
// or []byte holding JSON is sent as is.
func (c *Client) Enqueue(ctx context.Context, jobType string, payload any, opts ...EnqueueOption) (*Job, error) {
	raw, err := marshalBlob(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req := api.EnqueueRequest{Type: jobType, Payload: raw}
	for _, opt := range opts {
		opt(&req)
	}
	var j Job
	if _, err := c.call(ctx, http.MethodPost, "/v1/jobs", req, &j, conductor.ErrJobNotFound); err != nil {
		return nil, err
	}
	return &j, nil
}

// GetJob retrieves a job by ID.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var j Job
	if _, err := c.call(ctx, http.MethodGet, jobPath(jobID, ""), nil, &j, conductor.ErrJobNotFound); err != nil {
		return nil, err
	}
	return &j, nil
}

// ListJobsOpts filters ListJobs.
type ListJobsOpts struct {
	Status job.Status
	Type   string
	Limit  int
	Offset int
}

// ListJobs lists the jobs visible to the client's actor.
func (c *Client) ListJobs(ctx context.Context, opts ListJobsOpts) ([]*Job, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.Type != "" {
		q.Set("type", opts.Type)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/v1/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var js []*Job
	if _, err := c.call(ctx, http.MethodGet, path, nil, &js, conductor.ErrJobNotFound); err != nil {
		return nil, err
	}
	return js, nil
}

// CancelJob cancels a job by ID.
func (c *Client) CancelJob(ctx context.Context, jobID string) (*Job, error) {
	var j Job
	if _, err := c.call(ctx, http.MethodPost, jobPath(jobID, "/cancel"), nil, &j, conductor.ErrJobNotFound); err != nil {
		return nil, err
	}
	return &j, nil
}

// Wait blocks until the job is terminal or timeout passes, in which case
// the error matches conductor.ErrWaitTimeout. The server caps timeout.
func (c *Client) Wait(ctx context.Context, jobID string, timeout time.Duration) (*Job, error) {
	path := jobPath(jobID, "/wait")
	if timeout > 0 {
		path += "?timeout=" + url.QueryEscape(timeout.String())
	}
	var j Job
	if _, err := c.call(ctx, http.MethodGet, path, nil, &j, conductor.ErrJobNotFound); err != nil {
		return nil, err
	}
	return &j, nil
}

// Complete reports success with an optional result.
func (c *Client) Complete(ctx context.Context, jobID string, result any) (*Job, error) {
	raw, err := marshalBlob(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	var j Job
	if _, err := c.call(ctx, http.MethodPost, jobPath(jobID, "/complete"), api.CompleteRequest{Result: raw}, &j, conductor.ErrJobNotFound); err != nil {
		return nil, err
	}
	return &j, nil
}

// Fail reports a failed attempt. The returned job shows whether a retry
// was scheduled or the job was dead-lettered.
func (c *Client) Fail(ctx context.Context, jobID string, jobErr any) (*Job, error) {
	raw, err := marshalBlob(jobErr)
	if err != nil {
		return nil, fmt.Errorf("marshal error: %w", err)
	}
	var j Job
	if _, err := c.call(ctx, http.MethodPost, jobPath(jobID, "/fail"), api.FailRequest{Error: raw}, &j, conductor.ErrJobNotFound); err != nil {
		return nil, err
	}
	return &j, nil
}

// UpdateProgress records progress on a running job.
func (c *Client) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	_, err := c.call(ctx, http.MethodPost, jobPath(jobID, "/progress"), api.ProgressRequest{Progress: progress}, nil, conductor.ErrJobNotFound)
	return err
}

func jobPath(jobID, suffix string) string {
	return "/v1/jobs/" + url.PathEscape(jobID) + suffix
}

// marshalBlob turns v into the raw JSON sent for payloads, results and
// errors. Errors are sent as their message.
func marshalBlob(v any) (json.RawMessage, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return b, nil
	case []byte:
		if len(b) == 0 {
			return nil, nil
		}
		if json.Valid(b) {
			return b, nil
		}
		return json.Marshal(string(b))
	case error:
		return json.Marshal(b.Error())
	default:
		return json.Marshal(v)
	}
}
