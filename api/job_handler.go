package api

import (
	"fmt"
	"net/http"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/lease"
	"github.com/xraph/conductor/orchestrator"
)

func (a *API) enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := decode(w, r, &req); err != nil {
		a.writeErr(w, r, err)
		return
	}

	j, err := a.svc.Enqueue(r.Context(), actorFrom(r.Context()), orchestrator.EnqueueRequest{
		Type:       req.Type,
		Payload:    req.Payload,
		MaxRetries: req.MaxRetries,
		OwnerID:    req.OwnerID,
		OwnerKind:  req.OwnerKind,
	})
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newJobResponse(j))
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	q := r.URL.Query()
	status := job.Status(q.Get("status"))
	if status != "" && !status.Valid() {
		a.writeErr(w, r, fmt.Errorf("%w: invalid status: %q", errBadRequest, status))
		return
	}

	js, err := a.svc.ListJobs(r.Context(), actorFrom(r.Context()), job.ListOpts{
		Limit:    limit,
		Offset:   offset,
		Status:   status,
		Type:     q.Get("type"),
		OwnerID:  q.Get("owner_id"),
		LockedBy: q.Get("locked_by"),
	})
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponses(js))
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	j, err := a.svc.GetJob(r.Context(), actorFrom(r.Context()), jobID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(j))
}

func (a *API) waitJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	timeout, err := queryDuration(r, "timeout")
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	if timeout == 0 || timeout > a.maxWait {
		timeout = a.maxWait
	}

	j, err := a.svc.WaitForCompletion(r.Context(), actorFrom(r.Context()), jobID, orchestrator.WaitOptions{
		Timeout: timeout,
	})
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(j))
}

func (a *API) completeJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	var req CompleteRequest
	if err := decode(w, r, &req); err != nil {
		a.writeErr(w, r, err)
		return
	}
	j, err := a.svc.Complete(r.Context(), actorFrom(r.Context()), jobID, req.Result)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(j))
}

func (a *API) failJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	var req FailRequest
	if err := decode(w, r, &req); err != nil {
		a.writeErr(w, r, err)
		return
	}
	j, err := a.svc.Fail(r.Context(), actorFrom(r.Context()), jobID, req.Error)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(j))
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	j, err := a.svc.Cancel(r.Context(), actorFrom(r.Context()), jobID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(j))
}

func (a *API) updateProgress(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	var req ProgressRequest
	if err := decode(w, r, &req); err != nil {
		a.writeErr(w, r, err)
		return
	}
	if err := a.svc.UpdateProgress(r.Context(), actorFrom(r.Context()), jobID, req.Progress); err != nil {
		a.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// poll leases the next eligible job. It answers 204 when nothing is
// eligible and 429 when the agent polls faster than its rate allows.
func (a *API) poll(w http.ResponseWriter, r *http.Request) {
	var req PollRequest
	if err := decode(w, r, &req); err != nil {
		a.writeErr(w, r, err)
		return
	}
	actor := actorFrom(r.Context())
	if ag, ok := actor.(conductor.Agent); ok && req.AgentID == "" {
		req.AgentID = ag.ID
	}

	if !a.polls.allow(req.AgentID) {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "api: poll rate exceeded"})
		return
	}

	j, err := a.svc.Poll(r.Context(), actor, lease.Request{
		AgentID:      req.AgentID,
		Capabilities: req.Capabilities,
		OwnerFilter:  req.OwnerFilter,
	})
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	if j == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(j))
}

// jobCounts is restricted to internal callers: counts span all owners.
func (a *API) jobCounts(w http.ResponseWriter, r *http.Request) {
	if err := internalOnly(r, "read global statistics"); err != nil {
		a.writeErr(w, r, err)
		return
	}
	counts, err := a.countJobs(r)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (a *API) countJobs(r *http.Request) (JobCountsResponse, error) {
	var resp JobCountsResponse
	for _, status := range []job.Status{
		job.StatusPending, job.StatusRunning, job.StatusCompleted,
		job.StatusFailed, job.StatusCancelled,
	} {
		count, err := a.svc.CountJobs(r.Context(), job.CountOpts{Status: status})
		if err != nil {
			return resp, fmt.Errorf("count jobs (%s): %w", status, err)
		}
		switch status {
		case job.StatusPending:
			resp.Pending = count
		case job.StatusRunning:
			resp.Running = count
		case job.StatusCompleted:
			resp.Completed = count
		case job.StatusFailed:
			resp.Failed = count
		case job.StatusCancelled:
			resp.Cancelled = count
		}
	}
	return resp, nil
}

func internalOnly(r *http.Request, what string) error {
	if actor := actorFrom(r.Context()); actor != nil {
		return fmt.Errorf("%w: %s may not %s", conductor.ErrUnauthorized, actor.Kind(), what)
	}
	return nil
}
