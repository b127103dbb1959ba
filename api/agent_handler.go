package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/conductor/agent"
)

func (a *API) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req RegisterAgentRequest
	if err := decode(w, r, &req); err != nil {
		a.writeErr(w, r, err)
		return
	}
	ag, err := a.svc.RegisterAgent(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ag)
}

func (a *API) heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Heartbeat(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "agentID")); err != nil {
		a.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deregisterAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	released, err := a.svc.DeregisterAgent(r.Context(), actorFrom(r.Context()), agentID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	a.polls.forget(agentID)
	writeJSON(w, http.StatusOK, DeregisterResponse{ReleasedJobs: released})
}

func (a *API) getAgent(w http.ResponseWriter, r *http.Request) {
	ag, err := a.svc.GetAgent(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "agentID"))
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ag)
}

func (a *API) listAgents(w http.ResponseWriter, r *http.Request) {
	status := agent.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		a.writeErr(w, r, fmt.Errorf("%w: invalid status: %q", errBadRequest, status))
		return
	}
	agents, err := a.svc.ListAgents(r.Context(), actorFrom(r.Context()), agent.ListOpts{Status: status})
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

// sweepAgents runs one stale-agent check. The optional timeout query
// parameter overrides the configured stale timeout.
func (a *API) sweepAgents(w http.ResponseWriter, r *http.Request) {
	timeout, err := queryDuration(r, "timeout")
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	res, err := a.svc.CheckStaleAgents(r.Context(), actorFrom(r.Context()), timeout)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
