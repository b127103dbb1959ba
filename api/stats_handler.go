package api

import (
	"net/http"

	"github.com/xraph/conductor/agent"
)

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	if err := internalOnly(r, "read global statistics"); err != nil {
		a.writeErr(w, r, err)
		return
	}
	ctx := r.Context()

	jobs, err := a.countJobs(r)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	agents, err := a.svc.ListAgents(ctx, nil, agent.ListOpts{})
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	dlqCount, err := a.svc.CountDeadLetters(ctx)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}

	resp := StatsResponse{Jobs: jobs, DLQCount: dlqCount}
	for _, ag := range agents {
		if ag.Status == agent.StatusOffline {
			resp.AgentsOffline++
		} else {
			resp.AgentsOnline++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
