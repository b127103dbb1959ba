package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/conductor/dlq"
)

// defaultPurgeAge is how old dead letters must be for DELETE /v1/dlq
// without a before parameter to remove them.
const defaultPurgeAge = 30 * 24 * time.Hour

func (a *API) listDLQ(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	q := r.URL.Query()
	entries, err := a.svc.ListDeadLetters(r.Context(), actorFrom(r.Context()), dlq.ListOpts{
		Limit:   limit,
		Offset:  offset,
		Type:    q.Get("type"),
		OwnerID: q.Get("owner_id"),
	})
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	out := make([]*DeadLetterResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, newDeadLetterResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) getDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := dlqIDParam(r)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	entry, err := a.svc.GetDeadLetter(r.Context(), actorFrom(r.Context()), entryID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeadLetterResponse(entry))
}

func (a *API) replayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := dlqIDParam(r)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	j, err := a.svc.ReplayDeadLetter(r.Context(), actorFrom(r.Context()), entryID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newJobResponse(j))
}

// purgeDLQ removes dead letters that failed before the RFC 3339 before
// parameter, or more than thirty days ago.
func (a *API) purgeDLQ(w http.ResponseWriter, r *http.Request) {
	before := time.Now().UTC().Add(-defaultPurgeAge)
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			a.writeErr(w, r, fmt.Errorf("%w: invalid before: %q", errBadRequest, raw))
			return
		}
		before = t
	}
	n, err := a.svc.PurgeDeadLetters(r.Context(), actorFrom(r.Context()), before)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PurgeDLQResponse{Purged: n})
}

func (a *API) dlqCount(w http.ResponseWriter, r *http.Request) {
	if err := internalOnly(r, "read global statistics"); err != nil {
		a.writeErr(w, r, err)
		return
	}
	n, err := a.svc.CountDeadLetters(r.Context())
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DLQCountResponse{Count: n})
}
