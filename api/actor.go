package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/xraph/conductor"
)

// Actor headers.
const (
	HeaderActorKind = "X-Actor-Kind"
	HeaderActorID   = "X-Actor-ID"
)

var errNoActor = errors.New("api: missing actor headers")

type actorKey struct{}

// withActor resolves the request's actor from headers and stores it in
// the request context.
func (a *API) withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind := r.Header.Get(HeaderActorKind)
		actorID := r.Header.Get(HeaderActorID)

		if kind == "" && actorID == "" {
			if !a.trustAnonymous {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: errNoActor.Error()})
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		actor, err := conductor.NewActor(conductor.ActorKind(kind), actorID)
		if err != nil {
			a.writeErr(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// actorFrom returns the request's actor, or nil for a trusted internal
// caller.
func actorFrom(ctx context.Context) conductor.Actor {
	a, _ := ctx.Value(actorKey{}).(conductor.Actor)
	return a
}
