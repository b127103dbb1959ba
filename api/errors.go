package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/xraph/conductor"
)

type errorResponse struct {
	Error string `json:"error"`
}

// errBadRequest marks malformed requests: bad JSON, bad ids, bad query
// parameters.
var errBadRequest = errors.New("api: bad request")

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps conductor sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, conductor.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, conductor.ErrJobNotFound),
		errors.Is(err, conductor.ErrAgentNotFound),
		errors.Is(err, conductor.ErrDLQNotFound):
		return http.StatusNotFound
	case errors.Is(err, conductor.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, conductor.ErrNotCancellable),
		errors.Is(err, conductor.ErrInvalidState),
		errors.Is(err, conductor.ErrJobAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, conductor.ErrWaitTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, conductor.ErrStore), errors.Is(err, conductor.ErrStoreClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}
