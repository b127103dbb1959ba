package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/conductor/id"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	maxBodyBytes     = 4 << 20
)

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

func jobIDParam(r *http.Request) (id.JobID, error) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		return id.Nil, fmt.Errorf("%w: invalid job ID: %v", errBadRequest, err)
	}
	return jobID, nil
}

func dlqIDParam(r *http.Request) (id.DLQID, error) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryID"))
	if err != nil {
		return id.Nil, fmt.Errorf("%w: invalid dead letter ID: %v", errBadRequest, err)
	}
	return entryID, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid %s: %q", errBadRequest, key, raw)
	}
	return n, nil
}

func queryDuration(r *http.Request, key string) (time.Duration, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: invalid %s: %q", errBadRequest, key, raw)
	}
	return d, nil
}

// page reads limit and offset, applying the default and maximum limit.
func page(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(r, "offset"); err != nil {
		return 0, 0, err
	}
	switch {
	case limit == 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return limit, offset, nil
}
