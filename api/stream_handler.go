package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/xraph/conductor/event"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/stream"
)

// keepAliveInterval is how often an idle event stream sends a comment.
const keepAliveInterval = 15 * time.Second

// streamEvents serves GET /v1/events?topic=a&topic=b to internal callers.
// Without a topic it streams the firehose.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	if err := internalOnly(r, "stream global events"); err != nil {
		a.writeErr(w, r, err)
		return
	}
	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		topics = []string{stream.TopicFirehose}
	}
	for _, topic := range topics {
		if err := stream.ValidateTopic(topic); err != nil {
			a.writeErr(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	a.serveStream(w, r, a.broker.Subscribe(topics...), nil)
}

// streamJobEvents serves GET /v1/jobs/{jobID}/events. It requires read
// access to the job and ends once the job reaches a terminal status.
func (a *API) streamJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	// Subscribe before the read so no transition is missed in between.
	sub := a.broker.Subscribe(stream.JobTopic(jobID.String()))
	j, err := a.svc.GetJob(r.Context(), actorFrom(r.Context()), jobID)
	if err != nil {
		a.broker.Unsubscribe(sub)
		a.writeErr(w, r, err)
		return
	}
	if j.Status.Terminal() {
		a.broker.Unsubscribe(sub)
		writeJSON(w, http.StatusOK, newJobResponse(j))
		return
	}
	a.serveStream(w, r, sub, func(env *event.Envelope) bool {
		return env.Job != nil && job.Status(env.Job.Status).Terminal()
	})
}

// serveStream writes envelopes from sub as server-sent events until the
// client goes away, the subscriber is closed, or done reports true.
func (a *API) serveStream(w http.ResponseWriter, r *http.Request, sub *stream.Subscriber, done func(*event.Envelope) bool) {
	defer a.broker.Unsubscribe(sub)

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		a.logger.Warn("event stream: flush unsupported", slog.String("error", err.Error()))
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeEvent(w, env); err != nil {
				return
			}
			if done != nil && done(env) {
				_ = rc.Flush()
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, env *event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\nevent: %s\ndata: %s\n\n", env.ID, env.Name, data)
	_, err = w.Write([]byte(b.String()))
	return err
}
