package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spiralogic/oraclevoice/pkg/events"
)

// snapshotEvent carries the job state at subscription time. It is sent when a
// stream is filtered to a single job.
const snapshotEvent = "job.snapshot"

// Events handles GET /api/v1/speech/events as a server-sent event stream.
//
// Query parameters: job_id and role filter the stream; until_terminal=true
// with job_id closes the stream after that job finishes.
func (h *SpeechHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event hub not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	q := r.URL.Query()
	filter := events.Filter{JobID: q.Get("job_id"), Role: q.Get("role")}
	untilTerminal, _ := strconv.ParseBool(q.Get("until_terminal"))
	untilTerminal = untilTerminal && filter.JobID != ""

	// Subscribe before reading the snapshot so no transition falls in between.
	sub := h.hub.Subscribe(filter, 128)
	defer h.hub.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	if filter.JobID != "" {
		if job, err := h.queue.Get(filter.JobID); err == nil {
			data, _ := json.Marshal(job)
			writeEvent(w, "", snapshotEvent, data)
			flusher.Flush()
			if untilTerminal && job.Status.Terminal() {
				return
			}
		}
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeEvent(w, env.ID, string(env.Type), env.Data); err != nil {
				return
			}
			flusher.Flush()
			if untilTerminal && env.Type.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, id, eventType string, data []byte) error {
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	return err
}
