// Package handler exposes the voice queue over HTTP: submit, poll, cancel,
// stream, engine health and profile listing.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/spiralogic/oraclevoice/internal/speech/artifact"
	"github.com/spiralogic/oraclevoice/internal/speech/health"
	"github.com/spiralogic/oraclevoice/internal/speech/queue"
	"github.com/spiralogic/oraclevoice/internal/speech/style"
	"github.com/spiralogic/oraclevoice/pkg/events"
)

const (
	maxRequestBodySize = 1 << 20 // 1 MiB
	maxTextLength      = 5000
	defaultHeartbeat   = 15 * time.Second
)

// JobQueue is the queue surface the handler needs.
type JobQueue interface {
	Submit(ctx context.Context, text, role string, opts ...queue.SubmitOption) (string, error)
	Get(id string) (queue.Job, error)
	Cancel(ctx context.Context, id string) (queue.Job, error)
	Stats() queue.Stats
}

// HealthSource reports engine health in priority order.
type HealthSource interface {
	Snapshot() []health.EngineHealth
}

// ProfileSource lists configured voice profiles.
type ProfileSource interface {
	Profiles() []style.Profile
	DefaultRole() string
}

// ArtifactReader reads stored audio.
type ArtifactReader interface {
	Get(ctx context.Context, key string) ([]byte, string, error)
}

// SpeechHandler serves the speech REST and event-stream routes.
type SpeechHandler struct {
	queue     JobQueue
	health    HealthSource
	profiles  ProfileSource
	artifacts ArtifactReader
	hub       *events.Hub
	heartbeat time.Duration
}

// NewSpeechHandler creates a new speech handler. artifacts and hub may be nil,
// which disables the audio and event routes respectively.
func NewSpeechHandler(q JobQueue, h HealthSource, p ProfileSource, artifacts ArtifactReader, hub *events.Hub) *SpeechHandler {
	return &SpeechHandler{
		queue:     q,
		health:    h,
		profiles:  p,
		artifacts: artifacts,
		hub:       hub,
		heartbeat: defaultHeartbeat,
	}
}

// RegisterRoutes registers all speech routes on the given mux.
func (h *SpeechHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/speech/jobs", h.Submit)
	mux.HandleFunc("GET /api/v1/speech/jobs/{id}", h.Get)
	mux.HandleFunc("DELETE /api/v1/speech/jobs/{id}", h.Cancel)
	mux.HandleFunc("GET /api/v1/speech/jobs/{id}/audio", h.Audio)
	mux.HandleFunc("GET /api/v1/speech/artifacts/{key...}", h.Artifact)
	mux.HandleFunc("GET /api/v1/speech/engines/health", h.EngineHealth)
	mux.HandleFunc("GET /api/v1/speech/events", h.Events)
	mux.HandleFunc("GET /api/v1/speech/profiles", h.Profiles)
	mux.HandleFunc("GET /api/v1/speech/queue", h.QueueStats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// Submit handles POST /api/v1/speech/jobs
func (h *SpeechHandler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if utf8.RuneCountInString(req.Text) > maxTextLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("text exceeds %d characters", maxTextLength))
		return
	}

	var opts []queue.SubmitOption
	if req.UseDefaultVoice {
		opts = append(opts, queue.WithDefaultPersona())
	}

	id, err := h.queue.Submit(r.Context(), req.Text, req.Role, opts...)
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, queue.ErrQueueSaturated), errors.Is(err, queue.ErrStopped):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		slog.ErrorContext(r.Context(), "submit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	w.Header().Set("Location", "/api/v1/speech/jobs/"+id)
	writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: id, Status: string(queue.StatusQueued)})
}

// Get handles GET /api/v1/speech/jobs/{id}
func (h *SpeechHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.queue.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Cancel handles DELETE /api/v1/speech/jobs/{id}
func (h *SpeechHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.queue.Cancel(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, job)
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, queue.ErrNotCancellable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
	}
}

// Audio handles GET /api/v1/speech/jobs/{id}/audio
func (h *SpeechHandler) Audio(w http.ResponseWriter, r *http.Request) {
	job, err := h.queue.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != queue.StatusCompleted || job.Result == nil {
		writeError(w, http.StatusConflict, "job has no audio: status is "+string(job.Status))
		return
	}
	h.serveArtifact(w, r, job.Result.Key)
}

// Artifact handles GET /api/v1/speech/artifacts/{key...}
func (h *SpeechHandler) Artifact(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, r.PathValue("key"))
}

func (h *SpeechHandler) serveArtifact(w http.ResponseWriter, r *http.Request, key string) {
	if h.artifacts == nil {
		writeError(w, http.StatusNotImplemented, "artifact store not configured")
		return
	}
	data, contentType, err := h.artifacts.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		slog.ErrorContext(r.Context(), "artifact read failed", slog.String("key", key), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read artifact")
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// EngineHealth handles GET /api/v1/speech/engines/health
func (h *SpeechHandler) EngineHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.health.Snapshot()
	resp := make(map[string]health.EngineHealth, len(snap))
	for _, eh := range snap {
		resp[eh.Name] = eh
	}
	writeJSON(w, http.StatusOK, resp)
}

// Profiles handles GET /api/v1/speech/profiles
func (h *SpeechHandler) Profiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ProfilesResponse{
		DefaultRole: h.profiles.DefaultRole(),
		Profiles:    h.profiles.Profiles(),
	})
}

// QueueStats handles GET /api/v1/speech/queue
func (h *SpeechHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queue.Stats())
}
