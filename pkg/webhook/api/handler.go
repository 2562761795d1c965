// Package api exposes webhook registration and delivery inspection over REST.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/pitabwire/frame/workerpool"

	"github.com/spiralogic/oraclevoice/pkg/events"
	"github.com/spiralogic/oraclevoice/pkg/urlvalidation"
	"github.com/spiralogic/oraclevoice/pkg/webhook"
)

const maxRequestBodySize = 1 << 20 // 1 MiB

// Emitter publishes events onto the hub.
type Emitter interface {
	Emit(ctx context.Context, eventType events.EventType, jobID, role string, data any) error
}

// Handler provides REST endpoints for webhook management.
type Handler struct {
	repo         webhook.Store
	emitter      Emitter
	sender       webhook.Sender
	pool         workerpool.WorkerPool
	validateOpts []urlvalidation.Option
}

// NewHandler creates a new webhook API handler. Test pings go out through
// emitter; dead-letter replays are handed straight to sender on pool.
func NewHandler(repo webhook.Store, emitter Emitter, sender webhook.Sender, pool workerpool.WorkerPool, validateOpts ...urlvalidation.Option) *Handler {
	return &Handler{repo: repo, emitter: emitter, sender: sender, pool: pool, validateOpts: validateOpts}
}

// RegisterRoutes registers all webhook API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/webhooks", h.Create)
	mux.HandleFunc("GET /api/v1/webhooks", h.List)
	mux.HandleFunc("GET /api/v1/webhooks/{id}", h.Get)
	mux.HandleFunc("PUT /api/v1/webhooks/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/webhooks/{id}", h.Delete)
	mux.HandleFunc("POST /api/v1/webhooks/{id}/rotate-secret", h.RotateSecret)
	mux.HandleFunc("GET /api/v1/webhooks/{id}/deliveries", h.ListDeliveries)
	mux.HandleFunc("GET /api/v1/webhooks/{id}/dead-letters", h.ListDeadLetters)
	mux.HandleFunc("POST /api/v1/webhooks/{id}/dead-letters/{dlid}/replay", h.ReplayDeadLetter)
	mux.HandleFunc("POST /api/v1/webhooks/{id}/test", h.Test)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeLookupError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, webhook.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "failed to load "+what)
}

func toWebhookResponse(wh *webhook.WebhookEndpoint, includeSecret bool) WebhookResponse {
	resp := WebhookResponse{
		ID:           wh.ID,
		Name:         wh.Name,
		URL:          wh.URL,
		EventTypes:   []events.EventType(wh.EventTypes),
		Roles:        []string(wh.Roles),
		IsActive:     wh.IsActive,
		Description:  wh.Description,
		FailureCount: wh.FailureCount,
		CircuitState: wh.CircuitState,
		CreatedAt:    wh.CreatedAt.Format(time.RFC3339),
		ModifiedAt:   wh.ModifiedAt.Format(time.RFC3339),
	}
	if resp.EventTypes == nil {
		resp.EventTypes = []events.EventType{}
	}
	if resp.Roles == nil {
		resp.Roles = []string{}
	}
	if includeSecret {
		resp.Secret = wh.Secret
	}
	return resp
}

func validEventTypes(types []events.EventType) bool {
	if len(types) == 0 {
		return false
	}
	for _, t := range types {
		if !slices.Contains(events.JobEventTypes, t) {
			return false
		}
	}
	return true
}

// Create handles POST /api/v1/webhooks
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req CreateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" || req.URL == "" {
		writeError(w, http.StatusBadRequest, "name and url are required")
		return
	}
	if len(req.EventTypes) == 0 {
		req.EventTypes = []events.EventType{events.JobCompleted, events.JobFailed}
	}
	if !validEventTypes(req.EventTypes) {
		writeError(w, http.StatusBadRequest, "event_types must be job event types")
		return
	}
	if err := urlvalidation.ValidateWebhookURL(req.URL, h.validateOpts...); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook URL: "+err.Error())
		return
	}

	secret, err := webhook.GenerateSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate secret")
		return
	}

	wh := &webhook.WebhookEndpoint{
		Name:         req.Name,
		URL:          req.URL,
		Secret:       secret,
		EventTypes:   webhook.EventTypesJSON(req.EventTypes),
		Roles:        webhook.RolesJSON(req.Roles),
		IsActive:     true,
		Description:  req.Description,
		CircuitState: "closed",
	}

	if err := h.repo.CreateEndpoint(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}

	writeJSON(w, http.StatusCreated, toWebhookResponse(wh, true))
}

// List handles GET /api/v1/webhooks
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.repo.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}

	resp := make([]WebhookResponse, 0, len(endpoints))
	for i := range endpoints {
		resp = append(resp, toWebhookResponse(&endpoints[i], false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/webhooks/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	wh, err := h.repo.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err, "webhook")
		return
	}
	writeJSON(w, http.StatusOK, toWebhookResponse(wh, false))
}

// Update handles PUT /api/v1/webhooks/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	wh, err := h.repo.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err, "webhook")
		return
	}

	var req UpdateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name != nil {
		wh.Name = *req.Name
	}
	if req.URL != nil {
		if err := urlvalidation.ValidateWebhookURL(*req.URL, h.validateOpts...); err != nil {
			writeError(w, http.StatusBadRequest, "invalid webhook URL: "+err.Error())
			return
		}
		wh.URL = *req.URL
	}
	if req.EventTypes != nil {
		if !validEventTypes(*req.EventTypes) {
			writeError(w, http.StatusBadRequest, "event_types must be job event types")
			return
		}
		wh.EventTypes = webhook.EventTypesJSON(*req.EventTypes)
	}
	if req.Roles != nil {
		wh.Roles = webhook.RolesJSON(*req.Roles)
	}
	if req.IsActive != nil {
		wh.IsActive = *req.IsActive
	}
	if req.Description != nil {
		wh.Description = *req.Description
	}

	if err := h.repo.Update(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update webhook")
		return
	}

	writeJSON(w, http.StatusOK, toWebhookResponse(wh, false))
}

// Delete handles DELETE /api/v1/webhooks/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeLookupError(w, err, "webhook")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateSecret handles POST /api/v1/webhooks/{id}/rotate-secret
func (h *Handler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	wh, err := h.repo.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err, "webhook")
		return
	}

	secret, err := webhook.GenerateSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate secret")
		return
	}

	wh.Secret = secret
	if err := h.repo.Update(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update secret")
		return
	}

	writeJSON(w, http.StatusOK, toWebhookResponse(wh, true))
}

// ListDeliveries handles GET /api/v1/webhooks/{id}/deliveries?limit=&offset=
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	limit, offset := 50, 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}

	attempts, err := h.repo.ListDeliveries(r.Context(), r.PathValue("id"), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}

	resp := make([]DeliveryResponse, 0, len(attempts))
	for _, a := range attempts {
		resp = append(resp, DeliveryResponse{
			ID:            a.ID,
			EventID:       a.EventID,
			EventType:     a.EventType,
			JobID:         a.JobID,
			ResponseCode:  a.ResponseCode,
			AttemptNumber: a.AttemptNumber,
			Status:        a.Status,
			Error:         a.Error,
			DurationMs:    a.DurationMs,
			CreatedAt:     a.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListDeadLetters handles GET /api/v1/webhooks/{id}/dead-letters
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := h.repo.ListDeadLetters(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}

	resp := make([]DeadLetterResponse, 0, len(letters))
	for _, dl := range letters {
		resp = append(resp, DeadLetterResponse{
			ID:        dl.ID,
			EventID:   dl.EventID,
			EventType: dl.EventType,
			JobID:     dl.JobID,
			LastError: dl.LastError,
			Attempts:  dl.Attempts,
			CreatedAt: dl.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReplayDeadLetter handles POST /api/v1/webhooks/{id}/dead-letters/{dlid}/replay
func (h *Handler) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	dlid := r.PathValue("dlid")

	wh, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		writeLookupError(w, err, "webhook")
		return
	}
	dl, err := h.repo.GetDeadLetter(r.Context(), id, dlid)
	if err != nil {
		writeLookupError(w, err, "dead letter")
		return
	}

	var env events.Envelope
	if err := json.Unmarshal([]byte(dl.Payload), &env); err != nil {
		writeError(w, http.StatusInternalServerError, "corrupt dead letter payload")
		return
	}

	if err := h.repo.MarkDeadLetterReplayed(r.Context(), dlid); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark dead letter replayed")
		return
	}

	// The original envelope goes to this endpoint only; other subscribers
	// already received it.
	ctx := context.WithoutCancel(r.Context())
	replay := func() { h.sender.Deliver(ctx, *wh, env) }
	if h.pool == nil || h.pool.Submit(ctx, replay) != nil {
		go replay()
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "replay scheduled", "event_id": env.ID})
}

// Test handles POST /api/v1/webhooks/{id}/test
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.repo.GetByID(r.Context(), id); err != nil {
		writeLookupError(w, err, "webhook")
		return
	}

	testData := events.WebhookTestData{
		WebhookID: id,
		Message:   "This is a test delivery from oraclevoice",
	}

	if err := h.emitter.Emit(r.Context(), events.WebhookTest, "", "", testData); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to publish test event")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "test event published"})
}
