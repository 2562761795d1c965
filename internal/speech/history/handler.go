package history

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

// Handler serves read-only history routes.
type Handler struct {
	store Store
}

// NewHandler creates a new history handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers the history routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/speech/history", h.List)
	mux.HandleFunc("GET /api/v1/speech/history/{id}", h.Get)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// List handles GET /api/v1/speech/history?role=&status=&limit=&offset=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ListFilter{Role: q.Get("role"), Status: q.Get("status")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid offset"})
			return
		}
		f.Offset = n
	}

	records, err := h.store.List(r.Context(), f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list history"})
		return
	}
	if records == nil {
		records = []JobRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Get handles GET /api/v1/speech/history/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetByJobID(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "job not found in history"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read history"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
