package restutil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDoJSONRoundTrip(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Key") != "k" {
			t.Errorf("X-Key = %q, want k", r.Header.Get("X-Key"))
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["text"]})
	}))
	defer ts.Close()

	var out map[string]string
	err := DoJSON(t.Context(), http.MethodPost, ts.URL, map[string]string{"X-Key": "k"}, map[string]string{"text": "hi"}, &out)
	if err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if out["echo"] != "hi" {
		t.Errorf("echo = %q, want hi", out["echo"])
	}
}

func TestDoRawStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := DoRaw(t.Context(), http.MethodGet, ts.URL, nil, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", se.Code)
	}
}

func TestDoRawHonorsContextDeadline(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err := DoRaw(ctx, http.MethodGet, ts.URL, nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}
