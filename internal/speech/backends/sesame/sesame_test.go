package sesame

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spiralogic/oraclevoice/internal/speech/engine"
	"github.com/spiralogic/oraclevoice/internal/speech/registry"
)

func newServer(t *testing.T, modelLoaded bool, gotText *string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		if !modelLoaded {
			status = "degraded"
		}
		_ = json.NewEncoder(w).Encode(healthResponse{Status: status, Mode: "live", ModelLoaded: modelLoaded})
	})
	mux.HandleFunc("POST /tts", func(w http.ResponseWriter, r *http.Request) {
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if gotText != nil {
			*gotText = req.Text
		}
		_ = json.NewEncoder(w).Encode(ttsResponse{
			Audio:  base64.StdEncoding.EncodeToString([]byte("RIFFfake")),
			Format: "wav",
		})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func create(t *testing.T, url string, extra map[string]string) engine.Engine {
	t.Helper()
	cfg := map[string]string{"name": "local", "url": url, "mode": "local"}
	for k, v := range extra {
		cfg[k] = v
	}
	e, err := registry.Engines.Create("sesame", cfg)
	if err != nil {
		t.Fatalf("create sesame: %v", err)
	}
	return e
}

func TestSesameHealthModelLoaded(t *testing.T) {
	ts := newServer(t, true, nil)
	e := create(t, ts.URL, nil)

	r, err := e.HealthCheck(t.Context())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if !r.Ready || !r.ModelLoaded {
		t.Errorf("readiness = %+v, want ready and model loaded", r)
	}
	if e.Name() != "local" || e.Mode() != engine.ModeLocal {
		t.Errorf("name/mode = %s/%s", e.Name(), e.Mode())
	}
}

func TestSesameHealthDegraded(t *testing.T) {
	ts := newServer(t, false, nil)
	e := create(t, ts.URL, nil)

	r, err := e.HealthCheck(t.Context())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if !r.Ready {
		t.Error("degraded server should still report ready")
	}
	if r.ModelLoaded {
		t.Error("degraded server must not report model loaded")
	}
}

func TestSesameSynthesize(t *testing.T) {
	var got string
	ts := newServer(t, true, &got)
	e := create(t, ts.URL, nil)

	audio, err := e.Synthesize(t.Context(), engine.Request{Text: "[speaker:oracle] [pause] Hello."})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio.Data) != "RIFFfake" {
		t.Errorf("audio = %q", audio.Data)
	}
	if audio.ContentType != "audio/wav" {
		t.Errorf("content type = %q, want audio/wav", audio.ContentType)
	}
	if !strings.Contains(got, "[pause]") {
		t.Errorf("markup should reach the local engine, got %q", got)
	}
}

func TestSesameStripMarkup(t *testing.T) {
	var got string
	ts := newServer(t, true, &got)
	e := create(t, ts.URL, map[string]string{"strip_markup": "true"})

	if _, err := e.Synthesize(t.Context(), engine.Request{Text: "[speaker:oracle] [pause] Hello."}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got != "Hello." {
		t.Errorf("text = %q, want %q", got, "Hello.")
	}
}

func TestSesameRequiresURL(t *testing.T) {
	if _, err := registry.Engines.Create("sesame", map[string]string{}); err == nil {
		t.Error("expected error without url")
	}
}
