package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/viper"

	"github.com/spiralogic/oraclevoice/internal/speech/queue"
)

func init() {
	color.NoColor = true
}

func fakeService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/speech/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["text"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "text is empty"})
			return
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(SubmitResult{JobID: "job1", Status: "queued"})
	})
	mux.HandleFunc("GET /api/v1/speech/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "job1" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "job not found"})
			return
		}
		json.NewEncoder(w).Encode(queue.Job{ID: "job1", Role: "oracle", Status: queue.StatusCompleted, EngineUsed: "sesame-local"})
	})
	mux.HandleFunc("GET /api/v1/speech/jobs/{id}/audio", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3-audio"))
	})
	mux.HandleFunc("GET /api/v1/speech/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": connected\n\n")
		fmt.Fprint(w, "event: job.snapshot\ndata: {\"job_id\":\"job1\",\"status\":\"processing\"}\n\n")
		fmt.Fprint(w, ": heartbeat\n\n")
		fmt.Fprint(w, "id: e2\nevent: job.completed\ndata: {\"job_id\":\"job1\",\"status\":\"completed\"}\n\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientSubmitAndErrors(t *testing.T) {
	srv := fakeService(t)
	c := NewClient(srv.URL+"/", "tok", 5*time.Second)

	res, err := c.Submit(t.Context(), "hello", "oracle", false)
	if err != nil || res.JobID != "job1" {
		t.Fatalf("Submit = %+v, %v", res, err)
	}

	_, err = c.Submit(t.Context(), "", "oracle", false)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest || apiErr.Message != "text is empty" {
		t.Errorf("err = %v", err)
	}

	if _, err := c.Job(t.Context(), "missing"); !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("Job(missing) err = %v", err)
	}
}

func TestClientStream(t *testing.T) {
	srv := fakeService(t)
	c := NewClient(srv.URL, "", time.Second)

	var got []Event
	err := c.Stream(t.Context(), "job1", "", true, func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("events = %+v", got)
	}
	if got[0].Type != "job.snapshot" || got[1].Type != "job.completed" || got[1].ID != "e2" {
		t.Errorf("events = %+v", got)
	}

	calls := 0
	err = c.Stream(t.Context(), "", "", false, func(Event) error {
		calls++
		return ErrStopStream
	})
	if err != nil || calls != 1 {
		t.Errorf("stop: calls = %d err = %v", calls, err)
	}
}

func TestReadEventsMultilineData(t *testing.T) {
	in := "event: x\ndata: line1\ndata: line2\n\n"
	var ev Event
	err := readEvents(strings.NewReader(in), func(e Event) error {
		ev = e
		return nil
	})
	if err != nil || string(ev.Data) != "line1\nline2" {
		t.Errorf("event = %+v err = %v", ev, err)
	}
}

func run(t *testing.T, srvURL string, args ...string) (string, error) {
	t.Helper()
	v := viper.New()
	v.Set(keyServer, srvURL)
	v.Set(keyToken, "tok")
	var out bytes.Buffer
	root := NewRootCommand(v, &out)
	root.SetArgs(append([]string{"--server", srvURL, "--token", "tok"}, args...))
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestSayWaitAndDownload(t *testing.T) {
	srv := fakeService(t)
	path := t.TempDir() + "/out.mp3"

	out, err := run(t, srv.URL, "say", "What is the truth?", "--role", "oracle", "--out", path)
	if err != nil {
		t.Fatalf("say: %v\n%s", err, out)
	}
	if !strings.Contains(out, "job1") || !strings.Contains(out, "saved") {
		t.Errorf("output = %q", out)
	}
}

func TestStatusJSON(t *testing.T) {
	srv := fakeService(t)
	out, err := run(t, srv.URL, "status", "job1", "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var job queue.Job
	if err := json.Unmarshal([]byte(out), &job); err != nil || job.EngineUsed != "sesame-local" {
		t.Errorf("output = %q (%v)", out, err)
	}
}
