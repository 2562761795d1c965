package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/spiralogic/oraclevoice/internal/speech/artifact"
	"github.com/spiralogic/oraclevoice/internal/speech/queue"
	"github.com/spiralogic/oraclevoice/pkg/events"
)

type memStore struct {
	mu      sync.Mutex
	records []JobRecord
	saved   chan struct{}
}

func newMemStore() *memStore {
	return &memStore{saved: make(chan struct{}, 16)}
}

func (m *memStore) Save(_ context.Context, rec *JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.JobID == rec.JobID {
			return nil
		}
	}
	m.records = append(m.records, *rec)
	m.saved <- struct{}{}
	return nil
}

func (m *memStore) GetByJobID(_ context.Context, id string) (*JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.JobID == id {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) List(_ context.Context, f ListFilter) ([]JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []JobRecord
	for _, r := range m.records {
		if f.Role != "" && r.Role != f.Role {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func completedJob(id, role string) queue.Job {
	requested := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	started := requested.Add(10 * time.Millisecond)
	done := requested.Add(250 * time.Millisecond)
	return queue.Job{
		ID:          id,
		Text:        "[speaker:oracle] [pause] Hello.",
		Role:        role,
		Profile:     role,
		Status:      queue.StatusCompleted,
		EngineUsed:  "sesame-local",
		Result:      &artifact.Ref{Key: "audio/ab/abc.mp3", URL: "/a/audio/ab/abc.mp3", ContentType: "audio/mpeg", Bytes: 42},
		RequestedAt: requested,
		StartedAt:   &started,
		CompletedAt: &done,
	}
}

func TestFromJob(t *testing.T) {
	rec := FromJob(completedJob("j1", "oracle"))
	if rec.JobID != "j1" || rec.Status != "completed" || rec.EngineUsed != "sesame-local" {
		t.Errorf("record = %+v", rec)
	}
	if rec.DurationMs != 250 {
		t.Errorf("duration = %d, want 250", rec.DurationMs)
	}
	if rec.ArtifactKey != "audio/ab/abc.mp3" || rec.Bytes != 42 {
		t.Errorf("artifact = %s/%d", rec.ArtifactKey, rec.Bytes)
	}

	failed := queue.Job{
		ID:     "j2",
		Status: queue.StatusFailed,
		Error: &queue.JobError{
			Kind:             queue.KindNoEngineAvailable,
			Message:          "no engine",
			EnginesAttempted: []string{"a", "b"},
		},
	}
	rec = FromJob(failed)
	if rec.ErrorKind != "no_engine_available" || len(rec.EnginesAttempted) != 2 {
		t.Errorf("failed record = %+v", rec)
	}
	if rec.StartedAt.Valid || rec.CompletedAt.Valid {
		t.Error("missing timestamps should be null")
	}
}

func TestStringsJSONRoundTrip(t *testing.T) {
	v, err := StringsJSON(nil).Value()
	if err != nil || v != "[]" {
		t.Fatalf("nil Value = %v, %v", v, err)
	}
	var s StringsJSON
	if err := s.Scan([]byte(`["x","y"]`)); err != nil || len(s) != 2 {
		t.Fatalf("Scan = %v, %v", s, err)
	}
	if err := s.Scan(nil); err != nil || len(s) != 0 {
		t.Errorf("Scan(nil) = %v, %v", s, err)
	}
}

func TestRecorderStoresTerminalEventsOnly(t *testing.T) {
	hub := events.NewHub("speech")
	store := newMemStore()
	rec := NewRecorder(hub, store, 16)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()
	for hub.Subscribers() == 0 {
		time.Sleep(time.Millisecond)
	}

	job := completedJob("j1", "maya")
	queued := job
	queued.Status = queue.StatusQueued
	queued.Result = nil
	hub.Emit(ctx, events.JobQueued, job.ID, job.Role, queued)
	hub.Emit(ctx, events.JobCompleted, job.ID, job.Role, job)

	select {
	case <-store.saved:
	case <-time.After(2 * time.Second):
		t.Fatal("terminal event was not recorded")
	}
	cancel()
	<-done

	records, _ := store.List(t.Context(), ListFilter{})
	if len(records) != 1 || records[0].Status != "completed" || records[0].Role != "maya" {
		t.Fatalf("records = %+v", records)
	}
	if hub.Subscribers() != 0 {
		t.Error("recorder should unsubscribe on exit")
	}
}

func TestHandler(t *testing.T) {
	store := newMemStore()
	store.Save(t.Context(), FromJob(completedJob("j1", "oracle")))
	store.Save(t.Context(), FromJob(completedJob("j2", "maya")))

	mux := http.NewServeMux()
	NewHandler(store).RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/speech/history?role=maya")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var list []JobRecord
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if len(list) != 1 || list[0].JobID != "j2" {
		t.Errorf("list = %+v", list)
	}

	resp, err = http.Get(ts.URL + "/api/v1/speech/history/j1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/v1/speech/history/missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/v1/speech/history?limit=abc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", resp.StatusCode)
	}
}
