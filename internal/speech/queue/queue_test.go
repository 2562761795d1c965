package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spiralogic/oraclevoice/internal/speech/artifact"
	"github.com/spiralogic/oraclevoice/internal/speech/engine"
	"github.com/spiralogic/oraclevoice/internal/speech/engine/enginetest"
	"github.com/spiralogic/oraclevoice/internal/speech/health"
	"github.com/spiralogic/oraclevoice/internal/speech/router"
	"github.com/spiralogic/oraclevoice/internal/speech/style"
	"github.com/spiralogic/oraclevoice/pkg/events"
)

type healthStub struct {
	mu    sync.Mutex
	avail map[string]bool
}

func (h *healthStub) set(name string, avail bool) {
	h.mu.Lock()
	h.avail[name] = avail
	h.mu.Unlock()
}

func (h *healthStub) CurrentHealth(name string) (health.EngineHealth, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.avail[name]
	return health.EngineHealth{Name: name, Available: a}, ok
}

type fixture struct {
	q      *Queue
	local  *enginetest.Fake
	cloud  *enginetest.Fake
	health *healthStub
	hub    *events.Hub
	store  *artifact.Store
}

func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	resolver, err := style.NewResolver([]style.Profile{
		{Role: "oracle", Speaker: "oracle", Tempo: 0.85, Markers: []string{"[pause]"}},
		{Role: "maya", Speaker: "maya", Tempo: 0.95, Markers: []string{"[breath]"}},
	}, "oracle")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	store, err := artifact.Open(t.Context(), "mem://")
	if err != nil {
		t.Fatalf("artifact.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		local:  enginetest.New("local", engine.ModeLocal),
		cloud:  enginetest.New("cloud", engine.ModeRemote),
		health: &healthStub{avail: map[string]bool{"local": true, "cloud": true}},
		hub:    events.NewHub("speech"),
		store:  store,
	}
	rt := router.New([]engine.Engine{f.local, f.cloud}, f.health, []string{"narration"})
	opts = append([]Option{WithPublisher(f.hub)}, opts...)
	f.q = New(cfg, resolver, rt, store, opts...)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.q.Start(t.Context())
	t.Cleanup(f.q.Stop)
}

func waitTerminal(t *testing.T, q *Queue, id string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := q.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if job.Status.Terminal() {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in %s", id, job.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitIssuesUniqueIDs(t *testing.T) {
	f := newFixture(t, Config{Depth: 200})

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := f.q.Submit(t.Context(), "hello", "maya")
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestSubmitSaturated(t *testing.T) {
	f := newFixture(t, Config{Depth: 2})

	for i := 0; i < 2; i++ {
		if _, err := f.q.Submit(t.Context(), "hello", "maya"); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	_, err := f.q.Submit(t.Context(), "one too many", "maya")
	if !errors.Is(err, ErrQueueSaturated) {
		t.Fatalf("err = %v, want ErrQueueSaturated", err)
	}
	if got := f.q.Stats().Retained; got != 2 {
		t.Errorf("retained = %d, want 2 (rejected submit must not create a job)", got)
	}
}

func TestSubmitInvalidInputScenarioC(t *testing.T) {
	f := newFixture(t, Config{})

	for _, text := range []string{"", "   \n\t"} {
		id, err := f.q.Submit(t.Context(), text, "oracle")
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Submit(%q) err = %v, want ErrInvalidInput", text, err)
		}
		if id != "" {
			t.Errorf("Submit(%q) issued id %q", text, id)
		}
	}
	if _, err := f.q.Get("d0fabr1cated000000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get fabricated err = %v, want ErrNotFound", err)
	}
	if f.q.Stats().Retained != 0 {
		t.Error("invalid submissions created jobs")
	}
}

func TestSubmitUnknownRoleWithoutDefault(t *testing.T) {
	resolver, err := style.NewResolver([]style.Profile{{Role: "maya"}}, "")
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	q := New(Config{}, resolver, nil, nil)

	_, err = q.Submit(t.Context(), "hi", "narrator")
	if !errors.Is(err, ErrInvalidInput) || !errors.Is(err, style.ErrUnknownProfile) {
		t.Errorf("err = %v, want ErrInvalidInput wrapping ErrUnknownProfile", err)
	}
}

func TestEndToEndScenarioA(t *testing.T) {
	f := newFixture(t, Config{})
	f.start(t)

	id, err := f.q.Submit(t.Context(), "What is the truth I'm not seeing?", "oracle")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	job := waitTerminal(t, f.q, id)

	if job.Status != StatusCompleted {
		t.Fatalf("status = %s, error = %+v", job.Status, job.Error)
	}
	if !strings.Contains(job.Text, "[pause]") || !strings.Contains(job.Text, "[speaker:oracle]") {
		t.Errorf("styled text = %q", job.Text)
	}
	if job.EngineUsed != "local" || job.Degraded {
		t.Errorf("engine = %s degraded=%v, want primary", job.EngineUsed, job.Degraded)
	}
	if job.Result == nil || job.Result.Key == "" || job.Error != nil {
		t.Fatalf("result = %+v error = %+v", job.Result, job.Error)
	}
	if job.CompletedAt == nil || job.StartedAt == nil {
		t.Error("timestamps not set")
	}
	data, _, err := f.store.Get(t.Context(), job.Result.Key)
	if err != nil {
		t.Fatalf("artifact Get: %v", err)
	}
	if !strings.HasPrefix(string(data), "local:") {
		t.Errorf("artifact = %q, want produced by local engine", data)
	}
	if got := f.local.LastRequest(); got.Voice != "oracle" || got.Speed != 0.85 {
		t.Errorf("engine request = %+v", got)
	}
}

func TestFallbackWhenPrimaryUnavailable(t *testing.T) {
	f := newFixture(t, Config{})
	f.health.set("local", false)
	f.start(t)

	for i := 0; i < 3; i++ {
		id, err := f.q.Submit(t.Context(), "Breathe with me.", "maya")
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		job := waitTerminal(t, f.q, id)
		if job.Status != StatusCompleted || job.EngineUsed != "cloud" || !job.Degraded {
			t.Errorf("job = %s engine=%s degraded=%v", job.Status, job.EngineUsed, job.Degraded)
		}
	}
	if f.local.Calls() != 0 {
		t.Errorf("unavailable primary was called %d times", f.local.Calls())
	}
}

func TestNoEngineAvailable(t *testing.T) {
	f := newFixture(t, Config{})
	f.health.set("local", false)
	f.health.set("cloud", false)
	f.start(t)

	id, err := f.q.Submit(t.Context(), "Anyone there?", "maya")
	if err != nil {
		t.Fatalf("admission must not depend on health: %v", err)
	}
	job := waitTerminal(t, f.q, id)
	if job.Status != StatusFailed || job.Error == nil || job.Error.Kind != KindNoEngineAvailable {
		t.Fatalf("job = %s %+v", job.Status, job.Error)
	}

	again, err := f.q.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.Error.Kind != job.Error.Kind || again.Error.Message != job.Error.Message {
		t.Error("repeated polls of a failed job differ")
	}
}

func TestRerouteOnEngineError(t *testing.T) {
	f := newFixture(t, Config{})
	f.local.SetSynthError(errors.New("CUDA out of memory"))
	f.start(t)

	id, err := f.q.Submit(t.Context(), "Hold on.", "maya")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	job := waitTerminal(t, f.q, id)
	if job.Status != StatusCompleted || job.EngineUsed != "cloud" || !job.Degraded {
		t.Errorf("job = %s engine=%s degraded=%v", job.Status, job.EngineUsed, job.Degraded)
	}
	if f.local.Calls() != 1 || f.cloud.Calls() != 1 {
		t.Errorf("calls local=%d cloud=%d, want 1/1", f.local.Calls(), f.cloud.Calls())
	}
}

func TestRerouteLimit(t *testing.T) {
	tests := []struct {
		name        string
		maxReroutes int
		attempted   []string
		engineUsed  string
	}{
		{"default single reroute", 0, []string{"local", "cloud"}, "cloud"},
		{"single reroute", 1, []string{"local", "cloud"}, "cloud"},
		{"no reroute", -1, []string{"local"}, "local"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{MaxReroutes: tt.maxReroutes})
			f.local.SetSynthError(errors.New("boom"))
			f.cloud.SetSynthError(errors.New("quota exceeded"))
			f.start(t)

			id, err := f.q.Submit(t.Context(), "Hello.", "maya")
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			job := waitTerminal(t, f.q, id)
			if job.Status != StatusFailed || job.Error.Kind != KindEngineError {
				t.Fatalf("job = %s %+v", job.Status, job.Error)
			}
			if strings.Join(job.Error.EnginesAttempted, ",") != strings.Join(tt.attempted, ",") {
				t.Errorf("attempted = %v, want %v", job.Error.EnginesAttempted, tt.attempted)
			}
			if job.EngineUsed != tt.engineUsed {
				t.Errorf("engine_used = %q, want %q", job.EngineUsed, tt.engineUsed)
			}
		})
	}
}

func TestZeroConfigDefaultsToOneReroute(t *testing.T) {
	if got := (Config{}).withDefaults().MaxReroutes; got != 1 {
		t.Errorf("MaxReroutes = %d, want 1", got)
	}
	if got := (Config{MaxReroutes: -1}).withDefaults().MaxReroutes; got != 0 {
		t.Errorf("MaxReroutes = %d, want 0 when disabled", got)
	}
}

func waitStatus(t *testing.T, q *Queue, id string, want Status) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := q.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		if job.Status == want {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in %s, want %s", id, job.Status, want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestProcessingJobReportsEngine(t *testing.T) {
	f := newFixture(t, Config{})
	f.local.SetBlocking(true)
	f.start(t)

	id, err := f.q.Submit(t.Context(), "Take your time.", "maya")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitStatus(t, f.q, id, StatusProcessing)

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, _ := f.q.Get(id)
		if job.EngineUsed == "local" {
			if job.Degraded {
				t.Error("primary engine reported as degraded")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("processing job engine_used = %q, want local", job.EngineUsed)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestFallbackFailureKeepsRoutedEngine(t *testing.T) {
	f := newFixture(t, Config{})
	f.health.set("local", false)
	f.cloud.SetSynthError(errors.New("quota exceeded"))
	f.start(t)

	id, err := f.q.Submit(t.Context(), "Still there?", "maya")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	job := waitTerminal(t, f.q, id)
	if job.Status != StatusFailed || job.EngineUsed != "cloud" || !job.Degraded {
		t.Errorf("job = %s engine=%q degraded=%v", job.Status, job.EngineUsed, job.Degraded)
	}
	if strings.Join(job.Error.EnginesAttempted, ",") != "cloud" {
		t.Errorf("attempted = %v", job.Error.EnginesAttempted)
	}
}

func TestEngineTimeout(t *testing.T) {
	f := newFixture(t, Config{SynthesisTimeout: 30 * time.Millisecond})
	f.local.SetBlocking(true)
	f.health.set("cloud", false)
	f.start(t)

	id, err := f.q.Submit(t.Context(), "Slowly.", "maya")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	job := waitTerminal(t, f.q, id)
	if job.Status != StatusFailed || job.Error.Kind != KindEngineTimeout {
		t.Fatalf("job = %s %+v", job.Status, job.Error)
	}
}

type failingStore struct{}

func (failingStore) Put(context.Context, string, *engine.Audio) (artifact.Ref, error) {
	return artifact.Ref{}, errors.New("bucket unavailable")
}

func TestStorageError(t *testing.T) {
	resolver, _ := style.NewResolver([]style.Profile{{Role: "oracle"}}, "")
	local := enginetest.New("local", engine.ModeLocal)
	rt := router.New([]engine.Engine{local}, &healthStub{avail: map[string]bool{"local": true}}, nil)
	q := New(Config{}, resolver, rt, failingStore{})
	q.Start(t.Context())
	defer q.Stop()

	id, err := q.Submit(t.Context(), "Keep this.", "oracle")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	job := waitTerminal(t, q, id)
	if job.Status != StatusFailed || job.Error.Kind != KindStorageError {
		t.Fatalf("job = %s %+v", job.Status, job.Error)
	}
	if local.Calls() != 1 {
		t.Errorf("storage failure must not reroute, calls = %d", local.Calls())
	}
}

func TestCancelQueuedJob(t *testing.T) {
	f := newFixture(t, Config{})

	id, err := f.q.Submit(t.Context(), "Never mind.", "maya")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	job, err := f.q.Cancel(t.Context(), id)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if job.Status != StatusFailed || job.Error.Kind != KindCancelled {
		t.Errorf("job = %s %+v", job.Status, job.Error)
	}
	if _, err := f.q.Cancel(t.Context(), id); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("second cancel err = %v", err)
	}
	if _, err := f.q.Cancel(t.Context(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancel unknown err = %v", err)
	}

	f.start(t)
	other, err := f.q.Submit(t.Context(), "Go ahead.", "maya")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, f.q, other)
	if f.local.Calls() != 1 {
		t.Errorf("cancelled job reached a worker: calls = %d", f.local.Calls())
	}
	if got, _ := f.q.Get(id); got.Status != StatusFailed {
		t.Errorf("cancelled job status = %s", got.Status)
	}
}

func TestCancelFreesAdmissionSlot(t *testing.T) {
	f := newFixture(t, Config{Depth: 1})

	id, err := f.q.Submit(t.Context(), "First.", "maya")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := f.q.Cancel(t.Context(), id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := f.q.Submit(t.Context(), "Second.", "maya"); err != nil {
		t.Fatalf("Submit after cancel: %v", err)
	}
	s := f.q.Stats()
	if s.Depth != 1 || s.Queued != 1 || s.Failed != 1 {
		t.Errorf("stats = %+v", s)
	}
	if _, err := f.q.Submit(t.Context(), "Third.", "maya"); !errors.Is(err, ErrQueueSaturated) {
		t.Errorf("err = %v, want ErrQueueSaturated", err)
	}
}

func TestTransitionsPublishedInOrder(t *testing.T) {
	f := newFixture(t, Config{})
	sub := f.hub.Subscribe(events.Filter{Role: "maya"}, 16)
	f.start(t)

	id, err := f.q.Submit(t.Context(), "In order.", "maya")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	want := []events.EventType{events.JobQueued, events.JobProcessing, events.JobCompleted}
	for _, w := range want {
		select {
		case env := <-sub.C():
			if env.Type != w || env.JobID != id {
				t.Fatalf("event = %s/%s, want %s/%s", env.Type, env.JobID, w, id)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", w)
		}
	}
	job, _ := f.q.Get(id)
	if job.Result == nil {
		t.Error("completed event observed before result was populated")
	}
}

func TestStatusWalkIsMonotonic(t *testing.T) {
	f := newFixture(t, Config{Workers: 2})
	f.start(t)

	rank := map[Status]int{StatusQueued: 0, StatusProcessing: 1, StatusCompleted: 2, StatusFailed: 2}
	var ids []string
	for i := 0; i < 10; i++ {
		id, err := f.q.Submit(t.Context(), "Walk forward.", "oracle")
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		ids = append(ids, id)
	}
	last := make(map[string]Status)
	deadline := time.Now().Add(5 * time.Second)
	for done := 0; done < len(ids); {
		done = 0
		for _, id := range ids {
			job, err := f.q.Get(id)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if prev, ok := last[id]; ok && rank[job.Status] < rank[prev] {
				t.Fatalf("job %s regressed %s -> %s", id, prev, job.Status)
			}
			if prev, ok := last[id]; ok && prev.Terminal() && prev != job.Status {
				t.Fatalf("job %s changed terminal state %s -> %s", id, prev, job.Status)
			}
			last[id] = job.Status
			if job.Status.Terminal() {
				done++
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("jobs did not finish")
		}
		time.Sleep(time.Millisecond)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRetentionEviction(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	f := newFixture(t, Config{Retention: 15 * time.Minute}, WithClock(clock.Now))
	f.start(t)

	id, err := f.q.Submit(t.Context(), "Remember me briefly.", "maya")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, f.q, id)

	if n := f.q.EvictExpired(); n != 0 {
		t.Errorf("evicted %d inside the retention window", n)
	}
	clock.Advance(16 * time.Minute)
	if n := f.q.EvictExpired(); n != 1 {
		t.Errorf("evicted %d, want 1", n)
	}
	if _, err := f.q.Get(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired job err = %v, want ErrNotFound", err)
	}
}

func TestRetainedCap(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	f := newFixture(t, Config{Workers: 1, MaxRetained: 2}, WithClock(clock.Now))
	f.start(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := f.q.Submit(t.Context(), "Again.", "maya")
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		ids = append(ids, id)
		waitTerminal(t, f.q, id)
	}
	if got := f.q.Stats().Retained; got != 2 {
		t.Errorf("retained = %d, want 2", got)
	}
	if _, err := f.q.Get(ids[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("oldest job should be evicted, err = %v", err)
	}
}

func TestScenarioBPrimaryProbeFailsTwice(t *testing.T) {
	resolver, _ := style.NewResolver([]style.Profile{{Role: "maya", Markers: []string{"[breath]"}}}, "")
	local := enginetest.New("local", engine.ModeLocal)
	cloud := enginetest.New("cloud", engine.ModeRemote)
	monitor := health.NewMonitor([]engine.Engine{local, cloud})
	monitor.CheckNow(t.Context())

	local.SetHealth(engine.Readiness{}, errors.New("connection refused"))
	monitor.CheckNow(t.Context())
	monitor.CheckNow(t.Context())

	store, err := artifact.Open(t.Context(), "mem://")
	if err != nil {
		t.Fatalf("artifact.Open: %v", err)
	}
	defer store.Close()

	q := New(Config{}, resolver, router.New([]engine.Engine{local, cloud}, monitor, nil), store)
	q.Start(t.Context())
	defer q.Stop()

	id, err := q.Submit(t.Context(), "Still here?", "maya")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	job := waitTerminal(t, q, id)
	if job.EngineUsed != "cloud" || !job.Degraded {
		t.Errorf("engine = %s degraded=%v, want fallback", job.EngineUsed, job.Degraded)
	}
	if s := q.Stats(); s.Processing != 0 {
		t.Errorf("processing = %d, no job may be stuck", s.Processing)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, Config{Depth: 8, Workers: 3})
	if _, err := f.q.Submit(t.Context(), "one", "maya"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	s := f.q.Stats()
	if s.Capacity != 8 || s.Workers != 3 || s.Queued != 1 || s.Depth != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	f := newFixture(t, Config{})
	f.q.Start(t.Context())
	f.q.Stop()
	if _, err := f.q.Submit(t.Context(), "late", "maya"); !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}

func TestWithDefaultPersona(t *testing.T) {
	f := newFixture(t, Config{})
	id, err := f.q.Submit(t.Context(), "Guide me.", "maya", WithDefaultPersona())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	job, _ := f.q.Get(id)
	if job.Profile != "oracle" || job.Role != "maya" {
		t.Errorf("profile/role = %s/%s, want oracle/maya", job.Profile, job.Role)
	}
	if !strings.HasPrefix(job.Text, "[speaker:oracle]") {
		t.Errorf("text = %q", job.Text)
	}
}

func TestRepeatRequestServedFromCache(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	WithCache(f.store)(f.q)
	f.start(t)

	first, err := f.q.Submit(t.Context(), "Say it again.", "oracle")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	a := waitTerminal(t, f.q, first)
	if a.Status != StatusCompleted || a.Cached {
		t.Fatalf("first job = %s cached=%v", a.Status, a.Cached)
	}

	second, err := f.q.Submit(t.Context(), "Say it again.", "oracle")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	b := waitTerminal(t, f.q, second)
	if b.Status != StatusCompleted || !b.Cached {
		t.Fatalf("second job = %s cached=%v", b.Status, b.Cached)
	}
	if b.EngineUsed != "local" || b.Result.Key != a.Result.Key {
		t.Errorf("cached job engine=%q key=%q, want local/%q", b.EngineUsed, b.Result.Key, a.Result.Key)
	}
	if f.local.Calls() != 1 {
		t.Errorf("engine calls = %d, want 1", f.local.Calls())
	}

	other, err := f.q.Submit(t.Context(), "Say it again.", "maya")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if c := waitTerminal(t, f.q, other); c.Cached {
		t.Error("different voice was served from cache")
	}
}

func TestJanitorTrimsCache(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, CacheEntries: 1})
	WithCache(f.store)(f.q)
	f.start(t)

	texts := []string{"Older line.", "Newer line."}
	for _, text := range texts {
		id, err := f.q.Submit(t.Context(), text, "maya")
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		waitTerminal(t, f.q, id)
		time.Sleep(5 * time.Millisecond)
	}

	f.q.trimCache(t.Context())

	calls := f.local.Calls()
	for i, text := range texts {
		id, err := f.q.Submit(t.Context(), text, "maya")
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		job := waitTerminal(t, f.q, id)
		if wantCached := i == 1; job.Cached != wantCached {
			t.Errorf("%q cached = %v, want %v", text, job.Cached, wantCached)
		}
	}
	if got := f.local.Calls() - calls; got != 1 {
		t.Errorf("engine calls after trim = %d, want 1", got)
	}
}
