// Package queue admits synthesis jobs, runs them on a fixed set of workers
// and keeps their terminal state for a retention window.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/frame/workerpool"
	"github.com/rs/xid"

	"github.com/spiralogic/oraclevoice/internal/speech/artifact"
	"github.com/spiralogic/oraclevoice/internal/speech/engine"
	"github.com/spiralogic/oraclevoice/internal/speech/router"
	"github.com/spiralogic/oraclevoice/internal/speech/style"
	"github.com/spiralogic/oraclevoice/pkg/events"
)

// Config holds queue limits and timings.
type Config struct {
	Workers          int
	Depth            int
	SynthesisTimeout time.Duration
	Retention        time.Duration
	MaxRetained      int
	JanitorInterval  time.Duration
	Mode             router.Mode

	// MaxReroutes bounds re-route attempts after an engine failure. Zero
	// selects the default of one; a negative value disables re-routing.
	MaxReroutes int

	// CacheEntries caps the request cache trimmed by the janitor.
	CacheEntries int
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Workers:          4,
		Depth:            64,
		SynthesisTimeout: 60 * time.Second,
		MaxReroutes:      1,
		Retention:        15 * time.Minute,
		MaxRetained:      10000,
		JanitorInterval:  time.Minute,
		CacheEntries:     1000,
		Mode:             router.PreferLocal,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.Depth <= 0 {
		c.Depth = d.Depth
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = d.SynthesisTimeout
	}
	switch {
	case c.MaxReroutes == 0:
		c.MaxReroutes = d.MaxReroutes
	case c.MaxReroutes < 0:
		c.MaxReroutes = 0
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.MaxRetained <= 0 {
		c.MaxRetained = d.MaxRetained
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = d.JanitorInterval
	}
	if c.CacheEntries <= 0 {
		c.CacheEntries = d.CacheEntries
	}
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	return c
}

// Resolver maps a role to its voice profile.
type Resolver interface {
	ResolveFor(role string, useDefault bool) (style.Profile, error)
}

// Router chooses engines for a job.
type Router interface {
	Route(role string, mode router.Mode) (router.Choice, error)
	Reroute(role string, mode router.Mode, attempted []string) (router.Choice, error)
}

// ArtifactStore persists produced audio.
type ArtifactStore interface {
	Put(ctx context.Context, jobID string, audio *engine.Audio) (artifact.Ref, error)
}

// Cache remembers produced audio by request so repeats skip synthesis.
type Cache interface {
	Lookup(ctx context.Context, key string) (artifact.CacheHit, bool, error)
	Remember(ctx context.Context, key string, hit artifact.CacheHit) error
	TrimCache(ctx context.Context, maxEntries int) (int, error)
}

// Publisher receives one event per job transition.
type Publisher interface {
	Emit(ctx context.Context, eventType events.EventType, jobID, role string, data any) error
}

// Option configures a Queue.
type Option func(*Queue)

// WithPublisher sets the transition event sink.
func WithPublisher(p Publisher) Option {
	return func(q *Queue) { q.events = p }
}

// WithWorkerPool runs workers on the framework pool instead of bare goroutines.
func WithWorkerPool(p workerpool.WorkerPool) Option {
	return func(q *Queue) { q.pool = p }
}

// WithCache enables the request cache.
func WithCache(c Cache) Option {
	return func(q *Queue) { q.cache = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// SubmitOption tunes a single submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	useDefault bool
}

// WithDefaultPersona routes the request through the default profile whatever
// the role.
func WithDefaultPersona() SubmitOption {
	return func(o *submitOptions) { o.useDefault = true }
}

// Queue is the bounded job queue.
type Queue struct {
	cfg      Config
	resolver Resolver
	router   Router
	store    ArtifactStore
	cache    Cache
	events   Publisher
	pool     workerpool.WorkerPool
	now      func() time.Time

	// kick wakes an idle worker after pending grows.
	kick chan struct{}

	mu       sync.Mutex
	pending  []string
	jobs     map[string]*Job
	counts   map[Status]int
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	workerWG sync.WaitGroup
}

// New creates a queue. Call Start before submitting.
func New(cfg Config, resolver Resolver, rt Router, store ArtifactStore, opts ...Option) *Queue {
	cfg = cfg.withDefaults()
	q := &Queue{
		cfg:      cfg,
		resolver: resolver,
		router:   rt,
		store:    store,
		now:      time.Now,
		kick:     make(chan struct{}, 1),
		jobs:     make(map[string]*Job),
		counts:   make(map[Status]int),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Start launches the workers and the retention janitor.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	ctx, q.cancel = context.WithCancel(ctx)
	q.mu.Unlock()

	for i := 0; i < q.cfg.Workers; i++ {
		q.spawn(ctx, func() { q.worker(ctx) })
	}
	q.spawn(ctx, func() { q.janitor(ctx) })

	slog.InfoContext(ctx, "voice queue started",
		slog.Int("workers", q.cfg.Workers),
		slog.Int("depth", q.cfg.Depth),
		slog.Int("max_reroutes", q.cfg.MaxReroutes))
}

func (q *Queue) spawn(ctx context.Context, fn func()) {
	q.workerWG.Add(1)
	run := func() {
		defer q.workerWG.Done()
		fn()
	}
	if q.pool != nil {
		if err := q.pool.Submit(ctx, run); err == nil {
			return
		}
	}
	go run()
}

// Stop halts the workers and waits for in-flight jobs to return. Jobs still
// queued stay queued and new submissions are refused.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	q.workerWG.Wait()
}

// Submit validates and styles the text, then admits a job. It never blocks on
// synthesis. Rejected submissions create no job.
func (q *Queue) Submit(ctx context.Context, text, role string, opts ...SubmitOption) (string, error) {
	var o submitOptions
	for _, fn := range opts {
		fn(&o)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: text is required", ErrInvalidInput)
	}
	profile, err := q.resolver.ResolveFor(role, o.useDefault)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if role == "" {
		role = profile.Role
	}

	job := &Job{
		ID:          xid.New().String(),
		Text:        style.ApplyStyle(profile, text),
		Role:        role,
		Profile:     profile.Role,
		Status:      StatusQueued,
		RequestedAt: q.now().UTC(),
		voice: voiceParams{
			speaker: profile.SpeakerID(),
			tempo:   profile.Tempo,
			pitch:   profile.Pitch,
			emotion: profile.Emotion,
		},
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return "", ErrStopped
	}
	if len(q.pending) >= q.cfg.Depth {
		return "", ErrQueueSaturated
	}
	q.pending = append(q.pending, job.ID)
	q.jobs[job.ID] = job
	q.counts[StatusQueued]++
	q.emitLocked(ctx, events.JobQueued, job)
	q.wake()
	return job.ID, nil
}

// Get returns a snapshot of the job.
func (q *Queue) Get(id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job.snapshot(), nil
}

// Cancel fails a job that no worker has picked up yet and frees its
// admission slot.
func (q *Queue) Cancel(ctx context.Context, id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	if job.Status != StatusQueued {
		return job.snapshot(), fmt.Errorf("%w: status is %s", ErrNotCancellable, job.Status)
	}
	q.pending = slices.DeleteFunc(q.pending, func(p string) bool { return p == id })
	q.finishLocked(ctx, job, nil, &JobError{
		Kind:             KindCancelled,
		Message:          "cancelled before processing",
		EnginesAttempted: []string{},
	})
	return job.snapshot(), nil
}

// Stats reports current occupancy.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Capacity:   q.cfg.Depth,
		Workers:    q.cfg.Workers,
		Depth:      len(q.pending),
		Queued:     q.counts[StatusQueued],
		Processing: q.counts[StatusProcessing],
		Completed:  q.counts[StatusCompleted],
		Failed:     q.counts[StatusFailed],
		Retained:   len(q.jobs),
	}
}

func (q *Queue) wake() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// next pops the oldest pending job id.
func (q *Queue) next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	if len(q.pending) > 0 {
		q.wake()
	}
	return id, true
}

func (q *Queue) worker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if id, ok := q.next(); ok {
			q.execute(ctx, id)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-q.kick:
		}
	}
}

func (q *Queue) execute(ctx context.Context, id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.Status != StatusQueued {
		// Evicted while waiting.
		q.mu.Unlock()
		return
	}
	q.transitionLocked(job, StatusProcessing)
	started := q.now().UTC()
	job.StartedAt = &started
	q.emitLocked(ctx, events.JobProcessing, job)
	req := engine.Request{
		Text:    job.Text,
		Voice:   job.voice.speaker,
		Speed:   job.voice.tempo,
		Pitch:   job.voice.pitch,
		Emotion: job.voice.emotion,
	}
	role := job.Role
	q.mu.Unlock()

	log := slog.With(slog.String("job_id", id), slog.String("role", role))
	attempted := []string{}

	cacheKey := artifact.CacheKey(req.Text, req.Voice, req.Speed, req.Pitch)
	if q.serveCached(ctx, log, id, cacheKey) {
		return
	}

	choice, err := q.router.Route(role, q.cfg.Mode)
	if err != nil {
		log.WarnContext(ctx, "no engine available", slog.String("error", err.Error()))
		q.fail(ctx, id, KindNoEngineAvailable, err.Error(), attempted)
		return
	}
	q.commitEngine(id, choice)

	var audio *engine.Audio
	for reroutes := 0; ; reroutes++ {
		name := choice.Engine.Name()
		attempted = append(attempted, name)

		start := q.now()
		audio, err = q.synthesize(ctx, choice.Engine, req)
		if err == nil {
			log.InfoContext(ctx, "synthesis complete",
				slog.String("engine", name),
				slog.Bool("degraded", choice.Degraded),
				slog.Duration("elapsed", q.now().Sub(start)))
			break
		}

		kind := KindEngineError
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindEngineTimeout
		}
		log.WarnContext(ctx, "synthesis failed",
			slog.String("engine", name),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))

		if ctx.Err() != nil {
			q.fail(ctx, id, KindEngineError, "service shutting down", attempted)
			return
		}
		if reroutes >= q.cfg.MaxReroutes {
			q.fail(ctx, id, kind, err.Error(), attempted)
			return
		}
		next, rerr := q.router.Reroute(role, q.cfg.Mode, attempted)
		if rerr != nil {
			q.fail(ctx, id, kind, err.Error(), attempted)
			return
		}
		log.InfoContext(ctx, "rerouting job", slog.String("from", name), slog.String("to", next.Engine.Name()))
		choice = next
		q.commitEngine(id, choice)
	}

	ref, err := q.store.Put(ctx, id, audio)
	if err != nil {
		log.ErrorContext(ctx, "artifact store failed", slog.String("error", err.Error()))
		q.fail(ctx, id, KindStorageError, err.Error(), attempted)
		return
	}

	if q.cache != nil {
		hit := artifact.CacheHit{Ref: ref, Engine: choice.Engine.Name(), Degraded: choice.Degraded}
		if err := q.cache.Remember(ctx, cacheKey, hit); err != nil {
			log.WarnContext(ctx, "request cache write failed", slog.String("error", err.Error()))
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[id]; ok {
		q.finishLocked(ctx, job, &ref, nil)
	}
}

// commitEngine records the engine routing committed the job to.
func (q *Queue) commitEngine(id string, choice router.Choice) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[id]; ok {
		job.EngineUsed = choice.Engine.Name()
		job.Degraded = choice.Degraded
	}
}

// serveCached completes the job from the request cache. A lookup error is
// treated as a miss.
func (q *Queue) serveCached(ctx context.Context, log *slog.Logger, id, key string) bool {
	if q.cache == nil {
		return false
	}
	hit, ok, err := q.cache.Lookup(ctx, key)
	if err != nil {
		log.WarnContext(ctx, "request cache lookup failed", slog.String("error", err.Error()))
		return false
	}
	if !ok {
		return false
	}
	log.InfoContext(ctx, "serving cached audio",
		slog.String("engine", hit.Engine),
		slog.String("key", hit.Ref.Key))

	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[id]; ok {
		job.EngineUsed = hit.Engine
		job.Degraded = hit.Degraded
		job.Cached = true
		ref := hit.Ref
		q.finishLocked(ctx, job, &ref, nil)
	}
	return true
}

func (q *Queue) synthesize(ctx context.Context, e engine.Engine, req engine.Request) (*engine.Audio, error) {
	ctx, cancel := context.WithTimeout(ctx, q.cfg.SynthesisTimeout)
	defer cancel()
	audio, err := e.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	if audio == nil || len(audio.Data) == 0 {
		return nil, fmt.Errorf("%s returned no audio", e.Name())
	}
	return audio, nil
}

func (q *Queue) fail(ctx context.Context, id string, kind ErrorKind, msg string, attempted []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[id]; ok {
		q.finishLocked(ctx, job, nil, &JobError{
			Kind:             kind,
			Message:          msg,
			EnginesAttempted: slices.Clone(attempted),
		})
	}
}

// finishLocked moves a job to its terminal state exactly once.
func (q *Queue) finishLocked(ctx context.Context, job *Job, ref *artifact.Ref, jerr *JobError) {
	if job.Status.Terminal() {
		return
	}
	done := q.now().UTC()
	job.CompletedAt = &done
	if jerr != nil {
		job.Error = jerr
		q.transitionLocked(job, StatusFailed)
		q.emitLocked(ctx, events.JobFailed, job)
	} else {
		job.Result = ref
		q.transitionLocked(job, StatusCompleted)
		q.emitLocked(ctx, events.JobCompleted, job)
	}
	if q.counts[StatusCompleted]+q.counts[StatusFailed] > q.cfg.MaxRetained {
		q.evictLocked(q.now())
	}
}

func (q *Queue) transitionLocked(job *Job, to Status) {
	q.counts[job.Status]--
	job.Status = to
	q.counts[to]++
}

func (q *Queue) emitLocked(ctx context.Context, t events.EventType, job *Job) {
	if q.events == nil {
		return
	}
	if err := q.events.Emit(ctx, t, job.ID, job.Role, job.snapshot()); err != nil {
		slog.ErrorContext(ctx, "failed to emit job event",
			slog.String("job_id", job.ID),
			slog.String("event_type", string(t)),
			slog.String("error", err.Error()))
	}
}

func (q *Queue) janitor(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.EvictExpired()
			q.trimCache(ctx)
		}
	}
}

func (q *Queue) trimCache(ctx context.Context) {
	if q.cache == nil {
		return
	}
	n, err := q.cache.TrimCache(ctx, q.cfg.CacheEntries)
	if err != nil {
		slog.WarnContext(ctx, "request cache trim failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		slog.DebugContext(ctx, "request cache trimmed", slog.Int("removed", n))
	}
}

// EvictExpired drops terminal jobs past the retention window and trims the
// oldest terminal jobs beyond the retained cap. It returns the number evicted.
func (q *Queue) EvictExpired() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evictLocked(q.now())
}

func (q *Queue) evictLocked(now time.Time) int {
	cutoff := now.Add(-q.cfg.Retention)
	var terminal []*Job
	evicted := 0
	for id, job := range q.jobs {
		if !job.Status.Terminal() {
			continue
		}
		if job.CompletedAt.Before(cutoff) {
			q.removeLocked(id, job)
			evicted++
			continue
		}
		terminal = append(terminal, job)
	}
	if over := len(terminal) - q.cfg.MaxRetained; over > 0 {
		slices.SortFunc(terminal, func(a, b *Job) int {
			return a.CompletedAt.Compare(*b.CompletedAt)
		})
		for _, job := range terminal[:over] {
			q.removeLocked(job.ID, job)
			evicted++
		}
	}
	return evicted
}

func (q *Queue) removeLocked(id string, job *Job) {
	delete(q.jobs, id)
	q.counts[job.Status]--
}
