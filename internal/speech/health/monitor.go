// Package health keeps a near-real-time availability view of each synthesis
// engine. The monitor is the only writer; readers load immutable snapshots.
package health

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pitabwire/frame/workerpool"

	"github.com/spiralogic/oraclevoice/internal/speech/engine"
)

const (
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// EngineHealth is one engine's last known state. Values are never mutated
// after being stored.
type EngineHealth struct {
	Name                string      `json:"name"`
	Available           bool        `json:"available"`
	LastCheckedAt       time.Time   `json:"last_checked_at"`
	LastResponseTimeMs  int64       `json:"last_response_time_ms"`
	Mode                engine.Mode `json:"mode"`
	ModelLoaded         bool        `json:"model_loaded"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastError           string      `json:"last_error,omitempty"`
}

// Reader is the read side used by the router.
type Reader interface {
	CurrentHealth(name string) (EngineHealth, bool)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the probe cadence.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithTimeout bounds each probe.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithWorkerPool runs the probe loop on the framework pool.
func WithWorkerPool(p workerpool.WorkerPool) Option {
	return func(m *Monitor) { m.pool = p }
}

// Monitor probes engines on a fixed cadence.
type Monitor struct {
	engines  []engine.Engine
	states   map[string]*atomic.Pointer[EngineHealth]
	interval time.Duration
	timeout  time.Duration
	pool     workerpool.WorkerPool
	now      func() time.Time
}

// NewMonitor creates a monitor for the given engines in priority order. Every
// engine starts unavailable until its first successful probe.
func NewMonitor(engines []engine.Engine, opts ...Option) *Monitor {
	m := &Monitor{
		engines:  engines,
		states:   make(map[string]*atomic.Pointer[EngineHealth], len(engines)),
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	for _, e := range engines {
		p := &atomic.Pointer[EngineHealth]{}
		p.Store(&EngineHealth{Name: e.Name(), Mode: e.Mode(), LastError: "not probed yet"})
		m.states[e.Name()] = p
	}
	return m
}

// Probe runs one bounded health check. It does not store the result.
func (m *Monitor) Probe(ctx context.Context, e engine.Engine) EngineHealth {
	prev, _ := m.CurrentHealth(e.Name())

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.now()
	r, err := e.HealthCheck(ctx)
	elapsed := m.now().Sub(start)

	h := EngineHealth{
		Name:               e.Name(),
		Mode:               e.Mode(),
		LastCheckedAt:      m.now().UTC(),
		LastResponseTimeMs: elapsed.Milliseconds(),
	}
	switch {
	case err != nil:
		h.LastError = err.Error()
	case !r.Ready:
		h.LastError = "engine not ready"
	case !r.ModelLoaded:
		h.LastError = "model not loaded"
	default:
		h.Available = true
	}
	if err == nil {
		h.ModelLoaded = r.ModelLoaded
	}
	if !h.Available {
		h.ConsecutiveFailures = prev.ConsecutiveFailures + 1
	}
	return h
}

// CheckNow probes every engine concurrently and stores the results.
func (m *Monitor) CheckNow(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range m.engines {
		wg.Go(func() {
			h := m.Probe(ctx, e)
			prev := m.states[e.Name()].Swap(&h)
			if prev.Available != h.Available {
				slog.InfoContext(ctx, "engine availability changed",
					slog.String("engine", h.Name),
					slog.Bool("available", h.Available),
					slog.String("reason", h.LastError))
			} else if !h.Available {
				slog.DebugContext(ctx, "engine probe failed",
					slog.String("engine", h.Name),
					slog.Int("consecutive_failures", h.ConsecutiveFailures),
					slog.String("error", h.LastError))
			}
		})
	}
	wg.Wait()
}

// Start runs one probe round synchronously, then probes on the configured
// cadence until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	m.CheckNow(ctx)
	loop := func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckNow(ctx)
			}
		}
	}
	if m.pool != nil {
		if err := m.pool.Submit(ctx, loop); err == nil {
			return
		}
	}
	go loop()
}

// CurrentHealth returns the last stored state for name without blocking.
func (m *Monitor) CurrentHealth(name string) (EngineHealth, bool) {
	p, ok := m.states[name]
	if !ok {
		return EngineHealth{}, false
	}
	return *p.Load(), true
}

// Snapshot returns every engine's state in priority order.
func (m *Monitor) Snapshot() []EngineHealth {
	out := make([]EngineHealth, 0, len(m.engines))
	for _, e := range m.engines {
		out = append(out, *m.states[e.Name()].Load())
	}
	return out
}
