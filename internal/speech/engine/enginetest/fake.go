// Package enginetest provides a scriptable engine for tests.
package enginetest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/spiralogic/oraclevoice/internal/speech/engine"
)

// Fake is an in-memory engine whose health and synthesis outcome can be
// changed while tests run.
type Fake struct {
	name string
	mode engine.Mode

	mu          sync.Mutex
	readiness   engine.Readiness
	healthErr   error
	synthErr    error
	block       bool
	lastRequest engine.Request

	calls  atomic.Int64
	probes atomic.Int64
	closed atomic.Bool
}

// New returns a healthy fake engine.
func New(name string, mode engine.Mode) *Fake {
	return &Fake{
		name:      name,
		mode:      mode,
		readiness: engine.Readiness{Ready: true, ModelLoaded: true, Detail: "fake"},
	}
}

func (f *Fake) Name() string      { return f.name }
func (f *Fake) Mode() engine.Mode { return f.mode }

// SetHealth sets the readiness and error reported by the next probes.
func (f *Fake) SetHealth(r engine.Readiness, err error) {
	f.mu.Lock()
	f.readiness, f.healthErr = r, err
	f.mu.Unlock()
}

// SetSynthError makes Synthesize fail with err (nil restores success).
func (f *Fake) SetSynthError(err error) {
	f.mu.Lock()
	f.synthErr = err
	f.mu.Unlock()
}

// SetBlocking makes Synthesize wait for its context to end.
func (f *Fake) SetBlocking(block bool) {
	f.mu.Lock()
	f.block = block
	f.mu.Unlock()
}

// Calls is the number of Synthesize invocations.
func (f *Fake) Calls() int { return int(f.calls.Load()) }

// Probes is the number of HealthCheck invocations.
func (f *Fake) Probes() int { return int(f.probes.Load()) }

// Closed reports whether Close was called.
func (f *Fake) Closed() bool { return f.closed.Load() }

// LastRequest returns the most recent synthesis request.
func (f *Fake) LastRequest() engine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRequest
}

func (f *Fake) Synthesize(ctx context.Context, req engine.Request) (*engine.Audio, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastRequest = req
	err, block := f.synthErr, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &engine.Audio{
		Data:        []byte(f.name + ":" + req.Text),
		Format:      "mp3",
		ContentType: engine.ContentTypeFor("mp3"),
	}, nil
}

func (f *Fake) HealthCheck(ctx context.Context) (engine.Readiness, error) {
	f.probes.Add(1)
	if err := ctx.Err(); err != nil {
		return engine.Readiness{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readiness, f.healthErr
}

func (f *Fake) Close() error {
	f.closed.Store(true)
	return nil
}
