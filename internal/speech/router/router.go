// Package router chooses the synthesis engine for a job from current health
// and the configured mode policy.
package router

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spiralogic/oraclevoice/internal/speech/engine"
	"github.com/spiralogic/oraclevoice/internal/speech/health"
)

// Mode is the operating policy between local and remote engines.
type Mode string

const (
	PreferLocal Mode = "prefer_local"
	PreferCloud Mode = "prefer_cloud"
)

// ParseMode maps a catalog value onto a Mode. Empty means PreferLocal.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return PreferLocal, nil
	case PreferLocal, PreferCloud:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown routing mode %q (want %s or %s)", s, PreferLocal, PreferCloud)
	}
}

var ErrNoEngineAvailable = errors.New("no engine available")

// Choice is the outcome of a routing decision.
type Choice struct {
	Engine    engine.Engine
	Degraded  bool
	CloudOnly bool
}

// Router reads engine health; it never writes it.
type Router struct {
	engines   []engine.Engine
	health    health.Reader
	cloudOnly map[string]bool
}

// New creates a router over engines in configured priority order.
func New(engines []engine.Engine, reader health.Reader, cloudOnlyRoles []string) *Router {
	co := make(map[string]bool, len(cloudOnlyRoles))
	for _, r := range cloudOnlyRoles {
		co[r] = true
	}
	return &Router{engines: engines, health: reader, cloudOnly: co}
}

// IsCloudOnly reports whether role bypasses health-based routing.
func (r *Router) IsCloudOnly(role string) bool {
	return r.cloudOnly[role]
}

// Route picks the engine for a new job.
func (r *Router) Route(role string, mode Mode) (Choice, error) {
	return r.Reroute(role, mode, nil)
}

// Reroute picks the next available engine that is not in attempted. Any
// engine other than the head of the ordered list is flagged degraded.
// Cloud-only roles are pinned to the first remote engine and never move.
func (r *Router) Reroute(role string, mode Mode, attempted []string) (Choice, error) {
	if r.cloudOnly[role] {
		if len(attempted) > 0 {
			return Choice{}, fmt.Errorf("%w: cloud-only role %q does not fail over", ErrNoEngineAvailable, role)
		}
		for _, e := range r.engines {
			if e.Mode() == engine.ModeRemote {
				return Choice{Engine: e, CloudOnly: true}, nil
			}
		}
		return Choice{}, fmt.Errorf("%w: no remote engine for cloud-only role %q", ErrNoEngineAvailable, role)
	}

	for i, e := range r.ordered(mode) {
		if slices.Contains(attempted, e.Name()) {
			continue
		}
		h, ok := r.health.CurrentHealth(e.Name())
		if !ok || !h.Available {
			continue
		}
		return Choice{Engine: e, Degraded: i > 0 || len(attempted) > 0}, nil
	}
	return Choice{}, ErrNoEngineAvailable
}

// ordered returns the engines with the mode's preferred group first. Order
// within a group follows the configured priority.
func (r *Router) ordered(mode Mode) []engine.Engine {
	first := engine.ModeLocal
	if mode == PreferCloud {
		first = engine.ModeRemote
	}
	out := make([]engine.Engine, 0, len(r.engines))
	for _, e := range r.engines {
		if e.Mode() == first {
			out = append(out, e)
		}
	}
	for _, e := range r.engines {
		if e.Mode() != first {
			out = append(out, e)
		}
	}
	return out
}
