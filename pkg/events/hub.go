package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
)

const DefaultBuffer = 64

// Filter selects the envelopes a subscription receives. Empty fields match
// everything.
type Filter struct {
	JobID string
	Role  string
}

func (f Filter) matches(env Envelope) bool {
	if f.JobID != "" && f.JobID != env.JobID {
		return false
	}
	if f.Role != "" && f.Role != env.Role {
		return false
	}
	return true
}

// Subscription is one consumer's bounded view of the event stream.
type Subscription struct {
	ID     string
	Filter Filter

	ch      chan Envelope
	dropped atomic.Uint64
}

// C delivers matching envelopes. It is closed by Unsubscribe.
func (s *Subscription) C() <-chan Envelope { return s.ch }

// Dropped counts envelopes discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Hub fans job transitions out to in-process subscribers. Emit never blocks:
// a full subscriber buffer loses its oldest envelope.
type Hub struct {
	source string

	mu   sync.Mutex
	subs map[string]*Subscription

	published atomic.Uint64
}

// NewHub creates a hub stamping envelopes with source.
func NewHub(source string) *Hub {
	return &Hub{
		source: source,
		subs:   make(map[string]*Subscription),
	}
}

// Emit publishes a typed event to every matching subscriber.
func (h *Hub) Emit(ctx context.Context, eventType EventType, jobID, role string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	h.Publish(Envelope{
		ID:        xid.New().String(),
		Type:      eventType,
		Source:    h.source,
		JobID:     jobID,
		Role:      role,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	})
	return nil
}

// Publish delivers a prepared envelope.
func (h *Hub) Publish(env Envelope) {
	h.published.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		if !s.Filter.matches(env) {
			continue
		}
		select {
		case s.ch <- env:
			continue
		default:
		}
		// Full: drop the oldest and retry once. Only Publish sends, and it
		// holds the lock, so the retry cannot race another sender.
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
		select {
		case s.ch <- env:
		default:
			s.dropped.Add(1)
		}
		if n := s.dropped.Load(); n == 1 || n%100 == 0 {
			slog.Warn("event dropped: subscriber buffer full",
				slog.String("subscriber", s.ID),
				slog.String("event_type", string(env.Type)),
				slog.Uint64("dropped", n))
		}
	}
}

// Subscribe registers a subscription. No history is replayed.
func (h *Hub) Subscribe(filter Filter, bufSize int) *Subscription {
	if bufSize <= 0 {
		bufSize = DefaultBuffer
	}
	s := &Subscription{
		ID:     xid.New().String(),
		Filter: filter,
		ch:     make(chan Envelope, bufSize),
	}
	h.mu.Lock()
	h.subs[s.ID] = s
	h.mu.Unlock()
	return s
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	if s, ok := h.subs[id]; ok {
		close(s.ch)
		delete(h.subs, id)
	}
	h.mu.Unlock()
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Published returns the number of envelopes emitted since start.
func (h *Hub) Published() uint64 {
	return h.published.Load()
}
