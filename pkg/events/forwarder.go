package events

import (
	"context"
	"log/slog"

	"github.com/pitabwire/frame/queue"
)

// Forwarder republishes hub envelopes onto the framework queue so that
// out-of-process consumers such as the webhook subscriber see them. It runs
// as its own subscriber so queue latency never reaches job execution.
type Forwarder struct {
	hub      *Hub
	queueMgr queue.Manager
	queueRef string
	buffer   int
}

// NewForwarder creates a forwarder publishing to queueRef.
func NewForwarder(hub *Hub, queueMgr queue.Manager, queueRef string, buffer int) *Forwarder {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Forwarder{hub: hub, queueMgr: queueMgr, queueRef: queueRef, buffer: buffer}
}

// Run forwards envelopes until ctx is done.
func (f *Forwarder) Run(ctx context.Context) {
	sub := f.hub.Subscribe(Filter{}, f.buffer)
	defer f.hub.Unsubscribe(sub.ID)

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			if err := f.queueMgr.Publish(ctx, f.queueRef, env); err != nil {
				slog.ErrorContext(ctx, "event forward failed",
					slog.String("event_id", env.ID),
					slog.String("event_type", string(env.Type)),
					slog.String("error", err.Error()))
			}
		}
	}
}
