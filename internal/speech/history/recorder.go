package history

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pitabwire/util"

	"github.com/spiralogic/oraclevoice/internal/speech/queue"
	"github.com/spiralogic/oraclevoice/pkg/events"
)

// Recorder writes every terminal job event from the hub into a Store.
type Recorder struct {
	hub    *events.Hub
	store  Store
	buffer int
}

// NewRecorder creates a recorder. buffer sizes the hub subscription.
func NewRecorder(hub *events.Hub, store Store, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{hub: hub, store: store, buffer: buffer}
}

// Run consumes hub events until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) {
	sub := r.hub.Subscribe(events.Filter{}, r.buffer)
	defer func() {
		r.hub.Unsubscribe(sub.ID)
		if dropped := sub.Dropped(); dropped > 0 {
			slog.WarnContext(ctx, "history recorder dropped events", slog.Uint64("dropped", dropped))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			if !env.Type.Terminal() {
				continue
			}
			r.record(ctx, env)
		}
	}
}

func (r *Recorder) record(ctx context.Context, env events.Envelope) {
	var job queue.Job
	if err := json.Unmarshal(env.Data, &job); err != nil {
		util.Log(ctx).WithError(err).Error("history recorder: unmarshal job")
		return
	}
	if err := r.store.Save(ctx, FromJob(job)); err != nil {
		util.Log(ctx).WithError(err).Error("history recorder: save job")
	}
}
