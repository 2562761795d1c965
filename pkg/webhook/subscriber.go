package webhook

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pitabwire/frame/workerpool"
	"github.com/pitabwire/util"

	"github.com/spiralogic/oraclevoice/pkg/events"
)

// EndpointLister finds the endpoints interested in an event type.
type EndpointLister interface {
	ListByEventType(ctx context.Context, et events.EventType) ([]WebhookEndpoint, error)
}

// Sender delivers one envelope to one endpoint.
type Sender interface {
	Deliver(ctx context.Context, wh WebhookEndpoint, env events.Envelope)
}

// Subscriber routes job events arriving on the framework queue to matching
// webhooks.
type Subscriber struct {
	Repo      EndpointLister
	Deliverer Sender
	Pool      workerpool.WorkerPool
}

// Handle is called by frame's pub/sub for each event message.
func (ws *Subscriber) Handle(ctx context.Context, _ map[string]string, message []byte) error {
	var env events.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		util.Log(ctx).WithError(err).Error("webhook subscriber: unmarshal envelope")
		return err
	}

	webhooks, err := ws.Repo.ListByEventType(ctx, env.Type)
	if err != nil {
		util.Log(ctx).WithError(err).Error("webhook subscriber: list webhooks")
		return err
	}

	// Deliveries outlive the message acknowledgement.
	deliverCtx := context.WithoutCancel(ctx)
	for _, wh := range webhooks {
		if !wh.Wants(env) {
			continue
		}
		if env.Type == events.WebhookTest && !isTestTarget(env, wh.ID) {
			continue
		}
		deliver := func() { ws.Deliverer.Deliver(deliverCtx, wh, env) }
		if ws.Pool != nil {
			if err := ws.Pool.Submit(deliverCtx, deliver); err != nil {
				slog.WarnContext(ctx, "webhook pool full", slog.String("webhook_id", wh.ID))
			}
		} else {
			go deliver()
		}
	}

	return nil
}

func isTestTarget(env events.Envelope, webhookID string) bool {
	var td events.WebhookTestData
	if err := json.Unmarshal(env.Data, &td); err != nil {
		return false
	}
	return td.WebhookID == webhookID
}
