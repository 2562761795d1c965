package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event flowing through the system.
type EventType string

const (
	JobQueued     EventType = "job.queued"
	JobProcessing EventType = "job.processing"
	JobCompleted  EventType = "job.completed"
	JobFailed     EventType = "job.failed"
	WebhookTest   EventType = "webhook.test"
)

// JobEventTypes lists the transitions a job can publish, in lifecycle order.
var JobEventTypes = []EventType{JobQueued, JobProcessing, JobCompleted, JobFailed}

// Terminal reports whether t ends a job's event stream.
func (t EventType) Terminal() bool {
	return t == JobCompleted || t == JobFailed
}

// Envelope is the standard event wrapper published to subscribers and the
// event bus.
type Envelope struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Source    string            `json:"source"`
	JobID     string            `json:"job_id,omitempty"`
	Role      string            `json:"role,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// WebhookTestData is the payload for webhook.test events.
type WebhookTestData struct {
	WebhookID string `json:"webhook_id"`
	Message   string `json:"message"`
}
