package webhook

import (
	"database/sql"
	"encoding/json"
	"slices"

	"github.com/pitabwire/frame/data"

	"github.com/spiralogic/oraclevoice/pkg/events"
)

// Delivery outcomes recorded on DeliveryAttempt.Status.
const (
	DeliverySuccess = "success"
	DeliveryFailed  = "failed"
	DeliverySkipped = "skipped"
)

// WebhookEndpoint is a registered job-completion callback.
type WebhookEndpoint struct {
	data.BaseModel

	Name          string         `gorm:"type:varchar(255);not null"        json:"name"`
	URL           string         `gorm:"type:varchar(2048);not null"       json:"url"`
	Secret        string         `gorm:"type:varchar(512);not null"        json:"-"`
	EventTypes    EventTypesJSON `gorm:"type:jsonb;default:'[]'"           json:"event_types"`
	Roles         RolesJSON      `gorm:"type:jsonb;default:'[]'"           json:"roles"`
	IsActive      bool           `gorm:"default:true"                      json:"is_active"`
	Description   string         `gorm:"type:text"                         json:"description,omitempty"`
	FailureCount  int            `gorm:"default:0"                         json:"failure_count"`
	LastFailureAt sql.NullTime   `json:"last_failure_at,omitempty"`
	CircuitState  string         `gorm:"type:varchar(20);default:'closed'" json:"circuit_state"`
}

func (WebhookEndpoint) TableName() string { return "webhook_endpoints" }

// Wants reports whether the endpoint should receive env. An empty role list
// matches every role; webhook.test events always match.
func (wh WebhookEndpoint) Wants(env events.Envelope) bool {
	if !wh.IsActive {
		return false
	}
	if env.Type == events.WebhookTest {
		return true
	}
	if !wh.EventTypes.Contains(env.Type) {
		return false
	}
	return len(wh.Roles) == 0 || slices.Contains(wh.Roles, env.Role)
}

// EventTypesJSON is a custom GORM type for JSONB storage of event types.
type EventTypesJSON []events.EventType

func (e EventTypesJSON) Value() (interface{}, error) {
	if e == nil {
		return "[]", nil
	}
	b, err := json.Marshal(e)
	return string(b), err
}

func (e *EventTypesJSON) Scan(src interface{}) error {
	return scanJSON(src, e)
}

// Contains checks whether the list includes the given event type.
func (e EventTypesJSON) Contains(et events.EventType) bool {
	return slices.Contains(e, et)
}

// RolesJSON is a custom GORM type for JSONB storage of persona roles.
type RolesJSON []string

func (r RolesJSON) Value() (interface{}, error) {
	if r == nil {
		return "[]", nil
	}
	b, err := json.Marshal(r)
	return string(b), err
}

func (r *RolesJSON) Scan(src interface{}) error {
	return scanJSON(src, r)
}

func scanJSON(src interface{}, dst any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return json.Unmarshal([]byte("[]"), dst)
	}
}

// DeliveryAttempt records one attempt to deliver an event to a webhook.
type DeliveryAttempt struct {
	data.BaseModel

	WebhookID     string `gorm:"type:varchar(50);not null;index:idx_da_webhook" json:"webhook_id"`
	EventID       string `gorm:"type:varchar(50);not null"                       json:"event_id"`
	EventType     string `gorm:"type:varchar(100);not null"                      json:"event_type"`
	JobID         string `gorm:"type:varchar(50);index:idx_da_job"               json:"job_id,omitempty"`
	RequestBody   string `gorm:"type:text"                                       json:"-"`
	ResponseCode  int    `gorm:"default:0"                                       json:"response_code"`
	ResponseBody  string `gorm:"type:text"                                       json:"-"`
	AttemptNumber int    `gorm:"default:1"                                       json:"attempt_number"`
	Status        string `gorm:"type:varchar(20);not null;index:idx_da_status"   json:"status"`
	Error         string `gorm:"type:text"                                       json:"error,omitempty"`
	DurationMs    int64  `gorm:"default:0"                                       json:"duration_ms"`
}

func (DeliveryAttempt) TableName() string { return "webhook_delivery_attempts" }

// DeadLetter holds events that exhausted all delivery retries.
type DeadLetter struct {
	data.BaseModel

	WebhookID  string `gorm:"type:varchar(50);not null;index:idx_dl_webhook" json:"webhook_id"`
	EventID    string `gorm:"type:varchar(50);not null"                       json:"event_id"`
	EventType  string `gorm:"type:varchar(100);not null"                      json:"event_type"`
	JobID      string `gorm:"type:varchar(50)"                                json:"job_id,omitempty"`
	Payload    string `gorm:"type:text;not null"                              json:"payload"`
	LastError  string `gorm:"type:text"                                       json:"last_error"`
	Attempts   int    `gorm:"default:0"                                       json:"attempts"`
	Replayable bool   `gorm:"default:true"                                    json:"replayable"`
}

func (DeadLetter) TableName() string { return "webhook_dead_letters" }
