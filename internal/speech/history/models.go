// Package history keeps a durable record of finished synthesis jobs. The
// in-memory queue forgets jobs after the retention window; the history table
// does not.
package history

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pitabwire/frame/data"

	"github.com/spiralogic/oraclevoice/internal/speech/queue"
)

// JobRecord is the persisted form of a terminal job.
type JobRecord struct {
	data.BaseModel

	JobID            string       `gorm:"type:varchar(50);not null;uniqueIndex:idx_jr_job" json:"job_id"`
	Role             string       `gorm:"type:varchar(100);index:idx_jr_role"              json:"role"`
	Profile          string       `gorm:"type:varchar(100)"                                json:"profile"`
	Status           string       `gorm:"type:varchar(20);not null;index:idx_jr_status"    json:"status"`
	EngineUsed       string       `gorm:"type:varchar(100)"                                json:"engine_used,omitempty"`
	Degraded         bool         `gorm:"default:false"                                    json:"degraded"`
	ErrorKind        string       `gorm:"type:varchar(50)"                                 json:"error_kind,omitempty"`
	ErrorMessage     string       `gorm:"type:text"                                        json:"error_message,omitempty"`
	EnginesAttempted StringsJSON  `gorm:"type:jsonb;default:'[]'"                          json:"engines_attempted,omitempty"`
	ArtifactKey      string       `gorm:"type:varchar(512)"                                json:"artifact_key,omitempty"`
	ArtifactURL      string       `gorm:"type:varchar(2048)"                               json:"artifact_url,omitempty"`
	ContentType      string       `gorm:"type:varchar(100)"                                json:"content_type,omitempty"`
	Bytes            int          `gorm:"default:0"                                        json:"bytes"`
	TextLength       int          `gorm:"default:0"                                        json:"text_length"`
	RequestedAt      time.Time    `json:"requested_at"`
	StartedAt        sql.NullTime `json:"started_at,omitempty"`
	CompletedAt      sql.NullTime `json:"completed_at,omitempty"`
	DurationMs       int64        `gorm:"default:0"                                        json:"duration_ms"`
}

func (JobRecord) TableName() string { return "speech_jobs" }

// StringsJSON is a custom GORM type for JSONB storage of string lists.
type StringsJSON []string

func (s StringsJSON) Value() (interface{}, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	return string(b), err
}

func (s *StringsJSON) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		*s = StringsJSON{}
		return nil
	}
}

// FromJob converts a terminal job snapshot into a record.
func FromJob(job queue.Job) *JobRecord {
	rec := &JobRecord{
		JobID:       job.ID,
		Role:        job.Role,
		Profile:     job.Profile,
		Status:      string(job.Status),
		EngineUsed:  job.EngineUsed,
		Degraded:    job.Degraded,
		TextLength:  len(job.Text),
		RequestedAt: job.RequestedAt,
	}
	if job.StartedAt != nil {
		rec.StartedAt = sql.NullTime{Time: *job.StartedAt, Valid: true}
	}
	if job.CompletedAt != nil {
		rec.CompletedAt = sql.NullTime{Time: *job.CompletedAt, Valid: true}
		rec.DurationMs = job.CompletedAt.Sub(job.RequestedAt).Milliseconds()
	}
	if job.Result != nil {
		rec.ArtifactKey = job.Result.Key
		rec.ArtifactURL = job.Result.URL
		rec.ContentType = job.Result.ContentType
		rec.Bytes = job.Result.Bytes
	}
	if job.Error != nil {
		rec.ErrorKind = string(job.Error.Kind)
		rec.ErrorMessage = job.Error.Message
		rec.EnginesAttempted = StringsJSON(job.Error.EnginesAttempted)
	}
	return rec
}
