package queue

import (
	"errors"
	"slices"
	"time"

	"github.com/spiralogic/oraclevoice/internal/speech/artifact"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrQueueSaturated = errors.New("queue saturated")
	ErrNotFound       = errors.New("job not found")
	ErrNotCancellable = errors.New("job is not queued")
	ErrStopped        = errors.New("queue stopped")
)

// Status is a job's lifecycle state. Transitions only move forward.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrorKind is the stable failure classification reported on a job.
type ErrorKind string

const (
	KindNoEngineAvailable ErrorKind = "no_engine_available"
	KindEngineTimeout     ErrorKind = "engine_timeout"
	KindEngineError       ErrorKind = "engine_error"
	KindStorageError      ErrorKind = "storage_error"
	KindCancelled         ErrorKind = "cancelled"
)

// JobError is the structured reason attached to a failed job.
type JobError struct {
	Kind             ErrorKind `json:"kind"`
	Message          string    `json:"message"`
	EnginesAttempted []string  `json:"engines_attempted"`
}

// Job is one synthesis request. Values handed out by the queue are copies.
type Job struct {
	ID          string        `json:"job_id"`
	Text        string        `json:"text"`
	Role        string        `json:"role"`
	Profile     string        `json:"profile"`
	Status      Status        `json:"status"`
	EngineUsed  string        `json:"engine_used,omitempty"`
	Degraded    bool          `json:"degraded"`
	Cached      bool          `json:"cached,omitempty"`
	Result      *artifact.Ref `json:"result,omitempty"`
	Error       *JobError     `json:"error,omitempty"`
	RequestedAt time.Time     `json:"requested_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`

	voice voiceParams
}

type voiceParams struct {
	speaker string
	tempo   float64
	pitch   float64
	emotion string
}

func (j *Job) snapshot() Job {
	c := *j
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		e.EnginesAttempted = slices.Clone(j.Error.EnginesAttempted)
		c.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// Stats summarizes queue occupancy.
type Stats struct {
	Capacity   int `json:"capacity"`
	Workers    int `json:"workers"`
	Depth      int `json:"depth"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Retained   int `json:"retained"`
}
