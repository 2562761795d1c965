package handler

import "github.com/spiralogic/oraclevoice/internal/speech/style"

// SubmitRequest is the request body for submitting a synthesis job.
type SubmitRequest struct {
	Text            string `json:"text"`
	Role            string `json:"role"`
	UseDefaultVoice bool   `json:"use_default_voice,omitempty"`
}

// SubmitResponse is returned when a job is admitted.
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// ProfilesResponse lists configured voice profiles.
type ProfilesResponse struct {
	DefaultRole string          `json:"default_role"`
	Profiles    []style.Profile `json:"profiles"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
