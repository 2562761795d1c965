package engine

import (
	"context"
	"fmt"
)

// Mode describes where an engine runs.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// ParseMode maps a catalog value onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLocal, ModeRemote:
		return Mode(s), nil
	case "":
		return ModeLocal, nil
	default:
		return "", fmt.Errorf("unknown engine mode %q", s)
	}
}

// Request is one synthesis call against an engine.
type Request struct {
	Text    string
	Voice   string
	Speed   float64
	Pitch   float64
	Emotion string
}

// Audio is the encoded output of a synthesis call.
type Audio struct {
	Data        []byte
	Format      string // "mp3", "wav", "pcm"
	ContentType string
}

// Readiness is what an engine reports from its health endpoint.
type Readiness struct {
	Ready       bool
	ModelLoaded bool
	Detail      string
}

// Engine synthesizes speech from styled text.
type Engine interface {
	Name() string
	Mode() Mode
	Synthesize(ctx context.Context, req Request) (*Audio, error)
	HealthCheck(ctx context.Context) (Readiness, error)
	Close() error
}

// ContentTypeFor returns the MIME type for an audio format.
func ContentTypeFor(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "ogg", "opus":
		return "audio/ogg"
	case "pcm":
		return "audio/L16"
	default:
		return "application/octet-stream"
	}
}
