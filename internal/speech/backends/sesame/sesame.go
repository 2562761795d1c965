// Package sesame talks to a self-hosted neural TTS server. The server loads
// its model in the background after boot, so /health distinguishes "process up"
// from "model loaded" and only the latter makes the engine usable.
package sesame

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/spiralogic/oraclevoice/internal/speech/backends/restutil"
	"github.com/spiralogic/oraclevoice/internal/speech/engine"
	"github.com/spiralogic/oraclevoice/internal/speech/registry"
	"github.com/spiralogic/oraclevoice/internal/speech/style"
)

func init() {
	registry.Engines.Register("sesame", func(config map[string]string) (engine.Engine, error) {
		baseURL := config["url"]
		if baseURL == "" {
			baseURL = config["sesame_url"]
		}
		if baseURL == "" {
			return nil, fmt.Errorf("sesame URL required (set url on the engine or SESAME_URL)")
		}
		name := config["name"]
		if name == "" {
			name = "sesame"
		}
		mode, err := engine.ParseMode(config["mode"])
		if err != nil {
			return nil, err
		}
		format := config["format"]
		if format == "" {
			format = "wav"
		}
		return &SesameTTS{
			name:        name,
			mode:        mode,
			baseURL:     strings.TrimRight(baseURL, "/"),
			apiKey:      config["sesame_api_key"],
			voice:       config["voice"],
			format:      format,
			stripMarkup: config["strip_markup"] == "true",
		}, nil
	})
}

type ttsRequest struct {
	Text   string  `json:"text"`
	Voice  string  `json:"voice,omitempty"`
	Format string  `json:"format"`
	Speed  float64 `json:"speed,omitempty"`
}

type ttsResponse struct {
	Audio  string `json:"audio"` // base64
	Format string `json:"format"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Mode        string `json:"mode"`
	ModelLoaded bool   `json:"model_loaded"`
}

// SesameTTS implements engine.Engine against the sesame HTTP service.
type SesameTTS struct {
	name        string
	mode        engine.Mode
	baseURL     string
	apiKey      string
	voice       string
	format      string
	stripMarkup bool
}

func (s *SesameTTS) Name() string      { return s.name }
func (s *SesameTTS) Mode() engine.Mode { return s.mode }

func (s *SesameTTS) headers() map[string]string {
	if s.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + s.apiKey}
}

// Synthesize posts styled text to /tts and decodes the base64 audio payload.
func (s *SesameTTS) Synthesize(ctx context.Context, req engine.Request) (*engine.Audio, error) {
	text := req.Text
	if s.stripMarkup {
		text = style.StripMarkup(text)
	}
	voice := req.Voice
	if voice == "" {
		voice = s.voice
	}

	var resp ttsResponse
	err := restutil.DoJSON(ctx, http.MethodPost, s.baseURL+"/tts", s.headers(), ttsRequest{
		Text:   text,
		Voice:  voice,
		Format: s.format,
		Speed:  req.Speed,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("sesame TTS: %w", err)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Audio)
	if err != nil {
		return nil, fmt.Errorf("sesame TTS decode audio: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("sesame TTS: empty audio")
	}

	format := resp.Format
	if format == "" {
		format = s.format
	}
	return &engine.Audio{Data: data, Format: format, ContentType: engine.ContentTypeFor(format)}, nil
}

// HealthCheck reads /health. A "degraded" server is reachable but has no model.
func (s *SesameTTS) HealthCheck(ctx context.Context) (engine.Readiness, error) {
	var resp healthResponse
	if err := restutil.DoJSON(ctx, http.MethodGet, s.baseURL+"/health", s.headers(), nil, &resp); err != nil {
		return engine.Readiness{}, fmt.Errorf("sesame health: %w", err)
	}
	return engine.Readiness{
		Ready:       resp.Status == "healthy" || resp.Status == "degraded",
		ModelLoaded: resp.ModelLoaded,
		Detail:      resp.Status,
	}, nil
}

func (s *SesameTTS) Close() error {
	return nil
}
