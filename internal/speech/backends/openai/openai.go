package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/spiralogic/oraclevoice/internal/speech/backends/restutil"
	"github.com/spiralogic/oraclevoice/internal/speech/engine"
	"github.com/spiralogic/oraclevoice/internal/speech/registry"
	"github.com/spiralogic/oraclevoice/internal/speech/style"
)

var builtinVoices = map[string]bool{
	"alloy": true, "ash": true, "coral": true, "echo": true, "fable": true,
	"onyx": true, "nova": true, "sage": true, "shimmer": true,
}

func init() {
	registry.Engines.Register("openai", func(config map[string]string) (engine.Engine, error) {
		apiKey := config["openai_api_key"]
		if apiKey == "" {
			apiKey = config["api_key"]
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai API key required (set openai_api_key in config)")
		}
		baseURL := config["url"]
		if baseURL == "" {
			baseURL = config["openai_base_url"]
		}
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		model := config["model"]
		if model == "" {
			model = "tts-1"
		}
		voice := config["voice"]
		if voice == "" {
			voice = "alloy"
		}
		name := config["name"]
		if name == "" {
			name = "openai"
		}
		return &OpenAITTS{
			name:    name,
			apiKey:  apiKey,
			baseURL: strings.TrimRight(baseURL, "/"),
			model:   model,
			voice:   voice,
		}, nil
	})
}

// OpenAITTS implements engine.Engine using the OpenAI-compatible speech API.
type OpenAITTS struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	voice   string
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

func (o *OpenAITTS) Name() string      { return o.name }
func (o *OpenAITTS) Mode() engine.Mode { return engine.ModeRemote }

func (o *OpenAITTS) authHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + o.apiKey,
		"Content-Type":  "application/json",
	}
}

func (o *OpenAITTS) Synthesize(ctx context.Context, req engine.Request) (*engine.Audio, error) {
	voice := req.Voice
	if !builtinVoices[voice] {
		voice = o.voice
	}

	body, err := restutil.MarshalBody(speechRequest{
		Model:          o.model,
		Input:          style.StripMarkup(req.Text),
		Voice:          voice,
		ResponseFormat: "mp3",
		Speed:          req.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("openai TTS: %w", err)
	}

	data, err := restutil.DoRaw(ctx, http.MethodPost, o.baseURL+"/audio/speech", o.authHeaders(), body)
	if err != nil {
		return nil, fmt.Errorf("openai TTS: %w", err)
	}
	return &engine.Audio{Data: data, Format: "mp3", ContentType: "audio/mpeg"}, nil
}

func (o *OpenAITTS) HealthCheck(ctx context.Context) (engine.Readiness, error) {
	if _, err := restutil.DoRaw(ctx, http.MethodGet, o.baseURL+"/models/"+o.model, o.authHeaders(), nil); err != nil {
		return engine.Readiness{}, fmt.Errorf("openai health: %w", err)
	}
	return engine.Readiness{Ready: true, ModelLoaded: true, Detail: o.model}, nil
}

func (o *OpenAITTS) Close() error {
	return nil
}
