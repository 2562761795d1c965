package elevenlabs

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

const defaultBaseURL = "https://api.elevenlabs.io"

func init() {
	registry.Engines.Register("elevenlabs", func(config map[string]string) (engine.Engine, error) {
		apiKey := config["elevenlabs_api_key"]
		if apiKey == "" {
			apiKey = config["api_key"]
		}
		if apiKey == "" {
			return nil, fmt.Errorf("elevenlabs API key required (set elevenlabs_api_key in config)")
		}
		model := config["model"]
		if model == "" {
			model = "eleven_multilingual_v2"
		}
		voice := config["voice"]
		if voice == "" {
			voice = "21m00Tcm4TlvDq8ikWAM" // Rachel
		}
		baseURL := config["url"]
		if baseURL == "" {
			baseURL = defaultBaseURL
		}
		name := config["name"]
		if name == "" {
			name = "elevenlabs"
		}
		return &ElevenLabsTTS{
			name:    name,
			apiKey:  apiKey,
			model:   model,
			voice:   voice,
			baseURL: strings.TrimRight(baseURL, "/"),
			// The cloud prompt format has no speaker/marker tags unless told otherwise.
			stripMarkup: config["strip_markup"] != "false",
		}, nil
	})
}

type elevenLabsRequest struct {
	Text          string                `json:"text"`
	ModelID       string                `json:"model_id"`
	VoiceSettings elevenLabsVoiceConfig `json:"voice_settings"`
}

type elevenLabsVoiceConfig struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// ElevenLabsTTS implements engine.Engine using the ElevenLabs REST API.
type ElevenLabsTTS struct {
	name        string
	apiKey      string
	model       string
	voice       string
	baseURL     string
	stripMarkup bool
}

func (e *ElevenLabsTTS) Name() string      { return e.name }
func (e *ElevenLabsTTS) Mode() engine.Mode { return engine.ModeRemote }

func (e *ElevenLabsTTS) Synthesize(ctx context.Context, req engine.Request) (*engine.Audio, error) {
	voice := req.Voice
	if voice == "" || !looksLikeVoiceID(voice) {
		voice = e.voice
	}
	text := req.Text
	if e.stripMarkup {
		text = style.StripMarkup(text)
	}

	apiURL := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=mp3_44100_128", e.baseURL, voice)
	headers := map[string]string{
		"xi-api-key":   e.apiKey,
		"Content-Type": "application/json",
		"Accept":       "audio/mpeg",
	}

	body, err := restutil.MarshalBody(elevenLabsRequest{
		Text:    text,
		ModelID: e.model,
		VoiceSettings: elevenLabsVoiceConfig{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Speed:           req.Speed,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs TTS: %w", err)
	}

	data, err := restutil.DoRaw(ctx, http.MethodPost, apiURL, headers, body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs TTS: %w", err)
	}
	return &engine.Audio{Data: data, Format: "mp3", ContentType: "audio/mpeg"}, nil
}

// HealthCheck hits the models listing; a cloud engine has no model to load,
// so a 2xx answer means both ready and loaded.
func (e *ElevenLabsTTS) HealthCheck(ctx context.Context) (engine.Readiness, error) {
	headers := map[string]string{"xi-api-key": e.apiKey}
	if _, err := restutil.DoRaw(ctx, http.MethodGet, e.baseURL+"/v1/models", headers, nil); err != nil {
		return engine.Readiness{}, fmt.Errorf("elevenlabs health: %w", err)
	}
	return engine.Readiness{Ready: true, ModelLoaded: true, Detail: "ok"}, nil
}

func (e *ElevenLabsTTS) Close() error {
	return nil
}

// looksLikeVoiceID filters out persona speaker names (e.g. "maya") that are
// meaningful to the local engine but not valid ElevenLabs voice IDs.
func looksLikeVoiceID(v string) bool {
	return len(v) == 20 && !strings.ContainsAny(v, " -_")
}
