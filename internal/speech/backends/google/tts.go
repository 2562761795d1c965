package google

import (
	"context"
	"fmt"
	"strconv"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	texttospeechpb "google.golang.org/genproto/googleapis/cloud/texttospeech/v1"

	"github.com/spiralogic/oraclevoice/internal/speech/engine"
	"github.com/spiralogic/oraclevoice/internal/speech/registry"
	"github.com/spiralogic/oraclevoice/internal/speech/style"
)

const defaultVoice = "en-US-Neural2-F"

// speechClient is the subset of the Cloud Text-to-Speech client the engine uses.
type speechClient interface {
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...gax.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error)
	ListVoices(ctx context.Context, req *texttospeechpb.ListVoicesRequest, opts ...gax.CallOption) (*texttospeechpb.ListVoicesResponse, error)
	Close() error
}

func init() {
	registry.Engines.Register("google", func(config map[string]string) (engine.Engine, error) {
		var opts []option.ClientOption
		if key := firstNonEmpty(config["google_api_key"], config["api_key"]); key != "" {
			opts = append(opts, option.WithAPIKey(key))
		}
		if creds := config["credentials_file"]; creds != "" {
			opts = append(opts, option.WithCredentialsFile(creds))
		}
		if len(opts) == 0 {
			return nil, fmt.Errorf("google TTS requires google_api_key or credentials_file")
		}

		client, err := texttospeech.NewClient(context.Background(), opts...)
		if err != nil {
			return nil, fmt.Errorf("google TTS client: %w", err)
		}
		return newGoogleTTS(client, config), nil
	})
}

func newGoogleTTS(client speechClient, config map[string]string) *GoogleTTS {
	name := config["name"]
	if name == "" {
		name = "google"
	}
	lang := config["language"]
	if lang == "" {
		lang = "en-US"
	}
	return &GoogleTTS{
		client:   client,
		name:     name,
		voice:    firstNonEmpty(config["voice"], defaultVoice),
		language: lang,
	}
}

// GoogleTTS implements engine.Engine with the Cloud Text-to-Speech SDK.
type GoogleTTS struct {
	client   speechClient
	name     string
	voice    string
	language string
}

func (g *GoogleTTS) Name() string      { return g.name }
func (g *GoogleTTS) Mode() engine.Mode { return engine.ModeRemote }

func (g *GoogleTTS) Synthesize(ctx context.Context, req engine.Request) (*engine.Audio, error) {
	audioCfg := &texttospeechpb.AudioConfig{
		AudioEncoding: texttospeechpb.AudioEncoding_MP3,
	}
	if req.Speed > 0 {
		audioCfg.SpeakingRate = req.Speed
	}
	if req.Pitch != 0 {
		audioCfg.Pitch = req.Pitch
	}

	resp, err := g.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: style.StripMarkup(req.Text)},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: g.language,
			Name:         g.voice,
		},
		AudioConfig: audioCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("google TTS: %w", err)
	}
	if len(resp.GetAudioContent()) == 0 {
		return nil, fmt.Errorf("google TTS: empty audio")
	}
	return &engine.Audio{Data: resp.GetAudioContent(), Format: "mp3", ContentType: "audio/mpeg"}, nil
}

// HealthCheck lists voices for the configured language.
func (g *GoogleTTS) HealthCheck(ctx context.Context) (engine.Readiness, error) {
	resp, err := g.client.ListVoices(ctx, &texttospeechpb.ListVoicesRequest{LanguageCode: g.language})
	if err != nil {
		return engine.Readiness{}, fmt.Errorf("google health: %w", err)
	}
	return engine.Readiness{
		Ready:       true,
		ModelLoaded: len(resp.GetVoices()) > 0,
		Detail:      strconv.Itoa(len(resp.GetVoices())) + " voices",
	}, nil
}

func (g *GoogleTTS) Close() error {
	return g.client.Close()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
