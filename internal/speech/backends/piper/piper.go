package piper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/spiralogic/oraclevoice/internal/speech/engine"
	"github.com/spiralogic/oraclevoice/internal/speech/registry"
	"github.com/spiralogic/oraclevoice/internal/speech/style"
)

func init() {
	registry.Engines.Register("piper", func(config map[string]string) (engine.Engine, error) {
		binaryPath := config["binary_path"]
		if binaryPath == "" {
			binaryPath = "piper"
		}
		modelPath := config["model_path"]
		if modelPath == "" {
			modelPath = config["model"]
		}
		if modelPath == "" {
			modelPath = "./models/en_US-amy-medium.onnx"
		}
		name := config["name"]
		if name == "" {
			name = "piper"
		}
		return NewPiperTTS(name, binaryPath, modelPath), nil
	})
}

// defaultSampleRate applies when the model has no readable config.
const defaultSampleRate = 22050

// PiperTTS implements engine.Engine by shelling out to the Piper binary.
type PiperTTS struct {
	name       string
	binaryPath string
	modelPath  string
}

// NewPiperTTS creates a new Piper TTS engine.
func NewPiperTTS(name, binaryPath, modelPath string) *PiperTTS {
	return &PiperTTS{
		name:       name,
		binaryPath: binaryPath,
		modelPath:  modelPath,
	}
}

func (p *PiperTTS) Name() string      { return p.name }
func (p *PiperTTS) Mode() engine.Mode { return engine.ModeLocal }

// sampleRate reads audio.sample_rate from the model's .onnx.json config.
func (p *PiperTTS) sampleRate() int {
	data, err := os.ReadFile(p.modelPath + ".json")
	if err != nil {
		return defaultSampleRate
	}
	var cfg struct {
		Audio struct {
			SampleRate int `json:"sample_rate"`
		} `json:"audio"`
	}
	if json.Unmarshal(data, &cfg) != nil || cfg.Audio.SampleRate <= 0 {
		return defaultSampleRate
	}
	return cfg.Audio.SampleRate
}

// Synthesize generates a mono WAV. Piper has no markup support.
func (p *PiperTTS) Synthesize(ctx context.Context, req engine.Request) (*engine.Audio, error) {
	args := []string{"--model", p.modelPath, "--output-raw"}
	if req.Speed > 0 {
		// Piper's length scale is the inverse of speaking rate.
		args = append(args, "--length_scale", strconv.FormatFloat(1/req.Speed, 'f', 3, 64))
	}
	cmd := exec.CommandContext(ctx, p.binaryPath, args...)
	cmd.Stdin = bytes.NewBufferString(style.StripMarkup(req.Text))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("piper TTS: %w", ctx.Err())
		}
		return nil, fmt.Errorf("piper TTS: %w: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("piper TTS: empty audio")
	}
	wav, err := engine.WrapPCM(stdout.Bytes(), p.sampleRate(), 1)
	if err != nil {
		return nil, fmt.Errorf("piper TTS: %w", err)
	}
	return &engine.Audio{Data: wav, Format: "wav", ContentType: engine.ContentTypeFor("wav")}, nil
}

// HealthCheck reports ready when the binary resolves and loaded when the
// model file is present on disk.
func (p *PiperTTS) HealthCheck(_ context.Context) (engine.Readiness, error) {
	if _, err := exec.LookPath(p.binaryPath); err != nil {
		return engine.Readiness{}, fmt.Errorf("piper binary: %w", err)
	}
	if _, err := os.Stat(p.modelPath); err != nil {
		return engine.Readiness{Ready: true, Detail: "model missing: " + filepath.Base(p.modelPath)}, nil
	}
	return engine.Readiness{Ready: true, ModelLoaded: true, Detail: filepath.Base(p.modelPath)}, nil
}

func (p *PiperTTS) Close() error {
	return nil
}
