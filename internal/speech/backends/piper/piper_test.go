package piper

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/spiralogic/oraclevoice/internal/speech/engine"
)

// fakePiper writes a script that echoes stdin back, standing in for the binary.
func fakePiper(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "piper")
	if err := os.WriteFile(path, []byte("#!/bin/sh\ncat\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPiperSynthesize(t *testing.T) {
	bin := fakePiper(t)
	p := NewPiperTTS("local", bin, "unused.onnx")

	audio, err := p.Synthesize(t.Context(), engine.Request{Text: "[speaker:maya] [breath] Slow down.", Speed: 1})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if audio.Format != "wav" || audio.ContentType != "audio/wav" {
		t.Errorf("format = %q %q, want wav", audio.Format, audio.ContentType)
	}
	if len(audio.Data) < 44 || string(audio.Data[:4]) != "RIFF" {
		t.Fatalf("audio is not a WAV: %q", audio.Data)
	}
	if string(audio.Data[44:]) != "Slow down." {
		t.Errorf("stdin passthrough = %q, want stripped text", audio.Data[44:])
	}
	if got := binary.LittleEndian.Uint32(audio.Data[24:28]); got != defaultSampleRate {
		t.Errorf("sample rate = %d, want %d", got, defaultSampleRate)
	}
}

func TestPiperSampleRateFromModelConfig(t *testing.T) {
	bin := fakePiper(t)
	model := filepath.Join(t.TempDir(), "voice.onnx")
	if err := os.WriteFile(model+".json", []byte(`{"audio":{"sample_rate":16000}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	p := NewPiperTTS("local", bin, model)

	audio, err := p.Synthesize(t.Context(), engine.Request{Text: "Hello."})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got := binary.LittleEndian.Uint32(audio.Data[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
}

func TestPiperHealth(t *testing.T) {
	bin := fakePiper(t)
	model := filepath.Join(t.TempDir(), "voice.onnx")

	p := NewPiperTTS("local", bin, model)
	r, err := p.HealthCheck(t.Context())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if !r.Ready || r.ModelLoaded {
		t.Errorf("readiness without model = %+v, want ready but not loaded", r)
	}

	if err := os.WriteFile(model, []byte("onnx"), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err = p.HealthCheck(t.Context())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if !r.ModelLoaded {
		t.Errorf("readiness with model = %+v, want loaded", r)
	}
}

func TestPiperHealthMissingBinary(t *testing.T) {
	p := NewPiperTTS("local", filepath.Join(t.TempDir(), "nope"), "m.onnx")
	if _, err := p.HealthCheck(t.Context()); err == nil {
		t.Error("expected error for missing binary")
	}
}
