// Package config holds the process configuration of the oraclevoice service,
// read from the environment through frame.
package config

import (
	"time"

	"github.com/pitabwire/frame/config"

	"github.com/spiralogic/oraclevoice/internal/speech/queue"
	"github.com/spiralogic/oraclevoice/internal/speech/router"
	"github.com/spiralogic/oraclevoice/pkg/webhook"
)

// SpeechConfig holds configuration for the voice synthesis service.
type SpeechConfig struct {
	config.ConfigurationDefault

	// Catalog
	CatalogPath  string `envDefault:"./config/voices.yaml" env:"VOICE_CATALOG_PATH"`
	CatalogWatch bool   `envDefault:"false"                env:"VOICE_CATALOG_WATCH"`
	RouterMode   string `envDefault:""                     env:"VOICE_ROUTER_MODE"`

	// Queue
	QueueWorkers        int `envDefault:"4"     env:"VOICE_QUEUE_WORKERS"`
	QueueDepth          int `envDefault:"64"    env:"VOICE_QUEUE_DEPTH"`
	SynthesisTimeoutSec int `envDefault:"60"    env:"VOICE_SYNTHESIS_TIMEOUT_SEC"`
	MaxReroutes         int `envDefault:"1"     env:"VOICE_MAX_REROUTES"`
	JobRetentionMin     int `envDefault:"15"    env:"VOICE_JOB_RETENTION_MIN"`
	MaxRetainedJobs     int `envDefault:"10000" env:"VOICE_MAX_RETAINED_JOBS"`

	// Health monitor
	HealthIntervalSec int `envDefault:"15" env:"VOICE_HEALTH_INTERVAL_SEC"`
	HealthTimeoutSec  int `envDefault:"5"  env:"VOICE_HEALTH_TIMEOUT_SEC"`

	// Artifacts
	ArtifactBucketURL string `envDefault:"file://./data?create_dir=true" env:"ARTIFACT_BUCKET_URL"`
	ArtifactPrefix    string `envDefault:"audio"                         env:"ARTIFACT_PREFIX"`

	// Request cache
	CacheEnabled    bool `envDefault:"true" env:"VOICE_CACHE_ENABLED"`
	CacheMaxEntries int  `envDefault:"1000" env:"VOICE_CACHE_MAX_ENTRIES"`

	// History
	HistoryEnabled bool `envDefault:"true" env:"VOICE_HISTORY_ENABLED"`

	// Engine credentials
	SesameURL             string `envDefault:"http://localhost:8000"     env:"SESAME_URL"`
	ElevenLabsAPIKey      string `envDefault:""                          env:"ELEVENLABS_API_KEY"`
	OpenAIAPIKey          string `envDefault:""                          env:"OPENAI_API_KEY"`
	OpenAIBaseURL         string `envDefault:"https://api.openai.com/v1" env:"OPENAI_BASE_URL"`
	GoogleAPIKey          string `envDefault:""                          env:"GOOGLE_API_KEY"`
	GoogleCredentialsFile string `envDefault:""                          env:"GOOGLE_APPLICATION_CREDENTIALS"`
	PiperBinaryPath       string `envDefault:"piper"                     env:"PIPER_BINARY_PATH"`
	PiperModelPath        string `envDefault:"./models/en_US-amy-medium.onnx" env:"PIPER_MODEL_PATH"`

	// Webhooks
	WebhookMaxRetries int  `envDefault:"5"     env:"WEBHOOK_MAX_RETRIES"`
	WebhookTimeoutSec int  `envDefault:"10"    env:"WEBHOOK_TIMEOUT_SEC"`
	WebhookBackoffSec int  `envDefault:"1"     env:"WEBHOOK_BACKOFF_INITIAL_SEC"`
	WebhookBackoffMax int  `envDefault:"300"   env:"WEBHOOK_BACKOFF_MAX_SEC"`
	WebhookAllowHTTP  bool `envDefault:"false" env:"WEBHOOK_ALLOW_HTTP"`
	CBFailThreshold   int  `envDefault:"5"     env:"CB_FAILURE_THRESHOLD"`
	CBResetTimeoutSec int  `envDefault:"60"    env:"CB_RESET_TIMEOUT_SEC"`
}

// EngineSecrets is the base config every catalog engine is built from.
// Catalog entries override these keys.
func (c *SpeechConfig) EngineSecrets() map[string]string {
	return map[string]string{
		"sesame_url":         c.SesameURL,
		"elevenlabs_api_key": c.ElevenLabsAPIKey,
		"openai_api_key":     c.OpenAIAPIKey,
		"openai_base_url":    c.OpenAIBaseURL,
		"google_api_key":     c.GoogleAPIKey,
		"credentials_file":   c.GoogleCredentialsFile,
		"binary_path":        c.PiperBinaryPath,
		"model_path":         c.PiperModelPath,
	}
}

// QueueConfig converts the environment settings into queue settings. mode is
// the catalog's mode unless VOICE_ROUTER_MODE overrides it.
func (c *SpeechConfig) QueueConfig(mode router.Mode) (queue.Config, error) {
	if c.RouterMode != "" {
		m, err := router.ParseMode(c.RouterMode)
		if err != nil {
			return queue.Config{}, err
		}
		mode = m
	}
	reroutes := c.MaxReroutes
	if reroutes <= 0 {
		// VOICE_MAX_REROUTES=0 turns re-routing off.
		reroutes = -1
	}
	return queue.Config{
		Workers:          c.QueueWorkers,
		Depth:            c.QueueDepth,
		SynthesisTimeout: time.Duration(c.SynthesisTimeoutSec) * time.Second,
		MaxReroutes:      reroutes,
		Retention:        time.Duration(c.JobRetentionMin) * time.Minute,
		MaxRetained:      c.MaxRetainedJobs,
		CacheEntries:     c.CacheMaxEntries,
		Mode:             mode,
	}, nil
}

// DelivererConfig converts the webhook settings.
func (c *SpeechConfig) DelivererConfig() webhook.DelivererConfig {
	return webhook.DelivererConfig{
		MaxRetries:      c.WebhookMaxRetries,
		Timeout:         time.Duration(c.WebhookTimeoutSec) * time.Second,
		BackoffInitial:  time.Duration(c.WebhookBackoffSec) * time.Second,
		BackoffMax:      time.Duration(c.WebhookBackoffMax) * time.Second,
		CBFailThreshold: c.CBFailThreshold,
		CBResetTimeout:  time.Duration(c.CBResetTimeoutSec) * time.Second,
	}
}
