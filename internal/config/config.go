// Package config provides the configuration structure for the voice service.
package config

import (
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Defaults applied when the configuration omits a value.
const (
	defaultMaxVoices          = 10
	defaultUploadURLSeconds   = 120
	defaultDownloadURLSeconds = 60
	defaultDedupWindowSeconds = 120
	defaultTimeoutSeconds     = 25
	defaultListenAddress      = ":8080"
)

// NATSConfig holds the configuration for the NATS-backed FIFO queues.
type NATSConfig struct {
	URL                string `toml:"url"`
	TrainingStream     string `toml:"training_stream"`
	TrainingSubject    string `toml:"training_subject"`
	TrainingConsumer   string `toml:"training_consumer"`
	GenerationStream   string `toml:"generation_stream"`
	GenerationSubject  string `toml:"generation_subject"`
	GenerationConsumer string `toml:"generation_consumer"`
	DedupWindowSeconds int    `toml:"dedup_window_seconds"`
}

// StorageConfig holds the MinIO object storage configuration.
type StorageConfig struct {
	Endpoint      string `toml:"endpoint"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	UseSSL        bool   `toml:"use_ssl"`
	SamplesBucket string `toml:"samples_bucket"`
	OutputsBucket string `toml:"outputs_bucket"`
}

// DatabaseConfig holds the entity store configuration.
type DatabaseConfig struct {
	DSN string `toml:"dsn"`
}

// ElevenLabsConfig holds the synthesis API configuration.
type ElevenLabsConfig struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// HTTPConfig holds the configuration for the HTTP boundary.
type HTTPConfig struct {
	ListenAddress string `toml:"listen_address"`
	AuthToken     string `toml:"auth_token"`
}

// LimitsConfig holds quotas and signed URL lifetimes.
type LimitsConfig struct {
	MaxVoices             int `toml:"max_voices"`
	UploadURLTTLSeconds   int `toml:"upload_url_ttl_seconds"`
	DownloadURLTTLSeconds int `toml:"download_url_ttl_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS       NATSConfig       `toml:"nats"`
	Storage    StorageConfig    `toml:"storage"`
	Database   DatabaseConfig   `toml:"database"`
	ElevenLabs ElevenLabsConfig `toml:"eleven_labs"`
	HTTP       HTTPConfig       `toml:"http"`
	Limits     LimitsConfig     `toml:"limits"`
	Paths      PathsConfig      `toml:"paths"`
}

// Load loads the configuration for the voice service and applies defaults
// for omitted optional values.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Limits.MaxVoices == 0 {
		c.Limits.MaxVoices = defaultMaxVoices
	}

	if c.Limits.UploadURLTTLSeconds == 0 {
		c.Limits.UploadURLTTLSeconds = defaultUploadURLSeconds
	}

	if c.Limits.DownloadURLTTLSeconds == 0 {
		c.Limits.DownloadURLTTLSeconds = defaultDownloadURLSeconds
	}

	if c.NATS.DedupWindowSeconds == 0 {
		c.NATS.DedupWindowSeconds = defaultDedupWindowSeconds
	}

	if c.ElevenLabs.TimeoutSeconds == 0 {
		c.ElevenLabs.TimeoutSeconds = defaultTimeoutSeconds
	}

	if c.HTTP.ListenAddress == "" {
		c.HTTP.ListenAddress = defaultListenAddress
	}
}

// UploadURLTTL returns the signed upload URL lifetime.
func (c *Config) UploadURLTTL() time.Duration {
	return time.Duration(c.Limits.UploadURLTTLSeconds) * time.Second
}

// DownloadURLTTL returns the signed download URL lifetime.
func (c *Config) DownloadURLTTL() time.Duration {
	return time.Duration(c.Limits.DownloadURLTTLSeconds) * time.Second
}

// DedupWindow returns the queue deduplication window.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.NATS.DedupWindowSeconds) * time.Second
}

// SynthesisTimeout returns the bounded timeout for synthesis API calls.
func (c *Config) SynthesisTimeout() time.Duration {
	return time.Duration(c.ElevenLabs.TimeoutSeconds) * time.Second
}
