// Package config provides the configuration schema, loader, and provider registry
// for dimfocus.
package config

import (
	"time"

	"github.com/MrWong99/dimfocus/internal/gbt"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for dimfocus.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Training   TrainingConfig   `yaml:"training"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Model      ModelConfig      `yaml:"model"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds network and logging settings for the HTTP API.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds paths to TLS certificate and key files.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig selects the embeddings provider registered in the [Registry].
type ProvidersConfig struct {
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the configuration for a single provider.
type ProviderEntry struct {
	// Name selects the registered provider implementation ("openai", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects the embedding model (e.g., "text-embedding-3-small").
	Model string `yaml:"model"`

	// Options holds provider-specific settings such as "dimensions" or
	// "keep_alive".
	Options map[string]any `yaml:"options"`
}

// EmbeddingConfig tunes how texts are sent to the provider.
type EmbeddingConfig struct {
	// BatchSize is the number of texts per provider call.
	BatchSize int `yaml:"batch_size"`

	// Concurrency bounds the provider calls in flight.
	Concurrency int `yaml:"concurrency"`

	// Timeout applies to a single provider call.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is passed to providers that retry on their own.
	MaxRetries int `yaml:"max_retries"`
}

// TrainingConfig holds the similarity and PII training parameters.
type TrainingConfig struct {
	TestFraction  float64 `yaml:"test_fraction"`
	Seed          uint64  `yaml:"seed"`
	Coverage      float64 `yaml:"coverage"`
	NegativeRatio float64 `yaml:"negative_ratio"`

	// PIIFolds is the number of cross-validation folds for PII training.
	PIIFolds int `yaml:"pii_folds"`

	Classifier gbt.Params `yaml:"classifier"`
}

// ScoringConfig holds the match level cut-offs and the preview length used
// in rankings.
type ScoringConfig struct {
	High         float64 `yaml:"high"`
	Medium       float64 `yaml:"medium"`
	PreviewChars int     `yaml:"preview_chars"`
}

// ModelConfig locates trained artifacts.
type ModelConfig struct {
	// Path is the similarity model artifact.
	Path string `yaml:"path"`

	// PIIPath is the PII detector artifact.
	PIIPath string `yaml:"pii_path"`

	// WatchInterval is the poll period for hot reload. Zero disables watching.
	WatchInterval time.Duration `yaml:"watch_interval"`

	// PostgresDSN enables the PostgreSQL model registry when set.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ResilienceConfig configures failover between embeddings providers.
type ResilienceConfig struct {
	// Fallbacks are tried in order when the primary provider fails. They must
	// serve the same embedding model as the primary.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker placed in front of each provider.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}
