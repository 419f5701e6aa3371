package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/dimfocus/internal/gbt"
)

// ValidProviderNames lists the known embeddings provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"openai", "ollama"}

// Defaults used by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultProvider       = "openai"
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultModelPath      = "models/similarity.json"
	DefaultPIIModelPath   = "models/pii.json"
	DefaultWatchInterval  = 5 * time.Second
	DefaultTimeout        = 30 * time.Second
)

// apiKeyEnv maps provider names to the environment variable consulted when
// api_key is left empty.
var apiKeyEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and environment
// fallbacks, and validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration built purely from defaults and the
// environment. It is used when no config file exists; callers should still
// [Validate] it.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	ApplyEnv(cfg)
	return cfg
}

// ApplyDefaults fills every zero-valued setting of cfg. Zero seeds are
// replaced too, so a seed of 0 cannot be configured.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Providers.Embeddings.Name, DefaultProvider)
	if cfg.Providers.Embeddings.Model == "" && cfg.Providers.Embeddings.Name == "openai" {
		cfg.Providers.Embeddings.Model = DefaultEmbeddingModel
	}

	setDefault(&cfg.Embedding.BatchSize, 100)
	setDefault(&cfg.Embedding.Concurrency, 4)
	setDefault(&cfg.Embedding.Timeout, DefaultTimeout)

	tr := &cfg.Training
	setDefault(&tr.TestFraction, 0.2)
	setDefault(&tr.Seed, 42)
	setDefault(&tr.Coverage, 0.9)
	setDefault(&tr.NegativeRatio, 1.0)
	setDefault(&tr.PIIFolds, 5)
	def := gbt.DefaultParams()
	setDefault(&tr.Classifier.NEstimators, def.NEstimators)
	setDefault(&tr.Classifier.MaxDepth, def.MaxDepth)
	setDefault(&tr.Classifier.LearningRate, def.LearningRate)
	setDefault(&tr.Classifier.MinSamplesSplit, def.MinSamplesSplit)
	setDefault(&tr.Classifier.MinSamplesLeaf, def.MinSamplesLeaf)
	setDefault(&tr.Classifier.Subsample, def.Subsample)
	setDefault(&tr.Classifier.Seed, tr.Seed)

	if cfg.Scoring.High == 0 && cfg.Scoring.Medium == 0 {
		cfg.Scoring.High, cfg.Scoring.Medium = 0.7, 0.5
	}
	setDefault(&cfg.Scoring.PreviewChars, 100)

	setDefault(&cfg.Model.Path, DefaultModelPath)
	setDefault(&cfg.Model.PIIPath, DefaultPIIModelPath)

	br := &cfg.Resilience.Breaker
	setDefault(&br.MaxFailures, 5)
	setDefault(&br.ResetTimeout, 30*time.Second)
	setDefault(&br.HalfOpenMax, 3)
	for i := range cfg.Resilience.Fallbacks {
		setDefault(&cfg.Resilience.Fallbacks[i].Model, cfg.Providers.Embeddings.Model)
	}
}

// ApplyEnv fills empty API keys from the provider's environment variable.
func ApplyEnv(cfg *Config) {
	applyEnvKey(&cfg.Providers.Embeddings)
	for i := range cfg.Resilience.Fallbacks {
		applyEnvKey(&cfg.Resilience.Fallbacks[i])
	}
}

func applyEnvKey(e *ProviderEntry) {
	if e.APIKey != "" {
		return
	}
	if env, ok := apiKeyEnv[e.Name]; ok {
		e.APIKey = os.Getenv(env)
	}
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings.name is required"))
	}
	validateProviderName("providers.embeddings", cfg.Providers.Embeddings.Name)
	for i, fb := range cfg.Resilience.Fallbacks {
		prefix := fmt.Sprintf("resilience.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		validateProviderName(prefix, fb.Name)
		if fb.Model != "" && cfg.Providers.Embeddings.Model != "" && fb.Model != cfg.Providers.Embeddings.Model {
			errs = append(errs, fmt.Errorf("%s.model %q must match providers.embeddings.model %q", prefix, fb.Model, cfg.Providers.Embeddings.Model))
		}
	}

	// Embedding
	if cfg.Embedding.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("embedding.batch_size %d must be positive", cfg.Embedding.BatchSize))
	}
	if cfg.Embedding.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("embedding.concurrency %d must be positive", cfg.Embedding.Concurrency))
	}
	if cfg.Embedding.Timeout < 0 {
		errs = append(errs, fmt.Errorf("embedding.timeout %s must not be negative", cfg.Embedding.Timeout))
	}

	// Training
	tr := cfg.Training
	if tr.TestFraction <= 0 || tr.TestFraction >= 1 {
		errs = append(errs, fmt.Errorf("training.test_fraction %.3f is out of range (0, 1)", tr.TestFraction))
	}
	if tr.Coverage <= 0 || tr.Coverage > 1 {
		errs = append(errs, fmt.Errorf("training.coverage %.3f is out of range (0, 1]", tr.Coverage))
	}
	if tr.NegativeRatio <= 0 {
		errs = append(errs, fmt.Errorf("training.negative_ratio %.3f must be positive", tr.NegativeRatio))
	}
	if tr.PIIFolds == 1 || tr.PIIFolds < 0 {
		errs = append(errs, fmt.Errorf("training.pii_folds %d must be 0 or at least 2", tr.PIIFolds))
	}
	if err := tr.Classifier.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("training.classifier: %w", err))
	}

	// Scoring
	sc := cfg.Scoring
	if sc.Medium < 0 || sc.High > 1 || sc.High <= sc.Medium {
		errs = append(errs, fmt.Errorf("scoring thresholds high %.3f and medium %.3f must satisfy 0 <= medium < high <= 1", sc.High, sc.Medium))
	}
	if sc.PreviewChars <= 0 {
		errs = append(errs, fmt.Errorf("scoring.preview_chars %d must be positive", sc.PreviewChars))
	}

	// Model
	if cfg.Model.Path == "" {
		errs = append(errs, errors.New("model.path is required"))
	}
	if cfg.Model.WatchInterval < 0 {
		errs = append(errs, fmt.Errorf("model.watch_interval %s must not be negative", cfg.Model.WatchInterval))
	}

	// Resilience
	br := cfg.Resilience.Breaker
	if br.MaxFailures < 0 || br.HalfOpenMax < 0 || br.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience.breaker values must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidProviderNames,
	)
}
