package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/dimfocus/internal/config"
	"github.com/MrWong99/dimfocus/pkg/provider/embeddings"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

providers:
  embeddings:
    name: openai
    api_key: sk-test
    model: text-embedding-3-large
    options:
      dimensions: 256

embedding:
  batch_size: 50
  concurrency: 2
  timeout: 10s

training:
  test_fraction: 0.25
  seed: 7
  coverage: 0.8
  negative_ratio: 2
  classifier:
    n_estimators: 50
    max_depth: 3

scoring:
  high: 0.8
  medium: 0.6
  preview_chars: 40

model:
  path: /tmp/sim.json
  pii_path: /tmp/pii.json
  watch_interval: 2s

resilience:
  fallbacks:
    - name: openai
      base_url: https://backup.example.com/v1
  breaker:
    max_failures: 2
    reset_timeout: 1m
`

// ── Loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Providers.Embeddings.Model != "text-embedding-3-large" {
		t.Errorf("providers.embeddings.model: got %q", cfg.Providers.Embeddings.Model)
	}
	if got := cfg.Providers.Embeddings.Options["dimensions"]; got != 256 {
		t.Errorf("providers.embeddings.options.dimensions: got %v, want 256", got)
	}
	if cfg.Embedding.Timeout != 10*time.Second {
		t.Errorf("embedding.timeout: got %s, want 10s", cfg.Embedding.Timeout)
	}
	if cfg.Training.Seed != 7 || cfg.Training.Coverage != 0.8 {
		t.Errorf("training: got seed %d coverage %.2f", cfg.Training.Seed, cfg.Training.Coverage)
	}
	if cfg.Training.Classifier.NEstimators != 50 || cfg.Training.Classifier.MaxDepth != 3 {
		t.Errorf("training.classifier: got %+v", cfg.Training.Classifier)
	}
	// Unset classifier fields fall back to defaults.
	if cfg.Training.Classifier.LearningRate != 0.1 {
		t.Errorf("training.classifier.learning_rate: got %.2f, want 0.1", cfg.Training.Classifier.LearningRate)
	}
	if cfg.Scoring.High != 0.8 || cfg.Scoring.Medium != 0.6 || cfg.Scoring.PreviewChars != 40 {
		t.Errorf("scoring: got %+v", cfg.Scoring)
	}
	if cfg.Model.WatchInterval != 2*time.Second {
		t.Errorf("model.watch_interval: got %s, want 2s", cfg.Model.WatchInterval)
	}
	if len(cfg.Resilience.Fallbacks) != 1 {
		t.Fatalf("resilience.fallbacks: got %d, want 1", len(cfg.Resilience.Fallbacks))
	}
	if cfg.Resilience.Fallbacks[0].Model != "text-embedding-3-large" {
		t.Errorf("fallback model should inherit the primary model, got %q", cfg.Resilience.Fallbacks[0].Model)
	}
	if cfg.Resilience.Breaker.MaxFailures != 2 || cfg.Resilience.Breaker.HalfOpenMax != 3 {
		t.Errorf("resilience.breaker: got %+v", cfg.Resilience.Breaker)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	for _, doc := range []string{"", "{}"} {
		cfg, err := config.LoadFromReader(strings.NewReader(doc))
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", doc, err)
		}
		if cfg.Providers.Embeddings.Name != config.DefaultProvider {
			t.Errorf("default provider: got %q", cfg.Providers.Embeddings.Name)
		}
		if cfg.Providers.Embeddings.Model != config.DefaultEmbeddingModel {
			t.Errorf("default model: got %q", cfg.Providers.Embeddings.Model)
		}
		if cfg.Scoring.High != 0.7 || cfg.Scoring.Medium != 0.5 {
			t.Errorf("default thresholds: got %+v", cfg.Scoring)
		}
		if cfg.Model.Path != config.DefaultModelPath {
			t.Errorf("default model path: got %q", cfg.Model.Path)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("server:\n  port: 80\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dimfocus.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.Path != "/tmp/sim.json" {
		t.Errorf("model.path: got %q", cfg.Model.Path)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: got %v, want os.ErrNotExist", err)
	}
}

func TestApplyEnv_OpenAIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	cfg, err := config.LoadFromReader(strings.NewReader(`
providers:
  embeddings:
    name: openai
resilience:
  fallbacks:
    - name: openai
      api_key: sk-explicit
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.Embeddings.APIKey != "sk-from-env" {
		t.Errorf("primary api_key: got %q, want sk-from-env", cfg.Providers.Embeddings.APIKey)
	}
	if cfg.Resilience.Fallbacks[0].APIKey != "sk-explicit" {
		t.Errorf("explicit api_key must win, got %q", cfg.Resilience.Fallbacks[0].APIKey)
	}
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: verbose\n", "log_level"},
		{"tls", "server:\n  tls:\n    cert_file: a.pem\n", "server.tls"},
		{"batch size", "embedding:\n  batch_size: -1\n", "embedding.batch_size"},
		{"test fraction", "training:\n  test_fraction: 1.5\n", "training.test_fraction"},
		{"coverage", "training:\n  coverage: 1.2\n", "training.coverage"},
		{"folds", "training:\n  pii_folds: 1\n", "training.pii_folds"},
		{"classifier", "training:\n  classifier:\n    subsample: 2\n", "training.classifier"},
		{"thresholds order", "scoring:\n  high: 0.4\n  medium: 0.6\n", "scoring thresholds"},
		{"threshold range", "scoring:\n  high: 1.5\n  medium: 0.5\n", "scoring thresholds"},
		{"fallback name", "resilience:\n  fallbacks:\n    - model: text-embedding-3-small\n", "resilience.fallbacks[0].name"},
		{"fallback model", "resilience:\n  fallbacks:\n    - name: openai\n      model: other\n", "must match"},
		{"watch interval", "model:\n  watch_interval: -1s\n", "model.watch_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Embedding.BatchSize = 0
	cfg.Embedding.Concurrency = 0
	cfg.Training.NegativeRatio = -1

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"batch_size", "concurrency", "negative_ratio"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderOnlyWarns(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.Embeddings.Name = "my-custom-provider"
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("unknown provider names should only warn, got: %v", err)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

type stubEmbeddings struct{ model string }

func (s *stubEmbeddings) Embed(context.Context, string) ([]float32, error) { return []float32{1}, nil }
func (s *stubEmbeddings) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}
func (s *stubEmbeddings) Dimensions() int { return 1 }
func (s *stubEmbeddings) ModelID() string { return s.model }

func TestRegistry_UnknownEmbeddings(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateEmbeddings(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_RegisteredEmbeddings(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterEmbeddings("stub", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return &stubEmbeddings{model: e.Model}, nil
	})

	p, err := reg.CreateEmbeddings(config.ProviderEntry{Name: "stub", Model: "m1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != "m1" {
		t.Errorf("ModelID: got %q, want m1", p.ModelID())
	}
	if got := reg.EmbeddingsNames(); len(got) != 1 || got[0] != "stub" {
		t.Errorf("EmbeddingsNames: got %v", got)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	factoryErr := errors.New("bad api key")
	reg.RegisterEmbeddings("broken", func(config.ProviderEntry) (embeddings.Provider, error) {
		return nil, factoryErr
	})
	_, err := reg.CreateEmbeddings(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, factoryErr) {
		t.Errorf("expected factory error to be wrapped, got: %v", err)
	}
}
