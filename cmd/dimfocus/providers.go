package main

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/dimfocus/internal/app"
	"github.com/MrWong99/dimfocus/internal/config"
	"github.com/MrWong99/dimfocus/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/dimfocus/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/dimfocus/pkg/provider/embeddings/openai"
)

// registerBuiltinProviders wires the embeddings provider factories that ship
// with dimfocus into reg. Request timeouts and retries come from ec; the
// remaining knobs are read from each entry's options map.
func registerBuiltinProviders(reg *config.Registry, ec config.EmbeddingConfig) {
	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		opts := []oaembed.Option{oaembed.WithTimeout(ec.Timeout)}
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if ec.MaxRetries > 0 {
			opts = append(opts, oaembed.WithMaxRetries(ec.MaxRetries))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaembed.WithOrganization(org))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		if n := optInt(entry.Options, "max_batch"); n > 0 {
			opts = append(opts, oaembed.WithMaxBatch(n))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		opts := []ollamaembed.Option{ollamaembed.WithTimeout(ec.Timeout)}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		if ka := optString(entry.Options, "keep_alive"); ka != "" {
			opts = append(opts, ollamaembed.WithKeepAlive(ka))
		}
		if v, ok := entry.Options["truncate"].(bool); ok {
			opts = append(opts, ollamaembed.WithTruncate(v))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	for _, name := range reg.EmbeddingsNames() {
		slog.Debug("registered provider", "kind", "embeddings", "name", name)
	}
}

// buildProviders instantiates the configured embeddings provider and its
// fallbacks using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	primary, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, err
	}
	slog.Debug("provider created", "kind", "embeddings",
		"name", cfg.Providers.Embeddings.Name, "model", primary.ModelID())

	ps := &app.Providers{Embeddings: primary}
	for i, entry := range cfg.Resilience.Fallbacks {
		p, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return nil, fmt.Errorf("fallback %d: %w", i, err)
		}
		ps.Fallbacks = append(ps.Fallbacks, app.NamedProvider{
			Name:     fmt.Sprintf("%s#%d", entry.Name, i+1),
			Provider: p,
		})
	}
	return ps, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer from a provider Options map. YAML decodes plain
// integers as int; float64 covers maps built from JSON.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
