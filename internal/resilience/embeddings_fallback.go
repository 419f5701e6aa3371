package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/dimfocus/internal/observe"
	"github.com/MrWong99/dimfocus/pkg/provider/embeddings"
)

// ErrIncompatibleFallback is returned by [EmbeddingsFallback.AddFallback] when
// the fallback serves a different model or vector length than the primary.
// Vectors from different models are not comparable, so a trained model would
// silently score garbage.
var ErrIncompatibleFallback = errors.New("resilience: fallback provider is incompatible with primary")

// EmbeddingsFallback implements [embeddings.Provider] with automatic failover
// across several endpoints serving the same embedding model. Each endpoint has
// its own circuit breaker; when the primary fails or its breaker is open, the
// next healthy fallback is tried.
type EmbeddingsFallback struct {
	group *FallbackGroup[embeddings.Provider]
}

// Compile-time interface assertion.
var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred backend. When metrics is non-nil, breaker transitions are recorded
// to it unless cfg already carries an OnStateChange hook.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig, metrics *observe.Metrics) *EmbeddingsFallback {
	if metrics != nil && cfg.CircuitBreaker.OnStateChange == nil {
		cfg.CircuitBreaker.OnStateChange = func(name string, _, to State) {
			metrics.RecordBreakerTransition(context.Background(), name, to.String())
		}
	}
	return &EmbeddingsFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional embeddings provider. It must report the
// same model id as the primary and, when both know it, the same dimension count.
func (f *EmbeddingsFallback) AddFallback(name string, provider embeddings.Provider) error {
	primary := f.group.Primary()
	if provider.ModelID() != primary.ModelID() {
		return fmt.Errorf("%w: %q serves model %q, primary serves %q",
			ErrIncompatibleFallback, name, provider.ModelID(), primary.ModelID())
	}
	if pd, fd := primary.Dimensions(), provider.Dimensions(); pd > 0 && fd > 0 && pd != fd {
		return fmt.Errorf("%w: %q returns %d dimensions, primary returns %d",
			ErrIncompatibleFallback, name, fd, pd)
	}
	f.group.AddFallback(name, provider)
	return nil
}

// Embed returns the embedding for text from the first healthy provider.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch returns embeddings for texts from the first healthy provider.
// A batch is never split across providers.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the primary's vector length.
func (f *EmbeddingsFallback) Dimensions() int {
	return f.group.Primary().Dimensions()
}

// ModelID returns the primary's model id, which every fallback shares.
func (f *EmbeddingsFallback) ModelID() string {
	return f.group.Primary().ModelID()
}

// Status reports the breaker state of every backend in try order.
func (f *EmbeddingsFallback) Status() []EntryStatus {
	return f.group.Status()
}
