// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider wraps a service that maps text strings to dense float32
// vectors (e.g., OpenAI text-embedding-3-small or a local Ollama model). The
// similarity pipeline treats a provider as a slow, fallible, deterministic
// function from text to vector: training embeds every distinct document once,
// and inference embeds the texts being compared.
//
// Providers are passed explicitly to the components that need them. There is
// no package-level client.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All embedding vectors returned by a single Provider instance must share the same
// dimensionality (returned by Dimensions). Vectors from different models must
// never be compared: a trained dimension selection is only meaningful in the
// space of the model it was trained on.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns a
	// float32 slice of length Dimensions() or an error if the request fails or ctx
	// is cancelled. The text is passed through verbatim.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of text strings. The
	// returned slice has the same length as texts and the i-th element
	// corresponds to texts[i].
	//
	// Errors cover network, authentication and rate-limit failures as well as
	// cancellation of ctx. On error the entire result is nil; partial results
	// are never returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every embedding vector produced by this
	// provider. It is constant for the lifetime of the Provider instance.
	Dimensions() int

	// ModelID returns the provider-specific model identifier used for embeddings
	// (e.g., "text-embedding-3-small"). It is recorded in trained artifacts so
	// that a model is never applied to vectors from a different space.
	ModelID() string
}
