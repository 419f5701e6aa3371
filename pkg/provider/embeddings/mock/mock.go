// Package mock provides a test double for the embeddings.Provider interface.
//
// Provider returns canned vectors per text (Vectors), falls back to a
// generator function (VectorFunc), records every call and can be told to fail.
// NewDeterministic builds a Provider whose vectors are a pure function of the
// text, which is what most pipeline tests need.
//
//	p := mock.NewDeterministic(8)
//	vecs, _ := p.EmbedBatch(ctx, []string{"a", "b"})
//	len(p.EmbedBatchCalls) // 1
package mock

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"sync"

	"github.com/MrWong99/dimfocus/pkg/provider/embeddings"
)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// EmbedBatchCall records a single invocation of EmbedBatch.
type EmbedBatchCall struct {
	Ctx context.Context
	// Texts is a copy of the slice passed to EmbedBatch.
	Texts []string
}

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Vectors maps a text to the vector returned for it. Checked first.
	Vectors map[string][]float32

	// VectorFunc produces the vector for texts missing from Vectors. If nil,
	// such texts get a nil vector.
	VectorFunc func(text string) []float32

	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// EmbedBatchErr, if non-nil, is returned as the error from EmbedBatch.
	EmbedBatchErr error

	// ErrFunc, if set, is consulted on every EmbedBatch call; a non-nil result
	// fails that call. Useful for failing only batches that contain a given text.
	ErrFunc func(texts []string) error

	DimensionsValue int
	ModelIDValue    string

	// EmbedCalls records every call to Embed in order.
	EmbedCalls []EmbedCall

	// EmbedBatchCalls records every call to EmbedBatch in order.
	EmbedBatchCalls []EmbedBatchCall
}

// NewDeterministic returns a Provider whose vectors are derived from a hash
// of the text, so identical texts always map to identical vectors.
func NewDeterministic(dims int) *Provider {
	return &Provider{
		VectorFunc:      func(text string) []float32 { return HashVector(text, dims) },
		DimensionsValue: dims,
		ModelIDValue:    "mock-embed",
	}
}

// HashVector returns a pseudo-random vector in [-1, 1) seeded by text.
func HashVector(text string, dims int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	v := make([]float32, dims)
	for i := range v {
		v[i] = float32(r.Float64()*2 - 1)
	}
	return v
}

// Embed records the call and returns the vector for text or EmbedErr.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.vectorFor(text), nil
}

// EmbedBatch records the call and returns one vector per text, or the
// configured error.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Ctx: ctx, Texts: cp})
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.ErrFunc != nil {
		if err := p.ErrFunc(cp); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := make([][]float32, len(texts))
	for i, t := range texts {
		result[i] = p.vectorFor(t)
	}
	return result, nil
}

func (p *Provider) vectorFor(text string) []float32 {
	if v, ok := p.Vectors[text]; ok {
		return v
	}
	if p.VectorFunc != nil {
		return p.VectorFunc(text)
	}
	return nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	return p.DimensionsValue
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	return p.ModelIDValue
}

// EmbeddedTexts returns every text submitted through EmbedBatch, in call order.
func (p *Provider) EmbeddedTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.EmbedBatchCalls {
		out = append(out, c.Texts...)
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
}

var _ embeddings.Provider = (*Provider)(nil)
