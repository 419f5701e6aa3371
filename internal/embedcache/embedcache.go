// Package embedcache provides a scoped text → embedding cache that fills
// itself from an [embeddings.Provider] in bounded, concurrent batches.
//
// A Cache is meant to live for exactly one training run or one inference
// call and then be dropped. It is never shared process-wide, so its memory is
// bounded by the texts of that one operation.
//
// Every distinct text is embedded at most once per Cache. Entries are only
// stored after their whole batch succeeded, so a failed or cancelled provider
// call never leaves partial or invalid entries behind.
package embedcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dimfocus/internal/observe"
	"github.com/MrWong99/dimfocus/pkg/provider/embeddings"
	"github.com/MrWong99/dimfocus/pkg/vecmath"
)

const (
	// DefaultBatchSize is the number of texts sent per provider call.
	DefaultBatchSize = 100

	// DefaultConcurrency is the number of provider calls allowed in flight.
	DefaultConcurrency = 4
)

// ErrNotCached is returned by [Cache.Vectors] for a text that was never filled.
var ErrNotCached = errors.New("embedcache: text not in cache")

// ProviderError reports a failed embedding provider call. It is not locally
// recoverable: callers decide whether to retry the whole operation or abort.
type ProviderError struct {
	// Model is the provider's model identifier.
	Model string
	// Texts is the size of the batch that failed.
	Texts int
	// Err is the underlying cause.
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %q failed on batch of %d texts: %v", e.Model, e.Texts, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Cache maps exact text strings to float64 embeddings.
// It is safe for concurrent use.
type Cache struct {
	provider    embeddings.Provider
	batchSize   int
	concurrency int
	metrics     *observe.Metrics

	mu   sync.RWMutex
	vecs map[string][]float64
	dims int
}

// Option configures a Cache.
type Option func(*Cache)

// WithBatchSize sets how many texts are sent per provider call.
func WithBatchSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithConcurrency bounds the number of provider calls in flight.
func WithConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithMetrics records provider and cache metrics to m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New returns an empty Cache backed by p.
func New(p embeddings.Provider, opts ...Option) *Cache {
	c := &Cache{
		provider:    p,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		vecs:        make(map[string][]float64),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Fill makes sure every text in texts has an entry. Duplicates and texts that
// are already cached cost no provider call. Missing texts are split into
// batches and embedded with at most the configured number of concurrent
// calls.
//
// On the first failure the remaining calls are cancelled and the error is
// returned; batches that completed before the failure stay cached.
func (c *Cache) Fill(ctx context.Context, texts []string) (err error) {
	ctx, span := observe.StartSpan(ctx, "embedcache.Fill")
	defer observe.EndSpan(span, &err)

	missing := c.missing(texts)
	c.metrics.RecordCacheLookup(ctx, distinctCount(texts)-len(missing), len(missing))
	if len(missing) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for start := 0; start < len(missing); start += c.batchSize {
		batch := missing[start:min(start+c.batchSize, len(missing))]
		g.Go(func() error {
			return c.embedBatch(gctx, batch)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	observe.Logger(ctx).Debug("embedding cache filled",
		"requested", len(texts),
		"embedded", len(missing),
		"cached", c.Len(),
	)
	return nil
}

// embedBatch runs one provider call and stores its result only if every
// vector is valid.
func (c *Cache) embedBatch(ctx context.Context, batch []string) error {
	model := c.provider.ModelID()
	start := time.Now()
	raw, err := c.provider.EmbedBatch(ctx, batch)
	c.metrics.EmbeddingDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", model)))
	if err != nil {
		c.metrics.RecordProviderRequest(ctx, model, "error", len(batch))
		c.metrics.RecordProviderError(ctx, model, errorKind(err))
		return &ProviderError{Model: model, Texts: len(batch), Err: err}
	}
	c.metrics.RecordProviderRequest(ctx, model, "ok", len(batch))

	if len(raw) != len(batch) {
		return &ProviderError{
			Model: model,
			Texts: len(batch),
			Err:   fmt.Errorf("expected %d vectors, got %d", len(batch), len(raw)),
		}
	}
	vecs := make([][]float64, len(raw))
	for i, v := range raw {
		if len(v) == 0 {
			return &ProviderError{
				Model: model,
				Texts: len(batch),
				Err:   fmt.Errorf("empty vector for input %d", i),
			}
		}
		vecs[i] = vecmath.Widen(v)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	dims := c.dims
	if dims == 0 {
		dims = len(vecs[0])
	}
	for _, v := range vecs {
		if len(v) != dims {
			return fmt.Errorf("embedcache: %w: provider returned %d-dimensional vector, expected %d",
				vecmath.ErrDimensionMismatch, len(v), dims)
		}
	}
	c.dims = dims
	for i, text := range batch {
		c.vecs[text] = vecs[i]
	}
	return nil
}

// missing returns the distinct uncached texts in first-appearance order.
func (c *Cache) missing(texts []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{}, len(texts))
	var out []string
	for _, t := range texts {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := c.vecs[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}

// Get returns the cached vector for text. The slice must not be modified.
func (c *Cache) Get(text string) ([]float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vecs[text]
	return v, ok
}

// Vectors returns the cached vectors for texts in order, or an error wrapping
// [ErrNotCached] for the first text without an entry.
func (c *Cache) Vectors(texts []string) ([][]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, ok := c.vecs[t]
		if !ok {
			return nil, fmt.Errorf("%w: input %d", ErrNotCached, i)
		}
		out[i] = v
	}
	return out, nil
}

// Embed fills texts and returns their vectors in order.
func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if err := c.Fill(ctx, texts); err != nil {
		return nil, err
	}
	return c.Vectors(texts)
}

// Len returns the number of cached texts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vecs)
}

// Dimensions returns the vector length seen so far, or 0 if the cache is empty.
func (c *Cache) Dimensions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dims
}

// ModelID returns the model identifier of the backing provider.
func (c *Cache) ModelID() string {
	return c.provider.ModelID()
}

func distinctCount(texts []string) int {
	seen := make(map[string]struct{}, len(texts))
	for _, t := range texts {
		seen[t] = struct{}{}
	}
	return len(seen)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "request"
	}
}
