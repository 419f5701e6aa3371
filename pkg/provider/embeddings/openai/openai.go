// Package openai provides an embeddings provider backed by the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/dimfocus/pkg/provider/embeddings"
)

// DefaultModel is the default OpenAI embeddings model.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// MaxInputsPerRequest is the upper bound on inputs the embeddings endpoint
// accepts in one request. Larger batches are split.
const MaxInputsPerRequest = 2048

// Ensure Provider implements the embeddings.Provider interface.
var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using the OpenAI API.
type Provider struct {
	client     oai.Client
	model      string
	dimensions int // 0 means the model's native size
	maxBatch   int
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
	dimensions   int
	maxBatch     int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the SDK retries rate-limited or failed requests.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// WithDimensions requests shortened embeddings of the given length. Only the
// text-embedding-3 family supports this.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.dimensions = dims
	}
}

// WithMaxBatch caps the number of inputs sent per request.
func WithMaxBatch(n int) Option {
	return func(c *config) {
		c.maxBatch = n
	}
}

// New constructs a new OpenAI Embeddings Provider.
// If model is empty, DefaultModel (text-embedding-3-small) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.dimensions < 0 {
		return nil, fmt.Errorf("openai embeddings: dimensions must not be negative, got %d", cfg.dimensions)
	}
	if cfg.maxBatch <= 0 || cfg.maxBatch > MaxInputsPerRequest {
		cfg.maxBatch = MaxInputsPerRequest
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Provider{
		client:     oai.NewClient(reqOpts...),
		model:      model,
		dimensions: cfg.dimensions,
		maxBatch:   cfg.maxBatch,
	}, nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, p.params(oai.EmbeddingNewParamsInputUnion{
		OfString: param.NewOpt(text),
	}))
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	return float64ToFloat32(resp.Data[0].Embedding), nil
}

// EmbedBatch implements embeddings.Provider. Batches above the per-request
// input limit are sent as consecutive requests; any failure discards the
// whole result.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += p.maxBatch {
		end := min(start+p.maxBatch, len(texts))
		chunk := texts[start:end]

		resp, err := p.client.Embeddings.New(ctx, p.params(oai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: chunk,
		}))
		if err != nil {
			return nil, fmt.Errorf("openai embeddings: embed batch: %w", err)
		}
		if len(resp.Data) != len(chunk) {
			return nil, fmt.Errorf("openai embeddings: expected %d embeddings, got %d", len(chunk), len(resp.Data))
		}
		for _, e := range resp.Data {
			if e.Index < 0 || int(e.Index) >= len(chunk) {
				return nil, fmt.Errorf("openai embeddings: unexpected index %d", e.Index)
			}
			result[start+int(e.Index)] = float64ToFloat32(e.Embedding)
		}
	}
	return result, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.dimensions > 0 {
		return p.dimensions
	}
	return modelDimensions(p.model)
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

func (p *Provider) params(input oai.EmbeddingNewParamsInputUnion) oai.EmbeddingNewParams {
	params := oai.EmbeddingNewParams{
		Model:          p.model,
		Input:          input,
		EncodingFormat: oai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if p.dimensions > 0 {
		params.Dimensions = param.NewOpt(int64(p.dimensions))
	}
	return params
}

// modelDimensions returns the native embedding dimensions for known OpenAI models.
func modelDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "text-embedding-3-large"):
		return 3072
	case strings.Contains(lower, "text-embedding-3-small"):
		return 1536
	case strings.Contains(lower, "text-embedding-ada-002"):
		return 1536
	default:
		return 1536
	}
}

func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
