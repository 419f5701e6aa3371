// Package ollama provides an embeddings provider backed by a local Ollama server.
//
// It calls Ollama's native /api/embed endpoint, which accepts a list of inputs
// and returns one vector per input. Models such as nomic-embed-text,
// mxbai-embed-large and all-minilm are recognised without a detection request.
//
//	p, err := ollama.New("", "nomic-embed-text") // http://localhost:11434
//	if err != nil {
//	    return err
//	}
//	vecs, err := p.EmbedBatch(ctx, []string{"resume one", "resume two"})
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/dimfocus/pkg/provider/embeddings"
)

// DefaultBaseURL is the default base URL for a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using a local Ollama server.
//
// Dimension resolution happens in this order:
//  1. Value supplied via WithDimensions.
//  2. The built-in table of recognised model names.
//  3. A single detection embed on the first Dimensions call, cached afterwards.
//
// Provider is safe for concurrent use.
type Provider struct {
	baseURL    string
	model      string
	keepAlive  string
	truncate   *bool
	httpClient *http.Client

	dimensions int
	detectOnce sync.Once
	detectErr  error
}

type config struct {
	timeout    time.Duration
	dimensions int
	keepAlive  string
	truncate   *bool
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDimensions pre-sets the embedding dimension and skips the detection request.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.dimensions = dims
	}
}

// WithKeepAlive controls how long Ollama keeps the model loaded after a
// request (e.g. "5m", "-1").
func WithKeepAlive(d string) Option {
	return func(c *config) {
		c.keepAlive = d
	}
}

// WithTruncate controls whether inputs longer than the model context are
// truncated (true) or rejected with an error (false).
func WithTruncate(truncate bool) Option {
	return func(c *config) {
		c.truncate = &truncate
	}
}

// WithHTTPClient replaces the HTTP client. WithTimeout is ignored when set.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a new Ollama Provider. An empty baseURL selects
// DefaultBaseURL; model must not be empty.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.timeout}
	}

	p := &Provider{
		baseURL:    baseURL,
		model:      model,
		keepAlive:  cfg.keepAlive,
		truncate:   cfg.truncate,
		httpClient: httpClient,
		dimensions: cfg.dimensions,
	}
	if p.dimensions == 0 {
		p.dimensions = knownDimensions(model)
	}
	return p, nil
}

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive,omitempty"`
	Truncate  *bool    `json:"truncate,omitempty"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// StatusError is returned when the server answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.callEmbed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider using one /api/embed request.
// A nil or empty texts slice returns (nil, nil) without a request.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.callEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: embed batch: expected %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions implements embeddings.Provider. For unknown models it queries the
// server once; if that fails, 0 is returned and DetectErr reports why.
func (p *Provider) Dimensions() int {
	if p.dimensions != 0 {
		return p.dimensions
	}
	p.detectOnce.Do(func() {
		vecs, err := p.callEmbed(context.Background(), []string{"dimension"})
		if err != nil {
			p.detectErr = err
			return
		}
		p.dimensions = len(vecs[0])
	})
	return p.dimensions
}

// DetectErr returns the error of the dimension detection request, if one was issued and failed.
func (p *Provider) DetectErr() error {
	return p.detectErr
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

func (p *Provider) callEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{
		Model:     p.model,
		Input:     texts,
		KeepAlive: p.keepAlive,
		Truncate:  p.truncate,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			se.Message = er.Error
		} else {
			se.Message = strings.TrimSpace(string(raw))
		}
		return nil, se
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embeddings in response")
	}
	return result.Embeddings, nil
}

// knownDimensions returns the output size of recognised models, or 0.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"):
		return 768
	case strings.Contains(lower, "mxbai-embed-large"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	case strings.Contains(lower, "bge-m3"):
		return 1024
	default:
		return 0
	}
}
