package ollama_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/dimfocus/pkg/provider/embeddings"
	"github.com/MrWong99/dimfocus/pkg/provider/embeddings/ollama"
)

var _ embeddings.Provider = (*ollama.Provider)(nil)

// unreachable is a local address nothing listens on; tests that must not
// touch the network point the provider here.
const unreachable = "http://127.0.0.1:1"

type embedCall struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive"`
	Truncate  *bool    `json:"truncate"`
}

// fakeOllama serves /api/embed. Each input text is embedded as
// [len(text), index], so tests can check order without canned vectors.
// drop removes that many vectors from every response.
type fakeOllama struct {
	t     *testing.T
	calls atomic.Int32
	last  atomic.Pointer[embedCall]
	drop  int
}

func (f *fakeOllama) start() *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/api/embed" {
			f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var call embedCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			f.t.Errorf("decode request: %v", err)
			return
		}
		f.last.Store(&call)

		vecs := make([][]float32, 0, len(call.Input))
		for i, text := range call.Input {
			vecs = append(vecs, []float32{float32(len(text)), float32(i)})
		}
		vecs = vecs[:max(0, len(vecs)-f.drop)]
		_ = json.NewEncoder(w).Encode(map[string]any{"model": call.Model, "embeddings": vecs})
	}))
	f.t.Cleanup(srv.Close)
	return srv
}

func newFake(t *testing.T) (*fakeOllama, string) {
	t.Helper()
	f := &fakeOllama{t: t}
	return f, f.start().URL
}

func TestNew(t *testing.T) {
	if _, err := ollama.New("", ""); err == nil {
		t.Error("empty model accepted")
	}
	p, err := ollama.New("", "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.ModelID(); got != "nomic-embed-text" {
		t.Errorf("ModelID = %q", got)
	}
}

func TestEmbedBatch_OrderAndRequest(t *testing.T) {
	f, url := newFake(t)
	p, err := ollama.New(url+"/", "all-minilm", ollama.WithKeepAlive("10m"), ollama.WithTruncate(false))
	if err != nil {
		t.Fatal(err)
	}

	texts := []string{"a", "resume text", "abc"}
	got, err := p.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, text := range texts {
		if got[i][0] != float32(len(text)) || got[i][1] != float32(i) {
			t.Errorf("vector %d = %v, want [%d %d]", i, got[i], len(text), i)
		}
	}

	call := f.last.Load()
	if call.Model != "all-minilm" || len(call.Input) != 3 {
		t.Errorf("request = %+v", call)
	}
	if call.KeepAlive != "10m" || call.Truncate == nil || *call.Truncate {
		t.Errorf("keep_alive/truncate not forwarded: %+v", call)
	}
	if n := f.calls.Load(); n != 1 {
		t.Errorf("calls = %d, want one request per batch", n)
	}
}

func TestEmbed_Single(t *testing.T) {
	_, url := newFake(t)
	p, _ := ollama.New(url, "nomic-embed-text")
	got, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 2 || got[0] != 5 {
		t.Errorf("vector = %v", got)
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	p, _ := ollama.New(unreachable, "nomic-embed-text")
	got, err := p.EmbedBatch(context.Background(), nil)
	if err != nil || got != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", got, err)
	}
}

func TestEmbedBatch_CountMismatch(t *testing.T) {
	f := &fakeOllama{t: t, drop: 1}
	p, _ := ollama.New(f.start().URL, "nomic-embed-text")
	if _, err := p.EmbedBatch(context.Background(), []string{"x", "y"}); err == nil {
		t.Fatal("short response accepted")
	}
}

func TestDimensions(t *testing.T) {
	tests := []struct {
		model string
		opts  []ollama.Option
		want  int
	}{
		{"nomic-embed-text", nil, 768},
		{"nomic-embed-text:latest", nil, 768},
		{"mxbai-embed-large", nil, 1024},
		{"all-minilm", nil, 384},
		{"bge-m3", nil, 1024},
		{"custom", []ollama.Option{ollama.WithDimensions(256)}, 256},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			p, err := ollama.New(unreachable, tt.model, tt.opts...)
			if err != nil {
				t.Fatal(err)
			}
			if got := p.Dimensions(); got != tt.want {
				t.Errorf("Dimensions = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDimensions_DetectedOnce(t *testing.T) {
	f, url := newFake(t)
	p, _ := ollama.New(url, "custom-embed")
	for range 3 {
		if got := p.Dimensions(); got != 2 {
			t.Fatalf("Dimensions = %d, want 2", got)
		}
	}
	if n := f.calls.Load(); n != 1 {
		t.Errorf("detection requests = %d, want 1", n)
	}
}

func TestDimensions_DetectionFailure(t *testing.T) {
	p, _ := ollama.New(unreachable, "custom-embed", ollama.WithTimeout(500*time.Millisecond))
	if got := p.Dimensions(); got != 0 {
		t.Errorf("Dimensions = %d, want 0", got)
	}
	if p.DetectErr() == nil {
		t.Error("DetectErr is nil after a failed detection")
	}
}

func TestEmbed_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"json error", http.StatusNotFound, `{"error":"model \"nope\" not found"}`, `model "nope" not found`},
		{"plain error", http.StatusServiceUnavailable, "overloaded\n", "overloaded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p, _ := ollama.New(srv.URL, "nope")
			_, err := p.Embed(context.Background(), "hello")
			var se *ollama.StatusError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *StatusError", err)
			}
			if se.StatusCode != tt.status || se.Message != tt.wantMsg {
				t.Errorf("StatusError = %+v", se)
			}
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not-json"))
		}))
		defer srv.Close()
		p, _ := ollama.New(srv.URL, "nomic-embed-text")
		if _, err := p.Embed(context.Background(), "hello"); err == nil {
			t.Fatal("malformed body accepted")
		}
	})
}

func TestEmbed_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	p, _ := ollama.New(srv.URL, "nomic-embed-text")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := p.Embed(ctx, "hello")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
