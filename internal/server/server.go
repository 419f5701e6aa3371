// Package server exposes similarity scoring, ranking and PII detection over a
// JSON HTTP API.
//
// Routes:
//
//   - POST /v1/compare   {"a", "b"}
//   - POST /v1/similar   {"target", "candidates", "top_k"}
//   - POST /v1/pii       {"texts"}
//   - GET  /v1/model
//   - GET  /healthz, /readyz
//   - GET  /metrics (Prometheus)
//
// Errors are returned as {"error": "..."} with a status derived from the
// error chain; see [statusFor].
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/dimfocus/internal/health"
	"github.com/MrWong99/dimfocus/internal/model"
	"github.com/MrWong99/dimfocus/internal/observe"
	"github.com/MrWong99/dimfocus/internal/pii"
	"github.com/MrWong99/dimfocus/internal/similarity"
)

const (
	// maxBodyBytes caps request bodies.
	maxBodyBytes = 4 << 20

	// DefaultTopK is used when a /v1/similar request omits top_k.
	DefaultTopK = 5
)

// Service is the inference surface served over HTTP. It is satisfied by
// [app.App].
type Service interface {
	Compare(ctx context.Context, a, b string) (similarity.Result, error)
	FindSimilar(ctx context.Context, target string, candidates []string, topK int) (*similarity.Ranking, error)
	DetectPII(ctx context.Context, texts []string) ([]pii.Detection, error)
	Model() (model.Summary, error)
}

// Server is the HTTP front end.
type Server struct {
	svc     Service
	metrics *observe.Metrics
	checks  []health.Checker
	promh   http.Handler

	certFile, keyFile string

	srv *http.Server
}

// Option configures a [Server].
type Option func(*Server)

// WithCheckers sets the readiness checks served on /readyz.
func WithCheckers(c ...health.Checker) Option {
	return func(s *Server) { s.checks = c }
}

// WithMetrics records HTTP metrics to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler replaces the handler served on /metrics. The default is
// [promhttp.Handler].
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.promh = h }
}

// WithTLS serves HTTPS using the given certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// New returns a Server listening on addr once [Server.Serve] is called.
func New(addr string, svc Service, opts ...Option) *Server {
	s := &Server{svc: svc}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.promh == nil {
		s.promh = promhttp.Handler()
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the full route tree wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/compare", s.handleCompare)
	mux.HandleFunc("POST /v1/similar", s.handleSimilar)
	mux.HandleFunc("POST /v1/pii", s.handlePII)
	mux.HandleFunc("GET /v1/model", s.handleModel)
	health.New(s.checks...).Register(mux)
	mux.Handle("GET /metrics", s.promh)
	return observe.Middleware(s.metrics)(mux)
}

// Serve listens on the configured address until ctx is cancelled, then shuts
// down gracefully within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.srv.Addr, err)
	}
	return s.serveListener(ctx, ln, shutdownTimeout)
}

func (s *Server) serveListener(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.certFile != "" {
			err = s.srv.ServeTLS(ln, s.certFile, s.keyFile)
		} else {
			err = s.srv.Serve(ln)
		}
		errCh <- err
	}()
	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", s.certFile != "")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("http server shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
