// Package health provides HTTP health and readiness check handlers.
//
// The package exposes two endpoints:
//
//   - /healthz: liveness check; always returns 200 OK.
//   - /readyz: readiness check; returns 200 only when every required
//     [Checker] passes.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dimfocus/internal/resilience"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "model",
	// "providers"). It appears as a key in the JSON response.
	Name string

	// Check tests the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error

	// Optional checks are reported but do not affect readiness.
	Optional bool
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz endpoints. It is safe for concurrent
// use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. Checkers run concurrently.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is a liveness check that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness check that returns 200 only when every required
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := c.Check(ctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				checks[c.Name] = "ok"
			case c.Optional:
				checks[c.Name] = "degraded: " + err.Error()
			default:
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// ErrNotLoaded is reported by [Loaded] checkers.
var ErrNotLoaded = errors.New("not loaded")

// Loaded returns a checker that fails until loaded reports true. It backs the
// "model" readiness check.
func Loaded(name string, loaded func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !loaded() {
				return ErrNotLoaded
			}
			return nil
		},
	}
}

// Breakers returns a checker that fails when every provider behind a
// fallback group has an open circuit breaker.
func Breakers(name string, status func() []resilience.EntryStatus) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			entries := status()
			for _, e := range entries {
				if e.State != resilience.StateOpen {
					return nil
				}
			}
			if len(entries) == 0 {
				return nil
			}
			return errors.New("all provider circuits open")
		},
	}
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
