package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/dimfocus/internal/embedcache"
	"github.com/MrWong99/dimfocus/internal/model"
	"github.com/MrWong99/dimfocus/internal/observe"
	"github.com/MrWong99/dimfocus/internal/pii"
	"github.com/MrWong99/dimfocus/internal/similarity"
	"github.com/MrWong99/dimfocus/pkg/vecmath"
)

// errBadRequest marks request validation failures.
var errBadRequest = errors.New("bad request")

type compareRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

type similarRequest struct {
	Target     string   `json:"target"`
	Candidates []string `json:"candidates"`
	TopK       *int     `json:"top_k,omitempty"`
}

type similarResponse struct {
	Matches []similarity.Match `json:"matches"`
	Skipped []skippedCandidate `json:"skipped,omitempty"`
}

// skippedCandidate names a candidate left out of the ranking and why.
type skippedCandidate struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type piiRequest struct {
	Texts []string `json:"texts"`
}

type piiResponse struct {
	Detections []pii.Detection `json:"detections"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.A == "" || req.B == "" {
		s.writeError(w, r, fmt.Errorf("%w: a and b are required", errBadRequest))
		return
	}
	res, err := s.svc.Compare(r.Context(), req.A, req.B)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Target == "" {
		s.writeError(w, r, fmt.Errorf("%w: target is required", errBadRequest))
		return
	}
	topK := DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	ranking, err := s.svc.FindSimilar(r.Context(), req.Target, req.Candidates, topK)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := similarResponse{Matches: ranking.Matches}
	for _, sk := range ranking.Skipped {
		resp.Skipped = append(resp.Skipped, skippedCandidate{Index: sk.Index, Error: sk.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePII(w http.ResponseWriter, r *http.Request) {
	var req piiRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Texts) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: texts must not be empty", errBadRequest))
		return
	}
	dets, err := s.svc.DetectPII(r.Context(), req.Texts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, piiResponse{Detections: dets})
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	sum, err := s.svc.Model()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// decode reads a JSON body into v, rejecting unknown fields and oversized
// bodies.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

// statusFor maps an error chain to an HTTP status code.
func statusFor(err error) int {
	var perr *embedcache.ProviderError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, similarity.ErrInvalidTopK):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrModelNotLoaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, vecmath.ErrDegenerateVector), errors.Is(err, vecmath.ErrDimensionMismatch):
		return http.StatusUnprocessableEntity
	case errors.As(err, &perr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
