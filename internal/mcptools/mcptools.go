// Package mcptools exposes document comparison, similarity ranking and PII
// detection as MCP tools so that LLM agents can call them.
//
// Tools:
//
//   - compare_documents: focused and full similarity of two texts
//   - find_similar: rank candidates against a target
//   - detect_pii: classify texts as containing personal data or not
//   - model_info: summary of the live similarity model
package mcptools

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/dimfocus/internal/dimsel"
	"github.com/MrWong99/dimfocus/internal/model"
	"github.com/MrWong99/dimfocus/internal/pii"
	"github.com/MrWong99/dimfocus/internal/similarity"
)

// defaultTopK is used when find_similar is called without top_k.
const defaultTopK = 5

// Service is the inference surface exposed as tools. It is satisfied by
// [app.App].
type Service interface {
	Compare(ctx context.Context, a, b string) (similarity.Result, error)
	FindSimilar(ctx context.Context, target string, candidates []string, topK int) (*similarity.Ranking, error)
	DetectPII(ctx context.Context, texts []string) ([]pii.Detection, error)
	Model() (model.Summary, error)
}

// CompareInput is the argument of compare_documents.
type CompareInput struct {
	A string `json:"a" jsonschema:"the first document"`
	B string `json:"b" jsonschema:"the second document"`
}

// CompareOutput is the result of compare_documents.
type CompareOutput struct {
	FocusedSimilarity float64 `json:"focused_similarity" jsonschema:"cosine similarity over the selected dimensions"`
	FullSimilarity    float64 `json:"full_similarity" jsonschema:"cosine similarity over all dimensions"`
	MatchLevel        string  `json:"match_level" jsonschema:"High, Medium or Low"`
	MatchProbability  float64 `json:"match_probability" jsonschema:"classifier probability that both share a category"`
}

// FindSimilarInput is the argument of find_similar.
type FindSimilarInput struct {
	Target     string   `json:"target" jsonschema:"the document to match against"`
	Candidates []string `json:"candidates" jsonschema:"documents to rank"`
	TopK       *int     `json:"top_k,omitempty" jsonschema:"number of results to return, default 5"`
}

// RankedCandidate is one entry of a find_similar result.
type RankedCandidate struct {
	Index             int     `json:"index" jsonschema:"position in the candidates list"`
	Preview           string  `json:"preview"`
	FocusedSimilarity float64 `json:"focused_similarity"`
	FullSimilarity    float64 `json:"full_similarity"`
	MatchLevel        string  `json:"match_level"`
}

// FindSimilarOutput is the result of find_similar.
type FindSimilarOutput struct {
	Matches []RankedCandidate  `json:"matches"`
	Skipped []SkippedCandidate `json:"skipped,omitempty" jsonschema:"candidates left out of the ranking"`
}

// SkippedCandidate is a candidate that could not be scored.
type SkippedCandidate struct {
	Index int    `json:"index" jsonschema:"position in the candidates list"`
	Error string `json:"error"`
}

// DetectPIIInput is the argument of detect_pii.
type DetectPIIInput struct {
	Texts []string `json:"texts" jsonschema:"texts to classify"`
}

// DetectPIIOutput is the result of detect_pii.
type DetectPIIOutput struct {
	Detections []pii.Detection `json:"detections"`
}

// ModelInfoInput is the (empty) argument of model_info.
type ModelInfoInput struct{}

// ModelInfoOutput is the result of model_info.
type ModelInfoOutput struct {
	ID                 string          `json:"id"`
	CreatedAt          string          `json:"created_at" jsonschema:"RFC 3339 training time"`
	EmbeddingModel     string          `json:"embedding_model"`
	Dimensions         int             `json:"dimensions"`
	SelectedCount      int             `json:"selected_dimensions"`
	DimensionReduction string          `json:"dimension_reduction"`
	TopDimensions      []dimsel.Ranked `json:"top_dimensions"`
}

// NewServer returns an MCP server with all tools registered against svc.
func NewServer(svc Service, version string) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "dimfocus", Version: version}, nil)
	h := handlers{svc: svc}

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "compare_documents",
		Description: "Compare two documents using the dimensions that best separate the trained categories.",
	}, h.compare)
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "find_similar",
		Description: "Rank candidate documents by focused similarity to a target document.",
	}, h.findSimilar)
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "detect_pii",
		Description: "Classify each text as containing personally identifiable information or not.",
	}, h.detectPII)
	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "model_info",
		Description: "Describe the live similarity model: embedding model, dimensions and the most important ones.",
	}, h.modelInfo)

	return server
}

// Serve runs the tool server over stdin/stdout until ctx is cancelled or the
// client disconnects.
func Serve(ctx context.Context, svc Service, version string) error {
	if err := NewServer(svc, version).Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("mcptools: %w", err)
	}
	return nil
}

type handlers struct {
	svc Service
}

func (h handlers) compare(ctx context.Context, _ *mcpsdk.CallToolRequest, in CompareInput) (*mcpsdk.CallToolResult, CompareOutput, error) {
	res, err := h.svc.Compare(ctx, in.A, in.B)
	if err != nil {
		return nil, CompareOutput{}, err
	}
	return nil, CompareOutput{
		FocusedSimilarity: res.Focused,
		FullSimilarity:    res.Full,
		MatchLevel:        res.Level.String(),
		MatchProbability:  res.Probability,
	}, nil
}

func (h handlers) findSimilar(ctx context.Context, _ *mcpsdk.CallToolRequest, in FindSimilarInput) (*mcpsdk.CallToolResult, FindSimilarOutput, error) {
	topK := defaultTopK
	if in.TopK != nil {
		topK = *in.TopK
	}
	ranking, err := h.svc.FindSimilar(ctx, in.Target, in.Candidates, topK)
	if err != nil {
		return nil, FindSimilarOutput{}, err
	}
	out := FindSimilarOutput{Matches: make([]RankedCandidate, 0, len(ranking.Matches))}
	for _, m := range ranking.Matches {
		out.Matches = append(out.Matches, RankedCandidate{
			Index:             m.Index,
			Preview:           m.Preview,
			FocusedSimilarity: m.Focused,
			FullSimilarity:    m.Full,
			MatchLevel:        m.Level.String(),
		})
	}
	for _, s := range ranking.Skipped {
		out.Skipped = append(out.Skipped, SkippedCandidate{Index: s.Index, Error: s.Err.Error()})
	}
	return nil, out, nil
}

func (h handlers) detectPII(ctx context.Context, _ *mcpsdk.CallToolRequest, in DetectPIIInput) (*mcpsdk.CallToolResult, DetectPIIOutput, error) {
	dets, err := h.svc.DetectPII(ctx, in.Texts)
	if err != nil {
		return nil, DetectPIIOutput{}, err
	}
	return nil, DetectPIIOutput{Detections: dets}, nil
}

func (h handlers) modelInfo(context.Context, *mcpsdk.CallToolRequest, ModelInfoInput) (*mcpsdk.CallToolResult, ModelInfoOutput, error) {
	sum, err := h.svc.Model()
	if err != nil {
		return nil, ModelInfoOutput{}, err
	}
	return nil, ModelInfoOutput{
		ID:                 sum.ID,
		CreatedAt:          sum.CreatedAt.Format(time.RFC3339),
		EmbeddingModel:     sum.EmbeddingModel,
		Dimensions:         sum.Dimensions,
		SelectedCount:      sum.SelectedCount,
		DimensionReduction: sum.DimensionReduction,
		TopDimensions:      sum.TopDimensions,
	}, nil
}
