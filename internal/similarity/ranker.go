package similarity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/dimfocus/internal/observe"
	"github.com/MrWong99/dimfocus/pkg/vecmath"
)

// ErrInvalidTopK is returned for a negative result limit.
var ErrInvalidTopK = errors.New("similarity: top_k must not be negative")

// Match is one ranked candidate.
type Match struct {
	// Index is the candidate's position in the input slice.
	Index   int        `json:"index"`
	Text    string     `json:"-"`
	Preview string     `json:"preview"`
	Focused float64    `json:"focused_similarity"`
	Full    float64    `json:"full_similarity"`
	Level   MatchLevel `json:"match_level"`
}

// SkippedCandidate is a candidate excluded from a ranking.
type SkippedCandidate struct {
	Index int   `json:"index"`
	Err   error `json:"-"`
}

// Ranking is the result of [Ranker.FindSimilar].
type Ranking struct {
	Matches []Match            `json:"matches"`
	Skipped []SkippedCandidate `json:"skipped,omitempty"`
}

// Ranker orders candidate texts by focused similarity to a target.
type Ranker struct {
	scorer *Scorer
}

// NewRanker returns a Ranker scoring through s.
func NewRanker(s *Scorer) *Ranker {
	return &Ranker{scorer: s}
}

// FindSimilar ranks candidates by focused similarity to target, highest
// first, and keeps the top topK. Ties keep input order. The target and all
// candidates are embedded through one cache, so duplicates cost nothing.
//
// A candidate whose embedding has zero norm is left out and listed in
// Ranking.Skipped; ranking continues with the rest. Every other error,
// including a degenerate target, aborts the call.
func (r *Ranker) FindSimilar(ctx context.Context, target string, candidates []string, topK int) (_ *Ranking, err error) {
	s := r.scorer
	ctx, span := observe.StartSpan(ctx, "similarity.FindSimilar")
	defer observe.EndSpan(span, &err)
	defer s.observe(ctx, "similar", time.Now())

	if topK < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTopK, topK)
	}
	m, err := s.models.Current()
	if err != nil {
		return nil, err
	}
	if topK == 0 || len(candidates) == 0 {
		return &Ranking{Matches: []Match{}}, nil
	}

	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, target)
	texts = append(texts, candidates...)
	vecs, err := s.newCache().Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("similarity: embed: %w", err)
	}
	tv := vecs[0]
	if vecmath.Norm(tv) == 0 {
		return nil, fmt.Errorf("similarity: target: %w", vecmath.ErrDegenerateVector)
	}
	// A target that is zero on every selected dimension has no focused score
	// against any candidate.
	pt, err := m.Project(tv)
	if err != nil {
		return nil, fmt.Errorf("similarity: target: %w", err)
	}
	if vecmath.Norm(pt) == 0 {
		return nil, fmt.Errorf("similarity: target: focused projection: %w", vecmath.ErrDegenerateVector)
	}

	out := &Ranking{Matches: make([]Match, 0, len(candidates))}
	for i, cand := range candidates {
		res, err := Score(m, tv, vecs[i+1], s.thresholds)
		if errors.Is(err, vecmath.ErrDegenerateVector) {
			out.Skipped = append(out.Skipped, SkippedCandidate{Index: i, Err: err})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("similarity: candidate %d: %w", i, err)
		}
		out.Matches = append(out.Matches, Match{
			Index:   i,
			Text:    cand,
			Preview: Preview(cand, s.previewChars),
			Focused: res.Focused,
			Full:    res.Full,
			Level:   res.Level,
		})
	}

	if n := len(out.Skipped); n > 0 {
		s.metrics.RankSkipped.Add(ctx, int64(n))
		observe.Logger(ctx).Warn("degenerate candidates skipped", "skipped", n, "candidates", len(candidates))
	}

	slices.SortStableFunc(out.Matches, func(a, b Match) int {
		switch {
		case a.Focused > b.Focused:
			return -1
		case a.Focused < b.Focused:
			return 1
		default:
			return 0
		}
	})
	if topK < len(out.Matches) {
		out.Matches = out.Matches[:topK]
	}
	return out, nil
}

// Preview shortens text to at most n characters, appending "..." when it was
// cut.
func Preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + "..."
}
