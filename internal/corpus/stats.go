package corpus

import (
	"github.com/MrWong99/dimfocus/internal/dataset"
	"github.com/MrWong99/dimfocus/internal/pii"
)

// CategoryCount is the document count of one category.
type CategoryCount struct {
	Name      string `json:"name"`
	Documents int    `json:"documents"`
}

// Stats summarises a category corpus.
type Stats struct {
	Documents    int             `json:"total_documents"`
	Categories   []CategoryCount `json:"categories"`
	MatchPairs   int             `json:"match_pairs"`
	NoMatchPairs int             `json:"no_match_pairs"`
}

// CategoryStats counts documents and the pairs training would generate.
func CategoryStats(cats []dataset.Category) Stats {
	s := Stats{
		Categories:   make([]CategoryCount, len(cats)),
		MatchPairs:   dataset.MatchPairCount(cats),
		NoMatchPairs: dataset.NoMatchPairCount(cats),
	}
	for i, c := range cats {
		s.Categories[i] = CategoryCount{Name: c.Name, Documents: len(c.Docs)}
		s.Documents += len(c.Docs)
	}
	return s
}

// PIIStats summarises a PII dataset.
type PIIStats struct {
	Total int `json:"total_samples"`
	PII   int `json:"pii_samples"`
	Clean int `json:"no_pii_samples"`
	// BalanceRatio is PII / Clean, or 0 when there are no clean samples.
	BalanceRatio float64 `json:"balance_ratio"`
}

// PIIDatasetStats counts labeled examples.
func PIIDatasetStats(ex []pii.Example) PIIStats {
	s := PIIStats{Total: len(ex)}
	for _, e := range ex {
		if e.PII {
			s.PII++
		}
	}
	s.Clean = s.Total - s.PII
	if s.Clean > 0 {
		s.BalanceRatio = float64(s.PII) / float64(s.Clean)
	}
	return s
}
