package model

import (
	"time"

	"github.com/MrWong99/dimfocus/internal/dimsel"
)

// Summary describes a trained model for display and the HTTP API.
type Summary struct {
	ID                 string          `json:"id"`
	CreatedAt          time.Time       `json:"created_at"`
	EmbeddingModel     string          `json:"embedding_model"`
	Dimensions         int             `json:"dimensions"`
	SelectedCount      int             `json:"selected_dimensions"`
	DimensionReduction string          `json:"dimension_reduction"`
	Coverage           float64         `json:"coverage"`
	TopDimensions      []dimsel.Ranked `json:"top_dimensions"`
}

// Summarize returns m's summary with its top n dimensions by importance.
func (m *TrainedModel) Summarize(n int) Summary {
	return Summary{
		ID:                 m.id.String(),
		CreatedAt:          m.createdAt,
		EmbeddingModel:     m.embeddingModel,
		Dimensions:         m.Dimensions(),
		SelectedCount:      len(m.selected),
		DimensionReduction: dimsel.Reduction(m.Dimensions(), len(m.selected)),
		Coverage:           m.coverage,
		TopDimensions:      dimsel.Top(m.importances, n),
	}
}
