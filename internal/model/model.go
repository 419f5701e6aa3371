// Package model defines the trained similarity artifact and everything needed
// to persist it, load it and swap it atomically while inference is running.
//
// A [TrainedModel] is immutable once built. Retraining or reloading produces a
// new value that replaces the old one wholesale through a [Holder]; inference
// code never observes a half-updated model.
package model

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/dimfocus/internal/gbt"
	"github.com/MrWong99/dimfocus/pkg/vecmath"
)

// ErrModelNotLoaded is returned when inference is attempted before a trained
// model is available.
var ErrModelNotLoaded = errors.New("model: no trained model loaded")

// TrainedModel is the read-only result of one training run: the fitted
// classifier over absolute-difference features and the dimension selection
// derived from its importances.
type TrainedModel struct {
	id             uuid.UUID
	createdAt      time.Time
	embeddingModel string
	coverage       float64
	selected       []int
	importances    []float64
	classifier     *gbt.Classifier
}

// Spec holds the parts a TrainedModel is built from.
type Spec struct {
	// ID identifies the run. A zero ID gets a fresh random UUID.
	ID             uuid.UUID
	CreatedAt      time.Time
	EmbeddingModel string
	Coverage       float64
	Selected       []int
	Importances    []float64
	Classifier     *gbt.Classifier
}

// New validates s and returns an immutable TrainedModel. Slices are copied.
//
// The selection must be a duplicate-free subset of [0, D) where D is the
// classifier's feature count, and the importance profile must have length D.
func New(s Spec) (*TrainedModel, error) {
	if s.Classifier == nil || !s.Classifier.Fitted() {
		return nil, fmt.Errorf("model: %w", gbt.ErrNotFitted)
	}
	d := s.Classifier.NFeatures
	if len(s.Importances) != d {
		return nil, fmt.Errorf("model: %w: %d importances for %d dimensions",
			vecmath.ErrDimensionMismatch, len(s.Importances), d)
	}
	seen := make(map[int]struct{}, len(s.Selected))
	for _, idx := range s.Selected {
		if idx < 0 || idx >= d {
			return nil, fmt.Errorf("model: %w: selected dimension %d outside [0,%d)",
				vecmath.ErrDimensionMismatch, idx, d)
		}
		if _, dup := seen[idx]; dup {
			return nil, fmt.Errorf("model: selected dimension %d listed twice", idx)
		}
		seen[idx] = struct{}{}
	}

	id := s.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return &TrainedModel{
		id:             id,
		createdAt:      created,
		embeddingModel: s.EmbeddingModel,
		coverage:       s.Coverage,
		selected:       slices.Clone(s.Selected),
		importances:    slices.Clone(s.Importances),
		classifier:     s.Classifier,
	}, nil
}

// ID returns the run identifier.
func (m *TrainedModel) ID() uuid.UUID { return m.id }

// CreatedAt returns when the model was trained.
func (m *TrainedModel) CreatedAt() time.Time { return m.createdAt }

// EmbeddingModel returns the provider model the classifier was trained on.
func (m *TrainedModel) EmbeddingModel() string { return m.embeddingModel }

// Coverage returns the importance coverage the selection was made with.
func (m *TrainedModel) Coverage() float64 { return m.coverage }

// Dimensions returns the embedding length the model was trained on.
func (m *TrainedModel) Dimensions() int { return m.classifier.NFeatures }

// SelectedCount returns the number of selected dimensions.
func (m *TrainedModel) SelectedCount() int { return len(m.selected) }

// SelectedDimensions returns a copy of the selection in ranked order.
func (m *TrainedModel) SelectedDimensions() []int { return slices.Clone(m.selected) }

// Importances returns a copy of the per-dimension importance profile.
func (m *TrainedModel) Importances() []float64 { return slices.Clone(m.importances) }

// Classifier returns the fitted classifier. It must be treated as read-only.
func (m *TrainedModel) Classifier() *gbt.Classifier { return m.classifier }

// Project restricts v to the selected dimensions. With an empty selection it
// returns v unchanged. v must have the model's dimensionality.
func (m *TrainedModel) Project(v []float64) ([]float64, error) {
	if len(v) != m.Dimensions() {
		return nil, fmt.Errorf("model: %w: vector has %d dimensions, model was trained on %d",
			vecmath.ErrDimensionMismatch, len(v), m.Dimensions())
	}
	if len(m.selected) == 0 {
		return v, nil
	}
	return vecmath.Project(v, m.selected)
}

// MatchProbability returns the classifier's probability that two embeddings
// belong to the same category.
func (m *TrainedModel) MatchProbability(a, b []float64) (float64, error) {
	x, err := vecmath.AbsDiff(a, b)
	if err != nil {
		return 0, err
	}
	return m.classifier.PredictProba(x)
}
