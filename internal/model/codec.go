package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/dimfocus/internal/gbt"
)

const (
	// FormatVersion is the artifact schema version written by Marshal.
	FormatVersion = 1

	// ClassifierKindGBT tags a gradient-boosted tree classifier blob.
	ClassifierKindGBT = "gbt"
)

// ErrUnsupportedFormat is returned for artifacts with an unknown version or
// classifier kind.
var ErrUnsupportedFormat = errors.New("model: unsupported artifact format")

// ClassifierBlob is the opaque, tagged classifier part of an artifact.
type ClassifierBlob struct {
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params"`
}

// Envelope is the serialised form of a TrainedModel.
type Envelope struct {
	FormatVersion      int            `json:"format_version"`
	ID                 string         `json:"id"`
	CreatedAt          time.Time      `json:"created_at"`
	EmbeddingModel     string         `json:"embedding_model"`
	Dimensions         int            `json:"dimensions"`
	Coverage           float64        `json:"coverage"`
	SelectedDimensions []int          `json:"selected_dimensions"`
	Importances        []float64      `json:"importances"`
	Classifier         ClassifierBlob `json:"classifier"`
}

// Envelope returns the serialisable form of m.
func (m *TrainedModel) Envelope() (*Envelope, error) {
	params, err := json.Marshal(m.classifier)
	if err != nil {
		return nil, fmt.Errorf("model: encode classifier: %w", err)
	}
	return &Envelope{
		FormatVersion:      FormatVersion,
		ID:                 m.id.String(),
		CreatedAt:          m.createdAt,
		EmbeddingModel:     m.embeddingModel,
		Dimensions:         m.Dimensions(),
		Coverage:           m.coverage,
		SelectedDimensions: m.SelectedDimensions(),
		Importances:        m.Importances(),
		Classifier:         ClassifierBlob{Kind: ClassifierKindGBT, Params: params},
	}, nil
}

// Marshal encodes m as an indented JSON artifact.
func Marshal(m *TrainedModel) ([]byte, error) {
	env, err := m.Envelope()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(env, "", "  ")
}

// Unmarshal decodes and validates a JSON artifact.
func Unmarshal(data []byte) (*TrainedModel, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("model: decode artifact: %w", err)
	}
	return FromEnvelope(&env)
}

// FromEnvelope validates env and rebuilds the TrainedModel it describes.
func FromEnvelope(env *Envelope) (*TrainedModel, error) {
	if env.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: format_version %d", ErrUnsupportedFormat, env.FormatVersion)
	}
	if env.Classifier.Kind != ClassifierKindGBT {
		return nil, fmt.Errorf("%w: classifier kind %q", ErrUnsupportedFormat, env.Classifier.Kind)
	}
	id, err := uuid.Parse(env.ID)
	if err != nil {
		return nil, fmt.Errorf("model: artifact id: %w", err)
	}

	var clf gbt.Classifier
	if err := json.Unmarshal(env.Classifier.Params, &clf); err != nil {
		return nil, fmt.Errorf("model: decode classifier: %w", err)
	}
	if clf.NFeatures != env.Dimensions {
		return nil, fmt.Errorf("model: classifier has %d features, artifact declares %d dimensions",
			clf.NFeatures, env.Dimensions)
	}

	selected := env.SelectedDimensions
	if selected == nil {
		selected = []int{}
	}
	return New(Spec{
		ID:             id,
		CreatedAt:      env.CreatedAt,
		EmbeddingModel: env.EmbeddingModel,
		Coverage:       env.Coverage,
		Selected:       selected,
		Importances:    env.Importances,
		Classifier:     &clf,
	})
}
