package pii

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/dimfocus/internal/gbt"
	"github.com/MrWong99/dimfocus/internal/model"
	"github.com/MrWong99/dimfocus/pkg/vecmath"
)

// Model is a trained PII classifier: a scaler followed by a boosted tree
// ensemble over raw embeddings. It is immutable once created.
type Model struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	EmbeddingModel string
	Scaler         *Scaler
	Classifier     *gbt.Classifier
}

// Dimensions returns the embedding length the model expects.
func (m *Model) Dimensions() int { return m.Classifier.NFeatures }

// ProbPII returns the probability that embedding v contains PII.
func (m *Model) ProbPII(v []float64) (float64, error) {
	x, err := m.Scaler.Transform(v)
	if err != nil {
		return 0, err
	}
	return m.Classifier.PredictProba(x)
}

func (m *Model) validate() error {
	if m.Classifier == nil || !m.Classifier.Fitted() {
		return fmt.Errorf("pii: %w", gbt.ErrNotFitted)
	}
	if m.Scaler == nil || len(m.Scaler.Scale) != m.Scaler.Dimensions() {
		return errors.New("pii: scaler is missing or malformed")
	}
	if m.Scaler.Dimensions() != m.Classifier.NFeatures {
		return fmt.Errorf("pii: %w: scaler has %d dimensions, classifier %d",
			vecmath.ErrDimensionMismatch, m.Scaler.Dimensions(), m.Classifier.NFeatures)
	}
	return nil
}

type envelope struct {
	FormatVersion  int                  `json:"format_version"`
	ID             string               `json:"id"`
	CreatedAt      time.Time            `json:"created_at"`
	EmbeddingModel string               `json:"embedding_model"`
	Dimensions     int                  `json:"dimensions"`
	Scaler         *Scaler              `json:"scaler"`
	Classifier     model.ClassifierBlob `json:"classifier"`
}

// Marshal encodes m as a versioned JSON artifact.
func Marshal(m *Model) ([]byte, error) {
	params, err := json.Marshal(m.Classifier)
	if err != nil {
		return nil, fmt.Errorf("pii: encode classifier: %w", err)
	}
	return json.MarshalIndent(envelope{
		FormatVersion:  model.FormatVersion,
		ID:             m.ID.String(),
		CreatedAt:      m.CreatedAt,
		EmbeddingModel: m.EmbeddingModel,
		Dimensions:     m.Dimensions(),
		Scaler:         m.Scaler,
		Classifier:     model.ClassifierBlob{Kind: model.ClassifierKindGBT, Params: params},
	}, "", "  ")
}

// Unmarshal decodes and validates a JSON artifact.
func Unmarshal(data []byte) (*Model, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("pii: decode artifact: %w", err)
	}
	if env.FormatVersion != model.FormatVersion {
		return nil, fmt.Errorf("%w: format_version %d", model.ErrUnsupportedFormat, env.FormatVersion)
	}
	if env.Classifier.Kind != model.ClassifierKindGBT {
		return nil, fmt.Errorf("%w: classifier kind %q", model.ErrUnsupportedFormat, env.Classifier.Kind)
	}
	id, err := uuid.Parse(env.ID)
	if err != nil {
		return nil, fmt.Errorf("pii: artifact id: %w", err)
	}
	var clf gbt.Classifier
	if err := json.Unmarshal(env.Classifier.Params, &clf); err != nil {
		return nil, fmt.Errorf("pii: decode classifier: %w", err)
	}
	m := &Model{
		ID:             id,
		CreatedAt:      env.CreatedAt,
		EmbeddingModel: env.EmbeddingModel,
		Scaler:         env.Scaler,
		Classifier:     &clf,
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	if m.Dimensions() != env.Dimensions {
		return nil, fmt.Errorf("pii: classifier has %d features, artifact declares %d", m.Dimensions(), env.Dimensions)
	}
	return m, nil
}

// SaveFile writes m atomically to path.
func SaveFile(path string, m *Model) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	return model.WriteFileAtomic(path, data)
}

// LoadFile reads the artifact at path. A missing file wraps
// [model.ErrModelNotLoaded].
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s does not exist", model.ErrModelNotLoaded, path)
	}
	if err != nil {
		return nil, fmt.Errorf("pii: read %s: %w", path, err)
	}
	m, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
