// Package export writes training features to Parquet so runs can be
// inspected or reproduced with external tooling.
package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/MrWong99/dimfocus/internal/dataset"
	"github.com/MrWong99/dimfocus/internal/features"
	"github.com/MrWong99/dimfocus/pkg/vecmath"
)

// FeatureRow is the Parquet schema of one training pair.
type FeatureRow struct {
	Index    int64     `parquet:"index"`
	A        string    `parquet:"a"`
	B        string    `parquet:"b"`
	Label    int32     `parquet:"label"`
	Features []float64 `parquet:"features"`
}

// FeatureWriter writes the feature matrix of a training run to a Parquet file.
type FeatureWriter struct {
	Path string
}

// NewFeatureWriter returns a FeatureWriter for path.
func NewFeatureWriter(path string) *FeatureWriter {
	return &FeatureWriter{Path: path}
}

// WriteFeatures writes one row per pair. pairs and m must be aligned.
func (w *FeatureWriter) WriteFeatures(pairs []dataset.Pair, m *features.Matrix) error {
	if len(pairs) != len(m.X) || len(m.X) != len(m.Y) {
		return fmt.Errorf("export: %w: %d pairs, %d rows, %d labels",
			vecmath.ErrDimensionMismatch, len(pairs), len(m.X), len(m.Y))
	}
	rows := make([]FeatureRow, len(pairs))
	for i, p := range pairs {
		rows[i] = FeatureRow{
			Index:    int64(i),
			A:        p.A,
			B:        p.B,
			Label:    int32(m.Y[i]),
			Features: m.X[i],
		}
	}
	if dir := filepath.Dir(w.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("export: create %s: %w", dir, err)
		}
	}
	if err := parquet.WriteFile(w.Path, rows); err != nil {
		return fmt.Errorf("export: write %s: %w", w.Path, err)
	}
	return nil
}

// ReadFeatures reads back a file written by [FeatureWriter].
func ReadFeatures(path string) ([]FeatureRow, error) {
	rows, err := parquet.ReadFile[FeatureRow](path)
	if err != nil {
		return nil, fmt.Errorf("export: read %s: %w", path, err)
	}
	return rows, nil
}
