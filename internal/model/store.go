package model

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Store persists trained models.
type Store interface {
	// Save persists m.
	Save(ctx context.Context, m *TrainedModel) error
	// Latest returns the most recently saved model, or an error wrapping
	// [ErrModelNotLoaded] when there is none.
	Latest(ctx context.Context) (*TrainedModel, error)
}

// FileStore keeps a single artifact as a JSON file.
type FileStore struct {
	Path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a FileStore writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Save writes m atomically: the artifact goes to a temporary file in the same
// directory which is then renamed over the target.
func (s *FileStore) Save(_ context.Context, m *TrainedModel) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	return WriteFileAtomic(s.Path, data)
}

// Latest reads and validates the artifact file.
func (s *FileStore) Latest(_ context.Context) (*TrainedModel, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s does not exist", ErrModelNotLoaded, s.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("model: read %s: %w", s.Path, err)
	}
	m, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return m, nil
}

// WriteFileAtomic writes data to path through a temporary file and rename,
// creating parent directories as needed.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("model: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("model: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("model: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("model: close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("model: rename to %s: %w", path, err)
	}
	return nil
}
