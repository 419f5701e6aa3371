// Package corpus loads training data from YAML files.
//
// A category corpus is a mapping from category name to a list of documents.
// Category order in the file is preserved, which keeps pair generation and
// therefore training reproducible:
//
//	engineering:
//	  - "Software engineer with 5 years experience..."
//	marketing:
//	  - "Digital marketing manager..."
//
// A PII dataset is a top-level list of labeled texts, each entry a mapping
// with a text key and a boolean pii key.
package corpus

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/dimfocus/internal/dataset"
	"github.com/MrWong99/dimfocus/internal/pii"
)

// LoadCategories reads a category corpus from path.
func LoadCategories(path string) ([]dataset.Category, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: read %s: %w", path, err)
	}
	cats, err := ParseCategories(data)
	if err != nil {
		return nil, fmt.Errorf("corpus: %s: %w", path, err)
	}
	return cats, nil
}

// ParseCategories decodes a category corpus. Duplicate category names and
// non-string documents are rejected.
func ParseCategories(data []byte) ([]dataset.Category, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if root.Kind == 0 {
		return nil, errors.New("empty corpus")
	}
	doc := &root
	if doc.Kind == yaml.DocumentNode {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: corpus must be a mapping of category to documents", doc.Line)
	}

	seen := make(map[string]struct{}, len(doc.Content)/2)
	cats := make([]dataset.Category, 0, len(doc.Content)/2)
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key, val := doc.Content[i], doc.Content[i+1]
		name := key.Value
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("line %d: duplicate category %q", key.Line, name)
		}
		seen[name] = struct{}{}

		var docs []string
		if err := val.Decode(&docs); err != nil {
			return nil, fmt.Errorf("category %q (line %d): %w", name, val.Line, err)
		}
		cats = append(cats, dataset.Category{Name: name, Docs: docs})
	}
	return cats, nil
}

// LoadPII reads a PII dataset from path.
func LoadPII(path string) ([]pii.Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: open %s: %w", path, err)
	}
	defer f.Close()
	ex, err := DecodePII(f)
	if err != nil {
		return nil, fmt.Errorf("corpus: %s: %w", path, err)
	}
	return ex, nil
}

// DecodePII decodes a PII dataset, rejecting unknown fields and empty texts.
func DecodePII(r io.Reader) ([]pii.Example, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var out []pii.Example
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty dataset")
		}
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	for i, ex := range out {
		if strings.TrimSpace(ex.Text) == "" {
			return nil, fmt.Errorf("example %d: empty text", i)
		}
	}
	return out, nil
}
