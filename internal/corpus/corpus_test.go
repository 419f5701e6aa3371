package corpus_test

import (
	"errors"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/dimfocus/internal/corpus"
	"github.com/MrWong99/dimfocus/internal/pii"
)

func TestParseCategories_PreservesOrder(t *testing.T) {
	t.Parallel()
	data := []byte(`
zeta:
  - "z1"
  - "z2"
alpha:
  - "a1"
middle: []
`)
	cats, err := corpus.ParseCategories(data)
	if err != nil {
		t.Fatalf("ParseCategories: %v", err)
	}
	var names []string
	for _, c := range cats {
		names = append(names, c.Name)
	}
	if !slices.Equal(names, []string{"zeta", "alpha", "middle"}) {
		t.Errorf("order = %v", names)
	}
	if !slices.Equal(cats[0].Docs, []string{"z1", "z2"}) {
		t.Errorf("zeta docs = %v", cats[0].Docs)
	}
	if len(cats[2].Docs) != 0 {
		t.Errorf("middle docs = %v, want none", cats[2].Docs)
	}
}

func TestParseCategories_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data string
		want string
	}{
		{"empty", "", "empty corpus"},
		{"list root", "- a\n- b\n", "must be a mapping"},
		{"duplicate", "a: [x]\na: [y]\n", "duplicate category"},
		{"nested docs", "a:\n  - {k: v}\n", `category "a"`},
		{"syntax", "a: [x\n", "parse YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := corpus.ParseCategories([]byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestDecodePII(t *testing.T) {
	t.Parallel()
	got, err := corpus.DecodePII(strings.NewReader(`
- text: "email me at a@b.c"
  pii: true
- text: "weather is fine"
  pii: false
`))
	if err != nil {
		t.Fatalf("DecodePII: %v", err)
	}
	want := []pii.Example{{Text: "email me at a@b.c", PII: true}, {Text: "weather is fine"}}
	if !slices.Equal(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}

	if _, err := corpus.DecodePII(strings.NewReader("- text: x\n  label: 1\n")); err == nil {
		t.Error("expected error for unknown field")
	}
	if _, err := corpus.DecodePII(strings.NewReader("- text: '  '\n  pii: true\n")); err == nil {
		t.Error("expected error for blank text")
	}
	if _, err := corpus.DecodePII(strings.NewReader("")); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	cats, err := corpus.ParseCategories([]byte("A: [x, y, z]\nB: [p, q]\n"))
	if err != nil {
		t.Fatal(err)
	}
	s := corpus.CategoryStats(cats)
	if s.Documents != 5 || s.MatchPairs != 4 || s.NoMatchPairs != 6 {
		t.Errorf("stats = %+v", s)
	}
	if s.Categories[1] != (corpus.CategoryCount{Name: "B", Documents: 2}) {
		t.Errorf("B = %+v", s.Categories[1])
	}

	ps := corpus.PIIDatasetStats([]pii.Example{{PII: true}, {PII: true}, {}, {}, {}, {}})
	if ps.Total != 6 || ps.PII != 2 || ps.Clean != 4 || ps.BalanceRatio != 0.5 {
		t.Errorf("pii stats = %+v", ps)
	}
}

func TestLoad_BundledData(t *testing.T) {
	t.Parallel()
	root := filepath.Join("..", "..", "data")

	cats, err := corpus.LoadCategories(filepath.Join(root, "resumes.yaml"))
	if err != nil {
		t.Fatalf("LoadCategories: %v", err)
	}
	if len(cats) < 2 || cats[0].Name != "engineering" {
		t.Errorf("unexpected categories: %d, first %q", len(cats), cats[0].Name)
	}
	for _, c := range cats {
		if len(c.Docs) < 2 {
			t.Errorf("category %q has %d documents", c.Name, len(c.Docs))
		}
	}

	ex, err := corpus.LoadPII(filepath.Join(root, "pii.yaml"))
	if err != nil {
		t.Fatalf("LoadPII: %v", err)
	}
	ps := corpus.PIIDatasetStats(ex)
	if ps.PII == 0 || ps.Clean == 0 {
		t.Errorf("bundled PII data is single-class: %+v", ps)
	}
}

func TestLoadCategories_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := corpus.LoadCategories(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error = %v, want fs.ErrNotExist", err)
	}
}
