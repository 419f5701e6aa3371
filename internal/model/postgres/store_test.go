package postgres_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/dimfocus/internal/gbt"
	"github.com/MrWong99/dimfocus/internal/model"
	"github.com/MrWong99/dimfocus/internal/model/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if DIMFOCUS_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("DIMFOCUS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DIMFOCUS_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS dimfocus_models CASCADE"); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	pool.Close()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func trained(t *testing.T, seed uint64, createdAt time.Time) *model.TrainedModel {
	t.Helper()
	r := rand.New(rand.NewPCG(seed, seed))
	X := make([][]float64, 40)
	y := make([]int, 40)
	for i := range X {
		X[i] = []float64{r.Float64(), r.Float64(), r.Float64()}
		if X[i][int(seed%3)] < 0.5 {
			y[i] = 1
		}
	}
	p := gbt.DefaultParams()
	p.NEstimators = 5
	clf, err := gbt.New(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := clf.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	m, err := model.New(model.Spec{
		CreatedAt:      createdAt,
		EmbeddingModel: "mock-embed",
		Coverage:       0.9,
		Selected:       []int{int(seed % 3)},
		Importances:    clf.FeatureImportances(),
		Classifier:     clf,
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestStore_EmptyLatest(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Latest(context.Background()); !errors.Is(err, model.ErrModelNotLoaded) {
		t.Errorf("Latest on empty table = %v, want ErrModelNotLoaded", err)
	}
}

func TestStore_SaveLatestGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	older := trained(t, 1, base.Add(-time.Hour))
	newer := trained(t, 2, base)
	for _, m := range []*model.TrainedModel{older, newer} {
		if err := store.Save(ctx, m); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	latest, err := store.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ID() != newer.ID() {
		t.Errorf("Latest = %s, want %s", latest.ID(), newer.ID())
	}

	got, err := store.Get(ctx, older.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !slices.Equal(got.SelectedDimensions(), older.SelectedDimensions()) {
		t.Errorf("selection = %v, want %v", got.SelectedDimensions(), older.SelectedDimensions())
	}

	if _, err := store.Get(ctx, uuid.New()); !errors.Is(err, model.ErrModelNotLoaded) {
		t.Errorf("Get unknown id = %v, want ErrModelNotLoaded", err)
	}

	// Saving again is an upsert.
	if err := store.Save(ctx, newer); err != nil {
		t.Fatalf("re-Save: %v", err)
	}
}

func TestStore_SimilarRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var saved []*model.TrainedModel
	for seed := range uint64(3) {
		m := trained(t, seed, now.Add(time.Duration(seed)*time.Second))
		if err := store.Save(ctx, m); err != nil {
			t.Fatalf("Save: %v", err)
		}
		saved = append(saved, m)
	}

	runs, err := store.SimilarRuns(ctx, saved[1].Importances(), 2)
	if err != nil {
		t.Fatalf("SimilarRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != saved[1].ID() {
		t.Errorf("closest run = %s, want %s", runs[0].ID, saved[1].ID())
	}
	if runs[0].Distance > 1e-6 {
		t.Errorf("distance to itself = %v", runs[0].Distance)
	}

	none, err := store.SimilarRuns(ctx, []float64{1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("runs of other dimensionality returned: %+v", none)
	}
}
