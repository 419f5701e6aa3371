package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/dimfocus/internal/model"
)

var _ model.Store = (*Store)(nil)

// Store is a [model.Store] backed by PostgreSQL. It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// RunSummary describes a stored run without its artifact.
type RunSummary struct {
	ID             uuid.UUID `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	EmbeddingModel string    `json:"embedding_model"`
	Dimensions     int       `json:"dimensions"`
	SelectedCount  int       `json:"selected_count"`
	// Distance is the cosine distance to the query profile.
	Distance float64 `json:"distance"`
}

// NewStore connects to dsn, registers pgvector types on every connection and
// runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("model store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("model store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("model store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("model store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Save inserts m, replacing any row with the same id.
func (s *Store) Save(ctx context.Context, m *model.TrainedModel) error {
	const q = `
		INSERT INTO dimfocus_models
		    (id, created_at, embedding_model, dimensions, coverage, selected_dimensions, importance, artifact)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    created_at          = EXCLUDED.created_at,
		    embedding_model     = EXCLUDED.embedding_model,
		    dimensions          = EXCLUDED.dimensions,
		    coverage            = EXCLUDED.coverage,
		    selected_dimensions = EXCLUDED.selected_dimensions,
		    importance          = EXCLUDED.importance,
		    artifact            = EXCLUDED.artifact`

	artifact, err := model.Marshal(m)
	if err != nil {
		return err
	}
	selected := m.SelectedDimensions()
	sel32 := make([]int32, len(selected))
	for i, d := range selected {
		sel32[i] = int32(d)
	}

	_, err = s.pool.Exec(ctx, q,
		m.ID(),
		m.CreatedAt(),
		m.EmbeddingModel(),
		m.Dimensions(),
		m.Coverage(),
		sel32,
		toVector(m.Importances()),
		artifact,
	)
	if err != nil {
		return fmt.Errorf("model store: save %s: %w", m.ID(), err)
	}
	return nil
}

// Latest returns the most recently created model.
func (s *Store) Latest(ctx context.Context) (*model.TrainedModel, error) {
	return s.one(ctx, `SELECT artifact FROM dimfocus_models ORDER BY created_at DESC LIMIT 1`)
}

// Get returns the model with the given id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*model.TrainedModel, error) {
	return s.one(ctx, `SELECT artifact FROM dimfocus_models WHERE id = $1`, id)
}

func (s *Store) one(ctx context.Context, q string, args ...any) (*model.TrainedModel, error) {
	var artifact []byte
	err := s.pool.QueryRow(ctx, q, args...).Scan(&artifact)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no stored model", model.ErrModelNotLoaded)
	}
	if err != nil {
		return nil, fmt.Errorf("model store: query: %w", err)
	}
	m, err := model.Unmarshal(artifact)
	if err != nil {
		return nil, fmt.Errorf("model store: %w", err)
	}
	return m, nil
}

// SimilarRuns returns up to k stored runs of the same dimensionality whose
// importance profiles are closest to importances by cosine distance.
func (s *Store) SimilarRuns(ctx context.Context, importances []float64, k int) ([]RunSummary, error) {
	const q = `
		SELECT id, created_at, embedding_model, dimensions,
		       cardinality(selected_dimensions),
		       importance <=> $1 AS distance
		FROM   dimfocus_models
		WHERE  dimensions = $2
		ORDER  BY distance
		LIMIT  $3`

	if k <= 0 {
		return []RunSummary{}, nil
	}
	rows, err := s.pool.Query(ctx, q, toVector(importances), len(importances), k)
	if err != nil {
		return nil, fmt.Errorf("model store: similar runs: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RunSummary, error) {
		var r RunSummary
		err := row.Scan(&r.ID, &r.CreatedAt, &r.EmbeddingModel, &r.Dimensions, &r.SelectedCount, &r.Distance)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("model store: scan rows: %w", err)
	}
	if out == nil {
		out = []RunSummary{}
	}
	return out, nil
}

func toVector(v []float64) pgvector.Vector {
	f := make([]float32, len(v))
	for i, x := range v {
		f[i] = float32(x)
	}
	return pgvector.NewVector(f)
}
