// Package postgres stores trained similarity models in PostgreSQL.
//
// Every run is kept as a row with its full JSON artifact plus the columns
// needed to query runs without decoding them. The importance profile is
// stored as a pgvector column so runs with similar importance profiles can
// be found by cosine distance.
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Save(ctx, trained)
//	latest, _ := store.Latest(ctx)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The importance column is untyped so models of any dimensionality share one
// table; similarity queries filter on dimensions first.
const ddlModels = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS dimfocus_models (
    id                  UUID         PRIMARY KEY,
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now(),
    embedding_model     TEXT         NOT NULL,
    dimensions          INTEGER      NOT NULL,
    coverage            DOUBLE PRECISION NOT NULL,
    selected_dimensions INTEGER[]    NOT NULL,
    importance          vector       NOT NULL,
    artifact            JSONB        NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dimfocus_models_created_at
    ON dimfocus_models (created_at DESC);

CREATE INDEX IF NOT EXISTS idx_dimfocus_models_embedding_model
    ON dimfocus_models (embedding_model, dimensions);
`

// Migrate creates the model table if it does not exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlModels); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
