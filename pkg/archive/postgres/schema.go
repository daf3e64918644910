// Package postgres provides a PostgreSQL-backed [archive.Store].
//
// Embeddings are kept in a pgvector column with an HNSW index. The pgvector
// extension must be available in the target database; [Migrate] installs it
// via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Save(ctx, archive.Session{ID: id, Name: "tomb", Summary: s, Embedding: vec})
//	matches, _ := store.Search(ctx, queryVec, 3)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlSessions returns the DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlSessions(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS archived_sessions (
    id                  TEXT         PRIMARY KEY,
    name                TEXT         NOT NULL,
    summary             TEXT         NOT NULL DEFAULT '',
    transcript          TEXT         NOT NULL DEFAULT '',
    transcription_file  TEXT         NOT NULL DEFAULT '',
    embedding           vector(%d),
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_archived_sessions_name
    ON archived_sessions (name);

CREATE INDEX IF NOT EXISTS idx_archived_sessions_embedding
    ON archived_sessions USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates the archive table and indexes. It is idempotent and safe to
// call on every application start.
//
// embeddingDimensions must match the embedding model (e.g. 1536 for OpenAI
// text-embedding-3-small). Changing it after the first migration requires a
// manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	if _, err := pool.Exec(ctx, ddlSessions(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
