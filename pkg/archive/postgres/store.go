package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/scryer/pkg/archive"
)

// Compile-time interface check.
var _ archive.Store = (*Store)(nil)

// Store is an [archive.Store] backed by a single [pgxpool.Pool].
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the PostgreSQL database at dsn, registers pgvector
// types on every connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Save implements [archive.Store].
func (s *Store) Save(ctx context.Context, sess archive.Session) error {
	const q = `
		INSERT INTO archived_sessions
		    (id, name, summary, transcript, transcription_file, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    name               = EXCLUDED.name,
		    summary            = EXCLUDED.summary,
		    transcript         = EXCLUDED.transcript,
		    transcription_file = EXCLUDED.transcription_file,
		    embedding          = EXCLUDED.embedding,
		    created_at         = EXCLUDED.created_at`

	var vec any
	if len(sess.Embedding) > 0 {
		vec = pgvector.NewVector(sess.Embedding)
	}
	_, err := s.pool.Exec(ctx, q,
		sess.ID,
		sess.Name,
		sess.Summary,
		sess.Transcript,
		sess.TranscriptionFile,
		vec,
		sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save %q: %w", sess.Name, err)
	}
	return nil
}

// Search implements [archive.Store]. Sessions archived without an embedding
// are never returned.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int) ([]archive.Match, error) {
	if topK <= 0 {
		return []archive.Match{}, nil
	}
	const q = `
		SELECT id, name, summary, transcript, transcription_file, embedding, created_at,
		       embedding <=> $1 AS distance
		FROM   archived_sessions
		WHERE  embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Match, error) {
		var (
			m   archive.Match
			vec pgvector.Vector
		)
		if err := row.Scan(
			&m.Session.ID,
			&m.Session.Name,
			&m.Session.Summary,
			&m.Session.Transcript,
			&m.Session.TranscriptionFile,
			&vec,
			&m.Session.CreatedAt,
			&m.Distance,
		); err != nil {
			return archive.Match{}, err
		}
		m.Session.Embedding = vec.Slice()
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if matches == nil {
		matches = []archive.Match{}
	}
	return matches, nil
}

// Ping implements [archive.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}
