// Package postgres implements the server storage backend on PostgreSQL,
// with a tsvector column for lexical search and the pgvector extension for
// embeddings.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/sifts/internal/backend"
	pq "github.com/lib/pq" // PostgreSQL driver
)

// Store is the server backend adapter.
type Store struct {
	db     *sql.DB
	fts    bool
	vector bool
	ownsDB bool
}

var _ backend.Adapter = (*Store)(nil)

// Config contains configuration for the server store.
type Config struct {
	// DSN is the key/value connection string. Ignored when DB is set.
	DSN string

	// DB is an existing pool to reuse. If provided, Close leaves the
	// pool open.
	DB *sql.DB

	// FTS controls whether the tsvector column is maintained.
	FTS bool

	// Vector controls whether the pgvector extension and the embedding
	// column are provisioned.
	Vector bool
}

// DSN converts a postgres:// or postgresql:// URL into the driver's
// key/value connection string.
func DSN(dbURL string) (string, error) {
	dsn, err := pq.ParseURL(dbURL)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w: %w", backend.ErrInvalidArgument, err)
	}
	return dsn, nil
}

// New connects to the server and verifies the connection. The schema is
// provisioned separately through EnsureSchema.
func New(cfg Config) (*Store, error) {
	if cfg.DB != nil {
		return &Store{db: cfg.DB, fts: cfg.FTS, vector: cfg.Vector}, nil
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: either DSN or DB must be provided", backend.ErrInvalidArgument)
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w: %w", backend.ErrBackendUnavailable, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w: %w", backend.ErrBackendUnavailable, err)
	}
	return &Store{db: db, fts: cfg.FTS, vector: cfg.Vector, ownsDB: true}, nil
}

// Server reports that ranking happens server-side on this backend.
func (s *Store) Server() bool { return true }

// Placeholder returns PostgreSQL's numbered parameter marker.
func (s *Store) Placeholder(i int) string { return fmt.Sprintf("$%d", i) }

// MetadataText returns the JSONB accessor for key as text.
func (s *Store) MetadataText(key string) string {
	return fmt.Sprintf("doc.metadata->>'%s'", key)
}

// MetadataNumber returns the JSONB accessor for key cast to a double.
func (s *Store) MetadataNumber(key string) string {
	return fmt.Sprintf("(doc.metadata->>'%s')::double precision", key)
}

// EnsureSchema provisions the documents table, its indexes and, when
// enabled, the pgvector extension and embedding column.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			content TEXT,
			name TEXT,
			metadata JSONB,
			tsvector TSVECTOR
		)
	`)
	if err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_documents_tsvector ON documents USING GIN (tsvector)"); err != nil {
		return fmt.Errorf("create tsvector index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_documents_name ON documents (name)"); err != nil {
		return fmt.Errorf("create name index: %w", err)
	}

	if s.vector {
		return s.ensureVectorColumn(ctx)
	}
	return nil
}

// ensureVectorColumn provisions pgvector. The extension is probed first so
// an already provisioned database works for roles that may not run CREATE
// EXTENSION themselves.
func (s *Store) ensureVectorColumn(ctx context.Context) error {
	var installed int
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM pg_extension WHERE extname = 'vector'").Scan(&installed)
	if err != nil {
		return fmt.Errorf("probe vector extension: %w", err)
	}
	if installed == 0 {
		if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return fmt.Errorf("create vector extension: %w: %w", backend.ErrVectorExtension, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, "ALTER TABLE documents ADD COLUMN IF NOT EXISTS embedding vector"); err != nil {
		return fmt.Errorf("add embedding column: %w", err)
	}
	return nil
}

// Begin opens a transaction.
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// Upsert writes the records and rewrites their tsvector column.
func (s *Store) Upsert(ctx context.Context, tx *sql.Tx, records []backend.Record) error {
	if len(records) == 0 {
		return nil
	}

	withEmbedding := records[0].Embedding != nil
	insert := `INSERT INTO documents (content, id, metadata, name) VALUES ($1, $2, $3, $4)
		ON CONFLICT(id) DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, name = EXCLUDED.name`
	if withEmbedding {
		insert = `INSERT INTO documents (content, id, metadata, name, embedding) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT(id) DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, name = EXCLUDED.name, embedding = EXCLUDED.embedding`
	}

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		args := []any{r.Content, r.ID, metadataArg(r.Metadata), r.Collection}
		if withEmbedding {
			args = append(args, r.Embedding)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("upsert document %s: %w", r.ID, err)
		}
	}

	if !s.fts {
		return nil
	}
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET tsvector = to_tsvector('simple', content) WHERE id = ANY($1)",
		pq.Array(ids),
	); err != nil {
		return fmt.Errorf("rebuild tsvector: %w", err)
	}
	return nil
}

// ClearIndex blanks the tsvector column for ids.
func (s *Store) ClearIndex(ctx context.Context, tx *sql.Tx, ids []string) error {
	if _, err := tx.ExecContext(ctx, "UPDATE documents SET tsvector = NULL WHERE id = ANY($1)", pq.Array(ids)); err != nil {
		return fmt.Errorf("clear tsvector: %w", err)
	}
	return nil
}

// DeleteRows removes the document rows for ids.
func (s *Store) DeleteRows(ctx context.Context, tx *sql.Tx, ids []string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ANY($1)", pq.Array(ids)); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// DeleteAll removes every document of the collection.
func (s *Store) DeleteAll(ctx context.Context, tx *sql.Tx, collection string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE name = $1", collection); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// Count returns the number of documents in the collection.
func (s *Store) Count(ctx context.Context, collection string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM documents WHERE name = $1", collection).Scan(&count)
	return count, err
}

// EncodeVector renders the embedding in pgvector's text form. Components
// are rounded to 8 decimals and trailing zeros are trimmed, so the stored
// text is stable across writes of the same vector.
func (s *Store) EncodeVector(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			sb.WriteByte(',')
		}
		rounded := math.Round(float64(f)*1e8) / 1e8
		sb.WriteString(strconv.FormatFloat(rounded, 'f', -1, 64))
	}
	sb.WriteByte(']')
	return sb.String()
}

// DecodeVector parses pgvector's text form back into components.
func (s *Store) DecodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	text := strings.Trim(string(data), "[]")
	if text == "" {
		return nil, nil
	}
	parts := strings.Split(text, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parse embedding component %d: %w", i, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

// DB exposes the underlying pool for read queries.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the pool when the store owns it.
func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func metadataArg(m []byte) any {
	if m == nil {
		return nil
	}
	return string(m)
}
