// Package sqlite implements the embedded storage backend on a single-file
// SQLite database, with an FTS5 virtual table for lexical search and raw
// float32 blobs for embeddings.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/haasonsaas/sifts/internal/backend"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// DefaultPath is the database file used when the caller gives no URL.
const DefaultPath = "search_engine.db"

// Store is the embedded backend adapter.
type Store struct {
	db     *sql.DB
	fts    bool
	vector bool
	ownsDB bool
}

var _ backend.Adapter = (*Store)(nil)

// Config contains configuration for the embedded store.
type Config struct {
	// Path is the SQLite database file. Empty means DefaultPath.
	Path string

	// DB is an existing pool to reuse. If provided, Path is ignored and
	// Close leaves the pool open.
	DB *sql.DB

	// FTS controls whether the documents_fts table is created and
	// maintained.
	FTS bool

	// Vector controls whether the embedding column is provisioned.
	Vector bool
}

// New opens the database file. The schema is provisioned separately through
// EnsureSchema.
func New(cfg Config) (*Store, error) {
	if cfg.DB != nil {
		return &Store{db: cfg.DB, fts: cfg.FTS, vector: cfg.Vector}, nil
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w: %w", backend.ErrBackendUnavailable, err)
	}
	return &Store{db: db, fts: cfg.FTS, vector: cfg.Vector, ownsDB: true}, nil
}

// Server reports that ranking happens client-side on this backend.
func (s *Store) Server() bool { return false }

// Placeholder returns SQLite's positional parameter marker.
func (s *Store) Placeholder(int) string { return "?" }

// MetadataText returns the JSON accessor for key. json_extract yields
// typed values, so the same expression serves text and numeric
// comparisons.
func (s *Store) MetadataText(key string) string {
	return fmt.Sprintf("json_extract(doc.metadata, '$.%s')", key)
}

// MetadataNumber returns the JSON accessor for key.
func (s *Store) MetadataNumber(key string) string {
	return s.MetadataText(key)
}

// EnsureSchema provisions the documents table, the name index and, when
// enabled, the FTS5 table and the embedding column. Files written by older
// releases are migrated by probing for missing columns.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			content TEXT,
			name TEXT,
			metadata JSON
		)
	`)
	if err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}

	// Files from older releases may predate these columns.
	columns := []struct{ name, ddl string }{
		{"name", "ALTER TABLE documents ADD COLUMN name TEXT"},
		{"metadata", "ALTER TABLE documents ADD COLUMN metadata JSON"},
	}
	if s.vector {
		columns = append(columns, struct{ name, ddl string }{
			"embedding", "ALTER TABLE documents ADD COLUMN embedding BLOB",
		})
	}
	for _, col := range columns {
		if err := s.ensureColumn(ctx, col.name, col.ddl); err != nil {
			return err
		}
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_documents_name ON documents (name)"); err != nil {
		return fmt.Errorf("create name index: %w", err)
	}

	if s.fts {
		if _, err := s.db.ExecContext(ctx, "CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(id, content)"); err != nil {
			return fmt.Errorf("create fts table: %w", err)
		}
	}
	return nil
}

func (s *Store) ensureColumn(ctx context.Context, name, ddl string) error {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT count(*) FROM pragma_table_info('documents') WHERE name = ?", name,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("probe column %s: %w", name, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("add column %s: %w", name, err)
	}
	return nil
}

// Begin opens a transaction.
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// Upsert writes the records and rebuilds their FTS entries.
func (s *Store) Upsert(ctx context.Context, tx *sql.Tx, records []backend.Record) error {
	if len(records) == 0 {
		return nil
	}

	withEmbedding := records[0].Embedding != nil
	insert := `INSERT INTO documents (content, id, metadata, name) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, metadata = excluded.metadata, name = excluded.name`
	if withEmbedding {
		insert = `INSERT INTO documents (content, id, metadata, name, embedding) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET content = excluded.content, metadata = excluded.metadata, name = excluded.name, embedding = excluded.embedding`
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
	return s.rebuildIndex(ctx, tx, records)
}

// rebuildIndex replaces the FTS rows for the batch. The ids are collected
// in a scratch table so the stale rows go away in one statement instead of
// one round-trip per id.
func (s *Store) rebuildIndex(ctx context.Context, tx *sql.Tx, records []backend.Record) error {
	if _, err := tx.ExecContext(ctx, "CREATE TEMP TABLE batch_ids (id TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("create scratch table: %w", err)
	}

	collect, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO batch_ids (id) VALUES (?)")
	if err != nil {
		return fmt.Errorf("prepare scratch insert: %w", err)
	}
	defer collect.Close()
	for _, r := range records {
		if _, err := collect.ExecContext(ctx, r.ID); err != nil {
			return fmt.Errorf("collect id %s: %w", r.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents_fts WHERE id IN (SELECT id FROM batch_ids)"); err != nil {
		return fmt.Errorf("clear stale fts rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE batch_ids"); err != nil {
		return fmt.Errorf("drop scratch table: %w", err)
	}

	index, err := tx.PrepareContext(ctx, "INSERT INTO documents_fts (content, id) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("prepare fts insert: %w", err)
	}
	defer index.Close()
	for _, r := range records {
		if _, err := index.ExecContext(ctx, r.Content, r.ID); err != nil {
			return fmt.Errorf("index document %s: %w", r.ID, err)
		}
	}
	return nil
}

// ClearIndex removes the FTS rows for ids. Without FTS there is nothing to
// clear.
func (s *Store) ClearIndex(ctx context.Context, tx *sql.Tx, ids []string) error {
	if !s.fts {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, "DELETE FROM documents_fts WHERE id = ?")
	if err != nil {
		return fmt.Errorf("prepare fts delete: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("delete fts row %s: %w", id, err)
		}
	}
	return nil
}

// DeleteRows removes the document rows for ids.
func (s *Store) DeleteRows(ctx context.Context, tx *sql.Tx, ids []string) error {
	stmt, err := tx.PrepareContext(ctx, "DELETE FROM documents WHERE id = ?")
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("delete document %s: %w", id, err)
		}
	}
	return nil
}

// DeleteAll removes every document of the collection, cascading to the FTS
// table by sub-select.
func (s *Store) DeleteAll(ctx context.Context, tx *sql.Tx, collection string) error {
	if s.fts {
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents_fts WHERE id IN (SELECT id FROM documents WHERE name = ?)", collection); err != nil {
			return fmt.Errorf("clear fts rows: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE name = ?", collection); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// Count returns the number of documents in the collection.
func (s *Store) Count(ctx context.Context, collection string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM documents WHERE name = ?", collection).Scan(&count)
	return count, err
}

// EncodeVector packs the embedding as little-endian float32 bytes.
func (s *Store) EncodeVector(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	data := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}
	return data
}

// DecodeVector unpacks a stored embedding blob. A NULL column comes back
// as a nil vector.
func (s *Store) DecodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("embedding blob of %d bytes is not a float32 sequence", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
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
