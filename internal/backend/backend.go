// Package backend defines the storage contract shared by the embedded and
// server search backends, together with a small SQL builder that papers
// over their placeholder dialects.
package backend

import (
	"context"
	"database/sql"
)

// Record is one document row as handed to an adapter for writing.
// Metadata holds the JSON encoding of the document metadata, nil when the
// document has none. Embedding holds the backend-encoded vector; within
// one Upsert batch either every record carries an embedding or none does.
type Record struct {
	ID         string
	Collection string
	Content    string
	Metadata   []byte
	Embedding  any
}

// Adapter is the contract a storage backend implements. Write operations
// take the caller's transaction so a batch commits or rolls back as one
// unit; reads go through DB directly.
type Adapter interface {
	// Server reports whether the backend evaluates vector similarity
	// server-side. Embedded backends return false and rank candidates
	// in process instead.
	Server() bool

	// Placeholder returns the parameter marker for the i-th bind value
	// of a statement, counting from 1.
	Placeholder(i int) string

	// MetadataText returns a SQL expression that extracts the named
	// metadata key as text.
	MetadataText(key string) string

	// MetadataNumber returns a SQL expression that extracts the named
	// metadata key as a number.
	MetadataNumber(key string) string

	// EncodeVector converts an embedding to the value stored in the
	// embedding column.
	EncodeVector(vec []float32) any

	// DecodeVector converts a stored embedding column value back to
	// float32 components.
	DecodeVector(data []byte) ([]float32, error)

	// EnsureSchema creates or migrates the documents table and its
	// indexes. Calling it on an already provisioned database is a
	// no-op.
	EnsureSchema(ctx context.Context) error

	// Begin opens a transaction on the underlying pool.
	Begin(ctx context.Context) (*sql.Tx, error)

	// Upsert inserts or overwrites the given records inside tx and
	// refreshes their lexical index entries.
	Upsert(ctx context.Context, tx *sql.Tx, records []Record) error

	// ClearIndex removes the lexical index entries for ids inside tx.
	ClearIndex(ctx context.Context, tx *sql.Tx, ids []string) error

	// DeleteRows removes the document rows for ids inside tx.
	DeleteRows(ctx context.Context, tx *sql.Tx, ids []string) error

	// DeleteAll removes every document of the named collection inside
	// tx, index entries included.
	DeleteAll(ctx context.Context, tx *sql.Tx, collection string) error

	// Count returns the number of documents in the named collection.
	Count(ctx context.Context, collection string) (int64, error)

	// DB exposes the underlying pool for read queries.
	DB() *sql.DB

	// Close releases the underlying pool.
	Close() error
}
