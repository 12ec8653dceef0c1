// Package sifts provides full-text and vector similarity search over named
// document collections. A collection lives either in an embedded SQLite file
// (lexical search through FTS5, similarity ranked in process) or in a
// PostgreSQL server (tsvector search, similarity ranked by the vector
// extension). The public surface is the same for both.
package sifts

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/haasonsaas/sifts/internal/backend"
)

// Sentinel errors returned by collection operations. Wrapped errors carry
// operation context; match with errors.Is.
var (
	// ErrInvalidArgument reports malformed caller input: a bad collection
	// name, an unknown filter operator, or a search mode the collection
	// is not configured for.
	ErrInvalidArgument = backend.ErrInvalidArgument

	// ErrVectorExtension reports that the server is missing the vector
	// extension and the connecting role may not install it.
	ErrVectorExtension = backend.ErrVectorExtension

	// ErrBackendUnavailable reports that the database could not be
	// reached. Retrying later may succeed.
	ErrBackendUnavailable = backend.ErrBackendUnavailable
)

// Document is one unit of searchable content handed to Add or Update.
type Document struct {
	// ID identifies the document across the whole store. Add mints a
	// UUID when it is empty; Update requires it.
	ID string `json:"id"`

	// Content is the text that gets indexed and, when an embedding
	// function is configured, embedded.
	Content string `json:"content"`

	// Metadata is an optional JSON-scalar mapping used for filtering and
	// ordering. A nil map stays nil on the way back out.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Result is one matched document as returned by Query, Get and
// AllDocuments.
type Result struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`

	// Rank scores the match: BM25-derived for embedded lexical search,
	// ts_rank for server lexical search, cosine similarity for vector
	// search. Plain retrievals carry no rank.
	Rank *float64 `json:"rank,omitempty"`
}

// QueryResponse pairs one page of results with the size of the full match
// set. Total counts every match, not the page; an empty page reports zero.
type QueryResponse struct {
	Total   int      `json:"total"`
	Results []Result `json:"results"`
}

// QueryOptions refine a Query or Get. The zero value returns every match
// in storage order.
type QueryOptions struct {
	// Limit caps the number of returned results. Zero means no cap.
	Limit int

	// Offset skips that many matches before the page starts.
	Offset int

	// Where filters on metadata keys. A value is either a scalar
	// (equality) or an operator mapping such as
	// {"$gte": 2} or {"$in": []string{"a", "b"}}. Supported operators:
	// $eq, $gt, $gte, $lt, $lte, $in, $nin. Keys are interpolated into
	// SQL and must come from trusted code; values are always bound.
	Where map[string]any

	// OrderBy sorts by metadata keys before pagination. A "-" prefix
	// sorts descending with absent keys first; no prefix or "+" sorts
	// ascending with absent keys last. Cannot be combined with
	// VectorSearch.
	OrderBy []string

	// VectorSearch ranks by embedding similarity to the query text
	// instead of matching it lexically. Requires WithEmbedding.
	VectorSearch bool
}

// Stats summarizes a collection for diagnostics.
type Stats struct {
	Documents int64  `json:"documents"`
	Backend   string `json:"backend"`
	FTS       bool   `json:"fts"`
	Vector    bool   `json:"vector"`
}

// EmbeddingFunc turns a batch of texts into one vector per text, in order.
// Implementations typically wrap a model API; see internal/embeddings for
// ready-made providers.
type EmbeddingFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Metrics receives one observation per public collection operation.
// Implementations must be safe for concurrent use.
type Metrics interface {
	RecordOperation(backend, operation, status string, seconds float64)
}

// Option configures a Collection at construction time.
type Option func(*settings)

type settings struct {
	embed       EmbeddingFunc
	fts         bool
	logger      *slog.Logger
	metrics     Metrics
	db          *sql.DB
	defaultPath string
}

// WithEmbedding supplies the embedding function used to embed documents on
// write and query text on vector search. Without it VectorSearch queries
// fail and no embedding column is provisioned.
func WithEmbedding(fn EmbeddingFunc) Option {
	return func(s *settings) { s.embed = fn }
}

// WithFTS controls the lexical index. It is on by default; disabling it
// skips index maintenance and makes text queries fail with
// ErrInvalidArgument.
func WithFTS(enabled bool) Option {
	return func(s *settings) { s.fts = enabled }
}

// WithLogger sets the logger for operation outcomes. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMetrics sets an optional metrics sink for operation counts and
// latencies.
func WithMetrics(m Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithDatabase reuses an existing pool instead of opening one from the URL.
// The pool is not closed by Collection.Close.
func WithDatabase(db *sql.DB) Option {
	return func(s *settings) { s.db = db }
}

// WithDefaultPath overrides the embedded database file used when the URL is
// empty.
func WithDefaultPath(path string) Option {
	return func(s *settings) { s.defaultPath = path }
}
