package sifts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/sifts/internal/backend"
	"github.com/haasonsaas/sifts/internal/backend/postgres"
	"github.com/haasonsaas/sifts/internal/backend/sqlite"
)

var tracer = otel.Tracer("github.com/haasonsaas/sifts/pkg/sifts")

// Collection names become SQL values and file-adjacent identifiers, so the
// accepted alphabet is fixed.
var nameRe = regexp.MustCompile(`^[-A-Za-z0-9_+~#=/]+$`)

// Collection is a named set of documents in one store. Multiple collections
// may share a store; reads and writes are scoped by name. Methods are safe
// for concurrent use.
type Collection struct {
	name    string
	store   backend.Adapter
	fts     bool
	embed   EmbeddingFunc
	cache   *embeddingCache
	logger  *slog.Logger
	metrics Metrics
}

// New opens (or creates) the named collection behind dbURL and provisions
// its schema. An empty URL opens the embedded store at its default file;
// sqlite:///<path> opens the embedded store at <path>; anything else is
// treated as a server URL. Opening an existing collection again is a no-op.
func New(ctx context.Context, dbURL, name string, opts ...Option) (*Collection, error) {
	if !nameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: collection name %q must match %s", ErrInvalidArgument, name, nameRe)
	}

	s := settings{fts: true}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	store, err := openStore(dbURL, &s)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("provision schema: %w", err)
	}

	return &Collection{
		name:    name,
		store:   store,
		fts:     s.fts,
		embed:   s.embed,
		cache:   newEmbeddingCache(queryCacheSize),
		logger:  s.logger,
		metrics: s.metrics,
	}, nil
}

func openStore(dbURL string, s *settings) (backend.Adapter, error) {
	vector := s.embed != nil
	switch {
	case dbURL == "":
		return sqlite.New(sqlite.Config{Path: s.defaultPath, DB: s.db, FTS: s.fts, Vector: vector})
	case strings.HasPrefix(dbURL, "sqlite://"):
		// sqlite:///relative.db and sqlite:////absolute.db both resolve
		// the way their authority-less form reads.
		path := strings.TrimPrefix(dbURL, "sqlite://")
		path = strings.TrimPrefix(path, "/")
		return sqlite.New(sqlite.Config{Path: path, DB: s.db, FTS: s.fts, Vector: vector})
	default:
		cfg := postgres.Config{DB: s.db, FTS: s.fts, Vector: vector}
		if s.db == nil {
			dsn, err := postgres.DSN(dbURL)
			if err != nil {
				return nil, err
			}
			cfg.DSN = dsn
		}
		return postgres.New(cfg)
	}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Close releases the underlying pool unless it was supplied through
// WithDatabase.
func (c *Collection) Close() error { return c.store.Close() }

func (c *Collection) backendName() string {
	if c.store.Server() {
		return "postgres"
	}
	return "sqlite"
}

// instrument opens a span for op and returns a completion func that closes
// it, records metrics and logs the outcome.
func (c *Collection) instrument(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "sifts."+op, trace.WithAttributes(
		attribute.String("sifts.collection", c.name),
		attribute.String("sifts.backend", c.backendName()),
	))
	start := time.Now()
	return ctx, func(err error) {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		elapsed := time.Since(start)
		if c.metrics != nil {
			c.metrics.RecordOperation(c.backendName(), op, status, elapsed.Seconds())
		}
		c.logger.DebugContext(ctx, "collection operation",
			"collection", c.name,
			"operation", op,
			"status", status,
			"elapsed", elapsed,
		)
	}
}

// Add writes documents to the collection, minting a UUID for every document
// without an id, and returns the ids in input order. An existing id is
// overwritten wherever it lives: ids are unique across the whole store, so
// adding a document whose id belongs to another collection moves it here.
func (c *Collection) Add(ctx context.Context, docs []Document) (_ []string, err error) {
	ctx, done := c.instrument(ctx, "add")
	defer func() { done(err) }()
	return c.write(ctx, docs)
}

// Update overwrites existing documents, re-indexing and re-embedding their
// content. Every document must carry an id.
func (c *Collection) Update(ctx context.Context, docs []Document) (_ []string, err error) {
	ctx, done := c.instrument(ctx, "update")
	defer func() { done(err) }()
	for _, doc := range docs {
		if doc.ID == "" {
			return nil, fmt.Errorf("%w: update requires an id on every document", ErrInvalidArgument)
		}
	}
	return c.write(ctx, docs)
}

func (c *Collection) write(ctx context.Context, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(docs))
	texts := make([]string, len(docs))
	records := make([]backend.Record, len(docs))
	for i, doc := range docs {
		id := doc.ID
		if id == "" {
			id = uuid.New().String()
		}
		ids[i] = id
		texts[i] = doc.Content

		var meta []byte
		if doc.Metadata != nil {
			encoded, err := json.Marshal(doc.Metadata)
			if err != nil {
				return nil, fmt.Errorf("encode metadata for %s: %w", id, err)
			}
			meta = encoded
		}
		records[i] = backend.Record{
			ID:         id,
			Collection: c.name,
			Content:    doc.Content,
			Metadata:   meta,
		}
	}

	if c.embed != nil {
		vecs, err := c.embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed documents: %w", err)
		}
		if len(vecs) != len(docs) {
			return nil, fmt.Errorf("%w: embedding function returned %d vectors for %d documents", ErrInvalidArgument, len(vecs), len(docs))
		}
		for i, vec := range vecs {
			records[i].Embedding = c.store.EncodeVector(vec)
		}
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback(tx)

	if err := c.store.Upsert(ctx, tx, records); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// Delete removes documents by id, lexical index entries included. Unknown
// ids are ignored, so deleting twice is harmless.
func (c *Collection) Delete(ctx context.Context, ids []string) (err error) {
	ctx, done := c.instrument(ctx, "delete")
	defer func() { done(err) }()

	if len(ids) == 0 {
		return nil
	}
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer rollback(tx)

	if err := c.store.ClearIndex(ctx, tx, ids); err != nil {
		return err
	}
	if err := c.store.DeleteRows(ctx, tx, ids); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeleteAll removes every document in this collection. Other collections in
// the same store are untouched.
func (c *Collection) DeleteAll(ctx context.Context) (err error) {
	ctx, done := c.instrument(ctx, "delete_all")
	defer func() { done(err) }()

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer rollback(tx)

	if err := c.store.DeleteAll(ctx, tx, c.name); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Count returns the number of documents in the collection.
func (c *Collection) Count(ctx context.Context) (_ int64, err error) {
	ctx, done := c.instrument(ctx, "count")
	defer func() { done(err) }()
	return c.store.Count(ctx, c.name)
}

// Stats reports the collection size and the capabilities it was opened
// with.
func (c *Collection) Stats(ctx context.Context) (_ *Stats, err error) {
	ctx, done := c.instrument(ctx, "stats")
	defer func() { done(err) }()

	n, err := c.store.Count(ctx, c.name)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Documents: n,
		Backend:   c.backendName(),
		FTS:       c.fts,
		Vector:    c.embed != nil,
	}, nil
}

// AllDocuments returns every document in the collection with its metadata,
// and the content too when withContent is set. Unlike Query there is no
// envelope and no pagination.
func (c *Collection) AllDocuments(ctx context.Context, withContent bool) (_ []Result, err error) {
	ctx, done := c.instrument(ctx, "all_documents")
	defer func() { done(err) }()

	b := backend.NewBuilder(c.store)
	head := "doc.id, doc.metadata"
	if withContent {
		head += ", doc.content"
	}
	b.Select(head).From("documents doc")
	b.Where("doc.name = " + b.Bind(c.name))

	query, args := b.SQL()
	rows, err := c.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var (
			r       Result
			meta    []byte
			content sql.NullString
		)
		dest := []any{&r.ID, &meta}
		if withContent {
			dest = append(dest, &content)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if meta != nil {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", r.ID, err)
			}
		}
		r.Content = content.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return out, nil
}

// rollback discards tx. After a successful Commit it reports ErrTxDone,
// which is the expected case here.
func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}
