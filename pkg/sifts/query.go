package sifts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/haasonsaas/sifts/internal/backend"
	"github.com/haasonsaas/sifts/internal/queryparser"
)

// comparisons maps filter operators to their SQL form. $in and $nin are
// handled separately.
var comparisons = map[string]string{
	"$eq":  "=",
	"$gt":  ">",
	"$gte": ">=",
	"$lt":  "<",
	"$lte": "<=",
}

// Query searches the collection. A non-empty query string matches
// lexically (FTS5 or tsvector, per backend) unless opts.VectorSearch ranks
// by embedding similarity instead. An empty query string returns every
// document, subject to the filters.
//
// The response reports the total number of matches alongside the requested
// page. A retrieval failure is logged and reported as an empty response
// rather than an error, so a malformed query expression degrades to "no
// results".
func (c *Collection) Query(ctx context.Context, query string, opts *QueryOptions) (_ *QueryResponse, err error) {
	ctx, done := c.instrument(ctx, "query")
	defer func() { done(err) }()
	return c.search(ctx, query, opts)
}

// Get retrieves documents without text matching: filters, ordering and
// pagination only. It is Query with an empty query string.
func (c *Collection) Get(ctx context.Context, opts *QueryOptions) (_ *QueryResponse, err error) {
	ctx, done := c.instrument(ctx, "get")
	defer func() { done(err) }()
	return c.search(ctx, "", opts)
}

func (c *Collection) search(ctx context.Context, query string, opts *QueryOptions) (*QueryResponse, error) {
	if opts == nil {
		opts = &QueryOptions{}
	}
	query = strings.TrimSpace(query)

	if opts.VectorSearch {
		if c.embed == nil {
			return nil, fmt.Errorf("%w: vector search requires an embedding function", ErrInvalidArgument)
		}
		if len(opts.OrderBy) > 0 {
			return nil, fmt.Errorf("%w: vector search cannot be combined with order_by", ErrInvalidArgument)
		}
	} else if query != "" && !c.fts {
		return nil, fmt.Errorf("%w: full-text search is disabled for this collection", ErrInvalidArgument)
	}

	// The embedded backend has no similarity operator, so vector queries
	// fetch every candidate and rank in process.
	clientRank := opts.VectorSearch && !c.store.Server()

	var queryVec []float32
	if opts.VectorSearch {
		vec, err := c.queryEmbedding(ctx, query)
		if err != nil {
			return nil, err
		}
		queryVec = vec
	}

	b := backend.NewBuilder(c.store)
	switch {
	case clientRank:
		b.Select("doc.id, doc.embedding, doc.content, doc.metadata, count(*) OVER () AS total")
		b.From("documents doc")
	case opts.VectorSearch:
		vec := b.Bind(c.store.EncodeVector(queryVec))
		b.Select(fmt.Sprintf("doc.id, 1 - (doc.embedding <=> %s) AS rank, doc.content, doc.metadata, count(*) OVER () AS total", vec))
		b.From("documents doc")
		b.OrderBy(fmt.Sprintf("doc.embedding <=> %s", vec))
	case query != "" && c.store.Server():
		ts := b.Bind(queryparser.ToTSQuery(query))
		b.Select("doc.id, ts_rank(doc.tsvector, query) AS rank, doc.content, doc.metadata, count(*) OVER () AS total")
		b.From(fmt.Sprintf("documents doc, to_tsquery('simple', %s) query", ts))
		b.Where("doc.tsvector @@ query")
	case query != "":
		match := b.Bind(queryparser.ToFTS5(query))
		b.Select("doc.id, fts.rank, doc.content, doc.metadata, count(*) OVER () AS total")
		b.From("documents_fts fts JOIN documents doc ON doc.id = fts.id")
		b.Where("fts.content MATCH " + match)
	default:
		b.Select("doc.id, doc.content, doc.metadata, count(*) OVER () AS total")
		b.From("documents doc")
	}

	b.Where("doc.name = " + b.Bind(c.name))
	if err := c.applyWhere(b, opts.Where); err != nil {
		return nil, err
	}
	c.applyOrderBy(b, opts.OrderBy)
	if !clientRank {
		if opts.Limit > 0 {
			b.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			b.Offset(opts.Offset)
		}
	}

	stmt, args := b.SQL()
	rows, err := c.store.DB().QueryContext(ctx, stmt, args...)
	if err != nil {
		return c.emptyResponse(ctx, err), nil
	}
	defer rows.Close()

	if clientRank {
		return c.scanRanked(ctx, rows, queryVec, opts)
	}
	hasRank := query != "" || opts.VectorSearch
	return c.scanPage(ctx, rows, hasRank)
}

// scanPage reads rows whose pagination already happened in SQL. The total
// column repeats the full match count on every row; no rows means total
// zero.
func (c *Collection) scanPage(ctx context.Context, rows *sql.Rows, hasRank bool) (*QueryResponse, error) {
	resp := &QueryResponse{Results: []Result{}}
	for rows.Next() {
		var (
			r       Result
			rank    sql.NullFloat64
			content sql.NullString
			meta    []byte
		)
		dest := []any{&r.ID}
		if hasRank {
			dest = append(dest, &rank)
		}
		dest = append(dest, &content, &meta, &resp.Total)
		if err := rows.Scan(dest...); err != nil {
			return c.emptyResponse(ctx, err), nil
		}
		r.Content = content.String
		if meta != nil {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", r.ID, err)
			}
		}
		if rank.Valid {
			v := rank.Float64
			r.Rank = &v
		}
		resp.Results = append(resp.Results, r)
	}
	if err := rows.Err(); err != nil {
		return c.emptyResponse(ctx, err), nil
	}
	return resp, nil
}

// scanRanked reads every candidate row, ranks by cosine similarity to the
// query vector and applies offset and limit in process. The query norm is
// computed once; candidates are sorted by index rather than by moving rows.
func (c *Collection) scanRanked(ctx context.Context, rows *sql.Rows, queryVec []float32, opts *QueryOptions) (*QueryResponse, error) {
	type candidate struct {
		id      string
		content string
		meta    []byte
		sim     float64
	}

	var queryNorm float64
	for _, v := range queryVec {
		queryNorm += float64(v) * float64(v)
	}
	queryNorm = math.Sqrt(queryNorm)

	var cands []candidate
	for rows.Next() {
		var (
			cand    candidate
			emb     []byte
			content sql.NullString
			total   int
		)
		if err := rows.Scan(&cand.id, &emb, &content, &cand.meta, &total); err != nil {
			return c.emptyResponse(ctx, err), nil
		}
		cand.content = content.String

		vec, err := c.store.DecodeVector(emb)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", cand.id, err)
		}
		cand.sim = similarity(queryVec, queryNorm, vec)
		cands = append(cands, cand)
	}
	if err := rows.Err(); err != nil {
		return c.emptyResponse(ctx, err), nil
	}

	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return cands[order[a]].sim > cands[order[b]].sim
	})

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start >= len(cands) {
		return &QueryResponse{Results: []Result{}}, nil
	}
	end := len(cands)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}

	resp := &QueryResponse{Total: len(cands), Results: make([]Result, 0, end-start)}
	for _, i := range order[start:end] {
		cand := cands[i]
		r := Result{ID: cand.id, Content: cand.content}
		if cand.meta != nil {
			if err := json.Unmarshal(cand.meta, &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", cand.id, err)
			}
		}
		sim := cand.sim
		r.Rank = &sim
		resp.Results = append(resp.Results, r)
	}
	return resp, nil
}

// similarity is the cosine of the angle between the query and a candidate
// vector. Mismatched dimensions and zero vectors score zero.
func similarity(query []float32, queryNorm float64, vec []float32) float64 {
	if len(vec) != len(query) || len(vec) == 0 {
		return 0
	}
	var dot, norm float64
	for i := range vec {
		dot += float64(query[i]) * float64(vec[i])
		norm += float64(vec[i]) * float64(vec[i])
	}
	if queryNorm == 0 || norm == 0 {
		return 0
	}
	return dot / (queryNorm * math.Sqrt(norm))
}

// queryEmbedding embeds the query text, serving repeats from the LRU cache.
func (c *Collection) queryEmbedding(ctx context.Context, query string) ([]float32, error) {
	if vec, ok := c.cache.get(query); ok {
		return vec, nil
	}
	vecs, err := c.embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: embedding function returned %d vectors for one query", ErrInvalidArgument, len(vecs))
	}
	c.cache.set(query, vecs[0])
	return vecs[0], nil
}

// applyWhere renders metadata filters. Keys and operator names are visited
// in sorted order so the generated statement is deterministic.
func (c *Collection) applyWhere(b *backend.Builder, where map[string]any) error {
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch v := where[key].(type) {
		case map[string]any:
			ops := make([]string, 0, len(v))
			for op := range v {
				ops = append(ops, op)
			}
			sort.Strings(ops)
			for _, op := range ops {
				if err := c.applyOperator(b, key, op, v[op]); err != nil {
					return err
				}
			}
		default:
			expr, err := c.accessor(key, v)
			if err != nil {
				return err
			}
			b.Where(expr + " = " + b.Bind(v))
		}
	}
	return nil
}

func (c *Collection) applyOperator(b *backend.Builder, key, op string, val any) error {
	switch op {
	case "$in", "$nin":
		items, ok := scalarSlice(val)
		if !ok {
			return fmt.Errorf("%w: operator %s on %q requires a list, got %T", ErrInvalidArgument, op, key, val)
		}
		if len(items) == 0 {
			// Nothing is in an empty list; everything is outside it.
			if op == "$in" {
				b.Where("1 = 0")
			}
			return nil
		}
		expr, err := c.accessor(key, items[0])
		if err != nil {
			return err
		}
		marks := make([]string, len(items))
		for i, item := range items {
			if _, err := c.accessor(key, item); err != nil {
				return err
			}
			marks[i] = b.Bind(item)
		}
		if op == "$nin" {
			b.Where(expr + " NOT IN (" + strings.Join(marks, ", ") + ")")
		} else {
			b.Where(expr + " IN (" + strings.Join(marks, ", ") + ")")
		}
		return nil
	default:
		cmp, ok := comparisons[op]
		if !ok {
			return fmt.Errorf("%w: unknown filter operator %q", ErrInvalidArgument, op)
		}
		expr, err := c.accessor(key, val)
		if err != nil {
			return err
		}
		b.Where(expr + " " + cmp + " " + b.Bind(val))
		return nil
	}
}

// accessor picks the metadata extraction expression for a filter value:
// numbers compare numerically, strings compare as text.
func (c *Collection) accessor(key string, v any) (string, error) {
	switch v.(type) {
	case string:
		return c.store.MetadataText(key), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return c.store.MetadataNumber(key), nil
	default:
		return "", fmt.Errorf("%w: unsupported filter value %T for key %q", ErrInvalidArgument, v, key)
	}
}

// scalarSlice widens the list forms a caller can naturally construct.
func scalarSlice(v any) ([]any, bool) {
	switch vv := v.(type) {
	case []any:
		return vv, true
	case []string:
		out := make([]any, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(vv))
		for i, n := range vv {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(vv))
		for i, n := range vv {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}

// applyOrderBy renders metadata ordering. A leading "-" sorts descending
// with missing keys first; otherwise ascending with missing keys last, so
// documents without the key always trail the ones that have it.
func (c *Collection) applyOrderBy(b *backend.Builder, fields []string) {
	for _, field := range fields {
		desc := false
		switch {
		case strings.HasPrefix(field, "-"):
			desc = true
			field = field[1:]
		case strings.HasPrefix(field, "+"):
			field = field[1:]
		}
		expr := c.store.MetadataText(field)
		if desc {
			b.OrderBy(expr + " DESC NULLS FIRST")
		} else {
			b.OrderBy(expr + " ASC NULLS LAST")
		}
	}
}

// emptyResponse logs a swallowed retrieval error and builds the empty
// envelope it degrades to.
func (c *Collection) emptyResponse(ctx context.Context, err error) *QueryResponse {
	c.logger.WarnContext(ctx, "query failed, returning empty result",
		"collection", c.name,
		"error", err,
	)
	return &QueryResponse{Results: []Result{}}
}
