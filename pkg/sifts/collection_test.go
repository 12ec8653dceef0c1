package sifts

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// newTestCollection opens a collection in a fresh embedded database.
func newTestCollection(t *testing.T, opts ...Option) *Collection {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	c, err := New(context.Background(), "sqlite:///"+path, "test", opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func mustAdd(t *testing.T, c *Collection, docs []Document) []string {
	t.Helper()
	ids, err := c.Add(context.Background(), docs)
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	return ids
}

func TestNew_NameValidation(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	t.Run("rejects invalid names", func(t *testing.T) {
		for _, name := range []string{"", "white space", "semi;colon", "quo'te", "per.iod"} {
			_, err := New(ctx, "sqlite:///"+path, name)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("New(%q) err = %v, want ErrInvalidArgument", name, err)
			}
		}
	})

	t.Run("accepts the documented alphabet", func(t *testing.T) {
		for _, name := range []string{"test", "a/b", "x-y_z", "v1+v2~3", "K=9", "#tag"} {
			c, err := New(ctx, "sqlite:///"+path, name)
			if err != nil {
				t.Fatalf("New(%q) error: %v", name, err)
			}
			if c.Name() != name {
				t.Errorf("Name() = %q, want %q", c.Name(), name)
			}
			c.Close()
		}
	})
}

func TestNew_URLRouting(t *testing.T) {
	ctx := context.Background()

	t.Run("empty url uses the default path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "default.db")
		c, err := New(ctx, "", "test", WithDefaultPath(path))
		if err != nil {
			t.Fatalf("New error: %v", err)
		}
		defer c.Close()

		if got := c.backendName(); got != "sqlite" {
			t.Errorf("backend = %q, want sqlite", got)
		}
		if _, err := c.Count(ctx); err != nil {
			t.Errorf("Count error: %v", err)
		}
	})

	t.Run("sqlite url selects the embedded store", func(t *testing.T) {
		c := newTestCollection(t)
		if got := c.backendName(); got != "sqlite" {
			t.Errorf("backend = %q, want sqlite", got)
		}
	})

	t.Run("unparseable server url is rejected", func(t *testing.T) {
		_, err := New(ctx, "mysql://user@localhost/db", "test")
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestNew_ReopenIsNoOp(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	c1, err := New(ctx, "sqlite:///"+path, "test")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	mustAdd(t, c1, []Document{{Content: "Lorem ipsum dolor"}, {Content: "sit amet"}})
	if err := c1.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	c2, err := New(ctx, "sqlite:///"+path, "test")
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer c2.Close()

	n, err := c2.Count(ctx)
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if n != 2 {
		t.Errorf("Count after reopen = %d, want 2", n)
	}
}

func TestAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("mints ids when absent", func(t *testing.T) {
		c := newTestCollection(t)
		ids := mustAdd(t, c, []Document{{Content: "Lorem ipsum dolor"}, {Content: "sit amet"}})
		if len(ids) != 2 {
			t.Fatalf("got %d ids, want 2", len(ids))
		}
		for i, id := range ids {
			if len(id) != 36 {
				t.Errorf("ids[%d] = %q, want a UUID", i, id)
			}
		}
		if ids[0] == ids[1] {
			t.Error("minted ids should be distinct")
		}
	})

	t.Run("keeps supplied ids", func(t *testing.T) {
		c := newTestCollection(t)
		ids := mustAdd(t, c, []Document{{ID: "doc1", Content: "Lorem ipsum dolor"}})
		if ids[0] != "doc1" {
			t.Errorf("ids[0] = %q, want doc1", ids[0])
		}
	})

	t.Run("no documents is a no-op", func(t *testing.T) {
		c := newTestCollection(t)
		ids, err := c.Add(ctx, nil)
		if err != nil {
			t.Fatalf("Add error: %v", err)
		}
		if len(ids) != 0 {
			t.Errorf("got %d ids, want 0", len(ids))
		}
	})

	t.Run("existing id is overwritten in place", func(t *testing.T) {
		c := newTestCollection(t)
		mustAdd(t, c, []Document{
			{ID: "doc1", Content: "Lorem ipsum dolor"},
			{ID: "doc2", Content: "sit amet"},
		})
		mustAdd(t, c, []Document{{ID: "doc1", Content: "consectetur adipiscing"}})

		n, err := c.Count(ctx)
		if err != nil {
			t.Fatalf("Count error: %v", err)
		}
		if n != 2 {
			t.Errorf("Count = %d, want 2", n)
		}

		old, err := c.Query(ctx, "Lorem", nil)
		if err != nil {
			t.Fatalf("Query error: %v", err)
		}
		if old.Total != 0 {
			t.Errorf("old content still matches: total = %d, want 0", old.Total)
		}

		now, err := c.Query(ctx, "consectetur", nil)
		if err != nil {
			t.Fatalf("Query error: %v", err)
		}
		if now.Total != 1 || now.Results[0].ID != "doc1" {
			t.Errorf("new content: got %+v, want doc1", now)
		}
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("requires an id on every document", func(t *testing.T) {
		c := newTestCollection(t)
		_, err := c.Update(ctx, []Document{{Content: "no id"}})
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("reindexes the new content", func(t *testing.T) {
		c := newTestCollection(t)
		mustAdd(t, c, []Document{{ID: "doc1", Content: "Lorem ipsum dolor"}})

		if _, err := c.Update(ctx, []Document{{ID: "doc1", Content: "sit amet"}}); err != nil {
			t.Fatalf("Update error: %v", err)
		}

		resp, err := c.Query(ctx, "amet", nil)
		if err != nil {
			t.Fatalf("Query error: %v", err)
		}
		if resp.Total != 1 || resp.Results[0].Content != "sit amet" {
			t.Errorf("got %+v, want the updated document", resp)
		}
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)
	mustAdd(t, c, []Document{
		{ID: "doc1", Content: "Lorem ipsum dolor"},
		{ID: "doc2", Content: "sit amet"},
	})

	if err := c.Delete(ctx, []string{"doc1"}); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	n, err := c.Count(ctx)
	if err != nil {
		t.Fatalf("Count error: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}

	// The index entry is gone with the row.
	resp, err := c.Query(ctx, "Lorem", nil)
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if resp.Total != 0 {
		t.Errorf("deleted document still matches: %+v", resp)
	}

	t.Run("repeat delete is harmless", func(t *testing.T) {
		if err := c.Delete(ctx, []string{"doc1", "never-existed"}); err != nil {
			t.Errorf("Delete error: %v", err)
		}
	})

	t.Run("empty id list is a no-op", func(t *testing.T) {
		if err := c.Delete(ctx, nil); err != nil {
			t.Errorf("Delete error: %v", err)
		}
	})
}

func TestDeleteAll_ScopedByCollection(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	one, err := New(ctx, "", "one", WithDatabase(db))
	if err != nil {
		t.Fatalf("New one error: %v", err)
	}
	two, err := New(ctx, "", "two", WithDatabase(db))
	if err != nil {
		t.Fatalf("New two error: %v", err)
	}

	mustAdd(t, one, []Document{{Content: "Lorem ipsum dolor"}, {Content: "sit amet"}})
	mustAdd(t, two, []Document{{Content: "consectetur adipiscing"}})

	if err := one.DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll error: %v", err)
	}

	n1, err := one.Count(ctx)
	if err != nil {
		t.Fatalf("Count one error: %v", err)
	}
	n2, err := two.Count(ctx)
	if err != nil {
		t.Fatalf("Count two error: %v", err)
	}
	if n1 != 0 || n2 != 1 {
		t.Errorf("counts after DeleteAll = %d/%d, want 0/1", n1, n2)
	}
}

func TestCollectionIsolation(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	one, err := New(ctx, "", "one", WithDatabase(db))
	if err != nil {
		t.Fatalf("New one error: %v", err)
	}
	two, err := New(ctx, "", "two", WithDatabase(db))
	if err != nil {
		t.Fatalf("New two error: %v", err)
	}

	mustAdd(t, one, []Document{{Content: "Lorem ipsum dolor"}})
	mustAdd(t, two, []Document{{Content: "Lorem ipsum dolor"}, {Content: "sit amet"}})

	resp, err := one.Query(ctx, "Lorem", nil)
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("one sees %d matches, want its own 1", resp.Total)
	}

	// Close on a shared pool leaves it open for the other collection.
	if err := one.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if _, err := two.Count(ctx); err != nil {
		t.Errorf("Count after sibling close error: %v", err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)

	meta := map[string]any{"k1": "a", "n": 2.5, "flag": true}
	mustAdd(t, c, []Document{
		{ID: "doc1", Content: "Lorem ipsum dolor", Metadata: meta},
		{ID: "doc2", Content: "sit amet"},
	})

	resp, err := c.Get(ctx, &QueryOptions{OrderBy: []string{"k1"}})
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("Total = %d, want 2", resp.Total)
	}

	if !reflect.DeepEqual(resp.Results[0].Metadata, meta) {
		t.Errorf("metadata = %#v, want %#v", resp.Results[0].Metadata, meta)
	}
	if resp.Results[1].Metadata != nil {
		t.Errorf("absent metadata = %#v, want nil", resp.Results[1].Metadata)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()

	t.Run("plain collection", func(t *testing.T) {
		c := newTestCollection(t)
		mustAdd(t, c, []Document{{Content: "Lorem ipsum dolor"}})

		stats, err := c.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats error: %v", err)
		}
		want := Stats{Documents: 1, Backend: "sqlite", FTS: true, Vector: false}
		if *stats != want {
			t.Errorf("Stats = %+v, want %+v", *stats, want)
		}
	})

	t.Run("vector collection without fts", func(t *testing.T) {
		c := newTestCollection(t, WithFTS(false), WithEmbedding(constantEmbedding(3)))
		stats, err := c.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats error: %v", err)
		}
		want := Stats{Documents: 0, Backend: "sqlite", FTS: false, Vector: true}
		if *stats != want {
			t.Errorf("Stats = %+v, want %+v", *stats, want)
		}
	})
}

func TestAllDocuments(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)
	mustAdd(t, c, []Document{
		{ID: "doc1", Content: "Lorem ipsum dolor", Metadata: map[string]any{"k1": "a"}},
		{ID: "doc2", Content: "sit amet"},
	})

	t.Run("ids and metadata only", func(t *testing.T) {
		docs, err := c.AllDocuments(ctx, false)
		if err != nil {
			t.Fatalf("AllDocuments error: %v", err)
		}
		if len(docs) != 2 {
			t.Fatalf("got %d documents, want 2", len(docs))
		}
		for _, d := range docs {
			if d.Content != "" {
				t.Errorf("content of %s = %q, want empty", d.ID, d.Content)
			}
			if d.Rank != nil {
				t.Errorf("rank of %s should be nil", d.ID)
			}
		}
	})

	t.Run("with content", func(t *testing.T) {
		docs, err := c.AllDocuments(ctx, true)
		if err != nil {
			t.Fatalf("AllDocuments error: %v", err)
		}
		byID := map[string]Result{}
		for _, d := range docs {
			byID[d.ID] = d
		}
		if byID["doc1"].Content != "Lorem ipsum dolor" {
			t.Errorf("doc1 content = %q", byID["doc1"].Content)
		}
		if got := byID["doc1"].Metadata["k1"]; got != "a" {
			t.Errorf("doc1 metadata k1 = %v, want a", got)
		}
	})
}

// constantEmbedding returns an embedding function that maps every text to
// the same unit vector of the given dimension.
func constantEmbedding(dim int) EmbeddingFunc {
	return func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			vec := make([]float32, dim)
			vec[0] = 1
			out[i] = vec
		}
		return out, nil
	}
}
