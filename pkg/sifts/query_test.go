package sifts

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// seedLorem adds the three-phrase corpus the lexical tests match against.
func seedLorem(t *testing.T, c *Collection) {
	t.Helper()
	mustAdd(t, c, []Document{
		{ID: "doc1", Content: "Lorem ipsum dolor"},
		{ID: "doc2", Content: "sit amet"},
		{ID: "doc3", Content: "consectetur adipiscing"},
	})
}

// seedOrdered adds ten documents: i1..i9 carry k1 stepping "a".."i" and k2
// stepping c,c,c,b,b,b,a,a,a; i0 carries no metadata at all.
func seedOrdered(t *testing.T, c *Collection) {
	t.Helper()
	k2 := []string{"c", "c", "c", "b", "b", "b", "a", "a", "a"}
	docs := make([]Document, 0, 10)
	for i := 1; i <= 9; i++ {
		docs = append(docs, Document{
			ID:      fmt.Sprintf("i%d", i),
			Content: fmt.Sprintf("Lorem ipsum %d", i),
			Metadata: map[string]any{
				"k1": string(rune('a' + i - 1)),
				"k2": k2[i-1],
			},
		})
	}
	docs = append(docs, Document{ID: "i0", Content: "Lorem ipsum 0"})
	mustAdd(t, c, docs)
}

func resultIDs(resp *QueryResponse) []string {
	ids := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.ID
	}
	return ids
}

func wantIDs(t *testing.T, resp *QueryResponse, want ...string) {
	t.Helper()
	got := resultIDs(resp)
	if len(got) != len(want) {
		t.Fatalf("got ids %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got ids %v, want %v", got, want)
		}
	}
}

func TestQuery_Wildcard(t *testing.T) {
	c := newTestCollection(t)
	seedLorem(t, c)

	resp, err := c.Query(context.Background(), "am*", nil)
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if resp.Total != 1 {
		t.Fatalf("Total = %d, want 1", resp.Total)
	}
	if resp.Results[0].Content != "sit amet" {
		t.Errorf("content = %q, want %q", resp.Results[0].Content, "sit amet")
	}
	if resp.Results[0].Rank == nil {
		t.Error("search results should carry a rank")
	}
}

func TestQuery_Operators(t *testing.T) {
	c := newTestCollection(t)
	seedLorem(t, c)
	ctx := context.Background()

	t.Run("or matches either phrase", func(t *testing.T) {
		resp, err := c.Query(ctx, "Lorem or amet", nil)
		if err != nil {
			t.Fatalf("Query error: %v", err)
		}
		if resp.Total != 2 {
			t.Errorf("Total = %d, want 2", resp.Total)
		}
	})

	t.Run("and requires both words", func(t *testing.T) {
		resp, err := c.Query(ctx, "Lorem and ipsum", nil)
		if err != nil {
			t.Fatalf("Query error: %v", err)
		}
		if resp.Total != 1 {
			t.Errorf("Total = %d, want 1", resp.Total)
		}

		resp, err = c.Query(ctx, "Lorem and amet", nil)
		if err != nil {
			t.Fatalf("Query error: %v", err)
		}
		if resp.Total != 0 {
			t.Errorf("Total = %d, want 0", resp.Total)
		}
	})
}

func TestQuery_OrderByAndPagination(t *testing.T) {
	c := newTestCollection(t)
	seedOrdered(t, c)
	ctx := context.Background()

	t.Run("middle page", func(t *testing.T) {
		resp, err := c.Query(ctx, "Lorem", &QueryOptions{OrderBy: []string{"k1"}, Limit: 3, Offset: 3})
		if err != nil {
			t.Fatalf("Query error: %v", err)
		}
		if resp.Total != 10 {
			t.Errorf("Total = %d, want 10", resp.Total)
		}
		wantIDs(t, resp, "i4", "i5", "i6")
	})

	t.Run("short last page", func(t *testing.T) {
		resp, err := c.Query(ctx, "Lorem", &QueryOptions{OrderBy: []string{"k1"}, Limit: 3, Offset: 8})
		if err != nil {
			t.Fatalf("Query error: %v", err)
		}
		if resp.Total != 10 {
			t.Errorf("Total = %d, want 10", resp.Total)
		}
		wantIDs(t, resp, "i9", "i0")
	})
}

func TestGet_OrderBy(t *testing.T) {
	c := newTestCollection(t)
	seedOrdered(t, c)
	ctx := context.Background()

	cases := []struct {
		name    string
		orderBy []string
		want    []string
	}{
		{"ascending puts missing keys last", []string{"k1"},
			[]string{"i1", "i2", "i3", "i4", "i5", "i6", "i7", "i8", "i9", "i0"}},
		{"explicit plus prefix", []string{"+k1"},
			[]string{"i1", "i2", "i3", "i4", "i5", "i6", "i7", "i8", "i9", "i0"}},
		{"descending puts missing keys first", []string{"-k1"},
			[]string{"i0", "i9", "i8", "i7", "i6", "i5", "i4", "i3", "i2", "i1"}},
		{"two keys", []string{"k2", "k1"},
			[]string{"i7", "i8", "i9", "i4", "i5", "i6", "i1", "i2", "i3", "i0"}},
		{"mixed directions", []string{"k2", "-k1"},
			[]string{"i9", "i8", "i7", "i6", "i5", "i4", "i3", "i2", "i1", "i0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := c.Get(ctx, &QueryOptions{OrderBy: tc.orderBy})
			if err != nil {
				t.Fatalf("Get error: %v", err)
			}
			wantIDs(t, resp, tc.want...)
		})
	}
}

func TestGet_Where(t *testing.T) {
	c := newTestCollection(t)
	seedOrdered(t, c)
	ctx := context.Background()

	count := func(t *testing.T, where map[string]any) int {
		t.Helper()
		resp, err := c.Get(ctx, &QueryOptions{Where: where})
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		return resp.Total
	}

	t.Run("scalar equality", func(t *testing.T) {
		if n := count(t, map[string]any{"k2": "a"}); n != 3 {
			t.Errorf("Total = %d, want 3", n)
		}
	})

	t.Run("comparison operators", func(t *testing.T) {
		if n := count(t, map[string]any{"k2": map[string]any{"$gt": "a"}}); n != 6 {
			t.Errorf("$gt Total = %d, want 6", n)
		}
		if n := count(t, map[string]any{"k2": map[string]any{"$gte": "b"}}); n != 6 {
			t.Errorf("$gte Total = %d, want 6", n)
		}
		if n := count(t, map[string]any{"k2": map[string]any{"$lt": "b"}}); n != 3 {
			t.Errorf("$lt Total = %d, want 3", n)
		}
		if n := count(t, map[string]any{"k2": map[string]any{"$lte": "a"}}); n != 3 {
			t.Errorf("$lte Total = %d, want 3", n)
		}
		if n := count(t, map[string]any{"k2": map[string]any{"$eq": "b"}}); n != 3 {
			t.Errorf("$eq Total = %d, want 3", n)
		}
	})

	t.Run("two operators on one key conjoin", func(t *testing.T) {
		where := map[string]any{"k2": map[string]any{"$gt": "a", "$lte": "b"}}
		if n := count(t, where); n != 3 {
			t.Errorf("Total = %d, want 3", n)
		}
	})

	t.Run("two keys conjoin", func(t *testing.T) {
		where := map[string]any{"k2": "b", "k1": map[string]any{"$gte": "e"}}
		if n := count(t, where); n != 2 {
			t.Errorf("Total = %d, want 2", n)
		}
	})

	t.Run("in list", func(t *testing.T) {
		resp, err := c.Get(ctx, &QueryOptions{
			Where: map[string]any{"k1": map[string]any{"$in": []string{"a", "b", "c", "d"}}},
		})
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if resp.Total != 4 {
			t.Errorf("Total = %d, want 4", resp.Total)
		}
		wantIDs(t, resp, "i1", "i2", "i3", "i4")
	})

	t.Run("not in list skips missing keys too", func(t *testing.T) {
		resp, err := c.Get(ctx, &QueryOptions{
			Where: map[string]any{"k1": map[string]any{"$nin": []string{"a", "b", "c", "d"}}},
		})
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		// i0 has no k1, so NOT IN does not admit it.
		if resp.Total != 5 {
			t.Errorf("Total = %d, want 5", resp.Total)
		}
		wantIDs(t, resp, "i5", "i6", "i7", "i8", "i9")
	})

	t.Run("empty in matches nothing", func(t *testing.T) {
		if n := count(t, map[string]any{"k1": map[string]any{"$in": []string{}}}); n != 0 {
			t.Errorf("Total = %d, want 0", n)
		}
	})

	t.Run("empty nin matches everything", func(t *testing.T) {
		if n := count(t, map[string]any{"k1": map[string]any{"$nin": []string{}}}); n != 10 {
			t.Errorf("Total = %d, want 10", n)
		}
	})
}

func TestGet_WhereNumeric(t *testing.T) {
	c := newTestCollection(t)
	docs := make([]Document, 9)
	for i := range docs {
		docs[i] = Document{
			ID:       fmt.Sprintf("n%d", i+1),
			Content:  "Lorem ipsum",
			Metadata: map[string]any{"k": i/3 + 1}, // 1,1,1,2,2,2,3,3,3
		}
	}
	mustAdd(t, c, docs)
	ctx := context.Background()

	resp, err := c.Get(ctx, &QueryOptions{Where: map[string]any{"k": 2}})
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if resp.Total != 3 {
		t.Errorf("equality Total = %d, want 3", resp.Total)
	}

	resp, err = c.Get(ctx, &QueryOptions{Where: map[string]any{"k": map[string]any{"$gte": 2}}})
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if resp.Total != 6 {
		t.Errorf("$gte Total = %d, want 6", resp.Total)
	}

	resp, err = c.Get(ctx, &QueryOptions{Where: map[string]any{"k": map[string]any{"$in": []int{1, 3}}}})
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if resp.Total != 6 {
		t.Errorf("$in Total = %d, want 6", resp.Total)
	}
}

func TestGet_WhereInvalid(t *testing.T) {
	c := newTestCollection(t)
	seedOrdered(t, c)
	ctx := context.Background()

	t.Run("unknown operator", func(t *testing.T) {
		_, err := c.Get(ctx, &QueryOptions{
			Where: map[string]any{"k1": map[string]any{"in": []string{"a"}}},
		})
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("list without operator", func(t *testing.T) {
		_, err := c.Get(ctx, &QueryOptions{Where: map[string]any{"k1": []string{"a"}}})
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("unsupported value type", func(t *testing.T) {
		_, err := c.Get(ctx, &QueryOptions{
			Where: map[string]any{"k1": map[string]any{"$gt": true}},
		})
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("in without a list", func(t *testing.T) {
		_, err := c.Get(ctx, &QueryOptions{
			Where: map[string]any{"k1": map[string]any{"$in": "a"}},
		})
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestQuery_EmptyTextIsPlainRetrieval(t *testing.T) {
	c := newTestCollection(t)
	seedLorem(t, c)
	ctx := context.Background()

	for _, query := range []string{"", "   "} {
		resp, err := c.Query(ctx, query, nil)
		if err != nil {
			t.Fatalf("Query(%q) error: %v", query, err)
		}
		if resp.Total != 3 {
			t.Errorf("Query(%q) Total = %d, want 3", query, resp.Total)
		}
		for _, r := range resp.Results {
			if r.Rank != nil {
				t.Errorf("plain retrieval of %s should carry no rank", r.ID)
			}
		}
	}
}

func TestQuery_FTSDisabled(t *testing.T) {
	c := newTestCollection(t, WithFTS(false))
	mustAdd(t, c, []Document{{ID: "doc1", Content: "Lorem ipsum dolor"}})
	ctx := context.Background()

	t.Run("text query is rejected", func(t *testing.T) {
		_, err := c.Query(ctx, "Lorem", nil)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("plain retrieval still works", func(t *testing.T) {
		resp, err := c.Get(ctx, nil)
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if resp.Total != 1 {
			t.Errorf("Total = %d, want 1", resp.Total)
		}
	})
}

func TestQuery_RetrievalErrorsDegradeToEmpty(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed match expression", func(t *testing.T) {
		c := newTestCollection(t)
		seedLorem(t, c)

		resp, err := c.Query(ctx, `"unterminated`, nil)
		if err != nil {
			t.Fatalf("Query error: %v", err)
		}
		if resp.Total != 0 || len(resp.Results) != 0 {
			t.Errorf("got %+v, want empty response", resp)
		}
	})

	t.Run("closed database", func(t *testing.T) {
		c := newTestCollection(t)
		seedLorem(t, c)
		if err := c.Close(); err != nil {
			t.Fatalf("Close error: %v", err)
		}

		resp, err := c.Query(ctx, "Lorem", nil)
		if err != nil {
			t.Fatalf("Query error: %v", err)
		}
		if resp.Total != 0 || len(resp.Results) != 0 {
			t.Errorf("got %+v, want empty response", resp)
		}
	})
}

func TestQuery_VectorPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("requires an embedding function", func(t *testing.T) {
		c := newTestCollection(t)
		_, err := c.Query(ctx, "Lorem", &QueryOptions{VectorSearch: true})
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("rejects order_by", func(t *testing.T) {
		c := newTestCollection(t, WithEmbedding(constantEmbedding(3)))
		_, err := c.Query(ctx, "Lorem", &QueryOptions{VectorSearch: true, OrderBy: []string{"k1"}})
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestQuery_EnvelopeLaw(t *testing.T) {
	c := newTestCollection(t)
	seedOrdered(t, c)
	ctx := context.Background()

	for _, limit := range []int{1, 3, 5, 20} {
		for _, offset := range []int{0, 3, 9, 12} {
			resp, err := c.Get(ctx, &QueryOptions{Limit: limit, Offset: offset, OrderBy: []string{"k1"}})
			if err != nil {
				t.Fatalf("Get(limit=%d offset=%d) error: %v", limit, offset, err)
			}

			remaining := 10 - offset
			if remaining < 0 {
				remaining = 0
			}
			wantLen := limit
			if remaining < wantLen {
				wantLen = remaining
			}
			if len(resp.Results) != wantLen {
				t.Errorf("limit=%d offset=%d: len = %d, want %d", limit, offset, len(resp.Results), wantLen)
			}

			wantTotal := 10
			if wantLen == 0 {
				wantTotal = 0 // an empty page reports no matches
			}
			if resp.Total != wantTotal {
				t.Errorf("limit=%d offset=%d: Total = %d, want %d", limit, offset, resp.Total, wantTotal)
			}
		}
	}
}

func TestQuery_WhereWithSearch(t *testing.T) {
	c := newTestCollection(t)
	seedOrdered(t, c)

	resp, err := c.Query(context.Background(), "Lorem", &QueryOptions{Where: map[string]any{"k2": "a"}})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if resp.Total != 3 {
		t.Errorf("Total = %d, want 3", resp.Total)
	}
}
