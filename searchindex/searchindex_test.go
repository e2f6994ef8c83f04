package searchindex_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypergopher/postcache"
	"github.com/hypergopher/postcache/searchindex"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPosts() []*postcache.Post {
	return []*postcache.Post{
		{ID: "gophers", Title: "Gophers everywhere", Slug: "gophers", Content: "<p>Concurrency with <strong>goroutines</strong></p>", Categories: []string{"Go"}},
		{ID: "crabs", Title: "Crabs", Slug: "crabs", Content: "<p>Ownership and borrowing</p>", Categories: []string{"Rust"}},
		{ID: "mixed", Title: "Comparing languages", Slug: "mixed", Excerpt: "Goroutine or task?", Content: "<p>Async tasks</p>"},
	}
}

func newMemIndex(t *testing.T) *searchindex.Index {
	t.Helper()
	idx, err := searchindex.Open(searchindex.Options{Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	for _, p := range testPosts() {
		require.NoError(t, idx.Index(p))
	}
	return idx
}

func TestIndex_Search(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"Stemmed body match", "goroutine", []string{"gophers", "mixed"}},
		{"Title", "crabs", []string{"crabs"}},
		{"Category", "rust", []string{"crabs"}},
		{"Every word required", "async goroutine", []string{"mixed"}},
		{"Markup is not indexed", "strong", []string{}},
		{"No match", "python", []string{}},
		{"Blank", "  ", []string{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ids, err := idx.Search(ctx, tc.query, 10)
			require.NoError(t, err)
			assert.ElementsMatch(t, tc.want, ids)
		})
	}

	ids, err := idx.Search(ctx, "goroutine", 1)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestIndex_UpdateAndRemove(t *testing.T) {
	idx := newMemIndex(t)
	ctx := context.Background()

	updated := testPosts()[1]
	updated.Content = "<p>Crabs learn goroutines</p>"
	require.NoError(t, idx.Index(updated))
	require.NoError(t, idx.Remove("gophers"))
	require.NoError(t, idx.Remove("never-indexed"))

	ids, err := idx.Search(ctx, "goroutine", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"crabs", "mixed"}, ids)

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestOpen_OnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.bleve")

	idx, err := searchindex.Open(searchindex.Options{Path: path, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, idx.Index(testPosts()[0]))
	require.NoError(t, idx.Close())

	idx, err = searchindex.Open(searchindex.Options{Path: path, Logger: quietLogger()})
	require.NoError(t, err)
	defer idx.Close()

	ids, err := idx.Search(context.Background(), "gophers", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"gophers"}, ids)
}

func TestIndex_WithService(t *testing.T) {
	ctx := context.Background()
	backend, err := postcache.NewLocalBackend(t.TempDir(), postcache.LocalOptions{})
	require.NoError(t, err)

	for _, p := range testPosts() {
		p.IsPublished = p.ID != "crabs"
		p.PubDate = time.Now().Add(-time.Hour)
		require.NoError(t, backend.SavePost(ctx, p))
	}

	idx, err := searchindex.Open(searchindex.Options{Logger: quietLogger()})
	require.NoError(t, err)
	defer idx.Close()

	svc, err := postcache.New(ctx, postcache.Options{Backend: backend, Indexer: idx, Logger: quietLogger()})
	require.NoError(t, err)

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count, "loading the cache fills the index")

	results, err := svc.Search(ctx, "crabs", 10)
	require.NoError(t, err)
	assert.Empty(t, results, "drafts are hidden from anonymous search")

	results, err = svc.Search(postcache.WithAdmin(ctx, true), "crabs", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "crabs", results[0].ID)
}
