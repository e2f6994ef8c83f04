package sqlitestore_test

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypergopher/postcache"
	"github.com/hypergopher/postcache/backendtest"
	"github.com/hypergopher/postcache/sqlitestore"
)

func setupTestBackend(t *testing.T) *sqlitestore.Backend {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := sqlitestore.Open(context.Background(), dbPath, sqlitestore.Options{})
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})

	return store
}

func TestBackend_Contract(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) postcache.Backend {
		return setupTestBackend(t)
	})
}

func TestBackend_InitIsIdempotent(t *testing.T) {
	store := setupTestBackend(t)
	require.NoError(t, store.Init(context.Background()))
}

func TestBackend_CustomTable(t *testing.T) {
	ctx := context.Background()
	db, err := sqlitestore.NewDB(filepath.Join(t.TempDir(), "custom.db"))
	require.NoError(t, err)

	store := sqlitestore.New(db, sqlitestore.Options{TableName: "entries", URLPrefix: "blog"})
	defer store.Close()
	require.NoError(t, store.Init(ctx))

	require.NoError(t, store.SavePost(ctx, backendtest.SamplePost("custom")))
	assert.Contains(t, backendtest.ReadAll(t, store), "custom")

	locator, err := store.SaveAsset(ctx, []byte("x"), "a.png", "1")
	require.NoError(t, err)
	assert.Equal(t, "/blog/files/a_1.png", locator)

	_, err = store.SaveAsset(ctx, []byte("y"), "a.png", "1")
	assert.Error(t, err, "asset names are unique")
}

func TestBackend_MissingRecords(t *testing.T) {
	ctx := context.Background()
	store := setupTestBackend(t)

	_, err := store.OpenPostSource(ctx, "missing.xml")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = store.OpenAsset(ctx, "missing.png")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestBackend_Search(t *testing.T) {
	ctx := context.Background()
	store := setupTestBackend(t)

	posts := []*postcache.Post{
		{ID: "gophers", Title: "Gophers everywhere", Slug: "gophers", Content: "<p>Concurrency with goroutines</p>"},
		{ID: "rust", Title: "Crabs", Slug: "rust", Content: "<p>Ownership and borrowing</p>"},
		{ID: "mixed", Title: "Comparing languages", Slug: "mixed", Content: "<p>Goroutines versus async tasks</p>"},
	}
	for _, p := range posts {
		require.NoError(t, store.SavePost(ctx, p))
	}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"Single word", "goroutines", []string{"gophers", "mixed"}},
		{"Title match", "crabs", []string{"rust"}},
		{"All words required", "goroutines async", []string{"mixed"}},
		{"Syntax is quoted", `borrowing" OR "x`, []string{}},
		{"No match", "python", []string{}},
		{"Empty", "   ", []string{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ids, err := store.Search(ctx, tc.query, 10)
			require.NoError(t, err)
			assert.ElementsMatch(t, tc.want, ids)
		})
	}

	t.Run("Follows updates and deletes", func(t *testing.T) {
		posts[1].Content = "<p>Now about goroutines too</p>"
		require.NoError(t, store.SavePost(ctx, posts[1]))
		require.NoError(t, store.DeletePost(ctx, posts[0]))

		ids, err := store.Search(ctx, "goroutines", 10)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"rust", "mixed"}, ids)
	})
}

func TestBackend_AsServiceIndexer(t *testing.T) {
	ctx := context.Background()
	store := setupTestBackend(t)
	require.NoError(t, store.SavePost(ctx, backendtest.SamplePost("welcome")))

	svc, err := postcache.New(ctx, postcache.Options{
		Backend: store,
		Indexer: store,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	results, err := svc.Search(ctx, "welcome", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "welcome", results[0].ID)
}
