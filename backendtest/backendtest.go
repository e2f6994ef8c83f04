// Package backendtest checks that a postcache.Backend honours the storage contract.
// Each backend package runs it against a fresh instance.
package backendtest

import (
	"context"
	"io"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypergopher/postcache"
)

// NewBackendFunc returns an empty backend. It is called once per sub-test.
type NewBackendFunc func(t *testing.T) postcache.Backend

// Run executes the contract tests.
func Run(t *testing.T, newBackend NewBackendFunc) {
	t.Helper()

	t.Run("EmptyList", func(t *testing.T) {
		b := newBackend(t)
		sources, err := b.ListPostSources(context.Background())
		require.NoError(t, err)
		assert.Empty(t, sources)
	})

	t.Run("SaveAndRead", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		post := SamplePost("first-post")
		start := time.Now().UTC().Truncate(time.Second)

		require.NoError(t, b.SavePost(ctx, post))
		assert.False(t, post.LastModified.Before(start), "LastModified must be stamped on save")

		got := ReadAll(t, b)
		require.Len(t, got, 1)
		require.Contains(t, got, "first-post")

		loaded := got["first-post"]
		assert.Equal(t, post.Title, loaded.Title)
		assert.Equal(t, post.Slug, loaded.Slug)
		assert.Equal(t, post.Excerpt, loaded.Excerpt)
		assert.Equal(t, post.Content, loaded.Content)
		assert.Equal(t, post.IsPublished, loaded.IsPublished)
		assert.True(t, post.PubDate.Equal(loaded.PubDate))
		assert.True(t, post.LastModified.Equal(loaded.LastModified))
		assert.Equal(t, post.Categories, loaded.Categories)
		require.Len(t, loaded.Comments, 1)
		assert.Equal(t, *post.Comments[0], *loaded.Comments[0])
	})

	t.Run("SaveOverwrites", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		post := SamplePost("rewrite")

		require.NoError(t, b.SavePost(ctx, post))
		post.Title = "Rewritten"
		post.Content = "<p>second version</p>"
		require.NoError(t, b.SavePost(ctx, post))

		got := ReadAll(t, b)
		require.Len(t, got, 1)
		assert.Equal(t, "Rewritten", got["rewrite"].Title)
		assert.Equal(t, "<p>second version</p>", got["rewrite"].Content)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		keep := SamplePost("keep")
		gone := SamplePost("gone")

		require.NoError(t, b.SavePost(ctx, keep))
		require.NoError(t, b.SavePost(ctx, gone))

		require.NoError(t, b.DeletePost(ctx, gone))
		require.NoError(t, b.DeletePost(ctx, gone))

		got := ReadAll(t, b)
		assert.Len(t, got, 1)
		assert.Contains(t, got, "keep")
	})

	t.Run("SaveAsset", func(t *testing.T) {
		ctx := context.Background()
		b := newBackend(t)
		data := []byte("\x89PNG fake image bytes")

		first, err := b.SaveAsset(ctx, data, "photo.png", "")
		require.NoError(t, err)
		second, err := b.SaveAsset(ctx, data, "photo.png", "")
		require.NoError(t, err)
		assert.NotEqual(t, first, second, "generated suffixes must not collide")

		named, err := b.SaveAsset(ctx, data, "dir/diagram.svg", "v1")
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(named, "/diagram_v1.svg"), "got %s", named)

		opener, ok := b.(postcache.AssetOpener)
		if !ok {
			return
		}

		rc, err := opener.OpenAsset(ctx, path.Base(named))
		require.NoError(t, err)
		defer rc.Close()

		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, data, body)
	})

	t.Run("SaveAssetRejectsEmptyName", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.SaveAsset(context.Background(), []byte("x"), "", "1")
		assert.ErrorIs(t, err, postcache.ErrInvalidAsset)
	})
}

// SamplePost returns a post with every field set, including one comment.
func SamplePost(id string) *postcache.Post {
	return &postcache.Post{
		ID:          id,
		Title:       "Sample " + id,
		Slug:        id,
		Excerpt:     "An excerpt",
		Content:     "<p>Hello & <em>welcome</em></p>",
		IsPublished: true,
		PubDate:     time.Date(2024, 3, 14, 9, 26, 53, 0, time.UTC),
		Categories:  []string{"Go", "Blogging"},
		Comments: []*postcache.Comment{
			{
				ID:      "c1",
				Author:  "Reader",
				Email:   "reader@example.com",
				IsAdmin: false,
				Content: "Nice post",
				PubDate: time.Date(2024, 3, 15, 8, 5, 0, 0, time.UTC),
			},
		},
	}
}

// ReadAll decodes every stored post, keyed by ID.
func ReadAll(t *testing.T, b postcache.Backend) map[string]*postcache.Post {
	t.Helper()
	ctx := context.Background()

	sources, err := b.ListPostSources(ctx)
	require.NoError(t, err)

	posts := make(map[string]*postcache.Post, len(sources))
	for _, source := range sources {
		rc, err := b.OpenPostSource(ctx, source)
		require.NoError(t, err)

		post, err := postcache.DecodePost(rc, postcache.SourceID(source))
		_ = rc.Close()
		require.NoError(t, err)

		posts[post.ID] = post
	}
	return posts
}
