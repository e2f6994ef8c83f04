package postcache_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypergopher/postcache"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedPost describes a post written to storage before the service starts.
type seedPost struct {
	id         string
	published  bool
	age        time.Duration
	categories []string
}

func seed(t *testing.T, b postcache.Backend, posts ...seedPost) {
	t.Helper()
	for _, sp := range posts {
		p := &postcache.Post{
			ID:          sp.id,
			Title:       "Title " + sp.id,
			Slug:        sp.id,
			Content:     "<p>body of " + sp.id + "</p>",
			IsPublished: sp.published,
			PubDate:     testNow.Add(-sp.age),
			Categories:  sp.categories,
		}
		require.NoError(t, b.SavePost(context.Background(), p))
	}
}

func newService(t *testing.T, b postcache.Backend, mutate ...func(*postcache.Options)) *postcache.Service {
	t.Helper()
	opts := postcache.Options{
		Backend: b,
		Clock:   fixedClock,
		Logger:  quietLogger(),
	}
	for _, m := range mutate {
		m(&opts)
	}

	svc, err := postcache.New(context.Background(), opts)
	require.NoError(t, err)
	return svc
}

func ids(posts []*postcache.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

var admin = postcache.WithAdmin(context.Background(), true)
var anonymous = context.Background()

func standardSeed(t *testing.T) *postcache.LocalBackend {
	b := newLocalBackend(t)
	seed(t, b,
		seedPost{id: "old", published: true, age: 72 * time.Hour, categories: []string{"Go"}},
		seedPost{id: "new", published: true, age: time.Hour, categories: []string{"go", "Cloud"}},
		seedPost{id: "draft", published: false, age: 2 * time.Hour, categories: []string{"Secret"}},
		seedPost{id: "future", published: true, age: -24 * time.Hour, categories: []string{"Tomorrow"}},
		seedPost{id: "tie-b", published: true, age: 48 * time.Hour},
		seedPost{id: "tie-a", published: true, age: 48 * time.Hour},
	)
	return b
}

func TestService_LoadAndOrder(t *testing.T) {
	svc := newService(t, standardSeed(t))

	assert.Equal(t, 6, svc.Count())
	report := svc.LoadReport()
	assert.Equal(t, 6, report.Loaded)
	assert.Empty(t, report.Failures)

	assert.Equal(t, []string{"new", "tie-a", "tie-b", "old"}, ids(svc.GetPosts(anonymous, -1, 0)))
	assert.Equal(t, []string{"new", "draft", "tie-a", "tie-b", "old"}, ids(svc.GetPosts(admin, -1, 0)))
}

func TestService_GetPostsSkipTake(t *testing.T) {
	svc := newService(t, standardSeed(t))

	tests := []struct {
		count, skip int
		want        []string
	}{
		{2, 0, []string{"new", "tie-a"}},
		{2, 2, []string{"tie-b", "old"}},
		{10, 3, []string{"old"}},
		{5, 10, []string{}},
		{0, 0, []string{}},
		{1, -3, []string{"new"}},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprintf("count=%d,skip=%d", tc.count, tc.skip), func(t *testing.T) {
			assert.Equal(t, tc.want, ids(svc.GetPosts(anonymous, tc.count, tc.skip)))
		})
	}
}

func TestService_VisibilityOnEveryRead(t *testing.T) {
	svc := newService(t, standardSeed(t))

	t.Run("BySlug", func(t *testing.T) {
		_, ok := svc.GetPostBySlug(anonymous, "draft")
		assert.False(t, ok)
		_, ok = svc.GetPostBySlug(admin, "DRAFT")
		assert.True(t, ok)
		_, ok = svc.GetPostBySlug(admin, "future")
		assert.False(t, ok, "future posts are hidden even from admins")
	})

	t.Run("ByID", func(t *testing.T) {
		_, ok := svc.GetPostByID(anonymous, "draft")
		assert.False(t, ok)
		p, ok := svc.GetPostByID(admin, "Draft")
		require.True(t, ok)
		assert.Equal(t, "draft", p.ID)
		_, ok = svc.GetPostByID(anonymous, "missing")
		assert.False(t, ok)
	})

	t.Run("ByCategory", func(t *testing.T) {
		assert.Equal(t, []string{"new", "old"}, ids(svc.GetPostsByCategory(anonymous, "GO")))
		assert.Empty(t, svc.GetPostsByCategory(anonymous, "secret"))
		assert.Equal(t, []string{"draft"}, ids(svc.GetPostsByCategory(admin, "secret")))
		assert.Empty(t, svc.GetPostsByCategory(admin, "tomorrow"))
	})

	t.Run("Categories", func(t *testing.T) {
		assert.Equal(t, []string{"cloud", "go"}, svc.GetCategories(anonymous))
		assert.Equal(t, []string{"cloud", "go", "secret"}, svc.GetCategories(admin))
	})
}

func TestService_InjectedAdminCheck(t *testing.T) {
	svc := newService(t, standardSeed(t), func(o *postcache.Options) {
		o.IsAdmin = func(context.Context) bool { return true }
	})

	_, ok := svc.GetPostBySlug(context.Background(), "draft")
	assert.True(t, ok)
}

func TestService_SaveAndDelete(t *testing.T) {
	ctx := admin
	b := newLocalBackend(t)
	svc := newService(t, b)

	post := postcache.NewPost("Brand New Post")
	post.PubDate = testNow.Add(-time.Minute)
	post.Categories = []string{"Go"}
	require.NoError(t, svc.SavePost(ctx, post))
	assert.Equal(t, "brand-new-post", post.ID)
	assert.False(t, post.LastModified.IsZero())

	got, ok := svc.GetPostBySlug(anonymous, "brand-new-post")
	require.True(t, ok)
	assert.Equal(t, "Brand New Post", got.Title)

	_, err := os.Stat(filepath.Join(b.Dir(), "brand-new-post.xml"))
	require.NoError(t, err)

	require.NoError(t, svc.DeletePost(ctx, post))
	_, ok = svc.GetPostByID(admin, post.ID)
	assert.False(t, ok)
	assert.Empty(t, svc.GetPosts(admin, -1, 0))

	_, err = os.Stat(filepath.Join(b.Dir(), "brand-new-post.xml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, svc.DeletePost(ctx, post), "second delete is a no-op")
	assert.Equal(t, 0, svc.Count())
}

func TestService_CaseVariantIDsReachStorage(t *testing.T) {
	b := newLocalBackend(t)
	svc := newService(t, b)

	post := postcache.NewPost("Hello")
	post.PubDate = testNow.Add(-time.Minute)
	require.NoError(t, svc.SavePost(admin, post))

	edit := post.Clone()
	edit.ID = "HELLO"
	edit.Title = "Hello again"
	require.NoError(t, svc.SavePost(admin, edit))
	assert.Equal(t, "hello", edit.ID, "the cached spelling wins")

	entries, err := os.ReadDir(b.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello.xml", entries[0].Name())

	reloaded := newService(t, b)
	got, ok := reloaded.GetPostByID(admin, "hello")
	require.True(t, ok)
	assert.Equal(t, "Hello again", got.Title)

	require.NoError(t, svc.DeletePost(admin, &postcache.Post{ID: "HELLO"}))
	assert.Equal(t, 0, svc.Count())

	reloaded = newService(t, b)
	assert.Equal(t, 0, reloaded.Count(), "the stored document is gone too")
}

func TestService_PubDateMatchesStorage(t *testing.T) {
	b := newLocalBackend(t)
	svc := newService(t, b)

	post := postcache.NewPost("Half second")
	post.PubDate = time.Date(2024, 1, 1, 10, 0, 0, 500_000_000, time.FixedZone("CET", 3600))
	require.NoError(t, svc.SavePost(admin, post))

	want := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, want, post.PubDate)

	cached, ok := svc.GetPostByID(admin, post.ID)
	require.True(t, ok)

	stored, ok := newService(t, b).GetPostByID(admin, post.ID)
	require.True(t, ok)
	assert.Equal(t, cached.PubDate, stored.PubDate)
	assert.Equal(t, want, stored.PubDate)
}

func TestService_SaveReplacesAndResorts(t *testing.T) {
	svc := newService(t, standardSeed(t))

	old, ok := svc.GetPostByID(admin, "old")
	require.True(t, ok)
	old.Title = "Old but bumped"
	old.PubDate = testNow.Add(-time.Minute)
	require.NoError(t, svc.SavePost(admin, old))

	assert.Equal(t, 6, svc.Count(), "saving an existing ID replaces it")
	posts := svc.GetPosts(anonymous, -1, 0)
	require.NotEmpty(t, posts)
	assert.Equal(t, "old", posts[0].ID)
	assert.Equal(t, "Old but bumped", posts[0].Title)
}

func TestService_CacheIsolation(t *testing.T) {
	svc := newService(t, standardSeed(t))

	got, ok := svc.GetPostByID(anonymous, "new")
	require.True(t, ok)
	got.Title = "mutated"
	got.Categories[0] = "mutated"

	again, _ := svc.GetPostByID(anonymous, "new")
	assert.Equal(t, "Title new", again.Title)
	assert.Equal(t, "go", again.Categories[0])

	post := postcache.NewPost("Caller owned")
	post.PubDate = testNow.Add(-time.Minute)
	require.NoError(t, svc.SavePost(admin, post))
	post.Title = "changed after save"

	cached, ok := svc.GetPostByID(anonymous, post.ID)
	require.True(t, ok)
	assert.Equal(t, "Caller owned", cached.Title)
}

func TestService_IDCollision(t *testing.T) {
	svc := newService(t, newLocalBackend(t))

	for i := 0; i < 3; i++ {
		p := &postcache.Post{Title: "Same Title", IsPublished: true, PubDate: testNow.Add(-time.Hour)}
		require.NoError(t, svc.SavePost(admin, p))
	}

	assert.ElementsMatch(t, []string{"same-title", "same-title-2", "same-title-3"}, ids(svc.GetPosts(admin, -1, 0)))
}

func TestService_SaveAssignsSlugAndDate(t *testing.T) {
	svc := newService(t, newLocalBackend(t))

	p := &postcache.Post{Title: "Slug From Title", Slug: "  Custom Slug  ", IsPublished: true}
	require.NoError(t, svc.SavePost(admin, p))
	assert.Equal(t, "custom-slug", p.Slug)
	assert.Equal(t, testNow, p.PubDate)

	_, ok := svc.GetPostBySlug(anonymous, "custom-slug")
	assert.True(t, ok)
}

func TestService_SaveRejectsInvalid(t *testing.T) {
	svc := newService(t, newLocalBackend(t))

	err := svc.SavePost(admin, &postcache.Post{Title: ""})
	assert.ErrorIs(t, err, postcache.ErrInvalidPost)

	err = svc.SavePost(admin, nil)
	assert.ErrorIs(t, err, postcache.ErrInvalidPost)

	assert.Equal(t, 0, svc.Count())
}

// failingBackend wraps a backend and fails writes on demand.
type failingBackend struct {
	postcache.Backend
	fail bool
}

var errDiskFull = errors.New("disk full")

func (f *failingBackend) SavePost(ctx context.Context, p *postcache.Post) error {
	if f.fail {
		return errDiskFull
	}
	return f.Backend.SavePost(ctx, p)
}

func (f *failingBackend) DeletePost(ctx context.Context, p *postcache.Post) error {
	if f.fail {
		return errDiskFull
	}
	return f.Backend.DeletePost(ctx, p)
}

func TestService_FailedWriteLeavesCache(t *testing.T) {
	b := &failingBackend{Backend: standardSeed(t)}
	svc := newService(t, b)
	b.fail = true

	post := postcache.NewPost("Never stored")
	err := svc.SavePost(admin, post)
	assert.ErrorIs(t, err, errDiskFull)
	_, ok := svc.GetPostByID(admin, "never-stored")
	assert.False(t, ok)

	existing, ok := svc.GetPostByID(admin, "old")
	require.True(t, ok)
	existing.Title = "not saved"
	assert.ErrorIs(t, svc.SavePost(admin, existing), errDiskFull)
	cached, _ := svc.GetPostByID(admin, "old")
	assert.Equal(t, "Title old", cached.Title)

	assert.ErrorIs(t, svc.DeletePost(admin, existing), errDiskFull)
	assert.Equal(t, 6, svc.Count())
}

func TestService_LoadIsolatesBadRecords(t *testing.T) {
	b := standardSeed(t)
	require.NoError(t, os.WriteFile(filepath.Join(b.Dir(), "broken.xml"), []byte("<post><title>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b.Dir(), "bad-date.xml"),
		[]byte("<post><title>x</title><slug>x</slug><pubDate>someday</pubDate></post>"), 0o644))

	svc := newService(t, b)

	assert.Equal(t, 6, svc.Count())
	report := svc.LoadReport()
	assert.Equal(t, 6, report.Loaded)
	require.Len(t, report.Failures, 2)
	for _, f := range report.Failures {
		assert.ErrorIs(t, f.Err, postcache.ErrMalformedPost)
	}
}

// brokenLister fails to list its sources.
type brokenLister struct{ postcache.Backend }

func (brokenLister) ListPostSources(context.Context) ([]string, error) {
	return nil, errors.New("permission denied")
}

func TestService_ListFailureIsFatal(t *testing.T) {
	_, err := postcache.New(context.Background(), postcache.Options{
		Backend: brokenLister{newLocalBackend(t)},
		Logger:  quietLogger(),
	})
	assert.ErrorContains(t, err, "permission denied")

	_, err = postcache.New(context.Background(), postcache.Options{})
	assert.Error(t, err)
}

func TestService_Reload(t *testing.T) {
	b := standardSeed(t)
	svc := newService(t, b)

	require.NoError(t, os.Remove(filepath.Join(b.Dir(), "old.xml")))
	seed(t, b, seedPost{id: "external", published: true, age: time.Minute})

	report, err := svc.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, report.Loaded)

	_, ok := svc.GetPostByID(anonymous, "old")
	assert.False(t, ok)
	_, ok = svc.GetPostByID(anonymous, "external")
	assert.True(t, ok)
}

func TestService_Comments(t *testing.T) {
	b := standardSeed(t)
	svc := newService(t, b, func(o *postcache.Options) { o.CommentsCloseAfterDays = 2 })

	t.Run("Add", func(t *testing.T) {
		c, err := svc.AddComment(anonymous, "new", &postcache.Comment{Author: "Ann", Email: "ann@example.com", Content: "Hello"})
		require.NoError(t, err)
		assert.NotEmpty(t, c.ID)
		assert.Equal(t, testNow, c.PubDate)
		assert.False(t, c.IsAdmin)

		post, _ := svc.GetPostByID(anonymous, "new")
		require.Len(t, post.Comments, 1)
		assert.Equal(t, c.ID, post.Comments[0].ID)

		stored := readStored(t, b, "new")
		require.Len(t, stored.Comments, 1)
		assert.Equal(t, "Hello", stored.Comments[0].Content)
	})

	t.Run("AdminFlag", func(t *testing.T) {
		c, err := svc.AddComment(admin, "new", &postcache.Comment{Author: "Owner", Content: "Reply"})
		require.NoError(t, err)
		assert.True(t, c.IsAdmin)
	})

	t.Run("Closed", func(t *testing.T) {
		_, err := svc.AddComment(anonymous, "old", &postcache.Comment{Author: "Late", Content: "Too late"})
		assert.ErrorIs(t, err, postcache.ErrCommentsClosed)
	})

	t.Run("HiddenPost", func(t *testing.T) {
		_, err := svc.AddComment(anonymous, "draft", &postcache.Comment{Author: "Ann", Content: "Hi"})
		assert.ErrorIs(t, err, postcache.ErrPostNotFound)
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := svc.AddComment(anonymous, "new", &postcache.Comment{Author: "", Content: "Hi"})
		assert.ErrorIs(t, err, postcache.ErrInvalidComment)
	})

	t.Run("Delete", func(t *testing.T) {
		post, _ := svc.GetPostByID(anonymous, "new")
		require.NotEmpty(t, post.Comments)
		target := post.Comments[0].ID

		require.NoError(t, svc.DeleteComment(admin, "new", target))
		assert.ErrorIs(t, svc.DeleteComment(admin, "new", target), postcache.ErrCommentNotFound)
		assert.ErrorIs(t, svc.DeleteComment(admin, "missing", target), postcache.ErrPostNotFound)

		post, _ = svc.GetPostByID(anonymous, "new")
		for _, c := range post.Comments {
			assert.NotEqual(t, target, c.ID)
		}
	})
}

func readStored(t *testing.T, b *postcache.LocalBackend, id string) *postcache.Post {
	t.Helper()
	f, err := os.Open(filepath.Join(b.Dir(), id+".xml"))
	require.NoError(t, err)
	defer f.Close()

	post, err := postcache.DecodePost(f, id)
	require.NoError(t, err)
	return post
}

// substringIndexer is a naive Indexer matching on title and content.
type substringIndexer struct {
	mu    sync.Mutex
	posts map[string]string
	order []string
}

func (s *substringIndexer) Index(p *postcache.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.posts == nil {
		s.posts = map[string]string{}
	}
	if _, ok := s.posts[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.posts[p.ID] = strings.ToLower(p.Title + " " + p.Content)
	return nil
}

func (s *substringIndexer) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.posts, id)
	return nil
}

func (s *substringIndexer) Search(_ context.Context, query string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range s.order {
		text, ok := s.posts[id]
		if ok && strings.Contains(text, strings.ToLower(query)) && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

func TestService_Search(t *testing.T) {
	disabled := newService(t, standardSeed(t))
	_, err := disabled.Search(anonymous, "body", 10)
	assert.ErrorIs(t, err, postcache.ErrSearchDisabled)

	idx := &substringIndexer{}
	svc := newService(t, standardSeed(t), func(o *postcache.Options) { o.Indexer = idx })

	results, err := svc.Search(anonymous, "body", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"old", "new", "tie-a", "tie-b"}, ids(results), "hidden posts are filtered")

	results, err = svc.Search(admin, "body of draft", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"draft"}, ids(results))

	results, err = svc.Search(anonymous, "body", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	post, _ := svc.GetPostByID(anonymous, "new")
	require.NoError(t, svc.DeletePost(admin, post))
	results, err = svc.Search(anonymous, "body of new", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestService_ConcurrentReadsAndWrites(t *testing.T) {
	svc := newService(t, standardSeed(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			p := &postcache.Post{Title: fmt.Sprintf("Concurrent %d", i), IsPublished: true, PubDate: testNow.Add(-time.Duration(i) * time.Minute)}
			assert.NoError(t, svc.SavePost(admin, p))
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = svc.GetPosts(anonymous, 5, 0)
				_ = svc.GetCategories(anonymous)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 14, svc.Count())
}
