package postcache

import (
	"slices"
	"strings"
	"sync"
)

// postCache holds every loaded post, sorted newest first. It stores private copies;
// callers clone on the way in and out.
type postCache struct {
	mu    sync.RWMutex
	posts []*Post
}

// replaceAll swaps in a freshly loaded set of posts.
func (c *postCache) replaceAll(posts []*Post) {
	sortPosts(posts)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = posts
}

// upsert inserts post or replaces the cached post with the same ID.
func (c *postCache) upsert(post *Post) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexOf(post.ID); i >= 0 {
		c.posts[i] = post
	} else {
		c.posts = append(c.posts, post)
	}
	sortPosts(c.posts)
}

// remove drops the post with the given ID and reports whether it was cached.
func (c *postCache) remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return false
	}
	c.posts = slices.Delete(c.posts, i, i+1)
	return true
}

// find returns a copy of the first post accepted by match.
func (c *postCache) find(match func(*Post) bool) (*Post, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.posts {
		if match(p) {
			return p.Clone(), true
		}
	}
	return nil, false
}

// filter returns copies of the posts accepted by match, skipping the first skip
// matches and returning at most count. A negative count means no limit.
func (c *postCache) filter(match func(*Post) bool, skip, count int) []*Post {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*Post, 0)
	for _, p := range c.posts {
		if count >= 0 && len(result) >= count {
			break
		}
		if !match(p) {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		result = append(result, p.Clone())
	}
	return result
}

// each calls fn for every cached post under the read lock. fn must not keep the post.
func (c *postCache) each(fn func(*Post)) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.posts {
		fn(p)
	}
}

// canonicalID returns the cached spelling of id, which lookups match ignoring case.
func (c *postCache) canonicalID(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if i := c.indexOf(id); i >= 0 {
		return c.posts[i].ID, true
	}
	return "", false
}

func (c *postCache) hasID(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexOf(id) >= 0
}

func (c *postCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.posts)
}

// indexOf must be called with the lock held.
func (c *postCache) indexOf(id string) int {
	return slices.IndexFunc(c.posts, func(p *Post) bool {
		return strings.EqualFold(p.ID, id)
	})
}

// sortPosts orders posts by descending PubDate, then ascending ID.
func sortPosts(posts []*Post) {
	slices.SortStableFunc(posts, func(a, b *Post) int {
		if c := b.PubDate.Compare(a.PubDate); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
