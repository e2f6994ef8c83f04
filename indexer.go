package postcache

import "context"

// Indexer is a full-text index kept in step with the cache. See the searchindex package.
type Indexer interface {
	// Index adds or replaces the post in the index.
	Index(post *Post) error
	// Remove drops the post with the given ID. Missing IDs are ignored.
	Remove(id string) error
	// Search returns the IDs of matching posts, best match first.
	Search(ctx context.Context, query string, limit int) ([]string, error)
}
