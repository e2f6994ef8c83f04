package postcache

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// visibility returns the visibility filter for the caller at the current time.
func (s *Service) visibility(ctx context.Context) func(*Post) bool {
	now := s.clock()
	admin := s.isAdmin(ctx)
	return func(p *Post) bool {
		return p.IsVisible(now, admin)
	}
}

// GetPosts returns visible posts, newest first, skipping the first skip and returning
// at most count. A negative count returns every remaining post.
func (s *Service) GetPosts(ctx context.Context, count, skip int) []*Post {
	return s.cache.filter(s.visibility(ctx), max(skip, 0), count)
}

// GetPostsByCategory returns visible posts tagged with category, ignoring case.
func (s *Service) GetPostsByCategory(ctx context.Context, category string) []*Post {
	visible := s.visibility(ctx)
	return s.cache.filter(func(p *Post) bool {
		return visible(p) && p.HasCategory(category)
	}, 0, -1)
}

// GetPostBySlug returns the first visible post with the given slug, ignoring case.
func (s *Service) GetPostBySlug(ctx context.Context, slug string) (*Post, bool) {
	visible := s.visibility(ctx)
	return s.cache.find(func(p *Post) bool {
		return strings.EqualFold(p.Slug, slug) && visible(p)
	})
}

// GetPostByID returns the visible post with the given ID, ignoring case.
func (s *Service) GetPostByID(ctx context.Context, id string) (*Post, bool) {
	visible := s.visibility(ctx)
	return s.cache.find(func(p *Post) bool {
		return strings.EqualFold(p.ID, id) && visible(p)
	})
}

// GetCategories returns every distinct category of the visible posts, lower-cased and sorted.
func (s *Service) GetCategories(ctx context.Context) []string {
	visible := s.visibility(ctx)

	var categories []string
	s.cache.each(func(p *Post) {
		if visible(p) {
			categories = append(categories, p.Categories...)
		}
	})

	return uniqueLower(categories)
}

// Search runs a full-text query through the Indexer and returns the visible matches,
// best match first.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*Post, error) {
	if s.indexer == nil {
		return nil, ErrSearchDisabled
	}

	query = strings.TrimSpace(query)
	if query == "" || limit == 0 {
		return []*Post{}, nil
	}

	// Ask for every candidate; hidden posts are filtered out afterwards.
	ids, err := s.indexer.Search(ctx, query, max(s.cache.len(), 1))
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	visible := s.visibility(ctx)
	results := make([]*Post, 0, min(len(ids), max(limit, 0)))
	for _, id := range ids {
		if limit > 0 && len(results) >= limit {
			break
		}
		post, ok := s.cache.find(func(p *Post) bool {
			return p.ID == id && visible(p)
		})
		if ok {
			results = append(results, post)
		}
	}

	return results, nil
}

// uniqueLower lower-cases values and returns the distinct ones, sorted.
func uniqueLower(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		result = append(result, v)
	}

	slices.Sort(result)
	return slices.Compact(result)
}
