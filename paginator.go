package postcache

import "context"

// Paginator holds one page of visible posts and the numbers needed to link to the
// neighbouring pages.
type Paginator struct {
	TotalPages  int     `json:"totalPages"`
	CurrentPage int     `json:"currentPage"`
	NextPage    int     `json:"nextPage"`
	PrevPage    int     `json:"prevPage"`
	PageSize    int     `json:"pageSize"`
	HasNext     bool    `json:"hasNext"`
	HasPrev     bool    `json:"hasPrev"`
	HasPosts    bool    `json:"hasPosts"`
	TotalPosts  int     `json:"totalPosts"`
	Posts       []*Post `json:"posts"`
}

// NewPaginator returns a Paginator for posts, which is page currentPage of total posts.
func NewPaginator(posts []*Post, total, currentPage, pageSize int) Paginator {
	if pageSize <= 0 {
		pageSize = 1
	}

	totalPages := (total + pageSize - 1) / pageSize
	nextPage := currentPage + 1
	prevPage := currentPage - 1

	if nextPage > totalPages {
		nextPage = totalPages
	}

	if prevPage < 1 {
		prevPage = 1
	}

	return Paginator{
		TotalPages:  totalPages,
		CurrentPage: currentPage,
		NextPage:    nextPage,
		PrevPage:    prevPage,
		PageSize:    pageSize,
		HasNext:     currentPage < totalPages,
		HasPrev:     currentPage > 1,
		HasPosts:    len(posts) > 0,
		TotalPosts:  total,
		Posts:       posts,
	}
}

// GetPage returns page number page (1-based) of the visible posts, pageSize per page.
func (s *Service) GetPage(ctx context.Context, page, pageSize int) Paginator {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}

	visible := s.visibility(ctx)
	total := 0
	s.cache.each(func(p *Post) {
		if visible(p) {
			total++
		}
	})

	posts := s.GetPosts(ctx, pageSize, (page-1)*pageSize)
	return NewPaginator(posts, total, page, pageSize)
}
