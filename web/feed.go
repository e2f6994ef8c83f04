package web

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/feeds"

	"github.com/hypergopher/postcache"
)

const feedSize = 20

// handleFeed writes the RSS feed of the latest posts anonymous readers can see.
func (srv *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	siteURL := srv.siteURL(r)
	ctx := postcache.WithAdmin(r.Context(), false)
	posts := srv.service.GetPosts(ctx, feedSize, 0)

	feed := &feeds.Feed{
		Title:       srv.blog.Name,
		Link:        &feeds.Link{Href: siteURL},
		Description: srv.blog.Description,
		Author:      &feeds.Author{Name: srv.blog.Owner.Name, Email: srv.blog.Owner.Email},
	}
	if len(posts) > 0 {
		feed.Created = posts[0].PubDate
		feed.Updated = posts[0].LastModified
	}

	for _, post := range posts {
		content, err := postcache.RenderHTML(post.Content)
		if err != nil {
			srv.writeError(w, r, err)
			return
		}

		feed.Items = append(feed.Items, &feeds.Item{
			Id:          siteURL + post.Link(),
			Title:       post.Title,
			Link:        &feeds.Link{Href: siteURL + post.Link()},
			Description: post.Excerpt,
			Content:     content,
			Created:     post.PubDate,
			Updated:     post.LastModified,
		})
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	if err := feed.WriteRss(w); err != nil {
		srv.logger.Error("Failed to write RSS feed", slog.String("error", err.Error()))
	}
}
