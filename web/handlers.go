package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/hypergopher/postcache"
)

const (
	maxBodySize    = 1 << 20
	maxUploadSize  = 32 << 20
	defaultResults = 20
)

// postView is a post as returned by the API.
type postView struct {
	*postcache.Post
	Link        string `json:"link"`
	HTML        string `json:"html"`
	ReadingTime string `json:"readingTime"`
}

type pageView struct {
	postcache.Paginator
	Posts []postView `json:"posts"`
}

// postInput is the body accepted when creating or updating a post.
type postInput struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Slug        string     `json:"slug"`
	Excerpt     string     `json:"excerpt"`
	Content     string     `json:"content"`
	IsPublished *bool      `json:"isPublished"`
	PubDate     *time.Time `json:"pubDate"`
	Categories  []string   `json:"categories" validate:"dive,required"`
}

type commentInput struct {
	Author  string `json:"author"`
	Email   string `json:"email"`
	Content string `json:"content"`
}

type loginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// view renders a post for the response. Reader emails are only shown to the admin.
func (srv *Server) view(r *http.Request, post *postcache.Post) (postView, error) {
	if !postcache.IsAdminContext(r.Context()) {
		for _, c := range post.Comments {
			c.Email = ""
		}
	}

	html, err := postcache.RenderHTML(post.Content)
	if err != nil {
		return postView{}, err
	}
	return postView{
		Post:        post,
		Link:        post.Link(),
		HTML:        html,
		ReadingTime: postcache.EstimateReadingTime(post.Content),
	}, nil
}

func (srv *Server) views(r *http.Request, posts []*postcache.Post) ([]postView, error) {
	views := make([]postView, 0, len(posts))
	for _, p := range posts {
		v, err := srv.view(r, p)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (srv *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		srv.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := srv.validate.Struct(dst); err != nil {
		srv.writeJSONError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (srv *Server) handleBlog(w http.ResponseWriter, r *http.Request) {
	srv.writeJSON(w, http.StatusOK, map[string]any{
		"name":         srv.blog.Name,
		"description":  srv.blog.Description,
		"owner":        srv.blog.Owner,
		"postsPerPage": srv.blog.PostsPerPage,
		"url":          srv.siteURL(r),
	})
}

func (srv *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			srv.writeJSONError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		page = n
	}

	paginator := srv.service.GetPage(r.Context(), page, srv.blog.PostsPerPage)
	posts, err := srv.views(r, paginator.Posts)
	if err != nil {
		srv.writeError(w, r, err)
		return
	}

	srv.writeJSON(w, http.StatusOK, pageView{Paginator: paginator, Posts: posts})
}

func (srv *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, ok := srv.service.GetPostBySlug(r.Context(), mux.Vars(r)["slug"])
	if !ok {
		srv.writeError(w, r, postcache.ErrPostNotFound)
		return
	}

	admin := postcache.IsAdminContext(r.Context())
	etag := `"` + postcache.GenerateETag(post.ID+post.LastModified.String()+strconv.Itoa(len(post.Comments))+strconv.FormatBool(admin)) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Vary", "Cookie")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	v, err := srv.view(r, post)
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, v)
}

func (srv *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	srv.writeJSON(w, http.StatusOK, srv.service.GetCategories(r.Context()))
}

func (srv *Server) handleCategoryPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := srv.views(r, srv.service.GetPostsByCategory(r.Context(), mux.Vars(r)["category"]))
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, posts)
}

func (srv *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit := defaultResults
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			srv.writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	results, err := srv.service.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		srv.writeError(w, r, err)
		return
	}

	posts, err := srv.views(r, results)
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, posts)
}

func (in postInput) apply(post *postcache.Post) {
	post.Title = in.Title
	post.Slug = in.Slug
	post.Excerpt = in.Excerpt
	post.Content = in.Content
	if in.IsPublished != nil {
		post.IsPublished = *in.IsPublished
	}
	if in.PubDate != nil {
		post.PubDate = in.PubDate.UTC()
	}
	if in.Categories != nil {
		post.Categories = in.Categories
	}
}

func (srv *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var in postInput
	if !srv.decode(w, r, &in) {
		return
	}

	post := &postcache.Post{IsPublished: true, Categories: []string{}, Comments: []*postcache.Comment{}}
	in.apply(post)

	if err := srv.service.SavePost(r.Context(), post); err != nil {
		srv.writeError(w, r, err)
		return
	}

	srv.logger.Info("Created post", slog.String("id", post.ID))
	w.Header().Set("Location", "/api/posts/"+post.Slug)

	v, err := srv.view(r, post)
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusCreated, v)
}

func (srv *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	post, ok := srv.service.GetPostByID(r.Context(), mux.Vars(r)["id"])
	if !ok {
		srv.writeError(w, r, postcache.ErrPostNotFound)
		return
	}

	var in postInput
	if !srv.decode(w, r, &in) {
		return
	}
	in.apply(post)

	if err := srv.service.SavePost(r.Context(), post); err != nil {
		srv.writeError(w, r, err)
		return
	}

	v, err := srv.view(r, post)
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, v)
}

func (srv *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	post, ok := srv.service.GetPostByID(r.Context(), mux.Vars(r)["id"])
	if !ok {
		srv.writeError(w, r, postcache.ErrPostNotFound)
		return
	}

	if err := srv.service.DeletePost(r.Context(), post); err != nil {
		srv.writeError(w, r, err)
		return
	}

	srv.logger.Info("Deleted post", slog.String("id", post.ID))
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var in commentInput
	if !srv.decode(w, r, &in) {
		return
	}

	comment, err := srv.service.AddComment(r.Context(), mux.Vars(r)["id"], &postcache.Comment{
		Author:  in.Author,
		Email:   in.Email,
		Content: in.Content,
	})
	if err != nil {
		srv.writeError(w, r, err)
		return
	}

	srv.writeJSON(w, http.StatusCreated, comment)
}

func (srv *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := srv.service.DeleteComment(r.Context(), vars["id"], vars["commentID"]); err != nil {
		srv.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		srv.writeJSONError(w, http.StatusBadRequest, "a multipart file field named file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		srv.writeJSONError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	locator, err := srv.service.SaveAsset(r.Context(), data, header.Filename, r.FormValue("suffix"))
	if err != nil {
		srv.writeError(w, r, err)
		return
	}

	srv.writeJSON(w, http.StatusCreated, map[string]string{"url": locator})
}

func (srv *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	rc, err := srv.assets.OpenAsset(r.Context(), name)
	if errors.Is(err, fs.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		srv.writeError(w, r, err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")

	if _, err := io.Copy(w, rc); err != nil {
		srv.logger.Debug("Asset copy interrupted", slog.String("name", name), slog.String("error", err.Error()))
	}
}

func (srv *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginInput
	if !srv.decode(w, r, &in) {
		return
	}

	if !srv.checkCredentials(in.Username, in.Password) {
		srv.logger.Warn("Failed login", slog.String("username", in.Username))
		srv.writeJSONError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, expires, err := srv.sessions.create()
	if err != nil {
		srv.writeError(w, r, fmt.Errorf("failed to create session: %w", err))
		return
	}

	srv.sessions.setCookie(w, token, expires)
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	srv.sessions.revoke(r)
	srv.sessions.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
