package metaweblog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hypergopher/postcache"
)

type method func(ctx context.Context, args []any) (any, error)

// Handler serves XML-RPC method calls against a Provider.
type Handler struct {
	provider *Provider
	methods  map[string]method
	logger   *slog.Logger
}

// NewHandler returns an http.Handler for provider.
func NewHandler(provider *Provider) *Handler {
	h := &Handler{provider: provider, logger: provider.logger}
	h.methods = map[string]method{
		"blogger.getUsersBlogs":     h.getUsersBlogs,
		"blogger.getUserInfo":       h.getUserInfo,
		"blogger.deletePost":        h.deletePost,
		"metaWeblog.newPost":        h.newPost,
		"metaWeblog.editPost":       h.editPost,
		"metaWeblog.getPost":        h.getPost,
		"metaWeblog.getRecentPosts": h.getRecentPosts,
		"metaWeblog.getCategories":  h.getCategories,
		"metaWeblog.newMediaObject": h.newMediaObject,
		"wp.newCategory":            h.newCategory,
		"metaWeblog.deletePost":     h.deletePost,
		"metaWeblog.getUsersBlogs":  h.getUsersBlogs,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name, args, err := decodeCall(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		h.logger.Debug("Malformed XML-RPC call", slog.String("error", err.Error()))
		h.writeFault(w, &Fault{Code: codeParseError, Message: "parse error: " + err.Error()})
		return
	}

	m, ok := h.methods[name]
	if !ok {
		h.writeFault(w, &Fault{Code: codeUnknownMethod, Message: "requested method " + name + " not found"})
		return
	}

	ctx := withSiteURL(r.Context(), requestSiteURL(r))
	result, err := m(ctx, args)
	if err != nil {
		h.writeFault(w, h.toFault(name, err))
		return
	}

	var buf bytes.Buffer
	if err := encodeResponse(&buf, result); err != nil {
		h.logger.Error("Failed to encode XML-RPC response", slog.String("method", name), slog.String("error", err.Error()))
		h.writeFault(w, &Fault{Code: codeInternalError, Message: "internal error"})
		return
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) toFault(name string, err error) *Fault {
	var f *Fault
	switch {
	case errors.As(err, &f):
		return f
	case errors.Is(err, postcache.ErrPostNotFound):
		return &Fault{Code: 404, Message: err.Error()}
	case errors.Is(err, postcache.ErrInvalidPost), errors.Is(err, postcache.ErrInvalidAsset):
		return &Fault{Code: 400, Message: err.Error()}
	}

	h.logger.Error("MetaWeblog call failed", slog.String("method", name), slog.String("error", err.Error()))
	return &Fault{Code: codeInternalError, Message: "internal error"}
}

func (h *Handler) writeFault(w http.ResponseWriter, f *Fault) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	if err := encodeFault(w, f); err != nil {
		h.logger.Error("Failed to write XML-RPC fault", slog.String("error", err.Error()))
	}
}

func requestSiteURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func (h *Handler) getUsersBlogs(ctx context.Context, args []any) (any, error) {
	var a params
	key, user, pass := a.str(args, 0), a.str(args, 1), a.str(args, 2)
	if err := a.err(); err != nil {
		return nil, err
	}

	blogs, err := h.provider.GetUsersBlogs(ctx, key, user, pass)
	if err != nil {
		return nil, err
	}

	result := make([]any, 0, len(blogs))
	for _, b := range blogs {
		result = append(result, map[string]any{
			"blogid":   b.BlogID,
			"blogName": b.BlogName,
			"url":      b.URL,
		})
	}
	return result, nil
}

func (h *Handler) getUserInfo(ctx context.Context, args []any) (any, error) {
	var a params
	key, user, pass := a.str(args, 0), a.str(args, 1), a.str(args, 2)
	if err := a.err(); err != nil {
		return nil, err
	}
	return nil, h.provider.GetUserInfo(ctx, key, user, pass)
}

func (h *Handler) newPost(ctx context.Context, args []any) (any, error) {
	var a params
	blogID, user, pass := a.str(args, 0), a.str(args, 1), a.str(args, 2)
	post := a.post(args, 3)
	publish := a.boolean(args, 4)
	if err := a.err(); err != nil {
		return nil, err
	}
	return h.provider.NewPost(ctx, blogID, user, pass, post, publish)
}

func (h *Handler) editPost(ctx context.Context, args []any) (any, error) {
	var a params
	postID, user, pass := a.str(args, 0), a.str(args, 1), a.str(args, 2)
	post := a.post(args, 3)
	publish := a.boolean(args, 4)
	if err := a.err(); err != nil {
		return nil, err
	}
	return h.provider.EditPost(ctx, postID, user, pass, post, publish)
}

func (h *Handler) deletePost(ctx context.Context, args []any) (any, error) {
	var a params
	key, postID, user, pass := a.str(args, 0), a.str(args, 1), a.str(args, 2), a.str(args, 3)
	publish := a.optionalBool(args, 4)
	if err := a.err(); err != nil {
		return nil, err
	}
	return h.provider.DeletePost(ctx, key, postID, user, pass, publish)
}

func (h *Handler) getPost(ctx context.Context, args []any) (any, error) {
	var a params
	postID, user, pass := a.str(args, 0), a.str(args, 1), a.str(args, 2)
	if err := a.err(); err != nil {
		return nil, err
	}

	post, err := h.provider.GetPost(ctx, postID, user, pass)
	if err != nil {
		return nil, err
	}
	return postStruct(*post), nil
}

func (h *Handler) getRecentPosts(ctx context.Context, args []any) (any, error) {
	var a params
	blogID, user, pass := a.str(args, 0), a.str(args, 1), a.str(args, 2)
	count := a.integer(args, 3)
	if err := a.err(); err != nil {
		return nil, err
	}

	posts, err := h.provider.GetRecentPosts(ctx, blogID, user, pass, count)
	if err != nil {
		return nil, err
	}

	result := make([]any, 0, len(posts))
	for _, p := range posts {
		result = append(result, postStruct(p))
	}
	return result, nil
}

func (h *Handler) getCategories(ctx context.Context, args []any) (any, error) {
	var a params
	blogID, user, pass := a.str(args, 0), a.str(args, 1), a.str(args, 2)
	if err := a.err(); err != nil {
		return nil, err
	}

	categories, err := h.provider.GetCategories(ctx, blogID, user, pass)
	if err != nil {
		return nil, err
	}

	result := make([]any, 0, len(categories))
	for _, c := range categories {
		result = append(result, map[string]any{
			"categoryid":  c.CategoryID,
			"title":       c.Title,
			"description": c.Title,
		})
	}
	return result, nil
}

func (h *Handler) newMediaObject(ctx context.Context, args []any) (any, error) {
	var a params
	blogID, user, pass := a.str(args, 0), a.str(args, 1), a.str(args, 2)
	obj := a.media(args, 3)
	if err := a.err(); err != nil {
		return nil, err
	}

	info, err := h.provider.NewMediaObject(ctx, blogID, user, pass, obj)
	if err != nil {
		return nil, err
	}
	return map[string]any{"url": info.URL}, nil
}

func (h *Handler) newCategory(ctx context.Context, args []any) (any, error) {
	var a params
	blogID, user, pass := a.str(args, 0), a.str(args, 1), a.str(args, 2)
	category := a.structure(args, 3)
	if err := a.err(); err != nil {
		return nil, err
	}
	return nil, h.provider.NewCategory(ctx, blogID, user, pass, category)
}

func postStruct(p Post) map[string]any {
	categories := make([]any, 0, len(p.Categories))
	for _, c := range p.Categories {
		categories = append(categories, c)
	}

	return map[string]any{
		"postid":      p.PostID,
		"title":       p.Title,
		"wp_slug":     p.Slug,
		"permalink":   p.Permalink,
		"link":        p.Permalink,
		"dateCreated": p.DateCreated,
		"description": p.Description,
		"categories":  categories,
	}
}

// params extracts typed positional arguments, remembering the first mismatch.
type params struct {
	first error
}

func (a *params) fail(i int, want string, got any) {
	if a.first == nil {
		a.first = &Fault{
			Code:    codeInvalidParams,
			Message: fmt.Sprintf("param %d: expected %s, got %T", i, want, got),
		}
	}
}

func (a *params) err() error {
	return a.first
}

func (a *params) arg(args []any, i int) (any, bool) {
	if i >= len(args) {
		return nil, false
	}
	return args[i], true
}

func (a *params) str(args []any, i int) string {
	v, _ := a.arg(args, i)
	switch s := v.(type) {
	case string:
		return s
	case int:
		return strconv.Itoa(s)
	}
	a.fail(i, "string", v)
	return ""
}

func (a *params) integer(args []any, i int) int {
	v, _ := a.arg(args, i)
	switch n := v.(type) {
	case int:
		return n
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	a.fail(i, "int", v)
	return 0
}

func (a *params) boolean(args []any, i int) bool {
	v, _ := a.arg(args, i)
	if b, ok := v.(bool); ok {
		return b
	}
	a.fail(i, "boolean", v)
	return false
}

func (a *params) optionalBool(args []any, i int) bool {
	if i >= len(args) {
		return false
	}
	return a.boolean(args, i)
}

func (a *params) structure(args []any, i int) map[string]any {
	v, _ := a.arg(args, i)
	if m, ok := v.(map[string]any); ok {
		return m
	}
	a.fail(i, "struct", v)
	return nil
}

func (a *params) post(args []any, i int) Post {
	m := a.structure(args, i)

	post := Post{
		Title:       memberString(m, "title"),
		Slug:        memberString(m, "wp_slug"),
		Description: memberString(m, "description"),
	}
	if t, ok := m["dateCreated"].(time.Time); ok {
		post.DateCreated = t
	}
	if list, ok := m["categories"].([]any); ok {
		post.Categories = make([]string, 0, len(list))
		for _, c := range list {
			if s, ok := c.(string); ok {
				post.Categories = append(post.Categories, s)
			}
		}
	}
	return post
}

func (a *params) media(args []any, i int) MediaObject {
	m := a.structure(args, i)

	obj := MediaObject{Name: memberString(m, "name"), Type: memberString(m, "type")}
	switch bits := m["bits"].(type) {
	case []byte:
		obj.Bits = bits
	case string:
		obj.Bits = []byte(bits)
	}
	return obj
}

func memberString(m map[string]any, name string) string {
	s, _ := m[name].(string)
	return s
}
