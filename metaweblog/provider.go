// Package metaweblog lets desktop blogging clients publish to a postcache.Service
// over the MetaWeblog XML-RPC API.
package metaweblog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hypergopher/postcache"
)

var (
	errUnauthorized   = &Fault{Code: 401, Message: "Unauthorized"}
	errNotImplemented = &Fault{Code: 501, Message: "not implemented"}
)

// Blog is the part of postcache.Service the provider publishes through.
type Blog interface {
	GetPosts(ctx context.Context, count, skip int) []*postcache.Post
	GetPostByID(ctx context.Context, id string) (*postcache.Post, bool)
	GetCategories(ctx context.Context) []string
	SavePost(ctx context.Context, post *postcache.Post) error
	DeletePost(ctx context.Context, post *postcache.Post) error
	SaveAsset(ctx context.Context, data []byte, fileName, suffix string) (string, error)
}

var _ Blog = (*postcache.Service)(nil)

// Options configures a Provider.
type Options struct {
	BaseURL          string                                // BaseURL is the public site address. Empty means use the request's scheme and host.
	BlogName         string                                // BlogName is reported by getUsersBlogs.
	CheckCredentials func(username, password string) bool // CheckCredentials authorizes every call. Required; a nil func rejects everyone.
	Logger           *slog.Logger                          // Logger is the logger used by the Provider. Default is a debug logger to stderr.
}

// BlogInfo describes the single blog served.
type BlogInfo struct {
	BlogID   string
	BlogName string
	URL      string
}

// Post is a post as exchanged with MetaWeblog clients.
type Post struct {
	PostID      string
	Title       string
	Slug        string
	Permalink   string
	Description string
	DateCreated time.Time
	Categories  []string
}

// CategoryInfo describes a category.
type CategoryInfo struct {
	CategoryID string
	Title      string
}

// MediaObject is an uploaded file.
type MediaObject struct {
	Name string
	Type string
	Bits []byte
}

// MediaObjectInfo locates a stored media object.
type MediaObjectInfo struct {
	URL string
}

// Provider implements the MetaWeblog verbs on top of a Blog.
type Provider struct {
	blog     Blog
	baseURL  string
	blogName string
	check    func(username, password string) bool
	logger   *slog.Logger
}

// NewProvider returns a Provider publishing to blog.
func NewProvider(blog Blog, opts Options) *Provider {
	if opts.Logger == nil {
		opts.Logger = defaultLogger()
	}
	if opts.CheckCredentials == nil {
		opts.CheckCredentials = func(string, string) bool { return false }
	}

	return &Provider{
		blog:     blog,
		baseURL:  strings.TrimSuffix(opts.BaseURL, "/"),
		blogName: opts.BlogName,
		check:    opts.CheckCredentials,
		logger:   opts.Logger,
	}
}

// authorize checks the credentials and returns a context carrying the admin flag.
func (p *Provider) authorize(ctx context.Context, username, password string) (context.Context, error) {
	if !p.check(username, password) {
		p.logger.Warn("Rejected MetaWeblog credentials", slog.String("username", username))
		return ctx, errUnauthorized
	}
	return postcache.WithAdmin(ctx, true), nil
}

func (p *Provider) GetUsersBlogs(ctx context.Context, _, username, password string) ([]BlogInfo, error) {
	ctx, err := p.authorize(ctx, username, password)
	if err != nil {
		return nil, err
	}

	return []BlogInfo{{BlogID: "1", BlogName: p.blogName, URL: p.siteURL(ctx)}}, nil
}

// NewPost creates a post and returns its ID. A missing slug is derived from the title
// and a zero date means now.
func (p *Provider) NewPost(ctx context.Context, _, username, password string, post Post, publish bool) (string, error) {
	ctx, err := p.authorize(ctx, username, password)
	if err != nil {
		return "", err
	}

	newPost := &postcache.Post{
		Title:       post.Title,
		Slug:        post.Slug,
		Content:     post.Description,
		IsPublished: publish,
		PubDate:     post.DateCreated,
		Categories:  nonNil(post.Categories),
		Comments:    []*postcache.Comment{},
	}

	if err := p.blog.SavePost(ctx, newPost); err != nil {
		return "", err
	}

	p.logger.Info("Created post", slog.String("id", newPost.ID))
	return newPost.ID, nil
}

// EditPost replaces the editable fields of an existing post. It reports false when the
// post does not exist.
func (p *Provider) EditPost(ctx context.Context, postID, username, password string, post Post, publish bool) (bool, error) {
	ctx, err := p.authorize(ctx, username, password)
	if err != nil {
		return false, err
	}

	existing, ok := p.blog.GetPostByID(ctx, postID)
	if !ok {
		return false, nil
	}

	existing.Title = post.Title
	existing.Slug = post.Slug
	existing.Content = post.Description
	existing.IsPublished = publish
	existing.Categories = nonNil(post.Categories)
	if !post.DateCreated.IsZero() {
		existing.PubDate = post.DateCreated
	}

	if err := p.blog.SavePost(ctx, existing); err != nil {
		return false, err
	}
	return true, nil
}

// DeletePost removes a post, reporting false when it does not exist.
func (p *Provider) DeletePost(ctx context.Context, _, postID, username, password string, _ bool) (bool, error) {
	ctx, err := p.authorize(ctx, username, password)
	if err != nil {
		return false, err
	}

	existing, ok := p.blog.GetPostByID(ctx, postID)
	if !ok {
		return false, nil
	}

	if err := p.blog.DeletePost(ctx, existing); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) GetPost(ctx context.Context, postID, username, password string) (*Post, error) {
	ctx, err := p.authorize(ctx, username, password)
	if err != nil {
		return nil, err
	}

	post, ok := p.blog.GetPostByID(ctx, postID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", postcache.ErrPostNotFound, postID)
	}

	converted := p.toPost(ctx, post)
	return &converted, nil
}

func (p *Provider) GetRecentPosts(ctx context.Context, _, username, password string, count int) ([]Post, error) {
	ctx, err := p.authorize(ctx, username, password)
	if err != nil {
		return nil, err
	}

	posts := p.blog.GetPosts(ctx, count, 0)
	result := make([]Post, 0, len(posts))
	for _, post := range posts {
		result = append(result, p.toPost(ctx, post))
	}
	return result, nil
}

func (p *Provider) GetCategories(ctx context.Context, _, username, password string) ([]CategoryInfo, error) {
	ctx, err := p.authorize(ctx, username, password)
	if err != nil {
		return nil, err
	}

	categories := p.blog.GetCategories(ctx)
	result := make([]CategoryInfo, 0, len(categories))
	for _, c := range categories {
		result = append(result, CategoryInfo{CategoryID: c, Title: c})
	}
	return result, nil
}

// NewMediaObject stores an uploaded file and returns where it is served from.
func (p *Provider) NewMediaObject(ctx context.Context, _, username, password string, obj MediaObject) (MediaObjectInfo, error) {
	ctx, err := p.authorize(ctx, username, password)
	if err != nil {
		return MediaObjectInfo{}, err
	}

	locator, err := p.blog.SaveAsset(ctx, obj.Bits, obj.Name, "")
	if err != nil {
		return MediaObjectInfo{}, err
	}

	// Relative locators are served by this site.
	if strings.HasPrefix(locator, "/") {
		locator = p.siteURL(ctx) + locator
	}
	return MediaObjectInfo{URL: locator}, nil
}

func (p *Provider) GetUserInfo(ctx context.Context, _, username, password string) error {
	if _, err := p.authorize(ctx, username, password); err != nil {
		return err
	}
	return errNotImplemented
}

func (p *Provider) NewCategory(ctx context.Context, _, username, password string, _ map[string]any) error {
	if _, err := p.authorize(ctx, username, password); err != nil {
		return err
	}
	return errNotImplemented
}

func (p *Provider) toPost(ctx context.Context, post *postcache.Post) Post {
	return Post{
		PostID:      post.ID,
		Title:       post.Title,
		Slug:        post.Slug,
		Permalink:   p.siteURL(ctx) + post.Link(),
		Description: post.Content,
		DateCreated: post.PubDate,
		Categories:  nonNil(post.Categories),
	}
}

type siteURLKey struct{}

func withSiteURL(ctx context.Context, url string) context.Context {
	return context.WithValue(ctx, siteURLKey{}, url)
}

func (p *Provider) siteURL(ctx context.Context) string {
	if p.baseURL != "" {
		return p.baseURL
	}
	url, _ := ctx.Value(siteURLKey{}).(string)
	return url
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// IsUnauthorized reports whether err is the fault returned for bad credentials.
func IsUnauthorized(err error) bool {
	var f *Fault
	return errors.As(err, &f) && f.Code == errUnauthorized.Code
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{
			AddSource: false,
			Level:     slog.LevelDebug,
		}))
}
