package postcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service is the blog core: it keeps every post in memory, serves reads from that
// cache through the visibility filter, and writes through to the Backend.
type Service struct {
	backend       Backend
	cache         postCache
	clock         func() time.Time
	commentsClose int
	indexer       Indexer
	isAdmin       func(ctx context.Context) bool
	logger        *slog.Logger

	// writeMu serializes write-through so storage and cache see writes in the same order.
	writeMu sync.Mutex

	reportMu sync.Mutex
	report   LoadReport
}

// Options is a struct for configuring a new Service.
type Options struct {
	Backend                Backend                        // Backend is the durable store. Required.
	Clock                  func() time.Time               // Clock returns the current time. Default is time.Now.
	CommentsCloseAfterDays int                            // CommentsCloseAfterDays closes comments this many days after PubDate. Zero keeps them open.
	Indexer                Indexer                        // Indexer enables Search. Optional.
	IsAdmin                func(ctx context.Context) bool // IsAdmin reports whether the caller is an admin. Default is IsAdminContext.
	Logger                 *slog.Logger                   // Logger is the logger used by the Service. Default is a debug logger to stderr.
}

// LoadFailure describes a stored document that could not be loaded.
type LoadFailure struct {
	Source string
	Err    error
}

// LoadReport summarizes the last load of the cache from storage.
type LoadReport struct {
	Loaded   int
	Failures []LoadFailure
}

// New creates a Service and loads every post from the backend. Documents that fail to
// decode are skipped and listed in the LoadReport; failing to list the backend is fatal.
func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.Backend == nil {
		return nil, errors.New("a Backend is required")
	}

	if opts.Logger == nil {
		opts.Logger = defaultLogger()
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	if opts.IsAdmin == nil {
		opts.IsAdmin = IsAdminContext
	}

	s := &Service{
		backend:       opts.Backend,
		clock:         opts.Clock,
		commentsClose: opts.CommentsCloseAfterDays,
		indexer:       opts.Indexer,
		isAdmin:       opts.IsAdmin,
		logger:        opts.Logger,
	}

	if _, err := s.Reload(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{
			AddSource: false,
			Level:     slog.LevelDebug,
		}))
}

// Reload rebuilds the cache by re-reading every document from the backend.
func (s *Service) Reload(ctx context.Context) (LoadReport, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sources, err := s.backend.ListPostSources(ctx)
	if err != nil {
		return LoadReport{}, fmt.Errorf("failed to list posts: %w", err)
	}

	now := s.clock()
	report := LoadReport{Failures: []LoadFailure{}}
	posts := make([]*Post, 0, len(sources))

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return LoadReport{}, err
		}

		post, err := s.loadSource(ctx, source, now)
		if err != nil {
			s.logger.Warn("skipping post",
				slog.String("source", source),
				slog.String("error", err.Error()))
			report.Failures = append(report.Failures, LoadFailure{Source: source, Err: err})
			continue
		}
		posts = append(posts, post)
	}

	stale := make(map[string]struct{})
	s.cache.each(func(p *Post) { stale[p.ID] = struct{}{} })

	s.cache.replaceAll(posts)
	report.Loaded = len(posts)

	if s.indexer != nil {
		for _, p := range posts {
			delete(stale, p.ID)
			s.index(p)
		}
		for id := range stale {
			s.unindex(id)
		}
	}

	s.reportMu.Lock()
	s.report = report
	s.reportMu.Unlock()

	s.logger.Info("Posts loaded",
		slog.Int("loaded", report.Loaded),
		slog.Int("failed", len(report.Failures)))

	return report, nil
}

func (s *Service) loadSource(ctx context.Context, source string, now time.Time) (*Post, error) {
	rc, err := s.backend.OpenPostSource(ctx, source)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return decodePost(rc, SourceID(source), now)
}

// LoadReport returns the result of the most recent load.
func (s *Service) LoadReport() LoadReport {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	return s.report
}

// Count returns the number of cached posts, visible or not.
func (s *Service) Count() int {
	return s.cache.len()
}

// SavePost validates the post, assigns an ID and slug when missing, writes it to the
// backend and then updates the cache. The caller's post receives the assigned ID,
// slug and timestamps. A failed write leaves the cache untouched.
func (s *Service) SavePost(ctx context.Context, post *Post) error {
	if post == nil {
		return fmt.Errorf("%w: nil post", ErrInvalidPost)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	p := post.Clone()
	now := s.clock()

	if p.ID == "" {
		id, err := s.uniqueID(CreateSlug(p.Title))
		if err != nil {
			return err
		}
		p.ID = id
	} else if id, ok := s.cache.canonicalID(p.ID); ok {
		p.ID = id
	}

	p.Slug = normalizeSlug(p.Slug, p.Title)
	if p.PubDate.IsZero() {
		p.PubDate = now
	}
	// Stored documents keep second precision.
	p.PubDate = p.PubDate.UTC().Truncate(time.Second)
	p.Touch(now)

	if err := p.Validate(); err != nil {
		return err
	}

	if err := s.backend.SavePost(ctx, p); err != nil {
		return fmt.Errorf("failed to save post %s: %w", p.ID, err)
	}

	s.cache.upsert(p)
	s.index(p)

	post.ID = p.ID
	post.Slug = p.Slug
	post.PubDate = p.PubDate
	post.LastModified = p.LastModified

	s.logger.Debug("Post saved", slog.String("id", p.ID))
	return nil
}

// DeletePost removes the post from the backend and then from the cache. Deleting a
// post that is already gone is a no-op.
func (s *Service) DeletePost(ctx context.Context, post *Post) error {
	if post == nil || post.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidPost)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if id, ok := s.cache.canonicalID(post.ID); ok && id != post.ID {
		post = post.Clone()
		post.ID = id
	}

	if err := s.backend.DeletePost(ctx, post); err != nil {
		return fmt.Errorf("failed to delete post %s: %w", post.ID, err)
	}

	if s.cache.remove(post.ID) {
		s.unindex(post.ID)
		s.logger.Debug("Post deleted", slog.String("id", post.ID))
	}

	return nil
}

// SaveAsset stores an uploaded file through the backend and returns where it is served.
func (s *Service) SaveAsset(ctx context.Context, data []byte, fileName, suffix string) (string, error) {
	return s.backend.SaveAsset(ctx, data, fileName, suffix)
}

// AddComment attaches a new comment to a visible post and persists it. The comment
// receives a fresh ID, the current time and the caller's admin flag.
func (s *Service) AddComment(ctx context.Context, postID string, comment *Comment) (*Comment, error) {
	if comment == nil {
		return nil, fmt.Errorf("%w: nil comment", ErrInvalidComment)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.clock()
	visible := s.visibility(ctx)

	post, ok := s.cache.find(func(p *Post) bool {
		return strings.EqualFold(p.ID, postID) && visible(p)
	})
	if !ok {
		return nil, ErrPostNotFound
	}

	if !post.AreCommentsOpen(s.commentsClose, now) {
		return nil, ErrCommentsClosed
	}

	c := *comment
	c.ID = uuid.NewString()
	c.PubDate = now.UTC().Truncate(time.Second)
	c.IsAdmin = s.isAdmin(ctx)

	if err := c.Validate(); err != nil {
		return nil, err
	}

	post.Comments = append(post.Comments, &c)
	if err := s.backend.SavePost(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to save comment on %s: %w", post.ID, err)
	}

	s.cache.upsert(post)
	s.index(post)

	added := c
	return &added, nil
}

// DeleteComment removes a comment from a post and persists the post.
func (s *Service) DeleteComment(ctx context.Context, postID, commentID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	post, ok := s.cache.find(func(p *Post) bool { return strings.EqualFold(p.ID, postID) })
	if !ok {
		return ErrPostNotFound
	}

	kept := post.Comments[:0]
	for _, c := range post.Comments {
		if c.ID != commentID {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(post.Comments) {
		return ErrCommentNotFound
	}
	post.Comments = kept

	if err := s.backend.SavePost(ctx, post); err != nil {
		return fmt.Errorf("failed to save post %s: %w", post.ID, err)
	}

	s.cache.upsert(post)
	s.index(post)
	return nil
}

// uniqueID returns base, or base with a numeric suffix when another cached post
// already uses it. Must be called with writeMu held.
func (s *Service) uniqueID(base string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("%w: title does not produce an id", ErrInvalidPost)
	}

	id := base
	for n := 2; s.cache.hasID(id); n++ {
		id = base + "-" + strconv.Itoa(n)
	}
	return id, nil
}

func (s *Service) index(p *Post) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.Index(p); err != nil {
		s.logger.Error("failed to index post",
			slog.String("id", p.ID),
			slog.String("error", err.Error()))
	}
}

func (s *Service) unindex(id string) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.Remove(id); err != nil {
		s.logger.Error("failed to remove post from index",
			slog.String("id", id),
			slog.String("error", err.Error()))
	}
}
