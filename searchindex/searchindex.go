// Package searchindex provides a full-text postcache.Indexer backed by bleve.
package searchindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/char/html"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/porter"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/hypergopher/postcache"
)

const htmlAnalyzer = "post_html"

// document is what gets indexed for a post.
type document struct {
	Title      string    `json:"title"`
	Slug       string    `json:"slug"`
	Excerpt    string    `json:"excerpt"`
	Content    string    `json:"content"`
	Categories []string  `json:"categories"`
	PubDate    time.Time `json:"pubDate"`
}

// Index is a bleve index of posts.
type Index struct {
	index  bleve.Index
	logger *slog.Logger
}

var _ postcache.Indexer = (*Index)(nil)

// Options configures an Index.
type Options struct {
	Logger *slog.Logger // Logger is the logger used by the Index. Default is a debug logger to stderr.
	Path   string       // Path is the index directory. An empty path keeps the index in memory.
}

// Open opens the index at opts.Path, creating it if needed, or creates an in-memory
// index when no path is set.
func Open(opts Options) (*Index, error) {
	if opts.Logger == nil {
		opts.Logger = defaultLogger()
	}

	idx := &Index{logger: opts.Logger}

	if opts.Path == "" {
		index, err := bleve.NewMemOnly(defineMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create bleve index: %w", err)
		}
		idx.index = index
		return idx, nil
	}

	index, err := bleve.Open(opts.Path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		opts.Logger.Debug("Creating new bleve index", slog.String("path", opts.Path))
		index, err = bleve.New(opts.Path, defineMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create bleve index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open bleve index: %w", err)
	}

	idx.index = index
	return idx, nil
}

// Close closes the underlying bleve index.
func (idx *Index) Close() error {
	return idx.index.Close()
}

// Index adds or replaces the post.
func (idx *Index) Index(post *postcache.Post) error {
	doc := document{
		Title:      post.Title,
		Slug:       post.Slug,
		Excerpt:    post.Excerpt,
		Content:    post.Content,
		Categories: post.Categories,
		PubDate:    post.PubDate,
	}

	if err := idx.index.Index(post.ID, doc); err != nil {
		return fmt.Errorf("failed to index post %s: %w", post.ID, err)
	}
	return nil
}

// Remove drops the post from the index.
func (idx *Index) Remove(id string) error {
	if err := idx.index.Delete(id); err != nil {
		return fmt.Errorf("failed to remove post %s: %w", id, err)
	}
	return nil
}

// Count returns the number of indexed posts.
func (idx *Index) Count() (uint64, error) {
	return idx.index.DocCount()
}

// Search returns the IDs of posts matching every word of q, best match first.
func (idx *Index) Search(ctx context.Context, q string, limit int) ([]string, error) {
	q = strings.TrimSpace(q)
	if q == "" || limit <= 0 {
		return []string{}, nil
	}

	match := bleve.NewMatchQuery(q)
	match.SetOperator(query.MatchQueryOperatorAnd)

	request := bleve.NewSearchRequestOptions(match, limit, 0, false)
	result, err := idx.index.SearchInContext(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("error searching for posts: %w", err)
	}

	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}

	idx.logger.Debug("Search",
		slog.String("query", q),
		slog.Uint64("total", result.Total),
		slog.Int("returned", len(ids)))

	return ids, nil
}

func defineMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()

	// Post bodies are HTML; strip the markup before tokenizing.
	if err := indexMapping.AddCustomAnalyzer(htmlAnalyzer, map[string]any{
		"type":          custom.Name,
		"char_filters":  []string{html.Name},
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name, porter.Name},
	}); err != nil {
		panic(fmt.Sprintf("invalid analyzer definition: %v", err))
	}
	indexMapping.DefaultAnalyzer = htmlAnalyzer

	docMapping := bleve.NewDocumentMapping()

	textField := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = htmlAnalyzer
		return f
	}

	docMapping.AddFieldMappingsAt("title", textField())
	docMapping.AddFieldMappingsAt("excerpt", textField())
	docMapping.AddFieldMappingsAt("content", textField())
	docMapping.AddFieldMappingsAt("categories", textField())
	docMapping.AddFieldMappingsAt("slug", bleve.NewKeywordFieldMapping())
	docMapping.AddFieldMappingsAt("pubDate", bleve.NewDateTimeFieldMapping())

	indexMapping.DefaultMapping = docMapping

	return indexMapping
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{
			AddSource: false,
			Level:     slog.LevelDebug,
		}))
}
