package postcache

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"go.abhg.dev/goldmark/frontmatter"
)

// markdown is shared by RenderHTML and ImportMarkdown. Raw HTML passes through because
// post bodies written by remote editors are already HTML.
var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Typographer,
		extension.Footnote,
		&frontmatter.Extender{},
	),
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
		parser.WithAttribute(),
	),
	goldmark.WithRendererOptions(
		html.WithUnsafe(),
	),
)

// RenderHTML converts a post body to HTML. Bodies that are already HTML come out unchanged
// apart from paragraph wrapping of bare text.
func RenderHTML(content string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}
	return buf.String(), nil
}

// frontMatter is the metadata block accepted at the top of imported markdown files,
// in YAML (---) or TOML (+++).
type frontMatter struct {
	Title      string `yaml:"title" toml:"title"`
	Slug       string `yaml:"slug" toml:"slug"`
	Excerpt    string `yaml:"excerpt" toml:"excerpt"`
	Summary    string `yaml:"summary" toml:"summary"`
	Published  any    `yaml:"published" toml:"published"`
	Date       any    `yaml:"date" toml:"date"`
	Draft      bool   `yaml:"draft" toml:"draft"`
	Categories any    `yaml:"categories" toml:"categories"`
	Tags       any    `yaml:"tags" toml:"tags"`
}

// ImportMarkdown converts a markdown file with optional frontmatter into a Post. The
// body is rendered to HTML. Missing titles fall back to the file name and a missing
// publish date falls back to now.
func ImportMarkdown(data []byte, fileName string) (*Post, error) {
	var buf bytes.Buffer
	ctx := parser.NewContext()
	if err := markdown.Convert(data, &buf, parser.WithContext(ctx)); err != nil {
		return nil, fmt.Errorf("failed to convert markdown %s: %w", fileName, err)
	}

	meta := frontMatter{}
	if fm := frontmatter.Get(ctx); fm != nil {
		if err := fm.Decode(&meta); err != nil {
			return nil, fmt.Errorf("failed to decode frontmatter in %s: %w", fileName, err)
		}
	}

	title := strings.TrimSpace(meta.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	}

	post := NewPost(title)
	post.Content = buf.String()
	post.IsPublished = !meta.Draft
	post.Excerpt = meta.Excerpt
	if post.Excerpt == "" {
		post.Excerpt = meta.Summary
	}

	if meta.Slug != "" {
		post.Slug = normalizeSlug(meta.Slug, title)
	}

	published := anyToTime(meta.Published)
	if published.IsZero() {
		published = anyToTime(meta.Date)
	}
	if !published.IsZero() {
		post.PubDate = published.UTC().Truncate(time.Second)
	}

	post.Categories = append(anyToStringSlice(meta.Categories), anyToStringSlice(meta.Tags)...)

	return post, nil
}

// GenerateETag generates an ETag for the content.
func GenerateETag(content string) string {
	hash := sha256.New()
	hash.Write([]byte(content))
	return fmt.Sprintf("%x", hash.Sum(nil))
}

// EstimateReadingTime estimates the reading time of the content.
func EstimateReadingTime(content string) string {
	const wordsPerMinute = 200

	minutes := len(strings.Fields(content)) / wordsPerMinute

	switch {
	case minutes < 1:
		return "< 1 min"
	case minutes < 60:
		return fmt.Sprintf("%d min", minutes)
	default:
		return fmt.Sprintf("%d hr %d min", minutes/60, minutes%60)
	}
}
