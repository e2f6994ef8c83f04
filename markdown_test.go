package postcache_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypergopher/postcache"
)

func TestRenderHTML(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		contains []string
	}{
		{"Heading", "# Title", []string{`<h1 id="title">Title</h1>`}},
		{"Emphasis", "Some *text*", []string{"<p>Some <em>text</em></p>"}},
		{"Raw HTML kept", "<div class=\"note\">hi</div>", []string{`<div class="note">hi</div>`}},
		{"Table", "| a | b |\n|---|---|\n| 1 | 2 |", []string{"<table>", "<td>1</td>"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := postcache.RenderHTML(tc.content)
			require.NoError(t, err)
			for _, want := range tc.contains {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestImportMarkdown(t *testing.T) {
	tests := []struct {
		name       string
		fileName   string
		input      string
		title      string
		slug       string
		published  bool
		pubDate    time.Time
		categories []string
		excerpt    string
	}{
		{
			name:     "YAML frontmatter",
			fileName: "hello.md",
			input: `---
title: Hello Markdown
slug: hello-md
summary: A short hello
published: 2023-04-05T06:07:08Z
categories: [Go, Web]
tags: notes
---

Body **text**.
`,
			title:      "Hello Markdown",
			slug:       "hello-md",
			published:  true,
			pubDate:    time.Date(2023, 4, 5, 6, 7, 8, 0, time.UTC),
			categories: []string{"Go", "Web", "notes"},
			excerpt:    "A short hello",
		},
		{
			name:     "TOML frontmatter draft",
			fileName: "draft.md",
			input: `+++
title = "Draft Post"
date = "2022-12-24 18:30:00"
draft = true
categories = ["Holidays"]
+++

Not ready.
`,
			title:      "Draft Post",
			slug:       "draft-post",
			published:  false,
			pubDate:    time.Date(2022, 12, 24, 18, 30, 0, 0, time.UTC),
			categories: []string{"Holidays"},
		},
		{
			name:       "No frontmatter",
			fileName:   "notes/Plain Note.md",
			input:      "Just text.\n",
			title:      "Plain Note",
			slug:       "plain-note",
			published:  true,
			categories: []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			post, err := postcache.ImportMarkdown([]byte(tc.input), tc.fileName)
			require.NoError(t, err)

			assert.Equal(t, tc.title, post.Title)
			assert.Equal(t, tc.slug, post.Slug)
			assert.Equal(t, tc.published, post.IsPublished)
			assert.Equal(t, tc.categories, post.Categories)
			assert.Equal(t, tc.excerpt, post.Excerpt)
			assert.NotContains(t, post.Content, "title", "frontmatter is not part of the body")
			assert.True(t, strings.HasPrefix(post.Content, "<p>"))
			if !tc.pubDate.IsZero() {
				assert.Equal(t, tc.pubDate, post.PubDate)
			}
			require.NoError(t, post.Validate())
		})
	}
}

func TestEstimateReadingTime(t *testing.T) {
	words := func(n int) string { return strings.Repeat("word ", n) }

	assert.Equal(t, "< 1 min", postcache.EstimateReadingTime(words(50)))
	assert.Equal(t, "2 min", postcache.EstimateReadingTime(words(450)))
	assert.Equal(t, "1 hr 5 min", postcache.EstimateReadingTime(words(200*65)))
}

func TestGenerateETag(t *testing.T) {
	a := postcache.GenerateETag("content")
	assert.Len(t, a, 64)
	assert.Equal(t, a, postcache.GenerateETag("content"))
	assert.NotEqual(t, a, postcache.GenerateETag("other"))
}
