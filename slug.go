package postcache

import (
	"strings"

	"github.com/gosimple/slug"
)

// CreateSlug turns a title into a lowercase URL-safe slug.
// - Accented and non-latin characters are transliterated.
// - Whitespace and punctuation collapse into single dashes.
// - Leading and trailing dashes are trimmed.
func CreateSlug(title string) string {
	return slug.Make(strings.TrimSpace(title))
}

// normalizeSlug keeps a slug the caller supplied when it is already URL-safe and
// otherwise rebuilds it, falling back to the title.
func normalizeSlug(s, title string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if slug.IsSlug(s) {
		return s
	}
	if s != "" {
		if made := CreateSlug(s); made != "" {
			return made
		}
	}
	return CreateSlug(title)
}
