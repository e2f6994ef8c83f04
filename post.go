package postcache

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
)

var validate = newValidator()

// Post represents a single blog entry and the comments left on it.
type Post struct {
	ID           string     `json:"id" validate:"required,postid"`    // ID is the immutable identifier, also the file stem of the stored document
	Title        string     `json:"title" validate:"required"`        // Title is the display title
	Slug         string     `json:"slug" validate:"required,slug"`    // Slug is the lowercase URL-safe name used for lookups
	Excerpt      string     `json:"excerpt"`                          // Excerpt is a short summary
	Content      string     `json:"content"`                          // Content is the body of the post
	IsPublished  bool       `json:"isPublished"`                      // IsPublished is false for drafts
	PubDate      time.Time  `json:"pubDate"`                          // PubDate is when the post becomes visible
	LastModified time.Time  `json:"lastModified"`                     // LastModified is set on every save
	Categories   []string   `json:"categories"`                       // Categories is the ordered list of category labels
	Comments     []*Comment `json:"comments" validate:"-"`           // Comments belong exclusively to this post
}

// Comment is a reader comment attached to a Post.
type Comment struct {
	ID      string    `json:"id" validate:"required"`
	Author  string    `json:"author" validate:"required,max=100"`
	Email   string    `json:"email" validate:"omitempty,email"`
	IsAdmin bool      `json:"isAdmin"`
	Content string    `json:"content" validate:"required"`
	PubDate time.Time `json:"pubDate"`
}

// NewPost returns a published post dated now with an ID and slug derived from the title.
func NewPost(title string) *Post {
	s := CreateSlug(title)
	return &Post{
		ID:          s,
		Title:       title,
		Slug:        s,
		IsPublished: true,
		PubDate:     time.Now().UTC().Truncate(time.Second),
		Categories:  []string{},
		Comments:    []*Comment{},
	}
}

// Link returns the permalink path of the post.
func (p *Post) Link() string {
	return fmt.Sprintf("/blog/%s/", p.Slug)
}

// IsVisible reports whether the post can be shown at the given time. Admins see drafts
// but nobody sees a post before its publish date.
func (p *Post) IsVisible(now time.Time, admin bool) bool {
	return !p.PubDate.After(now) && (p.IsPublished || admin)
}

// HasCategory reports whether the post is tagged with category, ignoring case.
func (p *Post) HasCategory(category string) bool {
	return slices.ContainsFunc(p.Categories, func(c string) bool {
		return strings.EqualFold(c, category)
	})
}

// AreCommentsOpen reports whether new comments are accepted. A window of zero days
// keeps comments open forever.
func (p *Post) AreCommentsOpen(closeAfterDays int, now time.Time) bool {
	if closeAfterDays <= 0 {
		return true
	}
	return now.Before(p.PubDate.AddDate(0, 0, closeAfterDays))
}

// Touch stamps the post as modified at t.
func (p *Post) Touch(t time.Time) {
	p.LastModified = t.UTC().Truncate(time.Second)
}

// Clone returns a deep copy of the post.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}

	c := *p
	c.Categories = slices.Clone(p.Categories)
	if c.Categories == nil {
		c.Categories = []string{}
	}

	c.Comments = make([]*Comment, 0, len(p.Comments))
	for _, comment := range p.Comments {
		if comment == nil {
			continue
		}
		cc := *comment
		c.Comments = append(c.Comments, &cc)
	}

	return &c
}

// Validate checks the post before it is persisted.
func (p *Post) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPost, err)
	}

	for _, c := range p.Comments {
		if c == nil {
			return fmt.Errorf("%w: nil comment", ErrInvalidPost)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPost, err)
		}
	}

	return nil
}

// Validate checks a comment before it is attached to a post.
func (c *Comment) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidComment, err)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slug.IsSlug(fl.Field().String())
	})

	_ = v.RegisterValidation("postid", func(fl validator.FieldLevel) bool {
		return isValidID(fl.Field().String())
	})

	return v
}

// isValidID rejects identifiers that cannot be used as a file stem.
func isValidID(id string) bool {
	if strings.TrimSpace(id) == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\:*?"<>|`)
}
