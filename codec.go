package postcache

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the timestamp layout used inside stored post documents.
const DateLayout = "2006-01-02 15:04:05"

// defaultCommentDate is used for comments stored without a date.
const defaultCommentDate = "2000-01-01"

// parseLayouts are tried in order when reading timestamps. The second layout accepts
// unpadded minutes, which older documents used for comment dates.
var parseLayouts = []string{
	DateLayout,
	"2006-01-02 15:4:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

type xmlPost struct {
	XMLName      xml.Name       `xml:"post"`
	Title        string         `xml:"title"`
	Slug         string         `xml:"slug"`
	PubDate      *string        `xml:"pubDate"`
	LastModified *string        `xml:"lastModified"`
	Excerpt      string         `xml:"excerpt"`
	Content      string         `xml:"content"`
	IsPublished  *string        `xml:"ispublished"`
	Categories   *xmlCategories `xml:"categories"`
	Comments     *xmlComments   `xml:"comments"`
}

type xmlCategories struct {
	Items []string `xml:"category"`
}

type xmlComments struct {
	Items []xmlComment `xml:"comment"`
}

type xmlComment struct {
	ID      string  `xml:"id,attr"`
	IsAdmin string  `xml:"isAdmin,attr"`
	Author  string  `xml:"author"`
	Email   string  `xml:"email"`
	Date    *string `xml:"date"`
	Content string  `xml:"content"`
}

// EncodePost writes the XML document for post to w.
func EncodePost(w io.Writer, post *Post) error {
	pubDate := formatTime(post.PubDate)
	lastModified := formatTime(post.LastModified)
	isPublished := strconv.FormatBool(post.IsPublished)

	doc := xmlPost{
		Title:        post.Title,
		Slug:         post.Slug,
		PubDate:      &pubDate,
		LastModified: &lastModified,
		Excerpt:      post.Excerpt,
		Content:      post.Content,
		IsPublished:  &isPublished,
		Categories:   &xmlCategories{Items: post.Categories},
		Comments:     &xmlComments{Items: make([]xmlComment, 0, len(post.Comments))},
	}

	for _, c := range post.Comments {
		date := formatTime(c.PubDate)
		doc.Comments.Items = append(doc.Comments.Items, xmlComment{
			ID:      c.ID,
			IsAdmin: strconv.FormatBool(c.IsAdmin),
			Author:  c.Author,
			Email:   c.Email,
			Date:    &date,
			Content: c.Content,
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode post %s: %w", post.ID, err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	_, err := io.WriteString(w, "\n")
	return err
}

// DecodePost parses a stored post document. The id is not part of the document; it
// comes from the name the document was stored under.
func DecodePost(r io.Reader, id string) (*Post, error) {
	return decodePost(r, id, time.Now())
}

func decodePost(r io.Reader, id string, now time.Time) (*Post, error) {
	var doc xmlPost
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPost, id, err)
	}

	post := &Post{
		ID:         id,
		Title:      doc.Title,
		Slug:       strings.ToLower(doc.Slug),
		Excerpt:    doc.Excerpt,
		Content:    doc.Content,
		Categories: []string{},
		Comments:   []*Comment{},
	}

	if doc.PubDate == nil {
		return nil, fmt.Errorf("%w: %s: missing pubDate", ErrMalformedPost, id)
	}

	var err error
	if post.PubDate, err = parseTime(*doc.PubDate); err != nil {
		return nil, fmt.Errorf("%w: %s: pubDate: %v", ErrMalformedPost, id, err)
	}

	post.LastModified = now.UTC().Truncate(time.Second)
	if doc.LastModified != nil {
		if post.LastModified, err = parseTime(*doc.LastModified); err != nil {
			return nil, fmt.Errorf("%w: %s: lastModified: %v", ErrMalformedPost, id, err)
		}
	}

	post.IsPublished = true
	if doc.IsPublished != nil {
		if post.IsPublished, err = parseBool(*doc.IsPublished); err != nil {
			return nil, fmt.Errorf("%w: %s: ispublished: %v", ErrMalformedPost, id, err)
		}
	}

	if doc.Categories != nil {
		post.Categories = append(post.Categories, doc.Categories.Items...)
	}

	if doc.Comments != nil {
		for _, item := range doc.Comments.Items {
			comment, err := decodeComment(item)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: comment %s: %v", ErrMalformedPost, id, item.ID, err)
			}
			post.Comments = append(post.Comments, comment)
		}
	}

	return post, nil
}

func decodeComment(item xmlComment) (*Comment, error) {
	comment := &Comment{
		ID:      item.ID,
		Author:  item.Author,
		Email:   item.Email,
		Content: item.Content,
	}

	var err error
	if strings.TrimSpace(item.IsAdmin) != "" {
		if comment.IsAdmin, err = parseBool(item.IsAdmin); err != nil {
			return nil, fmt.Errorf("isAdmin: %w", err)
		}
	}

	date := defaultCommentDate
	if item.Date != nil {
		date = *item.Date
	}
	if comment.PubDate, err = parseTime(date); err != nil {
		return nil, fmt.Errorf("date: %w", err)
	}

	return comment, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

func parseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", value)
}

func parseBool(value string) (bool, error) {
	return strconv.ParseBool(strings.ToLower(strings.TrimSpace(value)))
}
