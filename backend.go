package postcache

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// PostExt is the extension of stored post documents.
const PostExt = ".xml"

// Backend is the durable store behind the cache. Implementations persist posts as XML
// documents (see EncodePost) and store uploaded assets.
type Backend interface {
	// ListPostSources returns an identifier for every stored post document.
	ListPostSources(ctx context.Context) ([]string, error)
	// OpenPostSource opens one document returned by ListPostSources.
	OpenPostSource(ctx context.Context, source string) (io.ReadCloser, error)
	// SavePost stamps LastModified and writes the post, replacing any previous version.
	SavePost(ctx context.Context, post *Post) error
	// DeletePost removes the post. Deleting a missing post is not an error.
	DeletePost(ctx context.Context, post *Post) error
	// SaveAsset stores an uploaded file and returns the path or URL it is served from.
	SaveAsset(ctx context.Context, data []byte, fileName, suffix string) (string, error)
}

// AssetOpener is implemented by backends that can serve the assets they store.
type AssetOpener interface {
	OpenAsset(ctx context.Context, name string) (io.ReadCloser, error)
}

// SourceID returns the post ID encoded in a source name: its base name without the
// document extension. Both file paths and object keys are accepted.
func SourceID(source string) string {
	base := path.Base(strings.ReplaceAll(source, `\`, "/"))
	return strings.TrimSuffix(base, PostExt)
}

// PostFileName returns the document name a post is stored under.
func PostFileName(id string) string {
	return id + PostExt
}

var lastTick atomic.Int64

// nextTick returns the current time in ticks, bumped when needed so that no two calls
// ever return the same value.
func nextTick() int64 {
	for {
		now := time.Now().UnixNano()
		last := lastTick.Load()
		if now <= last {
			now = last + 1
		}
		if lastTick.CompareAndSwap(last, now) {
			return now
		}
	}
}

// AssetName returns the name an asset is stored under: the base name of fileName
// with suffix inserted before the extension. An empty suffix is replaced by a
// monotonic time tick.
func AssetName(fileName, suffix string) (string, error) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), `\`, "/"))
	if base == "" || base == "." || base == "/" || base == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidAsset, fileName)
	}

	if suffix == "" {
		suffix = strconv.FormatInt(nextTick(), 10)
	}

	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	name := fmt.Sprintf("%s_%s%s", stem, suffix, ext)

	if !isValidID(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAsset, name)
	}
	return name, nil
}
