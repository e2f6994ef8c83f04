// Package blobstore stores posts and assets in a cloud object store through
// gocloud.dev/blob. Azure Blob Storage, local directories and in-memory buckets are
// linked in; pick one with the bucket URL scheme (azblob://, file://, mem://).
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"strings"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"github.com/hypergopher/postcache"
)

// Options configures a Backend.
type Options struct {
	BucketURL     string       // BucketURL selects the bucket, e.g. azblob://posts or file:///var/blog. Used by Open.
	Logger        *slog.Logger // Logger is the logger used by the Backend. Default is a debug logger to stderr.
	Prefix        string       // Prefix is prepended to every key, e.g. "blog/".
	PublicBaseURL string       // PublicBaseURL is the address the bucket is publicly served from. Asset locators are built on it.
}

// Backend is a postcache.Backend on an object store bucket. Post documents live under
// <prefix>posts/ and assets under <prefix>files/.
type Backend struct {
	bucket  *blob.Bucket
	logger  *slog.Logger
	owned   bool
	prefix  string
	baseURL string
}

var _ postcache.Backend = (*Backend)(nil)

// Open opens the bucket named by opts.BucketURL. Close releases it.
func Open(ctx context.Context, opts Options) (*Backend, error) {
	if opts.BucketURL == "" {
		return nil, errors.New("a bucket URL is required")
	}

	bucket, err := blob.OpenBucket(ctx, opts.BucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", opts.BucketURL, err)
	}

	b, err := New(bucket, opts)
	if err != nil {
		_ = bucket.Close()
		return nil, err
	}
	b.owned = true
	return b, nil
}

// New wraps an already opened bucket. The caller keeps ownership of it.
func New(bucket *blob.Bucket, opts Options) (*Backend, error) {
	if !strings.Contains(opts.PublicBaseURL, "://") {
		return nil, fmt.Errorf("a public base URL is required for asset locators, got %q", opts.PublicBaseURL)
	}

	if opts.Logger == nil {
		opts.Logger = defaultLogger()
	}

	prefix := strings.TrimPrefix(opts.Prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Backend{
		bucket:  bucket,
		logger:  opts.Logger,
		prefix:  prefix,
		baseURL: strings.TrimSuffix(opts.PublicBaseURL, "/"),
	}, nil
}

// Close closes the bucket if Open created it.
func (bs *Backend) Close() error {
	if !bs.owned {
		return nil
	}
	return bs.bucket.Close()
}

func (bs *Backend) ListPostSources(ctx context.Context) ([]string, error) {
	iter := bs.bucket.List(&blob.ListOptions{Prefix: bs.postsPrefix()})

	var sources []string
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list posts: %w", err)
		}

		if obj.IsDir || path.Ext(obj.Key) != postcache.PostExt {
			continue
		}
		// Only direct children of the posts prefix are posts.
		if strings.Contains(strings.TrimPrefix(obj.Key, bs.postsPrefix()), "/") {
			continue
		}
		sources = append(sources, obj.Key)
	}

	return sources, nil
}

func (bs *Backend) OpenPostSource(ctx context.Context, source string) (io.ReadCloser, error) {
	r, err := bs.bucket.NewReader(ctx, source, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", source, err)
	}
	return r, nil
}

func (bs *Backend) SavePost(ctx context.Context, post *postcache.Post) error {
	post.Touch(time.Now())

	var buf bytes.Buffer
	if err := postcache.EncodePost(&buf, post); err != nil {
		return err
	}

	key := bs.postKey(post.ID)
	err := bs.bucket.WriteAll(ctx, key, buf.Bytes(), &blob.WriterOptions{
		ContentType: "application/xml; charset=utf-8",
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	bs.logger.Debug("Stored post", slog.String("key", key))
	return nil
}

func (bs *Backend) DeletePost(ctx context.Context, post *postcache.Post) error {
	key := bs.postKey(post.ID)
	err := bs.bucket.Delete(ctx, key)
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (bs *Backend) SaveAsset(ctx context.Context, data []byte, fileName, suffix string) (string, error) {
	name, err := postcache.AssetName(fileName, suffix)
	if err != nil {
		return "", err
	}

	key := bs.prefix + "files/" + name

	exists, err := bs.bucket.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to check %s: %w", key, err)
	}
	if exists {
		return "", fmt.Errorf("asset %s already exists", key)
	}

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := bs.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}

	return bs.baseURL + "/" + key, nil
}

func (bs *Backend) postsPrefix() string {
	return bs.prefix + "posts/"
}

func (bs *Backend) postKey(id string) string {
	return bs.postsPrefix() + postcache.PostFileName(id)
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{
			AddSource: false,
			Level:     slog.LevelDebug,
		}))
}
