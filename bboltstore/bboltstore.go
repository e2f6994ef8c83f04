// Package bboltstore keeps posts and assets in a single bbolt database file.
package bboltstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"time"

	"go.etcd.io/bbolt"

	"github.com/hypergopher/postcache"
)

const (
	bucketPosts  = "posts"
	bucketAssets = "assets"
)

// Options configures a Backend.
type Options struct {
	Logger    *slog.Logger  // Logger is the logger used by the Backend. Default is a debug logger to stderr.
	Timeout   time.Duration // Timeout is how long to wait for the file lock. Default is one second.
	URLPrefix string        // URLPrefix is prepended to asset locators. Default is "".
}

// Backend is a postcache.Backend that stores each post document under its ID in the
// posts bucket and each asset under its name in the assets bucket.
type Backend struct {
	db        *bbolt.DB
	logger    *slog.Logger
	urlPrefix string
}

var (
	_ postcache.Backend     = (*Backend)(nil)
	_ postcache.AssetOpener = (*Backend)(nil)
)

// Open opens or creates the database at dbPath.
func Open(dbPath string, opts Options) (*Backend, error) {
	if opts.Logger == nil {
		opts.Logger = defaultLogger()
	}

	if opts.Timeout == 0 {
		opts.Timeout = time.Second
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketPosts)); err != nil {
			return fmt.Errorf("failed to create posts bucket: %w", err)
		}

		if _, err := tx.CreateBucketIfNotExists([]byte(bucketAssets)); err != nil {
			return fmt.Errorf("failed to create assets bucket: %w", err)
		}

		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	opts.Logger.Debug("Opened bbolt database", slog.String("path", dbPath))

	return &Backend{
		db:        db,
		logger:    opts.Logger,
		urlPrefix: opts.URLPrefix,
	}, nil
}

// Close closes the database file.
func (bb *Backend) Close() error {
	return bb.db.Close()
}

func (bb *Backend) ListPostSources(_ context.Context) ([]string, error) {
	var sources []string
	err := bb.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketPosts)).ForEach(func(k, _ []byte) error {
			sources = append(sources, postcache.PostFileName(string(k)))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	return sources, nil
}

func (bb *Backend) OpenPostSource(_ context.Context, source string) (io.ReadCloser, error) {
	id := postcache.SourceID(source)

	var doc []byte
	err := bb.db.View(func(tx *bbolt.Tx) error {
		// Values are only valid inside the transaction.
		if v := tx.Bucket([]byte(bucketPosts)).Get([]byte(id)); v != nil {
			doc = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read post %s: %w", id, err)
	}

	if doc == nil {
		return nil, fmt.Errorf("post %s: %w", id, fs.ErrNotExist)
	}

	return io.NopCloser(bytes.NewReader(doc)), nil
}

func (bb *Backend) SavePost(_ context.Context, post *postcache.Post) error {
	post.Touch(time.Now())

	var buf bytes.Buffer
	if err := postcache.EncodePost(&buf, post); err != nil {
		return err
	}

	err := bb.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketPosts)).Put([]byte(post.ID), buf.Bytes())
	})
	if err != nil {
		return fmt.Errorf("failed to put post %s: %w", post.ID, err)
	}

	return nil
}

func (bb *Backend) DeletePost(_ context.Context, post *postcache.Post) error {
	err := bb.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketPosts)).Delete([]byte(post.ID))
	})
	if err != nil {
		return fmt.Errorf("failed to delete post %s: %w", post.ID, err)
	}

	return nil
}

func (bb *Backend) SaveAsset(_ context.Context, data []byte, fileName, suffix string) (string, error) {
	name, err := postcache.AssetName(fileName, suffix)
	if err != nil {
		return "", err
	}

	err = bb.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketAssets))
		if b.Get([]byte(name)) != nil {
			return fmt.Errorf("asset %s: %w", name, fs.ErrExist)
		}
		return b.Put([]byte(name), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store asset: %w", err)
	}

	return path.Join("/", bb.urlPrefix, "files", name), nil
}

func (bb *Backend) OpenAsset(_ context.Context, name string) (io.ReadCloser, error) {
	var data []byte
	err := bb.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(bucketAssets)).Get([]byte(name)); v != nil {
			data = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read asset %s: %w", name, err)
	}

	if data == nil {
		return nil, fmt.Errorf("asset %s: %w", name, fs.ErrNotExist)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{
			AddSource: false,
			Level:     slog.LevelDebug,
		}))
}
