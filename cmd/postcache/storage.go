package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/hypergopher/postcache"
	"github.com/hypergopher/postcache/bboltstore"
	"github.com/hypergopher/postcache/blobstore"
	"github.com/hypergopher/postcache/config"
	"github.com/hypergopher/postcache/searchindex"
	"github.com/hypergopher/postcache/sqlitestore"
)

// storage is everything the configured driver provides.
type storage struct {
	backend   postcache.Backend
	assets    postcache.AssetOpener // nil when the backend does not serve its own files
	assetPath string
	indexer   postcache.Indexer
	closers   []io.Closer
}

// Close releases resources in reverse order of opening.
func (s *storage) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	return errors.Join(errs...)
}

func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage, error) {
	st := &storage{}
	sc := cfg.Storage

	switch sc.Driver {
	case "file":
		b, err := postcache.NewLocalBackend(sc.Dir, postcache.LocalOptions{URLPrefix: sc.URLPrefix})
		if err != nil {
			return nil, err
		}
		prefix := sc.URLPrefix
		if prefix == "" {
			prefix = "/posts"
		}
		st.backend, st.assets, st.assetPath = b, b, path.Join("/", prefix, "files")
	case "blob":
		b, err := blobstore.Open(ctx, blobstore.Options{
			BucketURL:     sc.BucketURL,
			Logger:        logger,
			Prefix:        sc.Prefix,
			PublicBaseURL: sc.PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		st.backend = b
		st.closers = append(st.closers, b)
	case "bbolt":
		b, err := bboltstore.Open(sc.DBPath, bboltstore.Options{Logger: logger, URLPrefix: sc.URLPrefix})
		if err != nil {
			return nil, err
		}
		st.backend, st.assets, st.assetPath = b, b, path.Join("/", sc.URLPrefix, "files")
		st.closers = append(st.closers, b)
	case "sqlite":
		b, err := sqlitestore.Open(ctx, sc.DBPath, sqlitestore.Options{URLPrefix: sc.URLPrefix})
		if err != nil {
			return nil, err
		}
		st.backend, st.assets, st.assetPath = b, b, path.Join("/", sc.URLPrefix, "files")
		st.closers = append(st.closers, b)
		if cfg.Search.Enabled && cfg.Search.Engine == "sqlite" {
			st.indexer = b
		}
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", config.ErrInvalidConfig, sc.Driver)
	}

	if cfg.Search.Enabled && cfg.Search.Engine == "bleve" {
		idx, err := searchindex.Open(searchindex.Options{Logger: logger, Path: cfg.Search.IndexDir})
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		st.indexer = idx
		st.closers = append(st.closers, idx)
	}

	logger.Debug("Storage opened",
		slog.String("driver", sc.Driver),
		slog.Bool("search", st.indexer != nil))

	return st, nil
}

// openService opens the configured storage and loads the cache from it.
func openService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*postcache.Service, *storage, error) {
	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	svc, err := postcache.New(ctx, postcache.Options{
		Backend:                st.backend,
		CommentsCloseAfterDays: cfg.Blog.CommentsCloseAfterDays,
		Indexer:                st.indexer,
		Logger:                 logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	return svc, st, nil
}
