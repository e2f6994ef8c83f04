package postcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// LocalOptions configures a LocalBackend.
type LocalOptions struct {
	// URLPrefix is prepended to the relative path returned by SaveAsset. Defaults to "/posts".
	URLPrefix string
}

// LocalBackend stores each post as an XML file in a directory on the local file
// system. Assets are stored in the files sub-directory.
type LocalBackend struct {
	rootDir   string
	urlPrefix string
}

var (
	_ Backend     = (*LocalBackend)(nil)
	_ AssetOpener = (*LocalBackend)(nil)
)

// NewLocalBackend creates the posts directory if needed and returns a backend rooted at it.
func NewLocalBackend(rootDir string, opts LocalOptions) (*LocalBackend, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create posts directory: %w", err)
	}

	prefix := opts.URLPrefix
	if prefix == "" {
		prefix = "/posts"
	}

	return &LocalBackend{
		rootDir:   rootDir,
		urlPrefix: strings.TrimSuffix(prefix, "/"),
	}, nil
}

// Dir returns the posts directory.
func (fsb *LocalBackend) Dir() string {
	return fsb.rootDir
}

func (fsb *LocalBackend) ListPostSources(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(fsb.rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	sources := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || filepath.Ext(entry.Name()) != PostExt {
			continue
		}
		sources = append(sources, filepath.Join(fsb.rootDir, entry.Name()))
	}

	return sources, nil
}

func (fsb *LocalBackend) OpenPostSource(_ context.Context, source string) (io.ReadCloser, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("failed to open post %s: %w", source, err)
	}
	return f, nil
}

func (fsb *LocalBackend) SavePost(_ context.Context, post *Post) error {
	if !isValidID(post.ID) {
		return fmt.Errorf("%w: bad id %q", ErrInvalidPost, post.ID)
	}

	post.Touch(time.Now())

	var buf bytes.Buffer
	if err := EncodePost(&buf, post); err != nil {
		return err
	}

	return writeFileAtomic(fsb.postPath(post.ID), buf.Bytes())
}

func (fsb *LocalBackend) DeletePost(_ context.Context, post *Post) error {
	err := os.Remove(fsb.postPath(post.ID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete post %s: %w", post.ID, err)
	}
	return nil
}

func (fsb *LocalBackend) SaveAsset(_ context.Context, data []byte, fileName, suffix string) (string, error) {
	name, err := AssetName(fileName, suffix)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(fsb.rootDir, "files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create files directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create asset %s: %w", name, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to write asset %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write asset %s: %w", name, err)
	}

	return path.Join(fsb.urlPrefix, "files", name), nil
}

func (fsb *LocalBackend) OpenAsset(_ context.Context, name string) (io.ReadCloser, error) {
	if !isValidID(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAsset, name)
	}
	return os.Open(filepath.Join(fsb.rootDir, "files", name))
}

func (fsb *LocalBackend) postPath(id string) string {
	return filepath.Join(fsb.rootDir, PostFileName(id))
}

// writeFileAtomic writes data to a temporary file next to name and renames it into place.
func writeFileAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}
