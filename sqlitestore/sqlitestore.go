// Package sqlitestore keeps posts and assets in a SQLite database. The posts table
// carries an FTS5 index, so the backend can also serve as a postcache.Indexer.
package sqlitestore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hypergopher/postcache"
)

// NewDB opens a SQLite database with the connection pragmas used by the backend.
func NewDB(dbPath string) (*sql.DB, error) {
	// Note: the busy_timeout pragma must be first because
	// the connection needs to be set to block on busy before WAL mode
	// is set in case it hasn't been already set by another connection.
	pragmas := "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=journal_size_limit(200000000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=temp_store(MEMORY)&_pragma=cache_size(-16000)"

	db, err := sql.Open("sqlite", dbPath+pragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// Backend is a postcache.Backend on SQLite.
type Backend struct {
	db        *sql.DB
	tableName string
	urlPrefix string
}

var (
	_ postcache.Backend     = (*Backend)(nil)
	_ postcache.AssetOpener = (*Backend)(nil)
	_ postcache.Indexer     = (*Backend)(nil)
)

// Options configures a Backend.
type Options struct {
	TableName string // TableName is the name of the posts table; related tables use it as a prefix. Default is "posts".
	URLPrefix string // URLPrefix is prepended to asset locators. Default is "".
}

// New wraps db. Call Init before use.
func New(db *sql.DB, opts Options) *Backend {
	if opts.TableName == "" {
		opts.TableName = "posts"
	}
	return &Backend{db: db, tableName: opts.TableName, urlPrefix: opts.URLPrefix}
}

// Open opens the database at dbPath and creates the schema.
func Open(ctx context.Context, dbPath string, opts Options) (*Backend, error) {
	db, err := NewDB(dbPath)
	if err != nil {
		return nil, err
	}

	b := New(db, opts)
	if err := b.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return b, nil
}

// Init creates the tables, the full-text index and its triggers if they do not exist.
func (s *Backend) Init(ctx context.Context) error {
	query := `
		-- Table for holding posts
		CREATE TABLE IF NOT EXISTS ` + s.tableName + ` (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			slug TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			document BLOB NOT NULL,
			last_modified TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS ` + s.tableName + `_slug_idx ON ` + s.tableName + `(slug);

		-- Table for uploaded files
		CREATE TABLE IF NOT EXISTS ` + s.tableName + `_assets (
			name TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			created DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		-- Full-text search over the posts table
		CREATE VIRTUAL TABLE IF NOT EXISTS ` + s.tableName + `_search USING fts5(
			title,
			content,
			content='` + s.tableName + `',
			content_rowid='seq'
		);

		CREATE TRIGGER IF NOT EXISTS ` + s.tableName + `_search_ai AFTER INSERT ON ` + s.tableName + `
		BEGIN
			INSERT INTO ` + s.tableName + `_search(rowid, title, content)
			VALUES(new.seq, new.title, new.content);
		END;

		CREATE TRIGGER IF NOT EXISTS ` + s.tableName + `_search_ad AFTER DELETE ON ` + s.tableName + `
		BEGIN
			INSERT INTO ` + s.tableName + `_search(` + s.tableName + `_search, rowid, title, content)
			VALUES('delete', old.seq, old.title, old.content);
		END;

		CREATE TRIGGER IF NOT EXISTS ` + s.tableName + `_search_au AFTER UPDATE ON ` + s.tableName + `
		BEGIN
			INSERT INTO ` + s.tableName + `_search(` + s.tableName + `_search, rowid, title, content)
			VALUES('delete', old.seq, old.title, old.content);
			INSERT INTO ` + s.tableName + `_search(rowid, title, content)
			VALUES(new.seq, new.title, new.content);
		END;
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Backend) Close() error {
	return s.db.Close()
}

func (s *Backend) ListPostSources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM `+s.tableName+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to list posts: %w", err)
		}
		sources = append(sources, postcache.PostFileName(id))
	}

	return sources, rows.Err()
}

func (s *Backend) OpenPostSource(ctx context.Context, source string) (io.ReadCloser, error) {
	id := postcache.SourceID(source)

	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM `+s.tableName+` WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %s: %w", id, fs.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read post %s: %w", id, err)
	}

	return io.NopCloser(bytes.NewReader(doc)), nil
}

func (s *Backend) SavePost(ctx context.Context, post *postcache.Post) error {
	post.Touch(time.Now())

	var buf bytes.Buffer
	if err := postcache.EncodePost(&buf, post); err != nil {
		return err
	}

	query := `
		INSERT INTO ` + s.tableName + ` (id, slug, title, content, document, last_modified)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			slug = excluded.slug,
			title = excluded.title,
			content = excluded.content,
			document = excluded.document,
			last_modified = excluded.last_modified
	`
	if _, err := s.db.ExecContext(ctx, query,
		post.ID, post.Slug, post.Title, post.Content, buf.Bytes(),
		post.LastModified.Format(postcache.DateLayout)); err != nil {
		return fmt.Errorf("failed to save post %s: %w", post.ID, err)
	}

	return nil
}

func (s *Backend) DeletePost(ctx context.Context, post *postcache.Post) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+s.tableName+` WHERE id = ?`, post.ID); err != nil {
		return fmt.Errorf("failed to delete post %s: %w", post.ID, err)
	}
	return nil
}

func (s *Backend) SaveAsset(ctx context.Context, data []byte, fileName, suffix string) (string, error) {
	name, err := postcache.AssetName(fileName, suffix)
	if err != nil {
		return "", err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.tableName+`_assets (name, data) VALUES (?, ?)`, name, data); err != nil {
		return "", fmt.Errorf("failed to store asset %s: %w", name, err)
	}

	return path.Join("/", s.urlPrefix, "files", name), nil
}

func (s *Backend) OpenAsset(ctx context.Context, name string) (io.ReadCloser, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM `+s.tableName+`_assets WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", name, fs.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read asset %s: %w", name, err)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// Index is a no-op: triggers keep the full-text table in step with SavePost.
func (s *Backend) Index(*postcache.Post) error { return nil }

// Remove is a no-op: triggers keep the full-text table in step with DeletePost.
func (s *Backend) Remove(string) error { return nil }

// Search runs a full-text query over post titles and bodies, best match first.
// Every word of the query must match.
func (s *Backend) Search(ctx context.Context, q string, limit int) ([]string, error) {
	match := ftsQuery(q)
	if match == "" || limit <= 0 {
		return []string{}, nil
	}

	query := `
		SELECT p.id
		FROM ` + s.tableName + `_search
		JOIN ` + s.tableName + ` p ON p.seq = ` + s.tableName + `_search.rowid
		WHERE ` + s.tableName + `_search MATCH ?
		ORDER BY rank
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, match, limit)
	if err != nil {
		return nil, fmt.Errorf("full-text search failed: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ftsQuery quotes every word so user input cannot use FTS5 query syntax.
func ftsQuery(q string) string {
	words := strings.Fields(q)
	for i, w := range words {
		words[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
	}
	return strings.Join(words, " ")
}
