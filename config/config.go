// Package config loads the postcache configuration from a YAML or TOML file and
// POSTCACHE_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "POSTCACHE_"

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Blog    Blog    `json:"blog" yaml:"blog" toml:"blog"`
	User    User    `json:"user" yaml:"user" toml:"user"`
	Storage Storage `json:"storage" yaml:"storage" toml:"storage"`
	Search  Search  `json:"search" yaml:"search" toml:"search"`
	Server  Server  `json:"server" yaml:"server" toml:"server"`
	Log     Log     `json:"log" yaml:"log" toml:"log"`
}

type Blog struct {
	Name                   string `json:"name" yaml:"name" toml:"name"`
	Description            string `json:"description" yaml:"description" toml:"description"`
	Owner                  Owner  `json:"owner" yaml:"owner" toml:"owner"`
	PostsPerPage           int    `json:"postsPerPage" yaml:"postsPerPage" toml:"postsPerPage" validate:"min=1"`
	CommentsCloseAfterDays int    `json:"commentsCloseAfterDays" yaml:"commentsCloseAfterDays" toml:"commentsCloseAfterDays" validate:"min=0"`
}

// OwnerLink is a profile link shown with the owner.
type OwnerLink struct {
	Name string `json:"name" yaml:"name" toml:"name" validate:"required"`
	Icon string `json:"icon" yaml:"icon" toml:"icon"`
	URL  string `json:"url" yaml:"url" toml:"url" validate:"required,url"`
}

// Owner is the person the blog belongs to. It is credited in feeds.
type Owner struct {
	Name      string      `json:"name" yaml:"name" toml:"name"`
	Email     string      `json:"email" yaml:"email" toml:"email" validate:"omitempty,email"`
	Bio       string      `json:"bio" yaml:"bio" toml:"bio"`
	AvatarURL string      `json:"avatarURL" yaml:"avatarURL" toml:"avatarURL" validate:"omitempty,url"`
	Links     []OwnerLink `json:"links" yaml:"links" toml:"links" validate:"dive"`
}

// User holds the single admin account. PasswordHash is a bcrypt hash.
type User struct {
	Username     string `json:"username" yaml:"username" toml:"username" validate:"required_with=PasswordHash"`
	PasswordHash string `json:"-" yaml:"passwordHash" toml:"passwordHash" validate:"required_with=Username"`
}

type Storage struct {
	Driver        string `json:"driver" yaml:"driver" toml:"driver" validate:"oneof=file blob bbolt sqlite"`
	Dir           string `json:"dir" yaml:"dir" toml:"dir" validate:"required_if=Driver file"`
	BucketURL     string `json:"bucketURL" yaml:"bucketURL" toml:"bucketURL" validate:"required_if=Driver blob"`
	Prefix        string `json:"prefix" yaml:"prefix" toml:"prefix"`
	PublicBaseURL string `json:"publicBaseURL" yaml:"publicBaseURL" toml:"publicBaseURL" validate:"required_if=Driver blob,omitempty,url"`
	DBPath        string `json:"dbPath" yaml:"dbPath" toml:"dbPath" validate:"required_if=Driver bbolt,required_if=Driver sqlite"`
	URLPrefix     string `json:"urlPrefix" yaml:"urlPrefix" toml:"urlPrefix"`
}

type Search struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Engine   string `json:"engine" yaml:"engine" toml:"engine" validate:"oneof=bleve sqlite"`
	IndexDir string `json:"indexDir" yaml:"indexDir" toml:"indexDir"`
}

type Server struct {
	Addr       string `json:"addr" yaml:"addr" toml:"addr" validate:"required"`
	BaseURL    string `json:"baseURL" yaml:"baseURL" toml:"baseURL" validate:"omitempty,url"`
	SessionTTL string `json:"sessionTTL" yaml:"sessionTTL" toml:"sessionTTL" validate:"required"`
}

type Log struct {
	Level  string `json:"level" yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" toml:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Blog: Blog{
			Name:                   "postcache",
			Description:            "A short description of the blog",
			Owner:                  Owner{Name: "The Owner"},
			PostsPerPage:           2,
			CommentsCloseAfterDays: 10,
		},
		Storage: Storage{Driver: "file", Dir: "posts"},
		Search:  Search{Engine: "bleve"},
		Server:  Server{Addr: ":8080", SessionTTL: "24h"},
		Log:     Log{Level: "info", Format: "text"},
	}
}

// Load reads the file at path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), c)
		if err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("failed to parse config file %s: unknown key %s", path, undecoded[0])
		}
	default:
		return fmt.Errorf("unsupported config file type %q", ext)
	}

	return nil
}

// applyEnv overrides values from POSTCACHE_<SECTION>_<KEY> variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"BLOG_NAME":             &c.Blog.Name,
		"BLOG_DESCRIPTION":      &c.Blog.Description,
		"BLOG_OWNER_NAME":       &c.Blog.Owner.Name,
		"BLOG_OWNER_EMAIL":      &c.Blog.Owner.Email,
		"USER_USERNAME":         &c.User.Username,
		"USER_PASSWORDHASH":     &c.User.PasswordHash,
		"STORAGE_DRIVER":        &c.Storage.Driver,
		"STORAGE_DIR":           &c.Storage.Dir,
		"STORAGE_BUCKETURL":     &c.Storage.BucketURL,
		"STORAGE_PREFIX":        &c.Storage.Prefix,
		"STORAGE_PUBLICBASEURL": &c.Storage.PublicBaseURL,
		"STORAGE_DBPATH":        &c.Storage.DBPath,
		"STORAGE_URLPREFIX":     &c.Storage.URLPrefix,
		"SEARCH_ENGINE":         &c.Search.Engine,
		"SEARCH_INDEXDIR":       &c.Search.IndexDir,
		"SERVER_ADDR":           &c.Server.Addr,
		"SERVER_BASEURL":        &c.Server.BaseURL,
		"SERVER_SESSIONTTL":     &c.Server.SessionTTL,
		"LOG_LEVEL":             &c.Log.Level,
		"LOG_FORMAT":            &c.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"BLOG_POSTSPERPAGE":           &c.Blog.PostsPerPage,
		"BLOG_COMMENTSCLOSEAFTERDAYS": &c.Blog.CommentsCloseAfterDays,
	}
	for key, dst := range ints {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s%s must be an integer", ErrInvalidConfig, EnvPrefix, key)
			}
			*dst = n
		}
	}

	if v, ok := lookup(EnvPrefix + "SEARCH_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sSEARCH_ENABLED must be a boolean", ErrInvalidConfig, EnvPrefix)
		}
		c.Search.Enabled = b
	}

	return nil
}

// Validate checks the struct rules and the values they cannot express.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if _, err := c.Server.SessionDuration(); err != nil {
		return fmt.Errorf("%w: server.sessionTTL: %w", ErrInvalidConfig, err)
	}

	if c.Search.Enabled && c.Search.Engine == "sqlite" && c.Storage.Driver != "sqlite" {
		return fmt.Errorf("%w: the sqlite search engine needs the sqlite storage driver", ErrInvalidConfig)
	}

	return nil
}

// SessionDuration parses SessionTTL.
func (s Server) SessionDuration() (time.Duration, error) {
	d, err := time.ParseDuration(s.SessionTTL)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s.SessionTTL)
	}
	return d, nil
}

// Logger builds the slog logger described by the section.
func (l Log) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
