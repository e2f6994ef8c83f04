// Package web serves a postcache.Service over HTTP: a JSON content API, an admin login,
// an RSS feed, Prometheus metrics, uploaded assets and the MetaWeblog endpoint.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hypergopher/postcache"
	"github.com/hypergopher/postcache/config"
	"github.com/hypergopher/postcache/metaweblog"
)

// Options configures a Server.
type Options struct {
	Service    *postcache.Service    // Service is the blog core. Required.
	Assets     postcache.AssetOpener // Assets serves stored files under AssetPath. Optional.
	AssetPath  string                // AssetPath is the URL path assets are served from. Default is "/files".
	Blog       config.Blog           // Blog describes the site.
	User       config.User           // User is the admin account.
	BaseURL    string                // BaseURL is the public site address used in feeds. Empty means use the request host.
	SessionTTL time.Duration         // SessionTTL is how long a login lasts. Default is 24 hours.
	Registry   *prometheus.Registry  // Registry receives the metrics. Default is a new registry.
	Clock      func() time.Time      // Clock returns the current time. Default is time.Now.
	Logger     *slog.Logger          // Logger is the logger used by the Server. Default is a debug logger to stderr.
}

// Server is the HTTP surface of a blog.
type Server struct {
	service   *postcache.Service
	assets    postcache.AssetOpener
	assetPath string
	blog      config.Blog
	user      config.User
	baseURL   string
	registry  *prometheus.Registry
	sessions  *sessions
	metrics   *metrics
	xmlrpc    http.Handler
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewServer creates a Server.
func NewServer(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, errors.New("a service is required")
	}
	if opts.Logger == nil {
		opts.Logger = defaultLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.AssetPath == "" {
		opts.AssetPath = "/files"
	}
	if opts.Blog.PostsPerPage < 1 {
		opts.Blog.PostsPerPage = 2
	}

	baseURL := strings.TrimSuffix(opts.BaseURL, "/")

	srv := &Server{
		service:   opts.Service,
		assets:    opts.Assets,
		assetPath: "/" + strings.Trim(opts.AssetPath, "/"),
		blog:      opts.Blog,
		user:      opts.User,
		baseURL:   baseURL,
		registry:  opts.Registry,
		sessions:  newSessions(opts.SessionTTL, opts.Clock, strings.HasPrefix(baseURL, "https://")),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    opts.Logger,
	}

	srv.metrics = newMetrics(opts.Registry, func() float64 { return float64(opts.Service.Count()) })
	srv.xmlrpc = metaweblog.NewHandler(metaweblog.NewProvider(opts.Service, metaweblog.Options{
		BaseURL:          baseURL,
		BlogName:         opts.Blog.Name,
		CheckCredentials: srv.checkCredentials,
		Logger:           opts.Logger,
	}))

	return srv, nil
}

// Routes returns the router for every endpoint.
func (srv *Server) Routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(srv.recoverer, srv.metrics.instrument, srv.adminSession)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/blog", srv.handleBlog).Methods(http.MethodGet)
	api.HandleFunc("/posts", srv.handleListPosts).Methods(http.MethodGet)
	api.HandleFunc("/posts/{slug}", srv.handleGetPost).Methods(http.MethodGet)
	api.HandleFunc("/categories", srv.handleCategories).Methods(http.MethodGet)
	api.HandleFunc("/categories/{category}", srv.handleCategoryPosts).Methods(http.MethodGet)
	api.HandleFunc("/search", srv.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/posts/{id}/comments", srv.handleAddComment).Methods(http.MethodPost)

	admin := api.NewRoute().Subrouter()
	admin.Use(srv.requireAdmin)
	admin.HandleFunc("/posts", srv.handleCreatePost).Methods(http.MethodPost)
	admin.HandleFunc("/posts/{id}", srv.handleUpdatePost).Methods(http.MethodPut)
	admin.HandleFunc("/posts/{id}", srv.handleDeletePost).Methods(http.MethodDelete)
	admin.HandleFunc("/posts/{id}/comments/{commentID}", srv.handleDeleteComment).Methods(http.MethodDelete)
	admin.HandleFunc("/files", srv.handleUpload).Methods(http.MethodPost)

	router.HandleFunc("/login", srv.handleLogin).Methods(http.MethodPost)
	router.HandleFunc("/logout", srv.handleLogout).Methods(http.MethodPost)
	router.HandleFunc("/feed", srv.handleFeed).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(srv.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.Handle("/xmlrpc", srv.xmlrpc).Methods(http.MethodPost)

	if srv.assets != nil {
		router.HandleFunc(srv.assetPath+"/{name}", srv.handleAsset).Methods(http.MethodGet)
	}

	return router
}

// adminSession marks requests carrying a live session as admin for the core.
func (srv *Server) adminSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admin := srv.sessions.valid(r)
		next.ServeHTTP(w, r.WithContext(postcache.WithAdmin(r.Context(), admin)))
	})
}

func (srv *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !postcache.IsAdminContext(r.Context()) {
			srv.writeJSONError(w, http.StatusUnauthorized, "login required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (srv *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				srv.logger.Error("Panic serving request", slog.String("path", r.URL.Path), slog.Any("panic", err))
				srv.writeJSONError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (srv *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		srv.logger.Error("Failed to write response", slog.String("error", err.Error()))
	}
}

func (srv *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	srv.writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps core errors onto HTTP statuses. Anything unexpected is a 500 with a
// generic message; the details only go to the log.
func (srv *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, postcache.ErrPostNotFound), errors.Is(err, postcache.ErrCommentNotFound):
		srv.writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, postcache.ErrSearchDisabled):
		srv.writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, postcache.ErrInvalidPost), errors.Is(err, postcache.ErrInvalidComment), errors.Is(err, postcache.ErrInvalidAsset):
		srv.writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, postcache.ErrCommentsClosed):
		srv.writeJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, context.Canceled):
		srv.logger.Debug("Request canceled", slog.String("path", r.URL.Path))
	default:
		srv.logger.Error("Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		srv.writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (srv *Server) siteURL(r *http.Request) string {
	if srv.baseURL != "" {
		return srv.baseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{
			AddSource: false,
			Level:     slog.LevelDebug,
		}))
}
