package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hypergopher/postcache/web"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the blog over HTTP",
		Long: `Load every post into memory and serve the JSON API, the RSS feed, the
MetaWeblog endpoint and Prometheus metrics.

Examples:
  postcache serve --config blog.yaml
  POSTCACHE_STORAGE_DRIVER=bbolt POSTCACHE_STORAGE_DBPATH=blog.db postcache serve --addr :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			logger := cfg.Log.Logger(os.Stderr)
			ttl, err := cfg.Server.SessionDuration()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, st, err := openService(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := st.Close(); err != nil {
					logger.Error("Failed to close storage", slog.String("error", err.Error()))
				}
			}()

			for _, f := range svc.LoadReport().Failures {
				logger.Warn("Skipped unreadable post", slog.String("source", f.Source), slog.String("error", f.Err.Error()))
			}

			srv, err := web.NewServer(web.Options{
				Service:    svc,
				Assets:     st.assets,
				AssetPath:  st.assetPath,
				Blog:       cfg.Blog,
				User:       cfg.User,
				BaseURL:    cfg.Server.BaseURL,
				SessionTTL: ttl,
				Logger:     logger,
			})
			if err != nil {
				return err
			}

			if cfg.User.Username == "" {
				logger.Warn("No admin account configured; login and MetaWeblog are disabled")
			}

			return listen(ctx, &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           srv.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}, logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overriding server.addr")

	return cmd
}

// listen serves until ctx is done, then drains in-flight requests.
func listen(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", slog.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
