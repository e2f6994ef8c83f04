package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hypergopher/postcache"
	"github.com/hypergopher/postcache/web"
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load every stored post and report the ones that fail to decode",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			svc, st, err := openService(cmd.Context(), cfg, cfg.Log.Logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer st.Close()

			report := svc.LoadReport()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Loaded %d posts\n", report.Loaded)
			for _, f := range report.Failures {
				fmt.Fprintf(out, "  FAIL %s: %v\n", f.Source, f.Err)
			}

			if n := len(report.Failures); n > 0 {
				return fmt.Errorf("%d documents failed to load", n)
			}
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Import markdown files with front matter as posts",
		Long: `Convert every .md file in a directory into a post and save it to the
configured storage. Front matter may be YAML (---) or TOML (+++).

Posts whose ID already exists are skipped unless --overwrite is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logger := cfg.Log.Logger(cmd.ErrOrStderr())
			svc, st, err := openService(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			files, err := filepath.Glob(filepath.Join(args[0], "*.md"))
			if err != nil {
				return err
			}

			ctx := postcache.WithAdmin(cmd.Context(), true)
			var imported, skipped int
			for _, file := range files {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", file, err)
				}

				post, err := postcache.ImportMarkdown(data, filepath.Base(file))
				if err != nil {
					return err
				}

				if existing, ok := svc.GetPostByID(ctx, post.ID); ok {
					if !overwrite {
						logger.Info("Skipping existing post", slog.String("id", post.ID), slog.String("file", file))
						skipped++
						continue
					}
					post.Comments = existing.Comments
				}

				if err := svc.SavePost(ctx, post); err != nil {
					return fmt.Errorf("failed to import %s: %w", file, err)
				}
				imported++
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d posts, skipped %d\n", imported, skipped)
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace posts that already exist")

	return cmd
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash for user.passwordHash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}

			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return errors.New("empty password")
			}

			hash, err := web.HashPassword(password)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
