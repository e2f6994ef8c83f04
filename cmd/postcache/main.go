// postcache serves a blog from any of the postcache storage backends and manages its content.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hypergopher/postcache/config"
)

var configFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "postcache",
		Short: "A small blog engine with pluggable storage",
		Long: `postcache keeps every post in memory and writes through to a storage backend:
a directory of XML documents, an object store bucket, a bbolt file or SQLite.

Settings come from an optional YAML or TOML file and POSTCACHE_* environment
variables, in that order.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML or TOML config file")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(checkCmd())
	cmd.AddCommand(importCmd())
	cmd.AddCommand(hashPasswordCmd())

	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
