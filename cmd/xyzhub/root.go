package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/heremaps/xyz-hub-sub003/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "xyzhub",
	Short: "Serve geospatial features organised in spaces",
	Long: `xyzhub serves a REST API for spaces and the GeoJSON features stored in
them. Features are kept in memory, SQLite, PostgreSQL or S3 back-ends and are
written with conditional policies, optimistic versioning and optional history.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the configuration file")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger returns the JSON logger at the configured level.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})), nil
}
