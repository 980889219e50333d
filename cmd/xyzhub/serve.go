package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/heremaps/xyz-hub-sub003/internal/config"
	"github.com/heremaps/xyz-hub-sub003/pkg/hub"
)

var shutdownTimeout time.Duration

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub server",
		Long: `The serve command starts the HTTP API. Tenants, API keys and declared
spaces are reloaded when the configuration file changes; storage and server
settings need a restart.

Example:
  xyzhub serve --config config.yaml
  XYZHUB_SERVER__PORT=9090 xyzhub serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "Time to wait for running requests on shutdown")
	rootCmd.AddCommand(cmd)
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	h, err := hub.New(
		hub.WithConfigFile(configPath),
		hub.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create hub: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("start hub: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping hub")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
