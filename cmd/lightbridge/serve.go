package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/lightbridge"
	"github.com/jpalmerr/lightbridge/config"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// serveCmd starts the bridge.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine and the web control server",
	Long: `Start the LED engine and the web control server.

The server will:
  - Load configuration from the YAML file, if given
  - Start the engine with the engine config path
  - Serve the control page on / and the command channel on /ws

Flags override values from the config file. The server runs until
interrupted (Ctrl+C), receives SIGTERM, or the engine stops.

Example:
  lightbridge serve
  lightbridge serve --listen 127.0.0.1:9090 --engine-config /etc/tglight.toml -v
  lightbridge serve -c /etc/lightbridge/lightbridge.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addConfigFlags(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Verbose)

	logger.Info("config loaded",
		"listen", cfg.Listen,
		"engine", cfg.Engine.Kind,
		"engine_config", cfg.Engine.Config,
		"verbose", cfg.Verbose,
	)

	engine, err := config.BuildEngine(cfg, version, logger)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	br, err := lightbridge.New(engine, config.BuildOptions(cfg, logger)...)
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// start bridge - blocks until context cancelled or engine failure
	errChan := make(chan error, 1)
	go func() {
		errChan <- br.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("bridge error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("bridge error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
