package main

import (
	"fmt"
	"net"

	"github.com/jpalmerr/lightbridge/config"
	"github.com/spf13/cobra"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Validate the lightbridge configuration without starting anything.

This command loads the env file, parses the YAML, expands environment
variables, applies flag overrides, and validates all fields. It's useful
for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  lightbridge validate -c lightbridge.yaml
  lightbridge validate --config /etc/lightbridge/lightbridge.yaml --listen :9090`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	addConfigFlags(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// flag overrides bypass config.Parse, so check them here
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return fmt.Errorf("invalid config: listen: %w", err)
	}
	if cfg.Engine.Config == "" {
		return fmt.Errorf("invalid config: engine config path is empty")
	}

	maxConns := "unlimited"
	if *cfg.MaxConnections > 0 {
		maxConns = fmt.Sprintf("%d", *cfg.MaxConnections)
	}

	engine := cfg.Engine.Kind
	if cfg.Engine.Kind == config.KindProcess {
		engine = fmt.Sprintf("%s (%s)", cfg.Engine.Kind, cfg.Engine.Command[0])
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Listen:           %s\n", cfg.Listen)
	fmt.Fprintf(out, "  Engine:           %s\n", engine)
	fmt.Fprintf(out, "  Engine config:    %s\n", cfg.Engine.Config)
	fmt.Fprintf(out, "  Refresh interval: %s\n", cfg.RefreshInterval.Duration())
	fmt.Fprintf(out, "  Call timeout:     %s\n", cfg.CallTimeout.Duration())
	fmt.Fprintf(out, "  Max connections:  %s\n", maxConns)

	return nil
}
