// Package main is the entry point for the lightbridge CLI.
//
// lightbridge can be run either as a library (SDK) or as a standalone binary
// with optional YAML configuration. This CLI provides the standalone binary
// approach.
//
// Usage:
//
//	lightbridge serve                      # Start with defaults on 0.0.0.0:8080
//	lightbridge serve -c lightbridge.yaml  # Start from a config file
//	lightbridge validate -c lightbridge.yaml
//	lightbridge version                    # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "lightbridge",
	Short: "Web control bridge for an LED lighting engine",
	Long: `lightbridge exposes an LED lighting engine to web browsers.

It serves a control page and a websocket endpoint. Commands typed in any
browser go to the engine, and every reply is pushed to every connected
browser. The current pattern and system info refresh every 200ms.

Quick start:
  1. Run: lightbridge serve
  2. Open http://localhost:8080 in your browser

Example config (lightbridge.yaml):
  listen: 0.0.0.0:8080
  engine:
    kind: player
    config: tglight.toml`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this lightbridge binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "lightbridge %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
