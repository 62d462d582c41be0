// Standalone mock engine executable for testing the process engine.
//
// It reads one command per line on stdin and writes one reply per line on
// stdout, answering with the built-in player.
//
// Usage:
//
//	go build -o /tmp/mockengine ./example/cmd/mockengine
//	go run ./cmd/lightbridge serve -c example/lightbridge.yaml
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jpalmerr/lightbridge/engine/player"
	flag "github.com/spf13/pflag"
)

// options are the flags the process engine appends to the command line.
type options struct {
	configPath string
	verbose    bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("mockengine", flag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "tglight.toml", "engine configuration file")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	// stdout carries replies, so logs go to stderr
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	eng := player.New(player.WithVersion("mockengine"), player.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := eng.Run(ctx, opts.verbose, opts.configPath); err != nil {
			logger.Error("player failed", "error", err)
			os.Exit(1)
		}
	}()

	in := bufio.NewScanner(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	for in.Scan() {
		reply, err := eng.Call(in.Text())
		if err != nil {
			reply = "! " + err.Error()
		}
		fmt.Fprintln(out, reply)
		if err := out.Flush(); err != nil {
			logger.Error("write reply", "error", err)
			os.Exit(1)
		}
	}
}
