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
)

func main() {
	// simulated LED controller (see mock_engine.go)
	engine := newMockEngine()

	br, err := lightbridge.New(engine,
		lightbridge.WithListenAddr("127.0.0.1:8080"),
		lightbridge.WithEngineConfig("example/tglight.toml"),
		lightbridge.WithCallTimeout(2*time.Second),
		lightbridge.WithMaxConnections(16),
	)
	if err != nil {
		slog.Error("failed to create bridge", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   lightbridge Demo                                    ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Open http://localhost:8080 in two browser tabs      ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Try:                                                ║")
	fmt.Println("  ║   • Next / Loop buttons (both tabs update)            ║")
	fmt.Println("  ║   • typing battery? in the command box                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := br.Start(ctx); err != nil {
		slog.Error("lightbridge error", "error", err)
		os.Exit(1)
	}
}
