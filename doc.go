// Package lightbridge exposes a single LED-lighting engine to any number of
// web clients over websockets.
//
// Clients send plain-text commands ("next", "prev", "status?") and receive
// the engine's plain-text replies. Engine state is shared, so every reply is
// broadcast to every connected client. Each connection also polls the
// engine's "sysinfo?" and "status?" queries every 200ms and broadcasts the
// answers, which keeps all control pages in sync.
//
// # Quick Start
//
// Wrap any [Engine] and start the bridge with graceful shutdown:
//
//	eng := player.New(player.WithVersion("1.0.0"))
//	br, _ := lightbridge.New(eng)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	br.Start(ctx) // blocks until context is cancelled or the engine fails
//
// # Configuration
//
// lightbridge uses the functional options pattern for configuration:
//
//	br, err := lightbridge.New(eng,
//	    lightbridge.WithListenAddr("127.0.0.1:9090"),
//	    lightbridge.WithEngineConfig("/etc/tglight.toml"),
//	    lightbridge.WithVerbose(true),
//	    lightbridge.WithCallTimeout(2 * time.Second),
//	    lightbridge.WithMaxConnections(32),
//	)
//
// # Engines
//
// The engine is an external collaborator reached through two operations,
// Call and Run (see [Engine]). The engine is assumed not to be reentrant:
// the bridge funnels every Call through a single goroutine. Two adapters
// ship with the module:
//
//   - engine/player: an in-process stand-in that speaks the player's command language
//   - engine/process: an external executable driven over stdin and stdout
//
// # Architecture
//
// lightbridge consists of several internal packages (under internal/):
//
//   - internal/endpoint: Serializing actor in front of the engine
//   - internal/registry: Thread-safe set of connections with broadcast
//   - internal/server: HTTP control page, websocket handler, per-connection ticker
//   - dashboard: Embedded control page
//
// The internal packages are not part of the public API and may change
// without notice.
package lightbridge
