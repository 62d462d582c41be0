package lightbridge

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// minRefreshInterval keeps the per-connection ticker from flooding the
// engine's single command queue.
const minRefreshInterval = 50 * time.Millisecond

// bridgeConfig holds mutable state during Bridge construction.
type bridgeConfig struct {
	listenAddr      string
	verbose         bool
	engineConfig    string
	refreshInterval time.Duration
	callTimeout     time.Duration
	maxConnections  int
	outboundBuffer  int
	logger          *slog.Logger
}

// Option is a function that configures a [Bridge] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
//
// Built-in options: [WithListenAddr], [WithVerbose], [WithEngineConfig],
// [WithRefreshInterval], [WithCallTimeout], [WithMaxConnections],
// [WithOutboundBuffer], [WithLogger].
type Option func(*bridgeConfig) error

// WithListenAddr sets the host:port the HTTP server binds to.
//
// The control page is served at http://<addr>/ and the websocket endpoint at
// ws://<addr>/ws. Defaults to 0.0.0.0:8080 if not specified. A port of 0
// picks a free port; use [Bridge.Addr] to discover it.
//
// Example:
//
//	br, err := lightbridge.New(eng,
//	    lightbridge.WithListenAddr("127.0.0.1:9090"),
//	)
//
// Returns an error if addr is not a valid host:port pair.
func WithListenAddr(addr string) Option {
	return func(cfg *bridgeConfig) error {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("invalid listen address %q: %w", addr, err)
		}
		cfg.listenAddr = addr
		return nil
	}
}

// WithVerbose sets the verbose flag passed to the engine's run loop.
func WithVerbose(verbose bool) Option {
	return func(cfg *bridgeConfig) error {
		cfg.verbose = verbose
		return nil
	}
}

// WithEngineConfig sets the configuration path passed to the engine's run
// loop. Defaults to "tglight.toml".
//
// Returns an error if path is empty.
func WithEngineConfig(path string) Option {
	return func(cfg *bridgeConfig) error {
		if path == "" {
			return errors.New("engine config path cannot be empty")
		}
		cfg.engineConfig = path
		return nil
	}
}

// WithRefreshInterval sets how often each connection polls the engine for
// "sysinfo?" and "status?".
//
// The interval applies per connection, so N clients produce N polls per
// period. Defaults to 200ms if not specified.
//
// Returns an error if the duration is below 50ms.
func WithRefreshInterval(d time.Duration) Option {
	return func(cfg *bridgeConfig) error {
		if d < minRefreshInterval {
			return fmt.Errorf("refresh interval must be at least %s", minRefreshInterval)
		}
		cfg.refreshInterval = d
		return nil
	}
}

// WithCallTimeout sets how long a single engine command may wait, queued and
// executing, before the caller gives up.
//
// A timed-out command is reported to clients as "! engine call timed out".
// The engine still finishes the command and its late reply is broadcast.
// Defaults to 5 seconds if not specified.
//
// Returns an error if the duration is zero or negative.
func WithCallTimeout(d time.Duration) Option {
	return func(cfg *bridgeConfig) error {
		if d <= 0 {
			return errors.New("call timeout must be positive")
		}
		cfg.callTimeout = d
		return nil
	}
}

// WithMaxConnections limits the number of concurrent websocket clients.
//
// Connections beyond the limit are closed with status 1013 (try again
// later). Zero removes the limit. Defaults to 100 if not specified.
//
// Example:
//
//	br, err := lightbridge.New(eng,
//	    lightbridge.WithMaxConnections(8),
//	)
//
// Returns an error if n is negative.
func WithMaxConnections(n int) Option {
	return func(cfg *bridgeConfig) error {
		if n < 0 {
			return errors.New("max connections cannot be negative")
		}
		cfg.maxConnections = n
		return nil
	}
}

// WithOutboundBuffer sets how many messages may queue for a single client
// before the oldest are dropped. Defaults to 64 if not specified.
//
// Returns an error if n is zero or negative.
func WithOutboundBuffer(n int) Option {
	return func(cfg *bridgeConfig) error {
		if n <= 0 {
			return errors.New("outbound buffer must be positive")
		}
		cfg.outboundBuffer = n
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Bridge instance.
//
// This allows SDK consumers to control where logs are written and in what
// format. If not specified, [slog.Default] is used.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	br, err := lightbridge.New(eng,
//	    lightbridge.WithLogger(logger),
//	)
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *bridgeConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}
