package lightbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpalmerr/lightbridge/dashboard"
	"github.com/jpalmerr/lightbridge/internal/endpoint"
	"github.com/jpalmerr/lightbridge/internal/registry"
	"github.com/jpalmerr/lightbridge/internal/server"
	"golang.org/x/sync/errgroup"
)

const (
	defaultListenAddr      = "0.0.0.0:8080"
	defaultEngineConfig    = "tglight.toml"
	defaultRefreshInterval = 200 * time.Millisecond
	defaultCallTimeout     = 5 * time.Second
	defaultMaxConnections  = 100
	defaultOutboundBuffer  = 64
)

// ErrEngineExited is returned by [Bridge.Start] when the engine's run loop
// returns while the bridge is still supposed to be serving.
var ErrEngineExited = errors.New("engine exited unexpectedly")

// Engine is the external lighting engine driven by the bridge.
//
// Call sends one command and returns the engine's reply. The bridge never
// calls it concurrently. Run starts the engine's main loop and blocks for
// the engine's lifetime; it should return nil once ctx is cancelled and an
// error if the engine cannot start. verbose and configPath are passed
// through unchanged from the bridge configuration.
type Engine interface {
	Call(cmd string) (string, error)
	Run(ctx context.Context, verbose bool, configPath string) error
}

// Bridge connects web clients to an [Engine].
//
// Bridge is created using [New] with functional options and started with
// [Bridge.Start]. The typical lifecycle is:
//
//	br, err := lightbridge.New(eng, lightbridge.WithListenAddr(":8080"))
//	if err != nil {
//	    slog.Error("failed to create bridge", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	if err := br.Start(ctx); err != nil { // blocks until context cancelled
//	    slog.Error("bridge failed", "error", err)
//	    os.Exit(1)
//	}
type Bridge struct {
	engine          Engine
	listenAddr      string
	verbose         bool
	engineConfig    string
	refreshInterval time.Duration
	callTimeout     time.Duration
	maxConnections  int
	outboundBuffer  int
	logger          *slog.Logger

	mu       sync.RWMutex
	registry *registry.Registry
	server   *server.Server
}

// New creates a new [Bridge] for engine with the given options.
//
// Defaults:
//   - Listen address: 0.0.0.0:8080
//   - Engine config path: tglight.toml
//   - Status refresh interval: 200ms per connection
//   - Call timeout: 5 seconds
//   - Max connections: 100
//   - Outbound buffer: 64 messages per connection
//
// Returns an error if engine is nil or if any option is invalid.
func New(engine Engine, opts ...Option) (*Bridge, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}

	cfg := &bridgeConfig{
		listenAddr:      defaultListenAddr,
		engineConfig:    defaultEngineConfig,
		refreshInterval: defaultRefreshInterval,
		callTimeout:     defaultCallTimeout,
		maxConnections:  defaultMaxConnections,
		outboundBuffer:  defaultOutboundBuffer,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		engine:          engine,
		listenAddr:      cfg.listenAddr,
		verbose:         cfg.verbose,
		engineConfig:    cfg.engineConfig,
		refreshInterval: cfg.refreshInterval,
		callTimeout:     cfg.callTimeout,
		maxConnections:  cfg.maxConnections,
		outboundBuffer:  cfg.outboundBuffer,
		logger:          logger,
	}, nil
}

// Start runs the engine and serves clients until ctx is cancelled.
//
// Start is a blocking call. It binds the HTTP listener first, then runs the
// engine's main loop on its own goroutine while the websocket server
// accepts clients. Commands that arrive before the engine has finished
// initializing are forwarded anyway; the engine decides what to answer.
//
// Returns nil on graceful shutdown. Returns an error if the listener cannot
// be bound, if the engine fails to start, or if the engine stops on its own
// ([ErrEngineExited]). Each of these leaves the bridge unable to serve, so
// callers should treat them as fatal.
func (b *Bridge) Start(ctx context.Context) error {
	b.logger.Info("lightbridge starting",
		"listen", b.listenAddr,
		"engine_config", b.engineConfig,
		"verbose", b.verbose,
	)

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	ep := endpoint.New(b.engine, b.callTimeout, b.logger)
	ep.Start()
	defer ep.Stop()

	reg := registry.New(b.maxConnections, b.outboundBuffer, b.logger)
	srv := server.NewServer(server.Config{
		Addr:            b.listenAddr,
		Caller:          ep,
		Registry:        reg,
		Assets:          dashboard.Assets,
		RefreshInterval: b.refreshInterval,
	}, b.logger)

	g, gctx := errgroup.WithContext(ctx)

	if err := srv.Start(gctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	b.mu.Lock()
	b.registry = reg
	b.server = srv
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.registry = nil
		b.server = nil
		b.mu.Unlock()
	}()

	b.logger.Info("control page available", "url", "http://"+srv.Addr()+"/")

	g.Go(func() error {
		if err := ep.Run(gctx, b.verbose, b.engineConfig); err != nil {
			return err
		}
		if gctx.Err() == nil {
			return ErrEngineExited
		}
		return nil
	})

	g.Go(func() error {
		<-srv.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		b.logger.Error("lightbridge stopped", "error", err)
		return err
	}
	b.logger.Info("lightbridge stopped")
	return nil
}

// Connections returns the number of open client connections, or zero when
// the bridge is not running.
func (b *Bridge) Connections() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.registry == nil {
		return 0
	}
	return b.registry.Len()
}

// Addr returns the address the HTTP server is bound to, or "" when the
// bridge is not running. Useful when listening on port 0.
func (b *Bridge) Addr() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.server == nil {
		return ""
	}
	return b.server.Addr()
}

// ListenAddr returns the configured listen address.
func (b *Bridge) ListenAddr() string {
	return b.listenAddr
}

// EngineConfig returns the configuration path passed to the engine.
func (b *Bridge) EngineConfig() string {
	return b.engineConfig
}

// Verbose reports whether the engine runs in verbose mode.
func (b *Bridge) Verbose() bool {
	return b.verbose
}

// RefreshInterval returns the per-connection status polling period.
func (b *Bridge) RefreshInterval() time.Duration {
	return b.refreshInterval
}

// CallTimeout returns how long a client waits for an engine reply.
func (b *Bridge) CallTimeout() time.Duration {
	return b.callTimeout
}
