package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/jpalmerr/lightbridge/internal/endpoint"
	"github.com/jpalmerr/lightbridge/internal/registry"
)

const (
	// DefaultRefreshInterval is the per-connection status polling period.
	DefaultRefreshInterval = 200 * time.Millisecond

	// wsWriteTimeout is the maximum time allowed for a single websocket write.
	// A client that cannot take a frame within this window is disconnected.
	wsWriteTimeout = 5 * time.Second

	// shutdownTimeout bounds graceful shutdown of in-flight HTTP requests.
	shutdownTimeout = 5 * time.Second

	// notFoundBody is returned for every path other than "/" and "/ws".
	notFoundBody = "404 - Not Found"

	// pagePath is the location of the control page inside the assets filesystem.
	pagePath = "assets/index.html"
)

// statusQueries are issued on connect and on every tick, in this order.
var statusQueries = []string{"sysinfo?", "status?"}

// Caller submits a command to the engine and runs then with the reply in
// engine completion order. It is satisfied by [endpoint.Endpoint].
type Caller interface {
	CallThen(ctx context.Context, cmd string, then func(string)) (string, error)
}

// Config holds the collaborators and settings of a [Server].
type Config struct {
	// Addr is the TCP address to bind, e.g. "0.0.0.0:8080". Port 0 picks a free port.
	Addr string

	// Caller forwards commands to the engine.
	Caller Caller

	// Registry holds the open connections that receive broadcasts.
	Registry *registry.Registry

	// Assets contains assets/index.html. May be nil, in which case "/" fails with 500.
	Assets fs.FS

	// RefreshInterval is the status polling period per connection.
	// Defaults to [DefaultRefreshInterval].
	RefreshInterval time.Duration
}

// Server handles HTTP and websocket requests for the bridge.
//
// Server provides two endpoints:
//   - GET /: Serves the embedded control page
//   - GET /ws: Websocket command channel with broadcast replies
//
// Any other path returns 404. The server is designed for graceful shutdown
// via context cancellation.
type Server struct {
	addr     string
	caller   Caller
	registry *registry.Registry
	assets   fs.FS
	refresh  time.Duration
	logger   *slog.Logger

	mu         sync.RWMutex
	httpServer *http.Server
	listener   net.Listener
	done       chan struct{}
}

// NewServer creates a new [Server]. It does not listen until [Server.Start].
func NewServer(cfg Config, logger *slog.Logger) *Server {
	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     cfg.Addr,
		caller:   cfg.Caller,
		registry: cfg.Registry,
		assets:   cfg.Assets,
		refresh:  refresh,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins serving requests in a background goroutine.
//
// Start is non-blocking and returns once the listener is bound. The server
// runs until ctx is cancelled, at which point it shuts down with a 5-second
// timeout and closes every websocket connection.
//
// Returns an error if the address cannot be bound.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify address availability synchronously
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind to %s: %w", s.addr, err)
	}

	httpServer := &http.Server{
		Handler: s.Handler(),
		// request contexts derive from ctx, so cancelling it also ends
		// every websocket read loop on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = httpServer
	s.mu.Unlock()

	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		defer close(s.done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

// Done is closed once the server has shut down after its context was cancelled.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Addr returns the address the server is listening on, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Connections returns the number of open websocket connections.
func (s *Server) Connections() int {
	return s.registry.Len()
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/", s.handlePage)
	return mux
}

// handlePage serves the control page at "/" and 404 everywhere else.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(notFoundBody))
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.assets == nil {
		http.Error(w, "Control page not found", http.StatusInternalServerError)
		return
	}

	content, err := fs.ReadFile(s.assets, pagePath)
	if err != nil {
		http.Error(w, "Control page not found", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(content); err != nil {
		s.logger.Error("failed to write control page", "error", err)
	}
}

// handleWS upgrades the request and runs the connection until it closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// no authentication exists; any origin may drive the lights
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket handshake failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client, err := s.registry.Register()
	if err != nil {
		s.logger.Warn("rejecting connection", "remote_addr", r.RemoteAddr, "error", err)
		_ = conn.Close(websocket.StatusTryAgainLater, "too many connections")
		return
	}

	logger := s.logger.With("conn_id", client.Token())
	logger.Info("connection opened",
		"remote_addr", r.RemoteAddr,
		"connections", s.registry.Len(),
	)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		defer cancel()
		s.writeLoop(ctx, conn, client, logger)
	}()

	// status push on connect goes to every client, not only the new one
	s.refreshStatus(ctx)
	tick := startTicker(ctx, s.refresh, s.refreshStatus)

	closeErr := s.readLoop(ctx, conn, logger)

	tick.Stop()
	s.registry.Unregister(client.Token())
	cancel()
	<-writeDone

	switch status := websocket.CloseStatus(closeErr); status {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		logger.Info("connection closed", "status", status.String())
	default:
		if status == -1 && ctx.Err() != nil {
			logger.Info("connection closed", "reason", "shutdown or write failure")
		} else {
			logger.Warn("connection closed", "error", closeErr)
		}
	}
	_ = conn.CloseNow()
}

// readLoop forwards text frames to the engine until the connection fails.
// It returns the error that ended the loop.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, logger *slog.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if typ != websocket.MessageText {
			_ = conn.Close(websocket.StatusUnsupportedData, "text frames only")
			return fmt.Errorf("rejected %s frame", typ)
		}
		if !utf8.Valid(data) {
			_ = conn.Close(websocket.StatusInvalidFramePayloadData, "invalid utf-8")
			return errors.New("rejected frame with invalid utf-8")
		}

		cmd := string(data)
		logger.Debug("command received", "command", cmd)
		s.dispatch(ctx, cmd)
	}
}

// writeLoop drains the connection's outbound queue onto the wire.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, client *registry.Connection, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-client.Outbound():
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, []byte(payload))
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("websocket write failed", "error", err)
				}
				return
			}
		}
	}
}

// dispatch sends cmd to the engine and broadcasts the reply.
//
// The endpoint broadcasts the reply itself as soon as the engine returns.
// Failures that never reach the engine, such as a timeout while queued, are
// broadcast here so clients still see an error response.
func (s *Server) dispatch(ctx context.Context, cmd string) {
	reply, err := s.caller.CallThen(ctx, cmd, s.broadcast)
	if errors.Is(err, endpoint.ErrCallTimeout) || errors.Is(err, endpoint.ErrNotRunning) {
		s.broadcast(reply)
	}
}

// refreshStatus polls the status queries and broadcasts each reply.
func (s *Server) refreshStatus(ctx context.Context) {
	for _, q := range statusQueries {
		if ctx.Err() != nil {
			return
		}
		s.dispatch(ctx, q)
	}
}

func (s *Server) broadcast(payload string) {
	s.registry.Broadcast(payload)
}
