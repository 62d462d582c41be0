package registry

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// DefaultBufferSize is the outbound queue length used when none is configured.
const DefaultBufferSize = 64

// ErrFull is returned by [Registry.Register] when the connection limit is reached.
var ErrFull = errors.New("connection limit reached")

// Connection is a single registered client.
//
// The registry is the only writer to the outbound channel. The owner of the
// websocket drains [Connection.Outbound] and writes each payload to the wire.
// The channel is closed by [Registry.Unregister].
type Connection struct {
	token string
	out   chan string

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// Token returns the connection's unique identifier.
func (c *Connection) Token() string {
	return c.token
}

// Outbound returns the channel of payloads queued for this connection.
func (c *Connection) Outbound() <-chan string {
	return c.out
}

// Dropped returns how many payloads were discarded because the buffer was full.
func (c *Connection) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Closed reports whether the connection has been unregistered.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// deliver queues payload without blocking, discarding the oldest queued
// payload if the buffer is full. Returns whether an older payload was dropped.
func (c *Connection) deliver(payload string) (delivered, dropped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, false
	}

	select {
	case c.out <- payload:
		return true, false
	default:
	}

	// buffer full: make room by discarding the oldest entry. The reader may
	// have drained it concurrently, in which case there is nothing to drop.
	select {
	case <-c.out:
		dropped = true
		c.dropped++
	default:
	}

	select {
	case c.out <- payload:
		return true, dropped
	default:
		// only reachable with a zero-length buffer
		c.dropped++
		return false, true
	}
}

// close marks the connection closed and closes its channel. Safe to call
// more than once.
func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

// Registry is a thread-safe set of [Connection] values keyed by token.
//
// Register, Unregister and Broadcast may be called concurrently from any
// number of goroutines. The zero value is not usable; create one with [New].
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*Connection
	maxConns   int
	bufferSize int
	logger     *slog.Logger
}

// New creates an empty [Registry].
//
// maxConns caps the number of simultaneous connections; zero or negative
// means unlimited. bufferSize is the per-connection outbound queue length and
// defaults to [DefaultBufferSize] when not positive.
func New(maxConns, bufferSize int, logger *slog.Logger) *Registry {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:      make(map[string]*Connection),
		maxConns:   maxConns,
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Register adds a new connection and returns it.
//
// Returns [ErrFull] if the registry already holds the configured maximum.
func (r *Registry) Register() (*Connection, error) {
	conn := &Connection{
		token: uuid.NewString(),
		out:   make(chan string, r.bufferSize),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxConns > 0 && len(r.conns) >= r.maxConns {
		return nil, ErrFull
	}
	r.conns[conn.token] = conn
	return conn, nil
}

// Unregister removes the connection with the given token and closes its
// outbound channel.
//
// Safe to call multiple times, with an unknown token, or concurrently with
// [Registry.Broadcast].
func (r *Registry) Unregister(token string) {
	r.mu.Lock()
	conn, ok := r.conns[token]
	if ok {
		delete(r.conns, token)
	}
	r.mu.Unlock()

	if ok {
		conn.close()
	}
}

// Broadcast queues payload on every registered connection and returns the
// number of connections it was queued on.
//
// This is non-blocking: a full buffer loses its oldest payload rather than
// holding up delivery to the other connections.
func (r *Registry) Broadcast(payload string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for token, conn := range r.conns {
		ok, dropped := conn.deliver(payload)
		if dropped {
			r.logger.Debug("outbound buffer full, dropped oldest payload",
				"conn_id", token,
				"dropped_total", conn.Dropped(),
			)
		}
		if ok {
			delivered++
		}
	}
	return delivered
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Tokens returns the tokens of all registered connections in sorted order.
//
// The returned slice is a copy.
func (r *Registry) Tokens() []string {
	r.mu.RLock()
	tokens := make([]string, 0, len(r.conns))
	for token := range r.conns {
		tokens = append(tokens, token)
	}
	r.mu.RUnlock()

	sort.Strings(tokens)
	return tokens
}
