package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultCallTimeout bounds how long a caller waits for its reply, including
// time spent queued behind other calls.
const DefaultCallTimeout = 5 * time.Second

// errorPrefix marks a response synthesized by the bridge or the engine to
// report a failure.
const errorPrefix = "! "

var (
	// ErrNotRunning is returned for calls made before Start or after Stop.
	ErrNotRunning = errors.New("engine endpoint is not running")

	// ErrCallTimeout is returned when a reply does not arrive within the call timeout.
	ErrCallTimeout = errors.New("engine call timed out")

	// ErrMalformedReply is returned when the engine replies with invalid UTF-8.
	ErrMalformedReply = errors.New("malformed engine reply")

	// ErrAlreadyRan is returned by a second call to [Endpoint.Run].
	ErrAlreadyRan = errors.New("engine already started")
)

// Engine is the external lighting engine.
//
// Call is not safe for concurrent use; [Endpoint] guarantees it is never
// entered twice at once. Run blocks for the lifetime of the engine and
// should return when ctx is cancelled.
type Engine interface {
	Call(cmd string) (string, error)
	Run(ctx context.Context, verbose bool, configPath string) error
}

// ErrorResponse formats err as an error-tagged response line.
func ErrorResponse(err error) string {
	return errorPrefix + err.Error()
}

type result struct {
	text string
	err  error
}

type request struct {
	cmd   string
	then  func(string)
	reply chan result
}

// Endpoint serializes access to an [Engine].
//
// All calls are executed by one goroutine in the order they were queued.
// Start and Stop are idempotent and safe for concurrent use.
type Endpoint struct {
	engine      Engine
	callTimeout time.Duration
	logger      *slog.Logger
	requests    chan request
	stopCh      chan struct{}
	wg          sync.WaitGroup
	calls       atomic.Uint64

	mu      sync.Mutex
	started bool
	stopped bool
	ran     bool
}

// New creates an [Endpoint] in front of engine.
//
// callTimeout bounds each caller's wait; zero or negative selects
// [DefaultCallTimeout]. The endpoint must be started with [Endpoint.Start]
// before calls are served.
func New(engine Engine, callTimeout time.Duration, logger *slog.Logger) *Endpoint {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Endpoint{
		engine:      engine,
		callTimeout: callTimeout,
		logger:      logger,
		requests:    make(chan request),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the goroutine that serves the request queue.
//
// Start is idempotent. If Stop was called before Start, Start is a no-op.
func (e *Endpoint) Start() {
	e.mu.Lock()
	if e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.wg.Add(1)
	e.mu.Unlock()

	go e.serve()
}

// Stop stops serving calls and waits for the call in progress, if any.
//
// The wait is bounded by the call timeout. An engine call still running
// after that is abandoned: Stop returns, and the endpoint goroutine exits
// once the engine finally answers. Queued callers that were not yet picked
// up receive [ErrNotRunning]. Stop is idempotent and safe to call before
// Start.
func (e *Endpoint) Stop() {
	e.mu.Lock()
	if !e.stopped {
		e.stopped = true
		close(e.stopCh)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(e.callTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		e.logger.Warn("abandoning engine call still in progress",
			"timeout", e.callTimeout.String(),
		)
	}
}

// Calls returns the number of commands the engine has executed.
func (e *Endpoint) Calls() uint64 {
	return e.calls.Load()
}

// Call submits cmd to the engine and returns its reply.
//
// On failure the returned text is an error response (see [ErrorResponse])
// suitable for broadcasting, and err describes the failure.
func (e *Endpoint) Call(ctx context.Context, cmd string) (string, error) {
	return e.CallThen(ctx, cmd, nil)
}

// CallThen is like [Endpoint.Call] but additionally runs then with the reply
// on the endpoint goroutine, right after the engine returns. Replies handed
// to then are therefore observed in the exact order the engine produced
// them. then runs even if the caller stopped waiting, and must not block.
func (e *Endpoint) CallThen(ctx context.Context, cmd string, then func(string)) (string, error) {
	e.mu.Lock()
	running := e.started && !e.stopped
	e.mu.Unlock()
	if !running {
		return ErrorResponse(ErrNotRunning), ErrNotRunning
	}

	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	req := request{
		cmd:   cmd,
		then:  then,
		reply: make(chan result, 1),
	}

	select {
	case e.requests <- req:
	case <-e.stopCh:
		return ErrorResponse(ErrNotRunning), ErrNotRunning
	case <-ctx.Done():
		return e.abandon(ctx, cmd)
	}

	// once accepted, the request always gets a reply
	select {
	case res := <-req.reply:
		return res.text, res.err
	case <-ctx.Done():
		return e.abandon(ctx, cmd)
	}
}

// abandon reports a caller that gave up waiting.
func (e *Endpoint) abandon(ctx context.Context, cmd string) (string, error) {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		err = ErrCallTimeout
		e.logger.Warn("engine call abandoned",
			"command", cmd,
			"timeout", e.callTimeout.String(),
			"error", err,
		)
	} else {
		// caller went away, usually a closing connection
		e.logger.Debug("engine call abandoned", "command", cmd, "error", err)
	}
	return ErrorResponse(err), err
}

func (e *Endpoint) serve() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		case req := <-e.requests:
			text, err := e.invoke(req.cmd)
			if req.then != nil {
				e.safeThen(req.then, text)
			}
			req.reply <- result{text: text, err: err}
		}
	}
}

// invoke runs a single engine call with panic recovery and reply validation.
func (e *Endpoint) invoke(cmd string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			e.logger.Error("engine call panic",
				"correlation_id", correlationID,
				"command", cmd,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("engine panic (correlation_id: %s)", correlationID)
			text = ErrorResponse(err)
		}
	}()

	start := time.Now()
	reply, err := e.engine.Call(cmd)
	e.calls.Add(1)
	latency := time.Since(start)

	if err != nil {
		e.logger.Warn("engine call failed",
			"command", cmd,
			"latency_ms", latency.Milliseconds(),
			"error", err,
		)
		return ErrorResponse(err), fmt.Errorf("engine call %q: %w", cmd, err)
	}

	if !utf8.ValidString(reply) {
		e.logger.Error("engine returned malformed reply",
			"command", cmd,
			"reply_bytes", len(reply),
		)
		return ErrorResponse(ErrMalformedReply), ErrMalformedReply
	}

	e.logger.Debug("engine call",
		"command", cmd,
		"reply", reply,
		"latency_ms", latency.Milliseconds(),
	)
	return reply, nil
}

// safeThen runs a follow-up with panic recovery so a faulty consumer cannot
// take down the endpoint goroutine.
func (e *Endpoint) safeThen(then func(string), text string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("reply handler panicked", "panic", r)
		}
	}()
	then(text)
}

// Run executes the engine's main loop and blocks until it returns.
//
// Run may be called only once per Endpoint; later calls return
// [ErrAlreadyRan]. It is independent of Start: calls may be served before
// the engine finishes initializing, in which case the engine decides what
// to reply.
func (e *Endpoint) Run(ctx context.Context, verbose bool, configPath string) (err error) {
	e.mu.Lock()
	if e.ran {
		e.mu.Unlock()
		return ErrAlreadyRan
	}
	e.ran = true
	e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			e.logger.Error("engine run panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("engine panic (correlation_id: %s)", correlationID)
		}
	}()

	e.logger.Info("engine starting", "verbose", verbose, "config", configPath)
	if err := e.engine.Run(ctx, verbose, configPath); err != nil {
		return fmt.Errorf("engine run: %w", err)
	}
	e.logger.Info("engine stopped")
	return nil
}
