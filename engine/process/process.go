// Package process drives an external LED engine executable.
//
// The executable receives one command per line on stdin and must answer
// each with exactly one line on stdout. Lines written to stderr are
// forwarded to the logger. The process is started by [Engine.Run] with the
// bridge's flags appended to its arguments:
//
//	<path> <args...> --config <configPath> [--verbose]
package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// waitDelay bounds how long Run waits for the stderr copy after the
// process exits or is killed.
const waitDelay = 2 * time.Second

var (
	// ErrNotStarted is returned by [Engine.Call] while no process is running.
	ErrNotStarted = errors.New("engine process not started")

	// ErrInvalidCommand is returned for commands that would break line framing.
	ErrInvalidCommand = errors.New("command contains a line break")

	// ErrAlreadyRunning is returned by [Engine.Run] while a previous Run is active.
	ErrAlreadyRunning = errors.New("engine process already running")
)

// Option configures an [Engine].
type Option func(*Engine)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEnv adds "KEY=value" entries to the process environment, which
// otherwise inherits the bridge's.
func WithEnv(env ...string) Option {
	return func(e *Engine) {
		e.env = append(e.env, env...)
	}
}

// WithDir sets the working directory of the process.
func WithDir(dir string) Option {
	return func(e *Engine) {
		e.dir = dir
	}
}

// Engine runs path as a child process and exchanges text lines with it.
type Engine struct {
	path   string
	args   []string
	env    []string
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stdin   io.WriteCloser
	stdout  *bufio.Reader
}

// New creates an [Engine] for the executable at path. args are passed
// before the bridge's own flags.
func New(path string, args []string, opts ...Option) *Engine {
	e := &Engine{
		path:   path,
		args:   append([]string(nil), args...),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run starts the process and waits for it to exit.
//
// Run returns nil when ctx is cancelled, which kills the process. Any other
// exit is reported as an error, as is a failure to start.
func (e *Engine) Run(ctx context.Context, verbose bool, configPath string) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.stdin = nil
		e.stdout = nil
		e.mu.Unlock()
	}()

	argv := append([]string(nil), e.args...)
	argv = append(argv, "--config", configPath)
	if verbose {
		argv = append(argv, "--verbose")
	}

	cmd := exec.CommandContext(ctx, e.path, argv...)
	cmd.Dir = e.dir
	cmd.WaitDelay = waitDelay
	if len(e.env) > 0 {
		cmd.Env = append(os.Environ(), e.env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("engine stdin: %w", err)
	}

	// stdout is an os.Pipe owned here rather than cmd.StdoutPipe, so the read
	// end stays open until Run decides to close it
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("engine stdout: %w", err)
	}
	defer stdoutR.Close()
	cmd.Stdout = stdoutW

	stderr := &lineLogger{logger: e.logger, path: e.path}
	cmd.Stderr = stderr

	err = cmd.Start()
	// the child holds its own copy of the write end
	stdoutW.Close()
	if err != nil {
		return fmt.Errorf("failed to start engine %s: %w", e.path, err)
	}

	e.mu.Lock()
	e.stdin = stdin
	e.stdout = bufio.NewReader(stdoutR)
	e.mu.Unlock()

	e.logger.Info("engine process started", "path", e.path, "pid", cmd.Process.Pid, "args", argv)

	waitErr := cmd.Wait()
	stderr.Flush()

	// fails any Call still blocked on a reply, even if a descendant of the
	// engine kept the write end open
	stdoutR.Close()

	e.mu.Lock()
	e.stdin = nil
	e.stdout = nil
	e.mu.Unlock()

	if ctx.Err() != nil {
		e.logger.Info("engine process stopped", "path", e.path)
		return nil
	}
	if waitErr != nil {
		return fmt.Errorf("engine process exited: %w", waitErr)
	}
	e.logger.Warn("engine process exited", "path", e.path)
	return nil
}

// Call writes cmd as one line and reads one reply line.
func (e *Engine) Call(cmd string) (string, error) {
	if strings.ContainsAny(cmd, "\r\n") {
		return "", ErrInvalidCommand
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stdin == nil {
		return "", ErrNotStarted
	}

	if _, err := io.WriteString(e.stdin, cmd+"\n"); err != nil {
		return "", fmt.Errorf("write command: %w", err)
	}

	line, err := e.stdout.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line == "" {
			return "", fmt.Errorf("read reply: %w", io.ErrUnexpectedEOF)
		}
		if line == "" {
			return "", fmt.Errorf("read reply: %w", err)
		}
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// lineLogger forwards each complete line written to it as a log record.
type lineLogger struct {
	logger *slog.Logger
	path   string

	mu  sync.Mutex
	buf []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.emit(l.buf[:i])
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}

// Flush logs a trailing line that was never terminated by a newline.
func (l *lineLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.emit(l.buf)
	l.buf = nil
}

func (l *lineLogger) emit(raw []byte) {
	line := strings.TrimRight(string(raw), "\r")
	if line != "" {
		l.logger.Info("engine output", "path", l.path, "line", line)
	}
}
