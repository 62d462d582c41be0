package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// commandLen is how many bytes of a command are significant.
	commandLen = 16

	// DefaultPatternDuration is how long each pattern plays before rotating.
	DefaultPatternDuration = 10 * time.Second

	replyUnknown        = "! unknown command"
	replyShuttingDown   = "msg shutting down..."
	replyShutdownFailed = "! failed to shut down"
)

// DefaultPatterns is the rotation used when the configuration names none.
var DefaultPatterns = []string{
	"rainbow",
	"threesine",
	"glow-red",
	"glow-blue",
	"glow-purple",
	"slantbars",
	"sparkle",
	"flame",
}

// ErrAlreadyRunning is returned by [Engine.Run] when called while a previous
// Run is still active.
var ErrAlreadyRunning = errors.New("player is already running")

// Option configures an [Engine] during construction.
type Option func(*Engine)

// WithVersion sets the version reported by "sysinfo?".
func WithVersion(v string) Option {
	return func(e *Engine) {
		e.version = v
	}
}

// WithPatterns replaces the default pattern rotation. Ignored when empty.
// A configuration file that names patterns takes precedence at Run.
func WithPatterns(patterns ...string) Option {
	return func(e *Engine) {
		if len(patterns) > 0 {
			e.patterns = append([]string(nil), patterns...)
		}
	}
}

// WithPatternDuration sets how long each pattern plays. Ignored unless positive.
func WithPatternDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.patternDuration = d
		}
	}
}

// WithShutdown enables the "shutdown" command. fn is called to power the
// host down; a nil fn leaves the command disabled.
func WithShutdown(fn func() error) Option {
	return func(e *Engine) {
		e.shutdown = fn
	}
}

// PowerOff halts the host with "shutdown -h now". Pass it to [WithShutdown]
// on devices where clients may turn the lights off for good.
func PowerOff() error {
	return exec.Command("shutdown", "-h", "now").Run()
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine is the in-process player. Call and Run are safe for concurrent use.
type Engine struct {
	version         string
	patternDuration time.Duration
	shutdown        func() error
	logger          *slog.Logger

	// hostname and interfaces are replaced in tests.
	hostname   func() (string, error)
	interfaces func() ([]iface, error)

	verbose atomic.Bool

	mu       sync.Mutex
	patterns []string
	current  int
	loop     bool
	running  bool
}

// New creates an [Engine] playing [DefaultPatterns].
func New(opts ...Option) *Engine {
	e := &Engine{
		version:         "dev",
		patternDuration: DefaultPatternDuration,
		logger:          slog.Default(),
		hostname:        os.Hostname,
		interfaces:      systemInterfaces,
		patterns:        append([]string(nil), DefaultPatterns...),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Call executes one command and returns its reply.
func (e *Engine) Call(cmd string) (string, error) {
	if cmd == "shutdown" {
		return e.callShutdown(), nil
	}
	if cmd == "sysinfo?" {
		return e.sysinfo(), nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case matches(cmd, "status?"):
	case matches(cmd, "next"):
		e.loop = false
		e.advanceLocked()
	case matches(cmd, "prev"):
		if !e.loop {
			e.loop = true
			e.logDebug("looping pattern", "pattern", e.patterns[e.current])
		}
	default:
		e.logDebug("player command", "command", cmd, "reply", replyUnknown)
		return replyUnknown, nil
	}

	reply := "playing " + e.patterns[e.current]
	e.logDebug("player command", "command", cmd, "reply", reply)
	return reply, nil
}

// matches compares the significant prefix of a command.
func matches(cmd, want string) bool {
	return truncate(cmd) == truncate(want)
}

func truncate(s string) string {
	if len(s) > commandLen {
		return s[:commandLen]
	}
	return s
}

// Run loads configPath and rotates patterns until ctx is cancelled.
//
// A missing configuration file is not an error: the player keeps its
// current patterns and logs a warning. A file that exists but cannot be
// parsed is returned as an error.
func (e *Engine) Run(ctx context.Context, verbose bool, configPath string) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()
	e.verbose.Store(verbose)

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	if err := e.load(configPath); err != nil {
		return err
	}

	e.mu.Lock()
	period := e.patternDuration
	first := e.patterns[e.current]
	e.mu.Unlock()

	e.logger.Info("player started",
		"version", e.version,
		"config", configPath,
		"pattern", first,
		"pattern_duration", period.String(),
	)
	e.logDebug("host info", "sysinfo", e.sysinfo())

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("player stopped")
			return nil
		case <-ticker.C:
			e.rotate()
		}
	}
}

// load applies configPath to the player.
func (e *Engine) load(configPath string) error {
	if configPath == "" {
		return nil
	}

	fc, err := loadFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		e.logger.Warn("player config not found, using defaults", "config", configPath)
		return nil
	}
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(fc.Patterns) > 0 {
		e.patterns = fc.Patterns
		e.current = 0
	}
	if d := fc.PatternDuration.Duration(); d > 0 {
		e.patternDuration = d
	}
	for i, s := range fc.Strands {
		e.logDebug("strand configured", "strand", i, "type", s.Type, "addr", s.Addr)
	}
	return nil
}

// rotate advances to the next pattern unless the current one is looping.
func (e *Engine) rotate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loop {
		return
	}
	e.advanceLocked()
}

// advanceLocked moves to the next pattern. Callers hold e.mu.
func (e *Engine) advanceLocked() {
	prev := e.patterns[e.current]
	e.current = (e.current + 1) % len(e.patterns)
	e.logDebug("pattern switched", "from", prev, "to", e.patterns[e.current])
}

// Pattern returns the name of the pattern currently playing.
func (e *Engine) Pattern() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.patterns[e.current]
}

// Looping reports whether the current pattern is pinned by "prev".
func (e *Engine) Looping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loop
}

func (e *Engine) callShutdown() string {
	if e.shutdown == nil {
		e.logger.Warn("shutdown requested but not enabled")
		return replyShutdownFailed
	}
	if err := e.shutdown(); err != nil {
		e.logger.Error("shutdown failed", "error", err)
		return replyShutdownFailed
	}
	e.logger.Info("shutting down host")
	return replyShuttingDown
}

// logDebug logs at Debug only when Run was started verbose.
func (e *Engine) logDebug(msg string, args ...any) {
	if e.verbose.Load() {
		e.logger.Debug(msg, args...)
	}
}

// iface is a network interface name with one of its addresses.
type iface struct {
	name string
	addr net.IP
}

// sysinfo formats "sysinfo <version> <hostname> <iface:addr,...>" listing
// non-loopback IPv4 addresses.
func (e *Engine) sysinfo() string {
	var b strings.Builder
	b.WriteString("sysinfo ")
	b.WriteString(e.version)
	b.WriteString(" ")

	if host, err := e.hostname(); err != nil {
		b.WriteString("unknown")
	} else {
		b.WriteString(host)
	}
	b.WriteString(" ")

	ifaces, err := e.interfaces()
	if err != nil {
		b.WriteString("unknown")
		return b.String()
	}
	sep := ""
	for _, ifc := range ifaces {
		v4 := ifc.addr.To4()
		if v4 == nil || v4.Equal(net.IPv4(127, 0, 0, 1)) {
			continue
		}
		fmt.Fprintf(&b, "%s%s:%s", sep, ifc.name, v4)
		sep = ","
	}
	return b.String()
}

// systemInterfaces lists every address of every interface on the host.
func systemInterfaces() ([]iface, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []iface
	for _, ifc := range ifs {
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok {
				out = append(out, iface{name: ifc.Name, addr: ipnet.IP})
			}
		}
	}
	return out, nil
}
