package lightbridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestStart_BlocksUntilContextCancelled verifies that Start blocks until the
// provided context is cancelled.
func TestStart_BlocksUntilContextCancelled(t *testing.T) {
	br, err := New(newFakeEngine(),
		WithListenAddr("127.0.0.1:0"),
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- br.Start(ctx)
	}()

	if waitForAddr(br, 2*time.Second) == "" {
		t.Fatal("bridge did not bind")
	}

	// verify Start is still blocking (channel should be empty)
	select {
	case err := <-done:
		t.Fatalf("Start() returned early with error: %v", err)
	default:
		// expected: still blocking
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}
}

// TestStart_ReturnsImmediatelyIfContextAlreadyCancelled verifies that Start
// returns immediately if the context is already cancelled.
func TestStart_ReturnsImmediatelyIfContextAlreadyCancelled(t *testing.T) {
	eng := newFakeEngine()
	br, err := New(eng, WithListenAddr("127.0.0.1:0"), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- br.Start(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return with already-cancelled context")
	}

	select {
	case <-eng.runStarted:
		t.Error("engine should not run when context is already cancelled")
	default:
	}
}

// TestStart_RunsEngineWithConfiguration verifies the verbose flag and config
// path reach the engine's run loop unchanged.
func TestStart_RunsEngineWithConfiguration(t *testing.T) {
	eng := newFakeEngine()
	br, err := New(eng,
		WithListenAddr("127.0.0.1:0"),
		WithVerbose(true),
		WithEngineConfig("/tmp/lights.toml"),
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- br.Start(ctx) }()

	select {
	case <-eng.runStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("engine Run was not invoked")
	}

	verbose, cfgPath := eng.runArgs()
	if !verbose {
		t.Error("engine received verbose = false, want true")
	}
	if cfgPath != "/tmp/lights.toml" {
		t.Errorf("engine received config %q, want %q", cfgPath, "/tmp/lights.toml")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start() returned error: %v", err)
	}
}

// TestStart_EngineRunError verifies a failing engine run loop is fatal.
func TestStart_EngineRunError(t *testing.T) {
	eng := newFakeEngine()
	eng.runErr = errors.New("no LED strip found")

	br, err := New(eng, WithListenAddr("127.0.0.1:0"), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- br.Start(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Start() expected error, got nil")
		}
		if !strings.Contains(err.Error(), "no LED strip found") {
			t.Errorf("Start() error = %v, want engine error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after engine failure")
	}

	if br.Addr() != "" {
		t.Errorf("Addr() = %q after stop, want empty", br.Addr())
	}
}

// TestStart_EngineExitsEarly verifies an engine that stops on its own is
// reported as ErrEngineExited.
func TestStart_EngineExitsEarly(t *testing.T) {
	eng := newFakeEngine()
	eng.exitEarly = true

	br, err := New(eng, WithListenAddr("127.0.0.1:0"), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- br.Start(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrEngineExited) {
			t.Errorf("Start() error = %v, want ErrEngineExited", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after engine exit")
	}
}

// TestStart_BindFailure verifies that an occupied listen address is fatal
// and the engine never starts.
func TestStart_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer ln.Close()

	eng := newFakeEngine()
	br, err := New(eng, WithListenAddr(ln.Addr().String()), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = br.Start(context.Background())
	if err == nil {
		t.Fatal("Start() expected bind error, got nil")
	}
	if !strings.Contains(err.Error(), "failed to start HTTP server") {
		t.Errorf("Start() error = %v, want bind failure", err)
	}

	select {
	case <-eng.runStarted:
		t.Error("engine should not run when the listener cannot bind")
	default:
	}
}

// TestStart_ServesControlPage verifies the embedded page is reachable while
// the bridge runs.
func TestStart_ServesControlPage(t *testing.T) {
	br, err := New(newFakeEngine(), WithListenAddr("127.0.0.1:0"), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- br.Start(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	addr := waitForAddr(br, 2*time.Second)
	if addr == "" {
		t.Fatal("bridge did not bind")
	}

	resp, err := http.Get("http://" + addr + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if !strings.Contains(string(body), "<title>LED Control</title>") {
		t.Error("GET / did not return the control page")
	}

	resp, err = http.Get("http://" + addr + "/missing")
	if err != nil {
		t.Fatalf("GET /missing error = %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /missing status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	if string(body) != "404 - Not Found" {
		t.Errorf("GET /missing body = %q, want %q", body, "404 - Not Found")
	}
}

// TestStart_WebsocketRoundTrip verifies a client receives the status push on
// connect and the reply to its own command.
func TestStart_WebsocketRoundTrip(t *testing.T) {
	eng := newFakeEngine()
	br, err := New(eng,
		WithListenAddr("127.0.0.1:0"),
		WithRefreshInterval(time.Second),
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- br.Start(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	addr := waitForAddr(br, 2*time.Second)
	if addr == "" {
		t.Fatal("bridge did not bind")
	}

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, "ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket.Dial() error = %v", err)
	}
	defer conn.CloseNow()

	// immediate push: sysinfo then status
	want := []string{"sysinfo test-1.0 testhost", "playing rainbow"}
	for _, w := range want {
		_, data, err := conn.Read(dialCtx)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if string(data) != w {
			t.Errorf("received %q, want %q", data, w)
		}
	}

	if n := br.Connections(); n != 1 {
		t.Errorf("Connections() = %d, want 1", n)
	}

	if err := conn.Write(dialCtx, websocket.MessageText, []byte("next")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	for {
		_, data, err := conn.Read(dialCtx)
		if err != nil {
			t.Fatalf("Read() error = %v waiting for reply", err)
		}
		if string(data) == "ok next" {
			break
		}
	}

	if eng.callCount("next") != 1 {
		t.Errorf("engine saw %d next commands, want 1", eng.callCount("next"))
	}
}

// TestStart_MultipleSequentialRuns verifies that a new Bridge can be
// started after the previous one shuts down.
func TestStart_MultipleSequentialRuns(t *testing.T) {
	for i := 0; i < 3; i++ {
		br, err := New(newFakeEngine(),
			WithListenAddr("127.0.0.1:0"),
			WithLogger(quietLogger()),
		)
		if err != nil {
			t.Fatalf("iteration %d: New() error = %v", i, err)
		}

		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() {
			done <- br.Start(ctx)
		}()

		time.Sleep(100 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			if err != nil {
				t.Errorf("iteration %d: Start() returned error: %v", i, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("iteration %d: Start() did not return", i)
		}
	}
}

// TestStart_ConcurrentAccess verifies accessors are safe while the bridge runs.
func TestStart_ConcurrentAccess(t *testing.T) {
	br, err := New(newFakeEngine(),
		WithListenAddr("127.0.0.1:0"),
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = br.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)

	// concurrent calls to read accessors shouldn't panic
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = br.Connections()
			_ = br.Addr()
			_ = br.RefreshInterval()
		}()
	}

	time.Sleep(50 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// success
	case <-time.After(5 * time.Second):
		t.Fatal("goroutines did not complete")
	}

	if br.Connections() != 0 {
		t.Errorf("Connections() = %d after stop, want 0", br.Connections())
	}
}

// TestStart_WithTimeoutContext verifies Start respects deadline contexts.
func TestStart_WithTimeoutContext(t *testing.T) {
	br, err := New(newFakeEngine(),
		WithListenAddr("127.0.0.1:0"),
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = br.Start(ctx)
	elapsed := time.Since(start)

	// should have run for approximately 200ms (with some tolerance)
	if elapsed < 150*time.Millisecond || elapsed > 2*time.Second {
		t.Errorf("Start() ran for %v, expected ~200ms", elapsed)
	}
	if err != nil {
		t.Errorf("Start() returned error: %v", err)
	}
}

// hangingEngine blocks forever on "hang" and answers everything else.
type hangingEngine struct {
	*fakeEngine
	release chan struct{}
}

func (h *hangingEngine) Call(cmd string) (string, error) {
	if cmd == "hang" {
		<-h.release
		return "released", nil
	}
	return h.fakeEngine.Call(cmd)
}

// TestStart_ShutdownWithHungEngineCall verifies that an engine call that
// never returns does not keep Start from returning after cancellation.
func TestStart_ShutdownWithHungEngineCall(t *testing.T) {
	eng := &hangingEngine{fakeEngine: newFakeEngine(), release: make(chan struct{})}
	defer close(eng.release)

	br, err := New(eng,
		WithListenAddr("127.0.0.1:0"),
		WithCallTimeout(100*time.Millisecond),
		WithLogger(quietLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- br.Start(ctx) }()

	addr := waitForAddr(br, 2*time.Second)
	if addr == "" {
		cancel()
		t.Fatal("bridge did not bind")
	}

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, "ws://"+addr+"/ws", nil)
	if err != nil {
		cancel()
		t.Fatalf("websocket.Dial() error = %v", err)
	}
	defer conn.CloseNow()

	if err := conn.Write(dialCtx, websocket.MessageText, []byte("hang")); err != nil {
		cancel()
		t.Fatalf("Write() error = %v", err)
	}

	// the waiter gives up and the timeout marker is broadcast
	for {
		_, data, err := conn.Read(dialCtx)
		if err != nil {
			cancel()
			t.Fatalf("Read() error = %v waiting for timeout marker", err)
		}
		if string(data) == "! engine call timed out" {
			break
		}
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start() did not return after cancellation while an engine call was hung")
	}
}
