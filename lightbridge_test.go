package lightbridge

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeEngine answers the status queries and echoes everything else. Run
// blocks until its context ends unless runErr or exitEarly say otherwise.
type fakeEngine struct {
	mu         sync.Mutex
	calls      []string
	runVerbose bool
	runConfig  string
	runStarted chan struct{}
	runOnce    sync.Once

	runErr    error
	exitEarly bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{runStarted: make(chan struct{})}
}

func (f *fakeEngine) Call(cmd string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	switch cmd {
	case "sysinfo?":
		return "sysinfo test-1.0 testhost", nil
	case "status?":
		return "playing rainbow", nil
	case "fail":
		return "", errors.New("player offline")
	default:
		return "ok " + cmd, nil
	}
}

func (f *fakeEngine) Run(ctx context.Context, verbose bool, configPath string) error {
	f.mu.Lock()
	f.runVerbose = verbose
	f.runConfig = configPath
	f.mu.Unlock()
	f.runOnce.Do(func() { close(f.runStarted) })

	if f.runErr != nil {
		return f.runErr
	}
	if f.exitEarly {
		return nil
	}
	<-ctx.Done()
	return nil
}

func (f *fakeEngine) callCount(cmd string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == cmd {
			n++
		}
	}
	return n
}

func (f *fakeEngine) runArgs() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runVerbose, f.runConfig
}

// waitForAddr polls until the bridge reports a bound address.
func waitForAddr(br *Bridge, timeout time.Duration) string {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if addr := br.Addr(); addr != "" {
			return addr
		}
		time.Sleep(5 * time.Millisecond)
	}
	return ""
}
