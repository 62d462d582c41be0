package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jpalmerr/lightbridge/engine/player"
)

// mockEngine wraps the player with the latency and battery drain of a real
// LED controller, so the demo shows replies arriving out of step with
// clicks and a status line that changes over time.
type mockEngine struct {
	*player.Engine

	mu      sync.Mutex
	battery int
}

func newMockEngine() *mockEngine {
	return &mockEngine{
		Engine: player.New(
			player.WithVersion("demo"),
			player.WithPatternDuration(8*time.Second),
		),
		battery: 100,
	}
}

// Call simulates 20-120ms of controller latency per command and answers
// "battery?" itself.
func (m *mockEngine) Call(cmd string) (string, error) {
	time.Sleep(time.Duration(20+rand.Intn(100)) * time.Millisecond)

	if cmd == "battery?" {
		m.mu.Lock()
		defer m.mu.Unlock()
		return fmt.Sprintf("msg battery %d%%", m.battery), nil
	}
	return m.Engine.Call(cmd)
}

// Run drains the battery by one percent every few seconds while the player runs.
func (m *mockEngine) Run(ctx context.Context, verbose bool, configPath string) error {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.mu.Lock()
				if m.battery > 0 {
					m.battery--
				}
				m.mu.Unlock()
			}
		}
	}()
	return m.Engine.Run(ctx, verbose, configPath)
}
