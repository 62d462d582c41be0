package server

import (
	"context"
	"sync"
	"time"
)

// ticker fires a refresh function at a fixed period for one connection.
//
// The timer is re-armed before each refresh, so a slow refresh shortens the
// following wait instead of drifting the cadence. Refreshes never overlap.
type ticker struct {
	period  time.Duration
	refresh func(context.Context)
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// startTicker arms a ticker. The context passed to refresh is cancelled by
// [ticker.Stop] or when ctx is done.
func startTicker(ctx context.Context, period time.Duration, refresh func(context.Context)) *ticker {
	ctx, cancel := context.WithCancel(ctx)
	t := &ticker{
		period:  period,
		refresh: refresh,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go t.loop(ctx)
	return t
}

func (t *ticker) loop(ctx context.Context) {
	defer close(t.done)

	timer := time.NewTimer(t.period)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timer.Reset(t.period)
			t.refresh(ctx)
		}
	}
}

// Stop cancels the ticker and waits until its goroutine has exited. No
// refresh starts after Stop returns. Safe to call multiple times.
func (t *ticker) Stop() {
	t.once.Do(t.cancel)
	<-t.done
}
