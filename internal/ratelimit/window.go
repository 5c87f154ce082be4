package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time so tests can drive the limiter deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Window allows at most limit calls in any rolling window. Wait blocks
// (cancellably) until a slot frees up; it is a pacer, not a queue.
type Window struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	clock  Clock
	calls  []time.Time // timestamps of the last `limit` calls, oldest first
	waits  int
}

func NewWindow(limit int, window time.Duration, clock Clock) *Window {
	if limit <= 0 {
		limit = 1
	}
	if clock == nil {
		clock = RealClock
	}
	return &Window{limit: limit, window: window, clock: clock, calls: make([]time.Time, 0, limit)}
}

// Wait reserves a slot. It returns ctx.Err() if cancelled while sleeping;
// in that case no slot is consumed. Callers are expected to be sequential.
func (w *Window) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.mu.Lock()
		now := w.clock.Now()
		w.evict(now)
		if len(w.calls) < w.limit {
			w.calls = append(w.calls, now)
			w.mu.Unlock()
			return nil
		}
		sleep := w.calls[0].Add(w.window).Sub(now)
		w.waits++
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.clock.After(sleep):
		}
	}
}

func (w *Window) evict(now time.Time) {
	i := 0
	for i < len(w.calls) && !now.Before(w.calls[i].Add(w.window)) {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}

// Waits reports how many times Wait had to sleep.
func (w *Window) Waits() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.waits
}

// Reset forgets previous calls.
func (w *Window) Reset() {
	w.mu.Lock()
	w.calls = w.calls[:0]
	w.mu.Unlock()
}
