// Package ratelimit implements a fixed-window admission gate keyed by
// (identity, operation).
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultWindow   = 1500 * time.Millisecond
	DefaultCapacity = 1

	// DefaultSweepEvery is how often the janitor drops idle keys.
	DefaultSweepEvery = 30 * time.Second

	// idleWindows is how many windows a key may stay untouched before the
	// sweep drops it.
	idleWindows = 10
)

type state struct {
	count       int
	windowStart time.Time
}

// Limiter admits at most capacity requests per window for each key.
type Limiter struct {
	mu       sync.Mutex
	keys     map[string]*state
	window   time.Duration
	capacity int
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindow overrides the window length.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window = d }
}

// WithCapacity overrides the number of requests admitted per window.
func WithCapacity(n int) Option {
	return func(l *Limiter) { l.capacity = n }
}

// WithClock replaces time.Now (used in tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns a Limiter with a 1.5s window and a capacity of 1.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		keys:     make(map[string]*state),
		window:   DefaultWindow,
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

func key(identity, operation string) string {
	return identity + ":" + operation
}

// Admit reports whether a request from identity for operation may proceed.
// A rejected call leaves the key's state untouched.
func (l *Limiter) Admit(identity, operation string) bool {
	now := l.now()
	k := key(identity, operation)

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.keys[k]
	if !ok || now.Sub(st.windowStart) >= l.window {
		l.keys[k] = &state{count: 1, windowStart: now}
		return true
	}
	if st.count >= l.capacity {
		return false
	}
	st.count++
	return true
}

// Sweep drops keys whose window started more than ten windows ago.
// Returns the number of keys removed.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-idleWindows * l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, st := range l.keys {
		if st.windowStart.Before(cutoff) {
			delete(l.keys, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// StartJanitor sweeps every interval until ctx is cancelled.
func (l *Limiter) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Sweep()
			}
		}
	}()
}
