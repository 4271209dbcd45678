// Package ratelimit enforces a minimum spacing between fetches of the same crawl job.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/schema-crawler/internal/metrics"
)

// Limiter tracks one key per crawl job. A request may start only after the
// key's delay has elapsed since the previous request ended (reported through
// Done) and since the previous request started.
type Limiter struct {
	mu   sync.Mutex
	keys map[string]*keyState
}

type keyState struct {
	delay    time.Duration
	bucket   *rate.Limiter
	lastDone time.Time
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{
		keys: make(map[string]*keyState),
	}
}

// Register sets the spacing for key. A zero delay disables waiting.
func (l *Limiter) Register(key string, delay time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys[key] = newKeyState(delay)
}

// Wait blocks until key may issue its next request, respecting the context.
// The first call for a key never blocks.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	l.mu.Lock()
	state, exists := l.keys[key]
	if !exists {
		state = newKeyState(0)
		l.keys[key] = state
	}
	var readyAt time.Time
	if !state.lastDone.IsZero() {
		readyAt = state.lastDone.Add(state.delay)
	}
	bucket := state.bucket
	l.mu.Unlock()

	start := time.Now()
	if pause := time.Until(readyAt); pause > 0 {
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if err := bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}

// Done records that key's in-flight request has finished; the next Wait
// measures the delay from now.
func (l *Limiter) Done(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if state, ok := l.keys[key]; ok {
		state.lastDone = time.Now()
	}
}

// Forget drops the state for key once its job has finished.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.keys, key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

func newKeyState(delay time.Duration) *keyState {
	if delay <= 0 {
		return &keyState{bucket: rate.NewLimiter(rate.Inf, 1)}
	}
	return &keyState{delay: delay, bucket: rate.NewLimiter(rate.Every(delay), 1)}
}
