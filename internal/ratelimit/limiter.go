// Package ratelimit bounds upstream catalog and fetch calls across all
// workers with a token bucket, independent of the worker pool size.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket refilled continuously over its window. It is
// safe for concurrent use.
type Limiter struct {
	mu         sync.Mutex
	capacity   int
	available  float64
	window     time.Duration
	lastRefill time.Time
	nowFunc    func() time.Time // for testing
}

// New creates a limiter allowing capacity acquisitions per window. The
// bucket starts full.
func New(capacity int, window time.Duration) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &Limiter{
		capacity: capacity,
		window:   window,
		nowFunc:  time.Now,
	}
	l.available = float64(capacity)
	l.lastRefill = l.nowFunc()
	return l
}

// Acquire blocks until a token is available or the context ends.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := l.take()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire attempts to take a token without blocking.
func (l *Limiter) TryAcquire() bool {
	_, ok := l.take()
	return ok
}

// take consumes a token when available; otherwise it returns how long to
// wait before the next token accrues.
func (l *Limiter) take() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	l.refillLocked(now)

	if l.available >= 1 {
		l.available--
		return 0, true
	}

	perToken := time.Duration(float64(l.window) / float64(l.capacity))
	deficit := 1 - l.available
	wait := time.Duration(deficit * float64(perToken))
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}
	l.available += float64(l.capacity) * float64(elapsed) / float64(l.window)
	if l.available > float64(l.capacity) {
		l.available = float64(l.capacity)
	}
	l.lastRefill = now
}
