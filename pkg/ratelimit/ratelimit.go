// Package ratelimit implements the fixed-window admission limiter gating
// upstream calls: at most Limit admissions per Window: once exhausted,
// callers block until the window boundary, at which point the counter
// resets and waiters are admitted again up to Limit.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WindowLimiter is safe for concurrent use; exactly Limit admissions are
// granted per Window across all callers (testable invariant 4).
type WindowLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	count       int
	windowStart time.Time
	log         *zap.Logger
}

// New constructs a WindowLimiter admitting limit callers per window.
func New(limit int, window time.Duration, log *zap.Logger) *WindowLimiter {
	return &WindowLimiter{
		limit:       limit,
		window:      window,
		windowStart: time.Now(),
		log:         log.Named("ratelimit"),
	}
}

// Acquire blocks until admission is granted or ctx is done. It does not
// distinguish cache-miss traffic from prefetch traffic — both consume the
// same budget, per §4.3.
func (l *WindowLimiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.rolloverIfExpiredLocked()

		if l.count < l.limit {
			l.count++
			l.mu.Unlock()
			return nil
		}

		wait := l.windowStart.Add(l.window).Sub(time.Now())
		l.mu.Unlock()

		if wait <= 0 {
			// Boundary already passed; loop immediately to roll over.
			continue
		}

		l.log.Info("rate limit exhausted, waiting for window boundary", zap.Duration("wait", wait))
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// rolloverIfExpiredLocked resets the window if its duration has elapsed.
// Must be called with l.mu held.
func (l *WindowLimiter) rolloverIfExpiredLocked() {
	now := time.Now()
	if now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 0
	}
}

// Snapshot is the rateLimit fragment of the upstream client's metrics
// surface (§6): {current, limit, window, resetTime}.
type Snapshot struct {
	Current   int
	Limit     int
	Window    time.Duration
	ResetTime time.Time
}

func (l *WindowLimiter) Stats() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverIfExpiredLocked()
	return Snapshot{
		Current:   l.count,
		Limit:     l.limit,
		Window:    l.window,
		ResetTime: l.windowStart.Add(l.window),
	}
}
