package rate

import (
	"context"
	"fmt"
	"time"
)

const (
	minuteWindow = time.Minute
	secondWindow = time.Second
)

type WindowStore interface {
	IncrementWindow(ctx context.Context, scope string, window time.Duration) (int64, time.Duration, error)
	WindowState(ctx context.Context, scope string, window time.Duration) (int64, time.Duration, error)
}

// Limiter enforces per-minute and per-second call budgets for a scope such as
// an upstream provider. A zero limit disables that window.
type Limiter struct {
	store     WindowStore
	perMinute int
	perSecond int
}

func NewLimiter(store WindowStore, perMinute, perSecond int) *Limiter {
	if perMinute < 0 {
		perMinute = 0
	}
	if perSecond < 0 {
		perSecond = 0
	}

	return &Limiter{
		store:     store,
		perMinute: perMinute,
		perSecond: perSecond,
	}
}

// Allow spends one call from every window. When any window is exhausted it
// reports how long until that window resets.
func (l *Limiter) Allow(ctx context.Context, scope string) (time.Duration, bool, error) {
	if scope == "" {
		return 0, false, fmt.Errorf("rate scope is required")
	}
	if l.store == nil {
		return 0, false, fmt.Errorf("rate limiter store is nil")
	}

	var retryAfter time.Duration
	for _, w := range l.windows() {
		count, ttl, err := l.store.IncrementWindow(ctx, scope, w.window)
		if err != nil {
			return 0, false, err
		}
		if count > int64(w.limit) {
			retryAfter = maxDuration(retryAfter, ttl, w.window)
		}
	}

	if retryAfter > 0 {
		return retryAfter, false, nil
	}
	return 0, true, nil
}

// RetryAfter reports the wait without spending a call.
func (l *Limiter) RetryAfter(ctx context.Context, scope string) (time.Duration, error) {
	if scope == "" {
		return 0, fmt.Errorf("rate scope is required")
	}
	if l.store == nil {
		return 0, fmt.Errorf("rate limiter store is nil")
	}

	var retryAfter time.Duration
	for _, w := range l.windows() {
		count, ttl, err := l.store.WindowState(ctx, scope, w.window)
		if err != nil {
			return 0, err
		}
		if count >= int64(w.limit) {
			retryAfter = maxDuration(retryAfter, ttl, w.window)
		}
	}
	return retryAfter, nil
}

type window struct {
	window time.Duration
	limit  int
}

func (l *Limiter) windows() []window {
	out := make([]window, 0, 2)
	if l.perMinute > 0 {
		out = append(out, window{window: minuteWindow, limit: l.perMinute})
	}
	if l.perSecond > 0 {
		out = append(out, window{window: secondWindow, limit: l.perSecond})
	}
	return out
}

// maxDuration treats a missing ttl as a full window so callers never spin.
func maxDuration(current, ttl, window time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = window
	}
	if ttl > current {
		return ttl
	}
	return current
}
