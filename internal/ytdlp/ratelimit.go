package ytdlp

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces out dispatches with one process-wide clock. It only
// orders the start of calls; callers proceed concurrently once admitted.
type RateLimiter struct {
	mu           sync.Mutex
	interval     time.Duration
	lastDispatch time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{
		interval: interval,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Wait reserves the next dispatch slot and sleeps until it arrives.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	now := r.now()
	slot := now
	if !r.lastDispatch.IsZero() {
		if earliest := r.lastDispatch.Add(r.interval); earliest.After(now) {
			slot = earliest
		}
	}
	r.lastDispatch = slot
	r.mu.Unlock()

	if wait := slot.Sub(now); wait > 0 {
		return r.sleep(ctx, wait)
	}
	return nil
}

// NextAvailableIn reports how long a call arriving now would wait.
func (r *RateLimiter) NextAvailableIn() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastDispatch.IsZero() {
		return 0
	}
	wait := r.lastDispatch.Add(r.interval).Sub(r.now())
	if wait < 0 {
		return 0
	}
	return wait
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
