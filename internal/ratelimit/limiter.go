package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits at most Limit calls per Interval. Callers beyond the
// budget queue in arrival order and wait until a slot frees up. Admission
// is serialized; completion of the underlying work is not.
type Limiter struct {
	mu       sync.Mutex
	limit    int
	interval time.Duration
	// slots holds the admission times of the last limit calls, as a ring.
	slots []time.Time
	next  int
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter allowing limit admissions per interval.
func New(limit int, interval time.Duration) *Limiter {
	if limit <= 0 {
		limit = 10
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Limiter{
		limit:    limit,
		interval: interval,
		slots:    make([]time.Time, limit),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Wait blocks until the caller may proceed or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := l.now()
	earliest := l.slots[l.next]
	admitAt := now
	if !earliest.IsZero() {
		if free := earliest.Add(l.interval); free.After(now) {
			admitAt = free
		}
	}
	l.slots[l.next] = admitAt
	l.next = (l.next + 1) % l.limit
	l.mu.Unlock()

	if d := admitAt.Sub(now); d > 0 {
		return l.sleep(ctx, d)
	}
	return ctx.Err()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
