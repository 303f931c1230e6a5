package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/mazen160/go-random"
)

const maxJitterMs = 50

// Limiter enforces a minimum wall-clock gap between calls against an
// upstream we do not control. The registry portal blocks IPs that query
// too quickly, a 1.5s gap has been observed to be safe.
//
// The gap is measured from the start of the previous Wait, the first
// Wait never blocks. Concurrent callers serialize on the limiter.
type Limiter struct {
	mu    sync.Mutex
	delay time.Duration
	last  time.Time

	// test seams, default to the real clock
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(delay time.Duration) *Limiter {
	return &Limiter{
		delay: delay,
		now:   time.Now,
		sleep: sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the configured gap since the previous Wait has
// elapsed, plus a little jitter so consecutive requests don't land on a
// perfectly regular cadence. Returns early only on context cancellation.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.delay > 0 && !l.last.IsZero() {
		elapsed := l.now().Sub(l.last)
		if elapsed < l.delay {
			wait := l.delay - elapsed
			if jitter, err := random.IntRange(0, maxJitterMs); err == nil {
				wait += time.Duration(jitter) * time.Millisecond
			}
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	l.last = l.now()
	return nil
}

// Delay reports the configured minimum gap.
func (l *Limiter) Delay() time.Duration {
	return l.delay
}
