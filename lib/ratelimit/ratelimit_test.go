package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock advances only when the limiter sleeps.
type fakeClock struct {
	now   time.Time
	slept time.Duration
}

func (c *fakeClock) install(l *Limiter) {
	l.now = func() time.Time { return c.now }
	l.sleep = func(ctx context.Context, d time.Duration) error {
		c.slept += d
		c.now = c.now.Add(d)
		return nil
	}
}

func TestFirstWaitNeverBlocks(t *testing.T) {
	l := New(time.Second * 2)
	clock := &fakeClock{now: time.Unix(1000, 0)}
	clock.install(l)

	err := l.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, time.Duration(0), clock.slept)
}

func TestConsecutiveWaitsEnforceGap(t *testing.T) {
	const delay = time.Millisecond * 1500
	const n = 5

	l := New(delay)
	clock := &fakeClock{now: time.Unix(1000, 0)}
	clock.install(l)

	for i := 0; i < n; i++ {
		err := l.Wait(context.Background())
		require.NoError(t, err)
	}

	require.GreaterOrEqual(t, clock.slept, delay*(n-1))
}

func TestElapsedGapSkipsSleep(t *testing.T) {
	const delay = time.Second

	l := New(delay)
	clock := &fakeClock{now: time.Unix(1000, 0)}
	clock.install(l)

	require.NoError(t, l.Wait(context.Background()))

	// enough wall-clock time has passed on its own
	clock.now = clock.now.Add(delay * 3)
	require.NoError(t, l.Wait(context.Background()))
	require.Equal(t, time.Duration(0), clock.slept)
}

func TestZeroDelayNeverSleeps(t *testing.T) {
	l := New(0)
	clock := &fakeClock{now: time.Unix(1000, 0)}
	clock.install(l)

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	require.Equal(t, time.Duration(0), clock.slept)
}

func TestDelayReportsConfiguredGap(t *testing.T) {
	require.Equal(t, 1500*time.Millisecond, New(1500*time.Millisecond).Delay())
	require.Equal(t, time.Duration(0), New(0).Delay())
}

func TestWaitHonorsCancellation(t *testing.T) {
	l := New(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Wait(ctx))

	cancel()
	err := l.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
