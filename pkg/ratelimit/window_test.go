package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestSlidingWindow_PerMinuteLimit(t *testing.T) {
	clock := newClock()
	w := NewSlidingWindow(WindowConfig{Enabled: true, PerMinute: 2, PerDay: 100}, WithClock(clock.Now))

	assert.True(t, w.TryAcquire())
	clock.Advance(300 * time.Millisecond)
	assert.True(t, w.TryAcquire())
	clock.Advance(300 * time.Millisecond)
	assert.False(t, w.TryAcquire(), "third call within one second must be denied")

	usage := w.Usage()
	assert.Equal(t, 2, usage.MinuteUsed, "denied call must not be recorded")
	assert.Equal(t, 2, usage.DayUsed)
}

func TestSlidingWindow_SlidesAfterMinute(t *testing.T) {
	clock := newClock()
	w := NewSlidingWindow(WindowConfig{Enabled: true, PerMinute: 1, PerDay: 10}, WithClock(clock.Now))

	require.True(t, w.TryAcquire())
	clock.Advance(59 * time.Second)
	assert.False(t, w.TryAcquire())

	clock.Advance(time.Second)
	assert.True(t, w.TryAcquire())
}

func TestSlidingWindow_PerDayLimit(t *testing.T) {
	clock := newClock()
	w := NewSlidingWindow(WindowConfig{Enabled: true, PerMinute: 10, PerDay: 3}, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		require.True(t, w.TryAcquire())
		clock.Advance(2 * time.Minute)
	}
	assert.False(t, w.TryAcquire())

	clock.Advance(23 * time.Hour)
	assert.False(t, w.TryAcquire(), "first request is still inside the 24h window")

	clock.Advance(time.Hour)
	assert.True(t, w.TryAcquire())
}

func TestSlidingWindow_Disabled(t *testing.T) {
	w := NewSlidingWindow(WindowConfig{Enabled: false, PerMinute: 1, PerDay: 1})

	for i := 0; i < 10; i++ {
		assert.True(t, w.TryAcquire())
	}
	usage := w.Usage()
	assert.Zero(t, usage.MinuteUsed)
	assert.Zero(t, usage.DayUsed)
}

func TestSlidingWindow_ConcurrentCallers(t *testing.T) {
	clock := newClock()
	w := NewSlidingWindow(WindowConfig{Enabled: true, PerMinute: 5, PerDay: 12}, WithClock(clock.Now))

	acquireBurst := func() int64 {
		var granted atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if w.TryAcquire() {
					granted.Add(1)
				}
			}()
		}
		wg.Wait()
		return granted.Load()
	}

	assert.Equal(t, int64(5), acquireBurst())
	clock.Advance(61 * time.Second)
	assert.Equal(t, int64(5), acquireBurst())
	clock.Advance(61 * time.Second)
	assert.Equal(t, int64(2), acquireBurst(), "daily budget caps the third burst")
	clock.Advance(61 * time.Second)
	assert.Equal(t, int64(0), acquireBurst())
}
