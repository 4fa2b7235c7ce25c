package ratelimit

import (
	"sync"
	"time"
)

const (
	minuteWindow = time.Minute
	dayWindow    = 24 * time.Hour
)

// WindowConfig configures a SlidingWindow. A limit <= 0 leaves that window unbounded.
type WindowConfig struct {
	Enabled   bool
	PerMinute int
	PerDay    int
}

// Usage is a snapshot of the sliding window counters
type Usage struct {
	Enabled    bool `json:"enabled"`
	MinuteUsed int  `json:"minute_used"`
	MinuteCap  int  `json:"minute_limit"`
	DayUsed    int  `json:"day_used"`
	DayCap     int  `json:"day_limit"`
}

// SlidingWindow gates calls to a quota-limited provider with two rolling
// windows: requests per 60s and requests per 24h. It is safe for concurrent use.
type SlidingWindow struct {
	mu        sync.Mutex
	enabled   bool
	perMinute int
	perDay    int
	minute    []time.Time
	day       []time.Time
	now       func() time.Time
}

// Option customises a SlidingWindow
type Option func(*SlidingWindow)

// WithClock replaces time.Now, used by tests to simulate time
func WithClock(now func() time.Time) Option {
	return func(w *SlidingWindow) {
		w.now = now
	}
}

// NewSlidingWindow creates a limiter from cfg
func NewSlidingWindow(cfg WindowConfig, opts ...Option) *SlidingWindow {
	w := &SlidingWindow{
		enabled:   cfg.Enabled,
		perMinute: cfg.PerMinute,
		perDay:    cfg.PerDay,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// TryAcquire records one request and returns true if both windows have room.
// When either window is full it returns false and records nothing.
func (w *SlidingWindow) TryAcquire() bool {
	if !w.enabled {
		return true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.minute = evict(w.minute, now.Add(-minuteWindow))
	w.day = evict(w.day, now.Add(-dayWindow))

	if w.perMinute > 0 && len(w.minute) >= w.perMinute {
		return false
	}
	if w.perDay > 0 && len(w.day) >= w.perDay {
		return false
	}

	w.minute = append(w.minute, now)
	w.day = append(w.day, now)
	return true
}

// Enabled reports whether the limiter is enforcing limits
func (w *SlidingWindow) Enabled() bool {
	return w.enabled
}

// PerMinute returns the configured per-minute budget
func (w *SlidingWindow) PerMinute() int {
	return w.perMinute
}

// Usage returns the current window counters
func (w *SlidingWindow) Usage() Usage {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.minute = evict(w.minute, now.Add(-minuteWindow))
	w.day = evict(w.day, now.Add(-dayWindow))

	return Usage{
		Enabled:    w.enabled,
		MinuteUsed: len(w.minute),
		MinuteCap:  w.perMinute,
		DayUsed:    len(w.day),
		DayCap:     w.perDay,
	}
}

// evict drops timestamps at or before cutoff. ts is sorted ascending.
func evict(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	// copy so the backing array does not grow without bound
	return append(ts[:0:0], ts[i:]...)
}
