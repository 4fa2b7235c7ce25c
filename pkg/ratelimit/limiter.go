package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// MultiLimiter manages token-bucket limiters keyed by name (one per crawl source)
type MultiLimiter struct {
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	mu           sync.RWMutex
}

// NewMultiLimiter creates a new multi-limiter. Names that were never added get
// a limiter with the given default rate on first use; rps <= 0 means unlimited.
func NewMultiLimiter(defaultRPS float64, defaultBurst int) *MultiLimiter {
	r := rate.Limit(defaultRPS)
	if defaultRPS <= 0 {
		r = rate.Inf
	}
	if defaultBurst <= 0 {
		defaultBurst = 1
	}
	return &MultiLimiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: defaultBurst,
	}
}

// AddLimiter sets the limiter for a name, replacing the default.
// requestsPerSecond <= 0 means unlimited.
func (m *MultiLimiter) AddLimiter(name string, requestsPerSecond float64, burst int) {
	r := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[name] = rate.NewLimiter(r, burst)
}

func (m *MultiLimiter) get(name string) *rate.Limiter {
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()
	if ok {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if limiter, ok = m.limiters[name]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(m.defaultRate, m.defaultBurst)
	m.limiters[name] = limiter
	return limiter
}

// Wait blocks until the limiter allows an event
func (m *MultiLimiter) Wait(ctx context.Context, name string) error {
	if err := m.get(name).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", name, err)
	}
	return nil
}
