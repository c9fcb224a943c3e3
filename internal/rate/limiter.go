package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines rate limiting parameters for one upstream key.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	// Cooldown pauses a key after the upstream answers 429 without a Retry-After.
	Cooldown time.Duration
}

// Limiter wraps a token bucket with an optional cooldown window.
type Limiter struct {
	bucket *rate.Limiter

	mu        sync.Mutex
	blockedTo time.Time
	cooldown  time.Duration
}

// New creates a limiter. A non-positive RequestsPerSecond disables limiting.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		bucket:   rate.NewLimiter(limit, burst),
		cooldown: cfg.Cooldown,
	}
}

// Allow reports whether a request may go out right now.
func (l *Limiter) Allow() bool {
	if l.pause() > 0 {
		return false
	}
	return l.bucket.Allow()
}

// Wait blocks until a token becomes available or ctx is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	if d := l.pause(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return l.bucket.Wait(ctx)
}

// Block holds every caller back for d. Zero d applies the configured cooldown.
func (l *Limiter) Block(d time.Duration) {
	if d <= 0 {
		d = l.cooldown
	}
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if until := time.Now().Add(d); until.After(l.blockedTo) {
		l.blockedTo = until
	}
}

func (l *Limiter) pause() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Until(l.blockedTo)
}

// Manager holds one limiter per upstream key (here, per collection contract).
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Config
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
	}
}

func (m *Manager) GetLimiter(key string) *Limiter {
	m.mu.RLock()
	if lim, ok := m.limiters[key]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[key]; ok {
		return lim
	}
	lim := New(m.defaults)
	m.limiters[key] = lim
	return lim
}

// Wait ensures rate limit compliance for a given key.
func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.GetLimiter(key).Wait(ctx)
}

// Block applies a cooldown to key, typically after a 429.
func (m *Manager) Block(key string, d time.Duration) {
	m.GetLimiter(key).Block(d)
}
