// Package ratelimit implements per-client request throttling over a
// sliding window.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/nebulaforge/nebulaforge/internal/core"
)

// DefaultRPM is the default per-client request budget per minute.
const DefaultRPM = 20

// Limiter throttles requests per key (typically client IP) over a
// sliding 60-second window.
type Limiter struct {
	mu        sync.Mutex
	rpm       int
	window    time.Duration
	now       func() time.Time
	hits      map[string][]time.Time
	lastSweep time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects a clock (used in tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter allowing rpm requests per key per minute.
func New(rpm int, opts ...Option) *Limiter {
	if rpm < 1 {
		rpm = 1
	}
	l := &Limiter{
		rpm:    rpm,
		window: time.Minute,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.now()
	return l
}

// Allow records a hit for the key and reports whether it stays within
// budget. Expired hits for the key are pruned on every call, and a
// full sweep runs at most once per window so the map stays bounded
// even across a churn of distinct client IPs.
func (l *Limiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	q := l.hits[key]

	keep := q[:0]
	for _, hit := range q {
		if now.Sub(hit) <= l.window {
			keep = append(keep, hit)
		}
	}

	if len(keep) >= l.rpm {
		l.hits[key] = keep
		return core.ErrRateLimit(fmt.Sprintf("rate limit exceeded (%d/min), try again shortly", l.rpm))
	}

	l.hits[key] = append(keep, now)
	return nil
}

// sweep drops keys whose hits have all expired. Without it, entries
// for one-shot clients would only ever be pruned if that client came
// back.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for key, q := range l.hits {
		if len(q) == 0 || now.Sub(q[len(q)-1]) > l.window {
			delete(l.hits, key)
		}
	}
}
