package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key. A bucket allows bursts of up to
// capacity events and refills at refillRate tokens per second. Buckets idle
// for longer than ttl are dropped by Sweep.
type Limiter struct {
	entries    map[string]*entry
	capacity   int
	refillRate float64
	ttl        time.Duration
	now        func() time.Time
	mu         sync.Mutex
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func NewLimiter(capacity int, refillRate float64, ttl time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		entries:    make(map[string]*entry),
		capacity:   capacity,
		refillRate: refillRate,
		ttl:        ttl,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(l.refillRate), l.capacity)}
		l.entries[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// Forget drops the bucket for key, e.g. once a verification session is closed.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Sweep removes idle buckets and returns how many were removed.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.ttl)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Run sweeps every ttl until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	if l.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
