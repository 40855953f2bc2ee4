// Package ratelimit implements a per-client token bucket rate limiter for
// the API gateways. Thread-safe, with no background goroutines; buckets
// are refilled lazily on each Allow call.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a client has exhausted its token bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// Staleness horizon after which idle buckets are dropped during Allow.
const staleAfter = 10 * time.Minute

// Config configures the token bucket rate limiter.
type Config struct {
	Rate  float64 // Tokens added per second. 0 = unlimited (Allow always succeeds).
	Burst int     // Maximum tokens in a bucket. 0 defaults to 2x Rate, floor 1.
}

// Limiter is a per-client token bucket rate limiter. Each client key gets
// an independent bucket so one client cannot exhaust another's quota.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   float64
	now     func() time.Time
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewLimiter creates a rate limiter with the given configuration.
// A zero Rate means unlimited.
func NewLimiter(cfg Config) *Limiter {
	burst := float64(cfg.Burst)
	if burst <= 0 {
		burst = cfg.Rate * 2
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    cfg.Rate,
		burst:   burst,
		now:     time.Now,
	}
}

// Allow checks whether the client has tokens remaining, consuming one on
// success. Returns ErrRateLimited when the bucket is empty.
func (l *Limiter) Allow(clientKey string) error {
	if l.rate <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[clientKey]
	if !ok {
		// First request starts with a full bucket.
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[clientKey] = b
		l.pruneLocked(now)
	}

	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens += elapsed * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastFill = now

	if b.tokens < 1 {
		return ErrRateLimited
	}
	b.tokens--
	return nil
}

// pruneLocked drops buckets idle past the staleness horizon. Called with
// the mutex held, only when a new client shows up, so steady-state traffic
// never pays for it.
func (l *Limiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastFill) > staleAfter {
			delete(l.buckets, key)
		}
	}
}
