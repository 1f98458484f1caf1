package ratelimiter

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket used to throttle repetitive events.
//
// The volume uses it to keep corruption warnings (self-healed valences,
// inconsistent-volume markings) from flooding the log when a damaged
// directory is enumerated in a tight loop.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing eventsPerSecond sustained events with
// bursts of up to burst events.
//
// eventsPerSecond = 0 disables limiting: every call to Allow succeeds.
func New(eventsPerSecond float64, burst uint) *RateLimiter {
	if eventsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), int(burst)),
	}
}

// Allow reports whether an event may happen now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Tokens returns the tokens currently in the bucket.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// Keyed holds one RateLimiter per key, so a single noisy directory cannot
// starve warnings about the others.
//
// At most maxKeys limiters are retained. When the table is full it is reset,
// which at worst lets one extra burst through per key.
type Keyed[K comparable] struct {
	mu       sync.Mutex
	rate     float64
	burst    uint
	maxKeys  int
	limiters map[K]*RateLimiter
}

// NewKeyed creates a per-key limiter table.
func NewKeyed[K comparable](eventsPerSecond float64, burst uint, maxKeys int) *Keyed[K] {
	if maxKeys <= 0 {
		maxKeys = 1024
	}
	return &Keyed[K]{
		rate:     eventsPerSecond,
		burst:    burst,
		maxKeys:  maxKeys,
		limiters: make(map[K]*RateLimiter),
	}
}

// Allow reports whether an event for key may happen now.
func (k *Keyed[K]) Allow(key K) bool {
	k.mu.Lock()
	l, ok := k.limiters[key]
	if !ok {
		if len(k.limiters) >= k.maxKeys {
			k.limiters = make(map[K]*RateLimiter)
		}
		l = New(k.rate, k.burst)
		k.limiters[key] = l
	}
	k.mu.Unlock()
	return l.Allow()
}

// Len returns the number of keys currently tracked.
func (k *Keyed[K]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}
