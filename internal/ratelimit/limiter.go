// Package ratelimit provides per-skill token bucket rate limiting.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket implements a token bucket refilled continuously at
// maxPerMinute/60 tokens per second with capacity maxPerMinute.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewBucket creates a bucket for a skill declaring maxPerMinute invocations.
// A non-positive maxPerMinute defaults to 60 (one per second).
func NewBucket(maxPerMinute int) *Bucket {
	return newBucketAt(maxPerMinute, time.Now)
}

// newBucketAt injects the clock for tests.
func newBucketAt(maxPerMinute int, now func() time.Time) *Bucket {
	if maxPerMinute <= 0 {
		maxPerMinute = 60
	}
	return &Bucket{
		tokens:     float64(maxPerMinute),
		maxTokens:  float64(maxPerMinute),
		refillRate: float64(maxPerMinute) / 60.0,
		lastRefill: now(),
		now:        now,
	}
}

// Allow consumes one token if available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Tokens returns the current number of available tokens.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// RetryAfter returns how long a caller should wait before a token is
// available. Zero when a token is available now.
func (b *Bucket) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1 {
		return 0
	}
	needed := 1 - b.tokens
	return time.Duration(needed / b.refillRate * float64(time.Second))
}

// refill adds tokens based on elapsed time. Must be called with the lock held.
func (b *Bucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// Limiter manages one bucket per skill.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
	now     func() time.Time
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{buckets: make(map[string]*Bucket), now: time.Now}
}

// NewLimiterAt creates a limiter with an injected clock for tests.
func NewLimiterAt(now func() time.Time) *Limiter {
	return &Limiter{buckets: make(map[string]*Bucket), now: now}
}

// Register creates the bucket for a skill. Re-registering replaces the
// bucket; the registry only does this on startup.
func (l *Limiter) Register(skill string, maxPerMinute int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[skill] = newBucketAt(maxPerMinute, l.now)
}

// Allow consumes a token for the skill. Unregistered skills are unlimited.
func (l *Limiter) Allow(skill string) bool {
	l.mu.RLock()
	bucket := l.buckets[skill]
	l.mu.RUnlock()

	if bucket == nil {
		return true
	}
	return bucket.Allow()
}

// RetryAfter returns the wait before the skill's next token. Zero for
// unregistered skills.
func (l *Limiter) RetryAfter(skill string) time.Duration {
	l.mu.RLock()
	bucket := l.buckets[skill]
	l.mu.RUnlock()

	if bucket == nil {
		return 0
	}
	return bucket.RetryAfter()
}
