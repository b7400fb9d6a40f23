// Package quota provides per-session request rate limiting.
package quota

import (
	"sync"
	"time"
)

// RateLimiter implements per-session token bucket rate limiting.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a new per-session rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*tokenBucket),
	}
}

// Allow checks if a request from the given session should be allowed.
// Returns true if allowed, false if rate limited.
// rpm=0 means unlimited. burst caps how many requests can be spent at
// once; burst<=0 falls back to rpm.
func (rl *RateLimiter) Allow(sessionID string, rpm, burst int) bool {
	if rpm == 0 {
		return true // Unlimited
	}
	if burst <= 0 {
		burst = rpm
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, ok := rl.buckets[sessionID]
	if !ok {
		bucket = &tokenBucket{
			tokens:     float64(burst),
			maxTokens:  float64(burst),
			refillRate: float64(rpm) / 60.0,
			lastRefill: time.Now(),
		}
		rl.buckets[sessionID] = bucket
	}

	// Update bucket if limits changed
	if bucket.maxTokens != float64(burst) || bucket.refillRate != float64(rpm)/60.0 {
		bucket.maxTokens = float64(burst)
		bucket.refillRate = float64(rpm) / 60.0
	}

	// Refill tokens
	now := time.Now()
	elapsed := now.Sub(bucket.lastRefill).Seconds()
	bucket.tokens += elapsed * bucket.refillRate
	if bucket.tokens > bucket.maxTokens {
		bucket.tokens = bucket.maxTokens
	}
	bucket.lastRefill = now

	// Check if we have a token
	if bucket.tokens < 1 {
		return false
	}

	bucket.tokens--
	return true
}

// RetryAfter returns the number of seconds until the next token is available.
func (rl *RateLimiter) RetryAfter(sessionID string, rpm int) int {
	if rpm == 0 {
		return 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket, ok := rl.buckets[sessionID]
	if !ok {
		return 0
	}

	if bucket.tokens >= 1 {
		return 0
	}

	// Time until next token
	needed := 1.0 - bucket.tokens
	seconds := needed / bucket.refillRate
	return int(seconds) + 1
}

// Cleanup removes buckets for sessions that haven't been seen recently.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, bucket := range rl.buckets {
		if bucket.lastRefill.Before(cutoff) {
			delete(rl.buckets, id)
		}
	}
}
