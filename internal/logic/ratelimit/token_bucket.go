// Package ratelimit implements per-client token bucket rate limiting for the
// telemetry ingestion endpoints.
//
// Players fire tracking pixels and event posts at a high rate; the buckets
// keep a misbehaving client from flooding the telemetry queue while still
// allowing short bursts such as quartile events fired back to back.
package ratelimit

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is a thread-safe token bucket with hit statistics.
//
// Example usage:
//
//	bucket := NewTokenBucket(100, 10) // 100 burst capacity, 10 tokens/second
//	if bucket.Allow() {
//	    // Process request
//	}
type TokenBucket struct {
	limiter    *rate.Limiter
	lastAccess atomic.Int64 // unix nanos
	hitCount   atomic.Int64 // Number of requests that were rate limited
	totalCount atomic.Int64 // Total number of requests processed
}

// NewTokenBucket creates a bucket holding capacity tokens that refills at
// refillRate tokens per second. The bucket starts full.
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	tb := &TokenBucket{limiter: rate.NewLimiter(rate.Limit(refillRate), capacity)}
	tb.lastAccess.Store(time.Now().UnixNano())
	return tb
}

// Allow attempts to consume one token from the bucket.
func (tb *TokenBucket) Allow() bool {
	tb.totalCount.Add(1)
	tb.lastAccess.Store(time.Now().UnixNano())
	if tb.limiter.Allow() {
		return true
	}
	tb.hitCount.Add(1)
	return false
}

// Stats returns the number of rate limited requests and the total processed.
func (tb *TokenBucket) Stats() (hits, total int64) {
	return tb.hitCount.Load(), tb.totalCount.Load()
}

// idleSince reports whether the bucket has not been used since t.
func (tb *TokenBucket) idleSince(t time.Time) bool {
	return tb.lastAccess.Load() < t.UnixNano()
}
