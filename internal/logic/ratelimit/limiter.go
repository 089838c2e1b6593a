package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickwarner/videoadserve/internal/observability"
)

// KeyedLimiter manages one token bucket per key (typically a client IP).
//
// Buckets are created lazily on first access. Idle buckets are removed by
// StartCleanup so the map does not grow without bound.
type KeyedLimiter struct {
	scope   string
	buckets map[string]*TokenBucket
	mu      sync.RWMutex
	config  Config
	metrics observability.MetricsRegistry
}

// Config holds the configuration for rate limiting.
type Config struct {
	Capacity   int     // Token bucket capacity (burst allowance)
	RefillRate float64 // Tokens added per second (sustained rate)
	Enabled    bool    // Whether rate limiting is active
}

// NewKeyedLimiter creates a limiter. scope labels its metrics.
func NewKeyedLimiter(scope string, config Config, metrics observability.MetricsRegistry) *KeyedLimiter {
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &KeyedLimiter{
		scope:   scope,
		buckets: make(map[string]*TokenBucket),
		config:  config,
		metrics: metrics,
	}
}

// Allow reports whether a request for key may proceed. It always returns
// true when rate limiting is disabled.
func (kl *KeyedLimiter) Allow(key string) bool {
	if !kl.config.Enabled {
		return true
	}
	kl.metrics.IncrementRateLimitRequests(kl.scope)

	kl.mu.RLock()
	bucket, exists := kl.buckets[key]
	kl.mu.RUnlock()

	if !exists {
		// Double-checked locking
		kl.mu.Lock()
		bucket, exists = kl.buckets[key]
		if !exists {
			bucket = NewTokenBucket(kl.config.Capacity, kl.config.RefillRate)
			kl.buckets[key] = bucket
		}
		kl.mu.Unlock()
	}

	allowed := bucket.Allow()
	if !allowed {
		kl.metrics.IncrementRateLimitHits(kl.scope)
	}
	return allowed
}

// StartCleanup removes buckets idle for longer than maxIdle every interval
// until ctx is cancelled.
func (kl *KeyedLimiter) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				kl.prune(now.Add(-maxIdle))
			}
		}
	}()
}

func (kl *KeyedLimiter) prune(cutoff time.Time) int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	removed := 0
	for key, b := range kl.buckets {
		if b.idleSince(cutoff) {
			delete(kl.buckets, key)
			removed++
		}
	}
	return removed
}

// GetStats returns a snapshot of per-key statistics.
func (kl *KeyedLimiter) GetStats() map[string]RateLimitStats {
	kl.mu.RLock()
	defer kl.mu.RUnlock()

	stats := make(map[string]RateLimitStats, len(kl.buckets))
	for key, bucket := range kl.buckets {
		hits, total := bucket.Stats()
		hitRate := 0.0
		if total > 0 {
			hitRate = float64(hits) / float64(total)
		}
		stats[key] = RateLimitStats{Key: key, Hits: hits, Total: total, HitRate: hitRate}
	}
	return stats
}

// RateLimitStats contains statistics about rate limiting for a single key.
type RateLimitStats struct {
	Key     string  `json:"key"`
	Hits    int64   `json:"hits"`
	Total   int64   `json:"total"`
	HitRate float64 `json:"hit_rate"`
}

// String returns a human-readable representation of the rate limit statistics.
func (rls RateLimitStats) String() string {
	return fmt.Sprintf("%s: %d/%d hits (%.2f%%)", rls.Key, rls.Hits, rls.Total, rls.HitRate*100)
}
