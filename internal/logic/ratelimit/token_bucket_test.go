package ratelimit

import (
	"testing"
	"time"

	"github.com/patrickwarner/videoadserve/internal/observability"
)

func TestTokenBucket_Allow(t *testing.T) {
	bucket := NewTokenBucket(5, 1) // 5 tokens, refill 1 per second

	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Errorf("Expected request %d to be allowed", i+1)
		}
	}

	if bucket.Allow() {
		t.Error("Expected 6th request to be blocked")
	}

	hits, total := bucket.Stats()
	if hits != 1 {
		t.Errorf("Expected 1 hit, got %d", hits)
	}
	if total != 6 {
		t.Errorf("Expected 6 total requests, got %d", total)
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	bucket := NewTokenBucket(2, 10) // 2 tokens, refill 10 per second

	bucket.Allow()
	bucket.Allow()

	if bucket.Allow() {
		t.Error("Expected request to be blocked")
	}

	time.Sleep(200 * time.Millisecond)

	if !bucket.Allow() {
		t.Error("Expected request to be allowed after refill")
	}
}

func TestKeyedLimiter_PerKey(t *testing.T) {
	metrics := observability.NewMockMetricsRegistry()
	l := NewKeyedLimiter("events", Config{Capacity: 2, RefillRate: 0.001, Enabled: true}, metrics)

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if l.Allow("a") {
		t.Error("expected third request for a to be limited")
	}
	if !l.Allow("b") {
		t.Error("expected b to have its own bucket")
	}

	if got := metrics.Get("ratelimit_hits:events"); got != 1 {
		t.Errorf("expected 1 hit metric, got %v", got)
	}
	if got := metrics.Get("ratelimit_requests:events"); got != 4 {
		t.Errorf("expected 4 request metrics, got %v", got)
	}

	stats := l.GetStats()
	if stats["a"].Hits != 1 || stats["a"].Total != 3 {
		t.Errorf("unexpected stats for a: %+v", stats["a"])
	}
}

func TestKeyedLimiter_Disabled(t *testing.T) {
	l := NewKeyedLimiter("events", Config{Capacity: 1, RefillRate: 1, Enabled: false}, nil)
	for i := 0; i < 10; i++ {
		if !l.Allow("a") {
			t.Fatal("disabled limiter must allow everything")
		}
	}
}

func TestKeyedLimiter_Prune(t *testing.T) {
	l := NewKeyedLimiter("events", Config{Capacity: 1, RefillRate: 1, Enabled: true}, nil)
	l.Allow("old")
	if removed := l.prune(time.Now().Add(time.Minute)); removed != 1 {
		t.Errorf("expected 1 bucket pruned, got %d", removed)
	}
	if len(l.GetStats()) != 0 {
		t.Error("expected no buckets after prune")
	}
}
