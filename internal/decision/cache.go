package decision

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/videoadserve/internal/db"
	"github.com/patrickwarner/videoadserve/internal/models"
)

// DefaultCacheTTL is how long a decision stays reusable.
const DefaultCacheTTL = 5 * time.Minute

// Cache stores recent decisions. Implementations are safe for concurrent
// use and never surface backend errors: an unreadable entry is a miss.
type Cache interface {
	Get(ctx context.Context, key string) (models.Decision, bool)
	Put(ctx context.Context, key string, d models.Decision)
	// InvalidateViewer drops every entry cached for viewer, the middle
	// segment of a CacheKey.
	InvalidateViewer(ctx context.Context, viewer string)
}

// cacheViewer maps a frequency viewer key to its cache key segment.
// Session-keyed viewers share the anonymous entries.
func cacheViewer(viewerKey string) string {
	if viewerKey == "" || strings.HasPrefix(viewerKey, "session:") {
		return models.AnonymousViewer
	}
	return viewerKey
}

// keyViewer extracts the viewer segment from a CacheKey. Content ids may
// contain the separator; placement kinds never do.
func keyViewer(key string) string {
	parts := strings.Split(key, "|")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-2]
}

// CacheKey derives the cache key for a request: content id, viewer id (or
// anonymous) and the sorted set of requested placement kinds.
func CacheKey(rc models.RequestContext) string {
	viewer := cacheViewer(rc.ViewerID)
	kinds := models.NormalizePlacements(rc.Placements)
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	sort.Strings(names)
	return rc.Content.ID + "|" + viewer + "|" + strings.Join(names, ",")
}

type cacheEntry struct {
	decision  models.Decision
	expiresAt time.Time
}

// MemoryCache is a process-local Cache with lazy expiry.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates a cache. A non-positive ttl uses DefaultCacheTTL and
// a nil clock uses time.Now.
func NewMemoryCache(ttl time.Duration, now func() time.Time) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{entries: make(map[string]cacheEntry), ttl: ttl, now: now}
}

// Get returns a copy of a live entry. Expired entries are evicted.
func (c *MemoryCache) Get(_ context.Context, key string) (models.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return models.Decision{}, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return models.Decision{}, false
	}
	return e.decision.Clone(), true
}

// Put stores a copy of d under key.
func (c *MemoryCache) Put(_ context.Context, key string, d models.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{decision: d.Clone(), expiresAt: c.now().Add(c.ttl)}
}

// InvalidateViewer removes every entry cached for viewer.
func (c *MemoryCache) InvalidateViewer(_ context.Context, viewer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if keyViewer(k) == viewer {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictExpired removes every expired entry and returns how many were removed.
func (c *MemoryCache) evictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// StartJanitor periodically evicts expired entries until ctx is cancelled.
func (c *MemoryCache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.evictExpired(); n > 0 {
					zap.L().Debug("evicted expired decisions", zap.Int("count", n))
				}
			}
		}
	}()
}

// RedisCache shares decisions across instances through Redis.
type RedisCache struct {
	store  *db.RedisStore
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewRedisCache creates a cache over an initialised RedisStore.
func NewRedisCache(store *db.RedisStore, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{store: store, ttl: ttl, prefix: "decision:", logger: logger}
}

// Get reads a decision. Redis failures are logged and treated as a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (models.Decision, bool) {
	if c.store == nil || c.store.Client == nil {
		return models.Decision{}, false
	}
	var d models.Decision
	ok, err := c.store.GetJSON(ctx, c.prefix+key, &d)
	if err != nil {
		c.logger.Warn("decision cache unavailable", zap.String("key", key), zap.Error(err))
		return models.Decision{}, false
	}
	return d, ok
}

// Put writes a decision with the cache TTL. Failures are logged only.
func (c *RedisCache) Put(ctx context.Context, key string, d models.Decision) {
	if c.store == nil || c.store.Client == nil {
		return
	}
	if err := c.store.SetJSON(ctx, c.prefix+key, d, c.ttl); err != nil {
		c.logger.Warn("decision cache write failed", zap.String("key", key), zap.Error(err))
	}
}

var globMeta = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// InvalidateViewer scans for the viewer's keys and deletes them. Failures
// are logged only; the entries then age out with their TTL.
func (c *RedisCache) InvalidateViewer(ctx context.Context, viewer string) {
	if c.store == nil || c.store.Client == nil {
		return
	}
	match := c.prefix + "*|" + globMeta.Replace(viewer) + "|*"
	var cursor uint64
	for {
		keys, next, err := c.store.Client.Scan(ctx, cursor, match, 200).Result()
		if err != nil {
			c.logger.Warn("decision cache invalidation failed", zap.String("viewer", viewer), zap.Error(err))
			return
		}
		var stale []string
		for _, k := range keys {
			if keyViewer(strings.TrimPrefix(k, c.prefix)) == viewer {
				stale = append(stale, k)
			}
		}
		if len(stale) > 0 {
			if err := c.store.Client.Del(ctx, stale...).Err(); err != nil {
				c.logger.Warn("decision cache invalidation failed", zap.String("viewer", viewer), zap.Error(err))
				return
			}
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}
