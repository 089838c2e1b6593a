package logic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/videoadserve/internal/db"
	"github.com/patrickwarner/videoadserve/internal/models"
)

// FrequencyWindow is the rolling period over which caps are counted.
const FrequencyWindow = 24 * time.Hour

// FrequencyStore reads and records viewer exposures. Load must hit the
// backing store on every call; its result is never cached.
type FrequencyStore interface {
	Load(ctx context.Context, viewerKey string, campaigns []models.Campaign) (models.FrequencyState, error)
	RecordServe(ctx context.Context, viewerKey string, campaignID, advertiserID int) error
}

func globalKey(viewer string) string { return fmt.Sprintf("freq:%s:global", viewer) }
func advertiserKey(viewer string, id int) string {
	return fmt.Sprintf("freq:%s:adv:%d", viewer, id)
}
func campaignKey(viewer string, id int) string { return fmt.Sprintf("freq:%s:cmp:%d", viewer, id) }

// RedisFrequencyStore keeps one sorted set per scope, scored by serve time,
// so counts cover exactly the trailing FrequencyWindow.
type RedisFrequencyStore struct {
	store  *db.RedisStore
	window time.Duration
	now    func() time.Time
}

// NewRedisFrequencyStore creates a store over an initialised RedisStore.
func NewRedisFrequencyStore(store *db.RedisStore) *RedisFrequencyStore {
	return &RedisFrequencyStore{store: store, window: FrequencyWindow, now: time.Now}
}

// Load returns the viewer's counts for every scope touched by campaigns.
// On error the returned state is marked Unavailable.
func (r *RedisFrequencyStore) Load(ctx context.Context, viewerKey string, campaigns []models.Campaign) (models.FrequencyState, error) {
	state := models.NewFrequencyState()
	if r == nil || r.store == nil || r.store.Client == nil {
		state.Unavailable = true
		return state, ErrNilRedisStore
	}

	keys := []string{globalKey(viewerKey)}
	advIdx := make(map[int]int)
	cmpIdx := make(map[int]int, len(campaigns))
	for _, c := range campaigns {
		if _, ok := advIdx[c.AdvertiserID]; !ok {
			advIdx[c.AdvertiserID] = len(keys)
			keys = append(keys, advertiserKey(viewerKey, c.AdvertiserID))
		}
		if _, ok := cmpIdx[c.ID]; !ok {
			cmpIdx[c.ID] = len(keys)
			keys = append(keys, campaignKey(viewerKey, c.ID))
		}
	}

	counts, err := r.store.CountExposures(ctx, keys, r.now().Add(-r.window))
	if err != nil {
		state.Unavailable = true
		return state, fmt.Errorf("load frequency for %s: %w", viewerKey, err)
	}
	state.Global = int(counts[0])
	for adv, i := range advIdx {
		state.ByAdvertiser[adv] = int(counts[i])
	}
	for id, i := range cmpIdx {
		state.ByCampaign[id] = int(counts[i])
	}
	return state, nil
}

// RecordServe adds one exposure to the global, advertiser and campaign sets.
func (r *RedisFrequencyStore) RecordServe(ctx context.Context, viewerKey string, campaignID, advertiserID int) error {
	if r == nil || r.store == nil || r.store.Client == nil {
		return ErrNilRedisStore
	}
	keys := []string{
		globalKey(viewerKey),
		advertiserKey(viewerKey, advertiserID),
		campaignKey(viewerKey, campaignID),
	}
	if err := r.store.RecordExposure(ctx, keys, "", r.now(), r.window); err != nil {
		zap.L().Error("failed to record frequency exposure",
			zap.String("viewer", viewerKey), zap.Int("campaign_id", campaignID), zap.Error(err))
		return err
	}
	return nil
}

// MemoryFrequencyStore is a process-local FrequencyStore for single-node
// deployments and tests.
type MemoryFrequencyStore struct {
	mu     sync.Mutex
	serves map[string][]time.Time
	window time.Duration
	now    func() time.Time
}

// NewMemoryFrequencyStore creates an empty store. A nil clock uses time.Now.
func NewMemoryFrequencyStore(now func() time.Time) *MemoryFrequencyStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryFrequencyStore{serves: make(map[string][]time.Time), window: FrequencyWindow, now: now}
}

// count trims expired entries for key and returns what remains. Callers
// hold the lock.
func (m *MemoryFrequencyStore) count(key string, since time.Time) int {
	ts := m.serves[key]
	i := 0
	for i < len(ts) && ts[i].Before(since) {
		i++
	}
	if i > 0 {
		ts = ts[i:]
		if len(ts) == 0 {
			delete(m.serves, key)
		} else {
			m.serves[key] = ts
		}
	}
	return len(ts)
}

// Load returns the viewer's counts for every scope touched by campaigns.
func (m *MemoryFrequencyStore) Load(ctx context.Context, viewerKey string, campaigns []models.Campaign) (models.FrequencyState, error) {
	state := models.NewFrequencyState()
	if err := ctx.Err(); err != nil {
		state.Unavailable = true
		return state, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	since := m.now().Add(-m.window)
	state.Global = m.count(globalKey(viewerKey), since)
	for _, c := range campaigns {
		state.ByAdvertiser[c.AdvertiserID] = m.count(advertiserKey(viewerKey, c.AdvertiserID), since)
		state.ByCampaign[c.ID] = m.count(campaignKey(viewerKey, c.ID), since)
	}
	return state, nil
}

// RecordServe adds one exposure to the global, advertiser and campaign scopes.
func (m *MemoryFrequencyStore) RecordServe(ctx context.Context, viewerKey string, campaignID, advertiserID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, key := range []string{
		globalKey(viewerKey),
		advertiserKey(viewerKey, advertiserID),
		campaignKey(viewerKey, campaignID),
	} {
		m.serves[key] = append(m.serves[key], now)
	}
	return nil
}
