package logic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/videoadserve/internal/models"
)

func TestRedisFrequencyStore_RollingWindow(t *testing.T) {
	s, store := setupTestRedis(t)
	defer s.Close()

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	fs := NewRedisFrequencyStore(store)
	fs.now = func() time.Time { return now }
	ctx := context.Background()

	campaigns := []models.Campaign{{ID: 1, AdvertiserID: 10}, {ID: 2, AdvertiserID: 10}, {ID: 3, AdvertiserID: 20}}

	// Two serves 25h ago fall outside the window.
	fs.now = func() time.Time { return now.Add(-25 * time.Hour) }
	require.NoError(t, fs.RecordServe(ctx, "viewer-1", 1, 10))
	require.NoError(t, fs.RecordServe(ctx, "viewer-1", 1, 10))

	fs.now = func() time.Time { return now.Add(-time.Hour) }
	require.NoError(t, fs.RecordServe(ctx, "viewer-1", 1, 10))
	require.NoError(t, fs.RecordServe(ctx, "viewer-1", 2, 10))
	require.NoError(t, fs.RecordServe(ctx, "viewer-2", 3, 20))

	fs.now = func() time.Time { return now }
	state, err := fs.Load(ctx, "viewer-1", campaigns)
	require.NoError(t, err)

	assert.False(t, state.Unavailable)
	assert.Equal(t, 2, state.Global)
	assert.Equal(t, 2, state.ByAdvertiser[10])
	assert.Equal(t, 0, state.ByAdvertiser[20])
	assert.Equal(t, 1, state.ByCampaign[1])
	assert.Equal(t, 1, state.ByCampaign[2])
	assert.Equal(t, 0, state.ByCampaign[3])
}

func TestRedisFrequencyStore_FailsClosed(t *testing.T) {
	s, store := setupTestRedis(t)
	fs := NewRedisFrequencyStore(store)
	s.Close()

	state, err := fs.Load(context.Background(), "viewer-1", []models.Campaign{{ID: 1, AdvertiserID: 1}})
	assert.Error(t, err)
	assert.True(t, state.Unavailable)
	assert.True(t, state.WouldExceed(models.Campaign{ID: 1, AdvertiserID: 1}, models.FrequencyCaps{}, models.NewFrequencyState()))
}

func TestRedisFrequencyStore_NilStore(t *testing.T) {
	fs := NewRedisFrequencyStore(nil)
	state, err := fs.Load(context.Background(), "v", nil)
	assert.ErrorIs(t, err, ErrNilRedisStore)
	assert.True(t, state.Unavailable)
	assert.ErrorIs(t, fs.RecordServe(context.Background(), "v", 1, 1), ErrNilRedisStore)
}

func TestMemoryFrequencyStore(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := now.Add(-30 * time.Hour)
	fs := NewMemoryFrequencyStore(func() time.Time { return clock })
	ctx := context.Background()

	require.NoError(t, fs.RecordServe(ctx, "session:s1", 1, 10))
	clock = now.Add(-2 * time.Hour)
	require.NoError(t, fs.RecordServe(ctx, "session:s1", 1, 10))
	require.NoError(t, fs.RecordServe(ctx, "session:s1", 2, 11))

	clock = now
	state, err := fs.Load(ctx, "session:s1", []models.Campaign{{ID: 1, AdvertiserID: 10}, {ID: 2, AdvertiserID: 11}})
	require.NoError(t, err)
	assert.Equal(t, 2, state.Global)
	assert.Equal(t, 1, state.ByCampaign[1])
	assert.Equal(t, 1, state.ByAdvertiser[11])

	other, err := fs.Load(ctx, "session:s2", []models.Campaign{{ID: 1, AdvertiserID: 10}})
	require.NoError(t, err)
	assert.Equal(t, 0, other.Global)
}
