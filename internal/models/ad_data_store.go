package models

import (
	"errors"
	"sort"
	"sync/atomic"
	"time"
)

// ErrNotFound is returned when an entity is not found in the data store
var ErrNotFound = errors.New("entity not found")

// CampaignStore provides thread-safe access to the loaded campaign set.
// Readers on the hot path see an immutable snapshot; reloads swap the
// snapshot atomically.
type CampaignStore interface {
	// Read operations (hot path)
	Get(campaignID int) *Campaign
	All() []Campaign
	Live(now time.Time) []Campaign

	// Write operations (reload path)
	SetCampaigns(campaigns []Campaign) error
	Upsert(campaign Campaign) error
	Delete(campaignID int) error
}

// campaignSnapshot represents an immutable snapshot of all campaigns
type campaignSnapshot struct {
	campaigns []Campaign
	index     map[int]*Campaign
	loadedAt  time.Time
}

func newSnapshot(campaigns []Campaign) *campaignSnapshot {
	cs := make([]Campaign, len(campaigns))
	copy(cs, campaigns)
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
	idx := make(map[int]*Campaign, len(cs))
	for i := range cs {
		idx[cs[i].ID] = &cs[i]
	}
	return &campaignSnapshot{campaigns: cs, index: idx, loadedAt: time.Now()}
}

// InMemoryCampaignStore implements CampaignStore with atomic snapshot updates
type InMemoryCampaignStore struct {
	data atomic.Pointer[campaignSnapshot]
}

// NewInMemoryCampaignStore creates an empty store.
func NewInMemoryCampaignStore() *InMemoryCampaignStore {
	s := &InMemoryCampaignStore{}
	s.data.Store(newSnapshot(nil))
	return s
}

// Get returns a copy of the campaign, or nil when unknown.
func (s *InMemoryCampaignStore) Get(campaignID int) *Campaign {
	c, ok := s.data.Load().index[campaignID]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// All returns every loaded campaign ordered by id.
func (s *InMemoryCampaignStore) All() []Campaign {
	data := s.data.Load()
	result := make([]Campaign, len(data.campaigns))
	copy(result, data.campaigns)
	return result
}

// Live returns the campaigns that may serve at now: active, in schedule and
// with budget remaining.
func (s *InMemoryCampaignStore) Live(now time.Time) []Campaign {
	data := s.data.Load()
	result := make([]Campaign, 0, len(data.campaigns))
	for _, c := range data.campaigns {
		if c.IsLive(now) {
			result = append(result, c)
		}
	}
	return result
}

// LoadedAt reports when the current snapshot was built.
func (s *InMemoryCampaignStore) LoadedAt() time.Time {
	return s.data.Load().loadedAt
}

// SetCampaigns replaces the whole campaign set.
func (s *InMemoryCampaignStore) SetCampaigns(campaigns []Campaign) error {
	s.data.Store(newSnapshot(campaigns))
	return nil
}

// Upsert inserts or replaces one campaign.
func (s *InMemoryCampaignStore) Upsert(campaign Campaign) error {
	if campaign.ID <= 0 {
		return errors.New("campaign id must be positive")
	}
	for {
		old := s.data.Load()
		next := make([]Campaign, 0, len(old.campaigns)+1)
		for _, c := range old.campaigns {
			if c.ID != campaign.ID {
				next = append(next, c)
			}
		}
		next = append(next, campaign)
		if s.data.CompareAndSwap(old, newSnapshot(next)) {
			return nil
		}
	}
}

// Delete removes a campaign. It returns ErrNotFound for unknown ids.
func (s *InMemoryCampaignStore) Delete(campaignID int) error {
	for {
		old := s.data.Load()
		if _, ok := old.index[campaignID]; !ok {
			return ErrNotFound
		}
		next := make([]Campaign, 0, len(old.campaigns))
		for _, c := range old.campaigns {
			if c.ID != campaignID {
				next = append(next, c)
			}
		}
		if s.data.CompareAndSwap(old, newSnapshot(next)) {
			return nil
		}
	}
}
