package models

import (
	"sync"
	"testing"
	"time"
)

func TestInMemoryCampaignStore_SetAndGet(t *testing.T) {
	store := NewInMemoryCampaignStore()
	if err := store.SetCampaigns([]Campaign{TestCampaign(2, 1), TestCampaign(1, 1)}); err != nil {
		t.Fatalf("SetCampaigns: %v", err)
	}

	all := store.All()
	if len(all) != 2 || all[0].ID != 1 || all[1].ID != 2 {
		t.Fatalf("expected campaigns ordered by id, got %+v", all)
	}

	c := store.Get(2)
	if c == nil || c.ID != 2 {
		t.Fatalf("Get(2) = %+v", c)
	}
	c.Name = "mutated"
	if store.Get(2).Name == "mutated" {
		t.Error("Get must return a copy")
	}
	if store.Get(99) != nil {
		t.Error("expected nil for unknown campaign")
	}
}

func TestInMemoryCampaignStore_Live(t *testing.T) {
	paused := TestCampaign(3, 1)
	paused.Status = CampaignPaused
	store := NewTestCampaignStore(TestCampaign(1, 1), paused)

	live := store.Live(time.Now())
	if len(live) != 1 || live[0].ID != 1 {
		t.Fatalf("Live() = %+v", live)
	}
}

func TestInMemoryCampaignStore_UpsertDelete(t *testing.T) {
	store := NewInMemoryCampaignStore()
	if err := store.Upsert(TestCampaign(1, 1)); err != nil {
		t.Fatal(err)
	}
	updated := TestCampaign(1, 1)
	updated.Name = "renamed"
	if err := store.Upsert(updated); err != nil {
		t.Fatal(err)
	}
	if got := store.All(); len(got) != 1 || got[0].Name != "renamed" {
		t.Fatalf("after upsert: %+v", got)
	}
	if err := store.Upsert(Campaign{}); err == nil {
		t.Error("expected error for zero id")
	}
	if err := store.Delete(1); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(1); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryCampaignStore_ConcurrentReload(t *testing.T) {
	store := NewInMemoryCampaignStore()
	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			_ = store.Upsert(TestCampaign(id, 1))
		}(i)
		go func() {
			defer wg.Done()
			_ = store.Live(time.Now())
		}()
	}
	wg.Wait()
	if got := len(store.All()); got != 20 {
		t.Errorf("expected 20 campaigns, got %d", got)
	}
}
