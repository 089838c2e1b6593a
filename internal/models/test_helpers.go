package models

// NewTestCampaignStore creates a store pre-loaded with campaigns for tests.
func NewTestCampaignStore(campaigns ...Campaign) CampaignStore {
	s := NewInMemoryCampaignStore()
	_ = s.SetCampaigns(campaigns)
	return s
}

// TestVideoCreative returns an approved, skippable video creative.
func TestVideoCreative(id, campaignID int) Creative {
	return Creative{
		ID:               id,
		CampaignID:       campaignID,
		Format:           FormatVideo,
		Title:            "creative",
		MediaURL:         "https://cdn.example.com/ad.mp4",
		ClickThroughURL:  "https://advertiser.example.com",
		DurationSeconds:  15,
		Skippable:        true,
		SkipAfterSeconds: 5,
		Compliance:       Compliance{Approved: true},
	}
}

// TestCampaign returns an active campaign with one video creative.
func TestCampaign(id, advertiserID int) Campaign {
	return Campaign{
		ID:           id,
		AdvertiserID: advertiserID,
		Name:         "campaign",
		Status:       CampaignActive,
		Creatives:    []Creative{TestVideoCreative(id*100, id)},
	}
}
