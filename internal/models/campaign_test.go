package models

import (
	"testing"
	"time"
)

func TestCampaignIsLive(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	future := now.Add(48 * time.Hour)

	tests := []struct {
		name     string
		campaign Campaign
		want     bool
	}{
		{"active no schedule", Campaign{Status: CampaignActive}, true},
		{"paused", Campaign{Status: CampaignPaused}, false},
		{"draft", Campaign{Status: CampaignDraft}, false},
		{"budget exhausted", Campaign{Status: CampaignActive, Budget: Budget{Total: 100, Spent: 100}}, false},
		{"unlimited budget", Campaign{Status: CampaignActive, Budget: Budget{Spent: 1000}}, true},
		{"not started", Campaign{Status: CampaignActive, Schedule: Schedule{Start: &future}}, false},
		{"ended", Campaign{Status: CampaignActive, Schedule: Schedule{End: &past}}, false},
		{"in window", Campaign{Status: CampaignActive, Schedule: Schedule{Start: &past, End: &future}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.campaign.IsLive(now); got != tt.want {
				t.Errorf("IsLive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduleTimezone(t *testing.T) {
	// 09:00 wall clock in New York is 13:00 or 14:00 UTC depending on DST.
	start := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	s := Schedule{Start: &start, Timezone: "America/New_York"}

	if s.Contains(time.Date(2025, 1, 15, 13, 30, 0, 0, time.UTC)) {
		t.Error("expected 08:30 New York to be before the start")
	}
	if !s.Contains(time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)) {
		t.Error("expected 09:30 New York to be inside the window")
	}

	bad := Schedule{Timezone: "Mars/Olympus"}
	if bad.Location() != time.UTC {
		t.Error("expected unknown zone to fall back to UTC")
	}
}

func TestCreativeFitsPlacement(t *testing.T) {
	video := Creative{Format: FormatVideo}
	overlay := Creative{Format: FormatOverlay}
	banner := Creative{Format: FormatBanner}
	preOnly := Creative{Format: FormatVideo, Placements: []PlacementKind{PreRoll}}

	cases := []struct {
		c    Creative
		kind PlacementKind
		want bool
	}{
		{video, PreRoll, true},
		{video, MidRoll, true},
		{video, PostRoll, true},
		{overlay, MidRoll, true},
		{overlay, PreRoll, false},
		{banner, MidRoll, false},
		{preOnly, PreRoll, true},
		{preOnly, PostRoll, false},
		{video, PlacementKind("interstitial"), false},
	}
	for _, tc := range cases {
		if got := tc.c.FitsPlacement(tc.kind); got != tc.want {
			t.Errorf("%s in %s: got %v, want %v", tc.c.Format, tc.kind, got, tc.want)
		}
	}
}

func TestPlacementParsing(t *testing.T) {
	for in, want := range map[string]PlacementKind{
		"pre-roll":  PreRoll,
		"PreRoll":   PreRoll,
		"mid_roll":  MidRoll,
		"post roll": PostRoll,
	} {
		got, err := ParsePlacementKind(in)
		if err != nil || got != want {
			t.Errorf("ParsePlacementKind(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePlacementKind("banner"); err == nil {
		t.Error("expected error for unknown placement")
	}

	got := NormalizePlacements([]PlacementKind{PostRoll, "bogus", PreRoll, PostRoll, MidRoll})
	want := []PlacementKind{PreRoll, MidRoll, PostRoll}
	if len(got) != len(want) {
		t.Fatalf("NormalizePlacements = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("NormalizePlacements = %v, want %v", got, want)
		}
	}
}
