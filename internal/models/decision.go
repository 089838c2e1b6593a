package models

import "time"

// TrackingURLs are the pixel endpoints the player fires for a placed ad.
type TrackingURLs struct {
	Impression    string `json:"impression,omitempty"`
	Click         string `json:"click,omitempty"`
	CTAClick      string `json:"cta_click,omitempty"`
	FirstQuartile string `json:"first_quartile,omitempty"`
	Midpoint      string `json:"midpoint,omitempty"`
	ThirdQuartile string `json:"third_quartile,omitempty"`
	Completion    string `json:"completion,omitempty"`
	Skip          string `json:"skip,omitempty"`
	Close         string `json:"close,omitempty"`
}

// PlacedAd is one selected creative in a placement slot.
type PlacedAd struct {
	CampaignID   int         `json:"campaign_id"`
	AdvertiserID int         `json:"advertiser_id"`
	Creative     CreativeRef `json:"creative"`
	Score        float64     `json:"score"`
	// OffsetSeconds is the break position within the content for mid-rolls.
	OffsetSeconds    int          `json:"offset_seconds,omitempty"`
	SkipAfterSeconds int          `json:"skip_after_seconds,omitempty"`
	Tracking         TrackingURLs `json:"tracking"`
}

// Decision is the per-placement outcome of one ad request. Placement kinds
// with no eligible campaign are absent from Placements.
type Decision struct {
	ID         string                       `json:"decision_id"`
	SessionID  string                       `json:"session_id"`
	ServedAt   time.Time                    `json:"served_at"`
	Placements map[PlacementKind][]PlacedAd `json:"placements"`
}

// Empty reports whether the decision carries no ads at all.
func (d Decision) Empty() bool {
	for _, ads := range d.Placements {
		if len(ads) > 0 {
			return false
		}
	}
	return true
}

// AdCount returns the total number of placed ads across all slots.
func (d Decision) AdCount() int {
	n := 0
	for _, ads := range d.Placements {
		n += len(ads)
	}
	return n
}

// Clone returns a deep copy so that callers cannot mutate cached decisions.
func (d Decision) Clone() Decision {
	out := d
	if d.Placements != nil {
		out.Placements = make(map[PlacementKind][]PlacedAd, len(d.Placements))
		for k, ads := range d.Placements {
			out.Placements[k] = append([]PlacedAd(nil), ads...)
		}
	}
	return out
}
