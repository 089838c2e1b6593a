package models

// FrequencyCaps are the daily exposure ceilings. A zero value means no cap
// for that scope.
type FrequencyCaps struct {
	Global     int `json:"global,omitempty"`
	Advertiser int `json:"advertiser,omitempty"`
	Campaign   int `json:"campaign,omitempty"`
}

// Merge returns caps with zero fields of c replaced by def.
func (c *FrequencyCaps) Merge(def FrequencyCaps) FrequencyCaps {
	if c == nil {
		return def
	}
	out := *c
	if out.Global == 0 {
		out.Global = def.Global
	}
	if out.Advertiser == 0 {
		out.Advertiser = def.Advertiser
	}
	if out.Campaign == 0 {
		out.Campaign = def.Campaign
	}
	return out
}

// FrequencyState is a viewer's exposure counts within the rolling day window.
// It must be loaded fresh for every decision.
type FrequencyState struct {
	Global       int         `json:"global"`
	ByAdvertiser map[int]int `json:"by_advertiser,omitempty"`
	ByCampaign   map[int]int `json:"by_campaign,omitempty"`
	// Unavailable is set when the state could not be read at all; every
	// campaign is then treated as capped out.
	Unavailable bool `json:"unavailable,omitempty"`
	// Unknown lists campaigns whose counts could not be read.
	Unknown map[int]bool `json:"unknown,omitempty"`
}

// NewFrequencyState returns an empty, initialised state.
func NewFrequencyState() FrequencyState {
	return FrequencyState{
		ByAdvertiser: make(map[int]int),
		ByCampaign:   make(map[int]int),
		Unknown:      make(map[int]bool),
	}
}

// WouldExceed reports whether serving one more ad from campaign c would
// break any of the caps, taking extra (serves already planned in the current
// decision) into account. Missing state fails closed.
func (s FrequencyState) WouldExceed(c Campaign, caps FrequencyCaps, extra FrequencyState) bool {
	if s.Unavailable || s.Unknown[c.ID] {
		return true
	}
	if caps.Global > 0 && s.Global+extra.Global+1 > caps.Global {
		return true
	}
	if caps.Advertiser > 0 && s.ByAdvertiser[c.AdvertiserID]+extra.ByAdvertiser[c.AdvertiserID]+1 > caps.Advertiser {
		return true
	}
	if caps.Campaign > 0 && s.ByCampaign[c.ID]+extra.ByCampaign[c.ID]+1 > caps.Campaign {
		return true
	}
	return false
}

// Add records one planned exposure of campaign c.
func (s *FrequencyState) Add(c Campaign) {
	if s.ByAdvertiser == nil {
		s.ByAdvertiser = make(map[int]int)
	}
	if s.ByCampaign == nil {
		s.ByCampaign = make(map[int]int)
	}
	s.Global++
	s.ByAdvertiser[c.AdvertiserID]++
	s.ByCampaign[c.ID]++
}
