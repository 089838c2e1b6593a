package models

import (
	"time"

	"go.uber.org/zap"
)

// CampaignStatus is the lifecycle state of a campaign as managed by the
// advertising backend. Only active campaigns are eligible for decisioning.
type CampaignStatus string

const (
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignDraft     CampaignStatus = "draft"
)

// Budget is the spending envelope for a campaign. Values are informational
// for eligibility only; spend accounting is owned by the backend.
type Budget struct {
	Total      float64 `json:"total"`       // Lifetime budget. 0 means unlimited.
	Spent      float64 `json:"spent"`       // Spend reported by the backend at load time.
	DailyLimit float64 `json:"daily_limit"` // Informational daily ceiling.
}

// Exhausted reports whether the lifetime budget has been used up.
func (b Budget) Exhausted() bool {
	return b.Total > 0 && b.Spent >= b.Total
}

// Schedule is the flight window of a campaign. Start and End are wall-clock
// values interpreted in Timezone (IANA name, defaults to UTC).
type Schedule struct {
	Start    *time.Time `json:"start,omitempty"`
	End      *time.Time `json:"end,omitempty"`
	Timezone string     `json:"timezone,omitempty"`
}

// Location returns the schedule's time zone. Unknown zones fall back to UTC.
func (s Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		zap.L().Debug("unknown schedule timezone", zap.String("timezone", s.Timezone))
		return time.UTC
	}
	return loc
}

// Contains reports whether now falls inside the schedule window.
func (s Schedule) Contains(now time.Time) bool {
	loc := s.Location()
	local := now.In(loc)
	if s.Start != nil && local.Before(inZone(*s.Start, loc)) {
		return false
	}
	if s.End != nil && local.After(inZone(*s.End, loc)) {
		return false
	}
	return true
}

// inZone reinterprets the wall-clock fields of t in loc.
func inZone(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// Campaign is the unit of advertising the decisioning core ranks. It is owned
// by the advertising backend and treated as read-only input per decision.
type Campaign struct {
	ID           int            `json:"id"`
	AdvertiserID int            `json:"advertiser_id"`
	Name         string         `json:"name"`
	Status       CampaignStatus `json:"status"`
	Budget       Budget         `json:"budget"`
	Targeting    Targeting      `json:"targeting"`
	Schedule     Schedule       `json:"schedule"`
	// Caps overrides the configured frequency caps for this campaign. Zero
	// fields inherit the configured default.
	Caps      *FrequencyCaps `json:"caps,omitempty"`
	Creatives []Creative     `json:"creatives"`
}

// IsLive reports whether the campaign may serve at now: active status, inside
// its schedule and with budget remaining.
func (c Campaign) IsLive(now time.Time) bool {
	if c.Status != CampaignActive {
		return false
	}
	if c.Budget.Exhausted() {
		return false
	}
	return c.Schedule.Contains(now)
}
