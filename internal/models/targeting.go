package models

import (
	"fmt"
	"strings"
)

// Targeting holds the five independent rule groups a campaign may declare.
// A nil group means the campaign does not target on that dimension and the
// corresponding factor scores neutrally.
type Targeting struct {
	Demographic *DemographicRules `json:"demographic,omitempty"`
	Geographic  *GeographicRules  `json:"geographic,omitempty"`
	Interest    *InterestRules    `json:"interest,omitempty"`
	Behavioral  *BehavioralRules  `json:"behavioral,omitempty"`
	Contextual  *ContextualRules  `json:"contextual,omitempty"`
}

// AgeRange is an inclusive age bracket.
type AgeRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// DemographicRules match viewer language, device class and declared age.
type DemographicRules struct {
	Languages     []string  `json:"languages,omitempty"`      // ISO 639-1 codes matched against the viewer locale.
	DeviceClasses []string  `json:"device_classes,omitempty"` // "mobile", "desktop", "tablet", "tv".
	AgeRange      *AgeRange `json:"age_range,omitempty"`
}

// GeographicRules match the viewer location. Countries use ISO 3166-1
// alpha-2 codes; regions use subdivision codes.
type GeographicRules struct {
	Countries []string `json:"countries,omitempty"`
	Regions   []string `json:"regions,omitempty"`
	Cities    []string `json:"cities,omitempty"`
}

// InterestRules match declared viewer interests and content topics.
type InterestRules struct {
	Categories []string `json:"categories,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
}

// BehavioralRules match viewing behaviour: creators followed, categories
// recently watched and whether the viewer is returning.
type BehavioralRules struct {
	Creators          []string `json:"creators,omitempty"`
	WatchedCategories []string `json:"watched_categories,omitempty"`
	ReturningOnly     bool     `json:"returning_only,omitempty"`
}

// ContextualRules match the content being watched. Exclude is a hard veto:
// any entry equal to a content topic or the content category disqualifies
// the campaign regardless of other factors.
type ContextualRules struct {
	Categories  []string `json:"categories,omitempty"`
	Topics      []string `json:"topics,omitempty"`
	MinDuration int      `json:"min_duration,omitempty"` // seconds, 0 = no minimum
	MaxDuration int      `json:"max_duration,omitempty"` // seconds, 0 = no maximum
	Exclude     []string `json:"exclude,omitempty"`
}

// TargetingConfigError reports a malformed rule on a single campaign. The
// campaign is skipped; the rest of the candidate set is unaffected.
type TargetingConfigError struct {
	CampaignID int
	Group      string
	Reason     string
}

func (e *TargetingConfigError) Error() string {
	return fmt.Sprintf("campaign %d: invalid %s targeting: %s", e.CampaignID, e.Group, e.Reason)
}

// Validate checks the rule groups for values that cannot be scored
// meaningfully. campaignID is only used to annotate the error.
func (t Targeting) Validate(campaignID int) error {
	bad := func(group, reason string) error {
		return &TargetingConfigError{CampaignID: campaignID, Group: group, Reason: reason}
	}
	if d := t.Demographic; d != nil {
		if d.AgeRange != nil {
			if d.AgeRange.Min < 0 || d.AgeRange.Max < 0 {
				return bad("demographic", "negative age")
			}
			if d.AgeRange.Max != 0 && d.AgeRange.Min > d.AgeRange.Max {
				return bad("demographic", "age range inverted")
			}
		}
		if hasBlank(d.Languages) || hasBlank(d.DeviceClasses) {
			return bad("demographic", "empty value")
		}
	}
	if g := t.Geographic; g != nil {
		if hasBlank(g.Countries) || hasBlank(g.Regions) || hasBlank(g.Cities) {
			return bad("geographic", "empty value")
		}
	}
	if i := t.Interest; i != nil {
		if hasBlank(i.Categories) || hasBlank(i.Keywords) {
			return bad("interest", "empty value")
		}
	}
	if b := t.Behavioral; b != nil {
		if hasBlank(b.Creators) || hasBlank(b.WatchedCategories) {
			return bad("behavioral", "empty value")
		}
	}
	if c := t.Contextual; c != nil {
		if c.MinDuration < 0 || c.MaxDuration < 0 {
			return bad("contextual", "negative duration")
		}
		if c.MaxDuration != 0 && c.MinDuration > c.MaxDuration {
			return bad("contextual", "duration range inverted")
		}
		if hasBlank(c.Categories) || hasBlank(c.Topics) || hasBlank(c.Exclude) {
			return bad("contextual", "empty value")
		}
	}
	return nil
}

func hasBlank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

// TargetingMatch describes how well a campaign fits a request. Every factor
// and Overall lie in [0,1]. MatchedCriteria lists each rule that contributed
// a boost, independent of the numeric score.
type TargetingMatch struct {
	Demographic     float64  `json:"demographic"`
	Geographic      float64  `json:"geographic"`
	Interest        float64  `json:"interest"`
	Behavioral      float64  `json:"behavioral"`
	Contextual      float64  `json:"contextual"`
	Overall         float64  `json:"overall"`
	Excluded        bool     `json:"excluded,omitempty"`
	MatchedCriteria []string `json:"matched_criteria,omitempty"`
}
