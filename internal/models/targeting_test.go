package models

import (
	"errors"
	"testing"
)

func TestTargetingValidate(t *testing.T) {
	tests := []struct {
		name      string
		targeting Targeting
		group     string
	}{
		{"empty targeting", Targeting{}, ""},
		{"valid ranges", Targeting{
			Demographic: &DemographicRules{AgeRange: &AgeRange{Min: 18, Max: 34}},
			Contextual:  &ContextualRules{MinDuration: 60, MaxDuration: 600},
		}, ""},
		{"open ended age", Targeting{Demographic: &DemographicRules{AgeRange: &AgeRange{Min: 21}}}, ""},
		{"inverted age", Targeting{Demographic: &DemographicRules{AgeRange: &AgeRange{Min: 40, Max: 20}}}, "demographic"},
		{"negative duration", Targeting{Contextual: &ContextualRules{MinDuration: -1}}, "contextual"},
		{"inverted duration", Targeting{Contextual: &ContextualRules{MinDuration: 600, MaxDuration: 60}}, "contextual"},
		{"blank country", Targeting{Geographic: &GeographicRules{Countries: []string{"US", " "}}}, "geographic"},
		{"blank keyword", Targeting{Interest: &InterestRules{Keywords: []string{""}}}, "interest"},
		{"blank creator", Targeting{Behavioral: &BehavioralRules{Creators: []string{""}}}, "behavioral"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.targeting.Validate(7)
			if tt.group == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var cfgErr *TargetingConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected TargetingConfigError, got %v", err)
			}
			if cfgErr.CampaignID != 7 || cfgErr.Group != tt.group {
				t.Errorf("got campaign %d group %q", cfgErr.CampaignID, cfgErr.Group)
			}
		})
	}
}

func TestViewerLanguage(t *testing.T) {
	cases := map[string]string{"": "", "en-US": "en", "pt_BR": "pt", "FR": "fr"}
	for locale, want := range cases {
		if got := (ViewerContext{Locale: locale}).Language(); got != want {
			t.Errorf("Language(%q) = %q, want %q", locale, got, want)
		}
	}
}

func TestViewerKey(t *testing.T) {
	if got := (RequestContext{ViewerID: "v1", SessionID: "s1"}).ViewerKey(); got != "v1" {
		t.Errorf("got %q", got)
	}
	if got := (RequestContext{SessionID: "s1"}).ViewerKey(); got != "session:s1" {
		t.Errorf("got %q", got)
	}
}
