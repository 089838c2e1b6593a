package logic

import (
	"fmt"
	"net"
	"strings"

	"github.com/avct/uasurfer"

	"github.com/patrickwarner/videoadserve/internal/geoip"
	"github.com/patrickwarner/videoadserve/internal/models"
)

// Factor weights used for the overall score. They sum to 1.0.
const (
	WeightDemographic = 0.15
	WeightGeographic  = 0.20
	WeightInterest    = 0.25
	WeightBehavioral  = 0.20
	WeightContextual  = 0.20
)

// Multipliers applied to a factor per rule.
const (
	MatchBoost      = 1.2
	MismatchPenalty = 0.5
	// SoftPenalty applies to rules that are weak evidence on their own:
	// keywords, watched categories and cities.
	SoftPenalty = 0.8
)

// Scorer computes a TargetingMatch for a campaign. Score is the production
// implementation; tests substitute counting wrappers.
type Scorer func(c models.Campaign, rc models.RequestContext) models.TargetingMatch

// factor accumulates one sub-score and the rules that boosted it.
type factor struct {
	group   string
	value   float64
	matched *[]string
}

func newFactor(group string, matched *[]string) *factor {
	return &factor{group: group, value: 1.0, matched: matched}
}

// apply evaluates one rule. A rule with no configured values, or whose
// context value is missing, leaves the factor untouched.
func (f *factor) apply(rule string, want []string, have []string, penalty float64) {
	if len(want) == 0 || len(have) == 0 {
		return
	}
	for _, h := range have {
		if containsFold(want, h) {
			f.value *= MatchBoost
			*f.matched = append(*f.matched, fmt.Sprintf("%s:%s=%s", f.group, rule, strings.ToLower(h)))
			return
		}
	}
	f.value *= penalty
}

// check applies a boolean rule outcome.
func (f *factor) check(rule string, ok bool, label string, penalty float64) {
	if ok {
		f.value *= MatchBoost
		*f.matched = append(*f.matched, fmt.Sprintf("%s:%s=%s", f.group, rule, label))
		return
	}
	f.value *= penalty
}

func (f *factor) score() float64 { return clamp01(f.value) }

// Score evaluates campaign targeting against a request. It is pure and
// deterministic: the same inputs always produce the same match.
func Score(c models.Campaign, rc models.RequestContext) models.TargetingMatch {
	t := c.Targeting
	if excluded(t.Contextual, rc.Content) {
		return models.TargetingMatch{Excluded: true}
	}

	var matched []string
	m := models.TargetingMatch{
		Demographic: scoreDemographic(t.Demographic, rc.Viewer, &matched),
		Geographic:  scoreGeographic(t.Geographic, rc.Viewer.Location, &matched),
		Interest:    scoreInterest(t.Interest, rc, &matched),
		Behavioral:  scoreBehavioral(t.Behavioral, rc.Viewer.Preferences, &matched),
		Contextual:  scoreContextual(t.Contextual, rc.Content, &matched),
	}
	m.Overall = clamp01(WeightDemographic*m.Demographic +
		WeightGeographic*m.Geographic +
		WeightInterest*m.Interest +
		WeightBehavioral*m.Behavioral +
		WeightContextual*m.Contextual)
	m.MatchedCriteria = matched
	return m
}

// excluded reports whether any exclude entry names the content category or
// one of its topics.
func excluded(r *models.ContextualRules, content models.ContentMetadata) bool {
	if r == nil || len(r.Exclude) == 0 {
		return false
	}
	if content.Category != "" && containsFold(r.Exclude, content.Category) {
		return true
	}
	for _, topic := range content.Topics {
		if containsFold(r.Exclude, topic) {
			return true
		}
	}
	return false
}

func scoreDemographic(r *models.DemographicRules, v models.ViewerContext, matched *[]string) float64 {
	f := newFactor("demographic", matched)
	if r == nil {
		return f.score()
	}
	f.apply("language", r.Languages, nonEmpty(v.Language()), MismatchPenalty)
	f.apply("device", r.DeviceClasses, nonEmpty(v.DeviceClass), MismatchPenalty)
	if r.AgeRange != nil && v.Preferences != nil && v.Preferences.Age != nil {
		age := *v.Preferences.Age
		in := age >= r.AgeRange.Min && (r.AgeRange.Max == 0 || age <= r.AgeRange.Max)
		f.check("age", in, fmt.Sprintf("%d-%d", r.AgeRange.Min, r.AgeRange.Max), MismatchPenalty)
	}
	return f.score()
}

func scoreGeographic(r *models.GeographicRules, loc *models.Location, matched *[]string) float64 {
	f := newFactor("geographic", matched)
	if r == nil || loc == nil {
		return f.score()
	}
	f.apply("country", r.Countries, nonEmpty(loc.Country), MismatchPenalty)
	f.apply("region", r.Regions, nonEmpty(loc.Region), MismatchPenalty)
	f.apply("city", r.Cities, nonEmpty(loc.City), SoftPenalty)
	return f.score()
}

func scoreInterest(r *models.InterestRules, rc models.RequestContext, matched *[]string) float64 {
	f := newFactor("interest", matched)
	if r == nil {
		return f.score()
	}
	if p := rc.Viewer.Preferences; p != nil {
		f.apply("category", r.Categories, p.Interests, MismatchPenalty)
	}
	// Keywords are matched against what the viewer is watching right now.
	keywords := append(nonEmpty(rc.Content.Category), rc.Content.Topics...)
	f.apply("keyword", r.Keywords, keywords, SoftPenalty)
	return f.score()
}

func scoreBehavioral(r *models.BehavioralRules, p *models.ViewerPreferences, matched *[]string) float64 {
	f := newFactor("behavioral", matched)
	if r == nil || p == nil {
		return f.score()
	}
	f.apply("creator", r.Creators, p.SubscribedCreators, MismatchPenalty)
	f.apply("watched", r.WatchedCategories, p.WatchedCategories, SoftPenalty)
	if r.ReturningOnly {
		f.check("returning", p.Returning, "true", MismatchPenalty)
	}
	return f.score()
}

func scoreContextual(r *models.ContextualRules, content models.ContentMetadata, matched *[]string) float64 {
	f := newFactor("contextual", matched)
	if r == nil {
		return f.score()
	}
	f.apply("category", r.Categories, nonEmpty(content.Category), MismatchPenalty)
	f.apply("topic", r.Topics, content.Topics, MismatchPenalty)
	if (r.MinDuration > 0 || r.MaxDuration > 0) && content.DurationSeconds > 0 {
		d := content.DurationSeconds
		in := d >= r.MinDuration && (r.MaxDuration == 0 || d <= r.MaxDuration)
		f.check("duration", in, fmt.Sprintf("%d", d), MismatchPenalty)
	}
	return f.score()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(s)) {
			return true
		}
	}
	return false
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

// ResolveDeviceClass maps a raw User-Agent string to one of the device
// classes campaigns target on.
func ResolveDeviceClass(uaString string) string {
	if uaString == "" {
		return ""
	}
	u := uasurfer.Parse(uaString)
	switch u.DeviceType {
	case uasurfer.DeviceComputer:
		return "desktop"
	case uasurfer.DevicePhone:
		return "mobile"
	case uasurfer.DeviceTablet:
		return "tablet"
	case uasurfer.DeviceTV, uasurfer.DeviceConsole:
		return "tv"
	default:
		return "other"
	}
}

// IsBot reports whether the User-Agent belongs to a crawler.
func IsBot(uaString string) bool {
	return uaString != "" && uasurfer.Parse(uaString).IsBot()
}

// ResolveLocation looks up the viewer location for an IP. It returns nil
// when the address is unparseable or unknown.
func ResolveLocation(g *geoip.GeoIP, ipString string) *models.Location {
	ip := net.ParseIP(strings.TrimSpace(ipString))
	if ip == nil || g == nil {
		return nil
	}
	return g.Lookup(ip)
}

// EnrichViewer fills device class and location from the transport layer
// when the caller did not supply them.
func EnrichViewer(g *geoip.GeoIP, rc *models.RequestContext) {
	if rc.Viewer.DeviceClass == "" {
		rc.Viewer.DeviceClass = ResolveDeviceClass(rc.UserAgent)
	}
	if rc.Viewer.Location == nil {
		rc.Viewer.Location = ResolveLocation(g, rc.IP)
	}
}
