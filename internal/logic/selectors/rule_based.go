package selectors

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	logic "github.com/patrickwarner/videoadserve/internal/logic"
	"github.com/patrickwarner/videoadserve/internal/models"
	"github.com/patrickwarner/videoadserve/internal/observability"
)

// RuleBasedSelector ranks candidates by targeting score and fills each
// requested placement kind, enforcing content safety and frequency caps.
type RuleBasedSelector struct {
	policy  Policy
	logger  *zap.Logger
	metrics observability.MetricsRegistry
}

// NewRuleBasedSelector constructs a selector for the given policy. Nil
// logger and metrics fall back to no-op implementations.
func NewRuleBasedSelector(policy Policy, logger *zap.Logger, metrics observability.MetricsRegistry) *RuleBasedSelector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &RuleBasedSelector{policy: policy, logger: logger, metrics: metrics}
}

// eligible is a candidate that survived scoring and compliance, with the
// creatives it may still serve.
type eligible struct {
	Candidate
	creatives []models.Creative
}

// creativeFor returns the first creative that fits kind.
func (e eligible) creativeFor(kind models.PlacementKind) (models.Creative, bool) {
	for _, cr := range e.creatives {
		if cr.FitsPlacement(kind) {
			return cr, true
		}
	}
	return models.Creative{}, false
}

// Select fills the requested placement kinds. Kinds with no eligible
// campaign are absent from the result. A panic anywhere in selection yields
// an empty decision.
func (s *RuleBasedSelector) Select(candidates []Candidate, rc models.RequestContext,
	state models.FrequencyState, trace *logic.SelectionTrace) (decision models.Decision) {
	decision = models.Decision{Placements: make(map[models.PlacementKind][]models.PlacedAd)}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("selector panic recovered", zap.Any("panic", r), zap.String("content_id", rc.Content.ID))
			decision = models.Decision{Placements: make(map[models.PlacementKind][]models.PlacedAd)}
		}
	}()

	trace.AddStep("start", candidateIDs(candidates))

	pool := s.filterScoreAndCompliance(candidates, trace)
	pool = s.filterCapped(pool, state, trace)

	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Match.Overall != pool[j].Match.Overall {
			return pool[i].Match.Overall > pool[j].Match.Overall
		}
		return pool[i].Campaign.ID < pool[j].Campaign.ID
	})
	trace.AddStep("rank", eligibleIDs(pool))

	// planned counts serves already placed in this decision so that a
	// campaign cannot exceed its cap by filling several slots at once.
	planned := models.NewFrequencyState()
	for _, kind := range models.NormalizePlacements(rc.Placements) {
		ads := s.fill(kind, pool, rc, state, &planned)
		if len(ads) == 0 {
			continue
		}
		decision.Placements[kind] = ads
		ids := make([]int, len(ads))
		for i, ad := range ads {
			ids[i] = ad.CampaignID
		}
		trace.AddStep("placement:"+string(kind), ids)
	}
	return decision
}

// filterScoreAndCompliance drops zero-scored candidates and keeps only the
// creatives that pass content safety.
func (s *RuleBasedSelector) filterScoreAndCompliance(candidates []Candidate, trace *logic.SelectionTrace) []eligible {
	var excluded, unsafe []string
	pool := make([]eligible, 0, len(candidates))
	for _, c := range candidates {
		if c.Match.Excluded || c.Match.Overall <= 0 {
			excluded = append(excluded, strconv.Itoa(c.Campaign.ID))
			continue
		}
		var ok []models.Creative
		for _, cr := range c.Campaign.Creatives {
			if err := logic.CheckCompliance(c.Campaign, cr, s.policy.Safety); err != nil {
				s.logger.Debug("creative failed compliance",
					zap.Int("campaign_id", c.Campaign.ID), zap.Int("creative_id", cr.ID), zap.Error(err))
				continue
			}
			ok = append(ok, cr)
		}
		if len(ok) == 0 {
			unsafe = append(unsafe, strconv.Itoa(c.Campaign.ID))
			continue
		}
		pool = append(pool, eligible{Candidate: c, creatives: ok})
	}
	s.metrics.AddCampaignsFiltered("score", len(excluded))
	s.metrics.AddCampaignsFiltered("compliance", len(unsafe))
	trace.AddStepWithDetails("score", eligibleIDs(pool), details("removed", excluded))
	trace.AddStepWithDetails("compliance", eligibleIDs(pool), details("removed", unsafe))
	return pool
}

// filterCapped drops campaigns that are already at a cap before any slot is
// filled. Missing state counts as capped.
func (s *RuleBasedSelector) filterCapped(pool []eligible, state models.FrequencyState, trace *logic.SelectionTrace) []eligible {
	var capped []string
	out := pool[:0]
	none := models.NewFrequencyState()
	for _, e := range pool {
		caps := e.Campaign.Caps.Merge(s.policy.Caps)
		if state.WouldExceed(e.Campaign, caps, none) {
			capped = append(capped, strconv.Itoa(e.Campaign.ID))
			continue
		}
		out = append(out, e)
	}
	s.metrics.AddCampaignsFiltered("frequency", len(capped))
	d := details("capped", capped)
	if state.Unavailable {
		d["state"] = "unavailable"
	}
	trace.AddStepWithDetails("frequency", eligibleIDs(out), d)
	return out
}

// fill picks up to the kind's slot count from the ranked pool, one creative
// per campaign.
func (s *RuleBasedSelector) fill(kind models.PlacementKind, pool []eligible, rc models.RequestContext,
	state models.FrequencyState, planned *models.FrequencyState) []models.PlacedAd {
	slots := s.policy.slotsFor(kind, rc.Content)
	if slots <= 0 {
		return nil
	}
	var ads []models.PlacedAd
	for _, e := range pool {
		if len(ads) == slots {
			break
		}
		cr, ok := e.creativeFor(kind)
		if !ok {
			continue
		}
		caps := e.Campaign.Caps.Merge(s.policy.Caps)
		if state.WouldExceed(e.Campaign, caps, *planned) {
			continue
		}
		planned.Add(e.Campaign)
		ads = append(ads, models.PlacedAd{
			CampaignID:       e.Campaign.ID,
			AdvertiserID:     e.Campaign.AdvertiserID,
			Creative:         cr.Ref(),
			Score:            e.Match.Overall,
			SkipAfterSeconds: s.policy.skipAfterSeconds(cr),
		})
	}
	if kind == models.MidRoll {
		for i, off := range midRollOffsets(rc.Content.DurationSeconds, len(ads)) {
			ads[i].OffsetSeconds = off
		}
	}
	return ads
}

func candidateIDs(cs []Candidate) []int {
	ids := make([]int, len(cs))
	for i, c := range cs {
		ids[i] = c.Campaign.ID
	}
	return ids
}

func eligibleIDs(es []eligible) []int {
	ids := make([]int, len(es))
	for i, e := range es {
		ids[i] = e.Campaign.ID
	}
	return ids
}

func details(key string, ids []string) map[string]string {
	if len(ids) == 0 {
		return map[string]string{}
	}
	return map[string]string{key: strings.Join(ids, ",")}
}

// String describes the policy for startup logs.
func (p Policy) String() string {
	return fmt.Sprintf("caps=%d/%d/%d max=%v midroll_min=%s spacing=%s",
		p.Caps.Global, p.Caps.Advertiser, p.Caps.Campaign, p.MaxPerKind, p.MinMidRollContent, p.MidRollSpacing)
}
