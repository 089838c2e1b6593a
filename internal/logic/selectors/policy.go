package selectors

import (
	"time"

	"github.com/patrickwarner/videoadserve/internal/config"
	logic "github.com/patrickwarner/videoadserve/internal/logic"
	"github.com/patrickwarner/videoadserve/internal/models"
)

// Policy is the ad-load configuration the selector enforces.
type Policy struct {
	Caps              models.FrequencyCaps
	Safety            logic.SafetyPolicy
	MaxPerKind        map[models.PlacementKind]int
	MinMidRollContent time.Duration
	MidRollSpacing    time.Duration
	SkipAfter         time.Duration
}

// PolicyFromConfig builds the selection policy from service configuration.
func PolicyFromConfig(cfg config.Config) Policy {
	return Policy{
		Caps: models.FrequencyCaps{
			Global:     cfg.GlobalFrequencyCap,
			Advertiser: cfg.AdvertiserFrequencyCap,
			Campaign:   cfg.CampaignFrequencyCap,
		},
		Safety: logic.SafetyPolicy{
			BlockedKeywords: cfg.BlockedKeywords,
			MaxAdDuration:   cfg.MaxAdDuration,
		},
		MaxPerKind: map[models.PlacementKind]int{
			models.PreRoll:  cfg.MaxPreRoll,
			models.MidRoll:  cfg.MaxMidRoll,
			models.PostRoll: cfg.MaxPostRoll,
		},
		MinMidRollContent: cfg.MinMidRollVideoDuration,
		MidRollSpacing:    cfg.MidRollSpacing,
		SkipAfter:         cfg.SkipAfter,
	}
}

// slotsFor returns how many ads may fill kind for the given content.
func (p Policy) slotsFor(kind models.PlacementKind, content models.ContentMetadata) int {
	n := p.MaxPerKind[kind]
	if kind != models.MidRoll || n <= 0 {
		return n
	}
	duration := time.Duration(content.DurationSeconds) * time.Second
	if duration <= 0 || duration < p.MinMidRollContent {
		return 0
	}
	if p.MidRollSpacing > 0 {
		// n breaks split the content into n+1 segments, each at least one
		// spacing long.
		bySpacing := int(duration/p.MidRollSpacing) - 1
		if bySpacing < n {
			n = bySpacing
		}
	}
	if n < 0 {
		return 0
	}
	return n
}

// midRollOffsets spreads n breaks evenly through content of the given
// length in seconds.
func midRollOffsets(durationSeconds, n int) []int {
	offsets := make([]int, n)
	for i := range offsets {
		offsets[i] = durationSeconds * (i + 1) / (n + 1)
	}
	return offsets
}

// skipAfterSeconds returns the skip threshold for a creative, or 0 when it
// cannot be skipped.
func (p Policy) skipAfterSeconds(cr models.Creative) int {
	if !cr.Skippable {
		return 0
	}
	if cr.SkipAfterSeconds > 0 {
		return cr.SkipAfterSeconds
	}
	return int(p.SkipAfter / time.Second)
}
