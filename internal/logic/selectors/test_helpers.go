package selectors

import (
	"time"

	"github.com/patrickwarner/videoadserve/internal/models"
)

// testPolicy is the default ad-load policy used in selector tests.
func testPolicy() Policy {
	return Policy{
		Caps: models.FrequencyCaps{Global: 20, Advertiser: 6, Campaign: 3},
		MaxPerKind: map[models.PlacementKind]int{
			models.PreRoll:  2,
			models.MidRoll:  2,
			models.PostRoll: 2,
		},
		MinMidRollContent: 8 * time.Minute,
		MidRollSpacing:    4 * time.Minute,
		SkipAfter:         5 * time.Second,
	}
}

// candidate builds a scored candidate for an active test campaign.
func candidate(id, advertiserID int, overall float64) Candidate {
	return Candidate{
		Campaign: models.TestCampaign(id, advertiserID),
		Match:    models.TargetingMatch{Overall: overall},
	}
}

// requestFor returns a request for the given kinds on content of the given
// length in seconds.
func requestFor(durationSeconds int, kinds ...models.PlacementKind) models.RequestContext {
	return models.RequestContext{
		Content:    models.ContentMetadata{ID: "vid-1", Category: "sports", DurationSeconds: durationSeconds},
		Placements: kinds,
		SessionID:  "sess-1",
		ViewerID:   "viewer-1",
	}
}
