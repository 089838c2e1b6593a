package decision

import (
	"net/url"

	"github.com/patrickwarner/videoadserve/internal/models"
	"github.com/patrickwarner/videoadserve/internal/token"
)

// TrackingSigner builds signed pixel URLs for every placed ad.
type TrackingSigner struct {
	// BaseURL is the public origin of the /track endpoint. Empty yields
	// relative URLs.
	BaseURL string
	Secret  []byte
}

// Attach fills Tracking on every ad in d. Ads whose token cannot be signed
// keep empty tracking URLs.
func (s TrackingSigner) Attach(d *models.Decision, rc models.RequestContext) error {
	var firstErr error
	for kind, ads := range d.Placements {
		for i := range ads {
			tok, err := token.Generate(token.Claims{
				DecisionID:   d.ID,
				CampaignID:   ads[i].CampaignID,
				AdvertiserID: ads[i].AdvertiserID,
				CreativeID:   ads[i].Creative.ID,
				Placement:    string(kind),
				SessionID:    rc.SessionID,
				ViewerID:     rc.ViewerID,
				IssuedAt:     d.ServedAt,
			}, s.Secret)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			ads[i].Tracking = s.urls(tok, ads[i].Creative.Skippable)
		}
	}
	return firstErr
}

func (s TrackingSigner) urls(tok string, skippable bool) models.TrackingURLs {
	u := func(kind models.EventKind) string {
		q := url.Values{}
		q.Set("t", tok)
		q.Set("kind", string(kind))
		return s.BaseURL + "/track?" + q.Encode()
	}
	out := models.TrackingURLs{
		Impression:    u(models.EventImpression),
		Click:         u(models.EventClick),
		CTAClick:      u(models.EventCTAClick),
		FirstQuartile: u(models.EventFirstQuartile),
		Midpoint:      u(models.EventMidpoint),
		ThirdQuartile: u(models.EventThirdQuartile),
		Completion:    u(models.EventComplete),
		Close:         u(models.EventClose),
	}
	if skippable {
		out.Skip = u(models.EventSkip)
	}
	return out
}
