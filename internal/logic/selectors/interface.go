package selectors

import (
	logic "github.com/patrickwarner/videoadserve/internal/logic"
	"github.com/patrickwarner/videoadserve/internal/models"
)

// Candidate is a campaign together with its targeting score for the
// current request.
type Candidate struct {
	Campaign models.Campaign
	Match    models.TargetingMatch
}

// Selector defines a pluggable interface for filling placement slots from
// scored candidates. Implementations never return an error: failures yield
// an empty decision. trace may be nil.
type Selector interface {
	Select(candidates []Candidate, rc models.RequestContext, state models.FrequencyState,
		trace *logic.SelectionTrace) models.Decision
}
