package logic

// TraceStep records the campaigns remaining after a selection stage.
type TraceStep struct {
	Stage       string            `json:"stage"`
	CampaignIDs []int             `json:"campaign_ids"`
	Details     map[string]string `json:"details,omitempty"`
}

// SelectionTrace captures the ordered list of steps performed by a selector.
type SelectionTrace struct {
	Steps []TraceStep `json:"steps"`
}

// AddStep appends a trace entry for the given stage. Duplicate campaign IDs
// are removed.
func (t *SelectionTrace) AddStep(stage string, campaignIDs []int) {
	t.AddStepWithDetails(stage, campaignIDs, nil)
}

// AddStepWithDetails appends a trace entry with additional details about filtering.
func (t *SelectionTrace) AddStepWithDetails(stage string, campaignIDs []int, details map[string]string) {
	if t == nil {
		return
	}
	step := TraceStep{Stage: stage, Details: details, CampaignIDs: []int{}}
	seen := make(map[int]struct{}, len(campaignIDs))
	for _, id := range campaignIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		step.CampaignIDs = append(step.CampaignIDs, id)
	}
	t.Steps = append(t.Steps, step)
}
