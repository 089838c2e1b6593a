package models

// CreativeFormat is the kind of asset a creative carries.
type CreativeFormat string

const (
	FormatVideo   CreativeFormat = "video"
	FormatBanner  CreativeFormat = "banner"
	FormatOverlay CreativeFormat = "overlay"
)

// Compliance holds the content-safety review state of a creative.
type Compliance struct {
	Approved bool     `json:"approved"`
	Keywords []string `json:"keywords,omitempty"` // Declared subject keywords, checked against the blocklist.
	Flags    []string `json:"flags,omitempty"`    // Reviewer flags such as "alcohol" or "political".
}

// Creative is the actual ad asset tied to a campaign.
type Creative struct {
	ID         int            `json:"id"`
	CampaignID int            `json:"campaign_id"`
	Format     CreativeFormat `json:"format"`
	// Placements optionally restricts the slots a creative may fill. Empty
	// means any slot compatible with Format.
	Placements       []PlacementKind `json:"placements,omitempty"`
	Title            string          `json:"title"`
	MediaURL         string          `json:"media_url"`
	ClickThroughURL  string          `json:"click_through_url,omitempty"`
	DurationSeconds  int             `json:"duration_seconds"`
	Skippable        bool            `json:"skippable"`
	SkipAfterSeconds int             `json:"skip_after_seconds,omitempty"`
	Compliance       Compliance      `json:"compliance"`
}

// FitsPlacement reports whether the creative may be shown in the given slot.
// Pre- and post-rolls require video; mid-rolls also accept overlays.
func (c Creative) FitsPlacement(kind PlacementKind) bool {
	switch kind {
	case PreRoll, PostRoll:
		if c.Format != FormatVideo {
			return false
		}
	case MidRoll:
		if c.Format != FormatVideo && c.Format != FormatOverlay {
			return false
		}
	default:
		return false
	}
	if len(c.Placements) == 0 {
		return true
	}
	for _, p := range c.Placements {
		if p == kind {
			return true
		}
	}
	return false
}

// Ref returns the creative reference embedded in decisions.
func (c Creative) Ref() CreativeRef {
	return CreativeRef{
		ID:              c.ID,
		Format:          c.Format,
		Title:           c.Title,
		MediaURL:        c.MediaURL,
		ClickThroughURL: c.ClickThroughURL,
		DurationSeconds: c.DurationSeconds,
		Skippable:       c.Skippable,
	}
}

// CreativeRef is the creative payload returned to the player.
type CreativeRef struct {
	ID              int            `json:"id"`
	Format          CreativeFormat `json:"format"`
	Title           string         `json:"title"`
	MediaURL        string         `json:"media_url"`
	ClickThroughURL string         `json:"click_through_url,omitempty"`
	DurationSeconds int            `json:"duration_seconds"`
	Skippable       bool           `json:"skippable"`
}
