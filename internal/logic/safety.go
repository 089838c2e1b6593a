package logic

import (
	"fmt"
	"strings"
	"time"

	"github.com/patrickwarner/videoadserve/internal/models"
)

// SafetyPolicy is the content-safety configuration applied to every
// creative before it can be placed.
type SafetyPolicy struct {
	BlockedKeywords []string
	MaxAdDuration   time.Duration
}

// CheckCompliance returns nil when the creative may be shown. Keyword
// matching is case-insensitive and covers the campaign name, the creative
// title, its declared keywords and reviewer flags.
func CheckCompliance(c models.Campaign, cr models.Creative, p SafetyPolicy) error {
	if !cr.Compliance.Approved {
		return fmt.Errorf("creative %d: %w", cr.ID, ErrCreativeNotApproved)
	}
	if p.MaxAdDuration > 0 && cr.Format == models.FormatVideo &&
		time.Duration(cr.DurationSeconds)*time.Second > p.MaxAdDuration {
		return fmt.Errorf("creative %d (%ds): %w", cr.ID, cr.DurationSeconds, ErrCreativeTooLong)
	}
	if len(p.BlockedKeywords) == 0 {
		return nil
	}
	text := []string{c.Name, cr.Title}
	text = append(text, cr.Compliance.Keywords...)
	text = append(text, cr.Compliance.Flags...)
	for _, blocked := range p.BlockedKeywords {
		b := strings.ToLower(strings.TrimSpace(blocked))
		if b == "" {
			continue
		}
		for _, s := range text {
			if strings.Contains(strings.ToLower(s), b) {
				return fmt.Errorf("creative %d: %w %q", cr.ID, ErrBlockedKeyword, b)
			}
		}
	}
	return nil
}
