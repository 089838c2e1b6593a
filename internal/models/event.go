package models

import (
	"errors"
	"fmt"
	"time"
)

// EventKind is the type of playback interaction being reported.
type EventKind string

const (
	EventImpression    EventKind = "impression"
	EventClick         EventKind = "click"
	EventCTAClick      EventKind = "cta_click"
	EventFirstQuartile EventKind = "first_quartile"
	EventMidpoint      EventKind = "midpoint"
	EventThirdQuartile EventKind = "third_quartile"
	EventComplete      EventKind = "complete"
	EventSkip          EventKind = "skip"
	EventClose         EventKind = "close"
)

var knownEventKinds = map[EventKind]struct{}{
	EventImpression: {}, EventClick: {}, EventCTAClick: {},
	EventFirstQuartile: {}, EventMidpoint: {}, EventThirdQuartile: {},
	EventComplete: {}, EventSkip: {}, EventClose: {},
}

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	_, ok := knownEventKinds[k]
	return ok
}

// IsCritical reports whether the kind is sent immediately rather than
// batched. Impressions and clicks drive counting downstream and are
// latency sensitive.
func (k EventKind) IsCritical() bool {
	switch k {
	case EventImpression, EventClick, EventCTAClick:
		return true
	}
	return false
}

// ErrInvalidEvent is returned by InteractionEvent.Validate.
var ErrInvalidEvent = errors.New("invalid interaction event")

// InteractionEvent is a single playback callback. It is immutable once
// tracked.
type InteractionEvent struct {
	ID             string        `json:"id" validate:"max=64"`
	DecisionID     string        `json:"decision_id" validate:"required,max=128"`
	CampaignID     int           `json:"campaign_id" validate:"gte=0"`
	CreativeID     int           `json:"creative_id" validate:"gt=0"`
	Placement      PlacementKind `json:"placement,omitempty"`
	Kind           EventKind     `json:"kind" validate:"required"`
	Timestamp      time.Time     `json:"timestamp"`
	WatchedSeconds *float64      `json:"watched_seconds,omitempty" validate:"omitempty,gte=0"`
	SessionID      string        `json:"session_id" validate:"max=128"`
	ViewerID       string        `json:"viewer_id,omitempty" validate:"max=128"`
}

// Validate checks the fields required for ingestion.
func (e InteractionEvent) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	if e.DecisionID == "" {
		return fmt.Errorf("%w: decision_id required", ErrInvalidEvent)
	}
	if e.CreativeID <= 0 {
		return fmt.Errorf("%w: creative_id required", ErrInvalidEvent)
	}
	if e.WatchedSeconds != nil && *e.WatchedSeconds < 0 {
		return fmt.Errorf("%w: negative watched_seconds", ErrInvalidEvent)
	}
	return nil
}

// EventBatch is the group of queued events captured by one flush.
type EventBatch struct {
	ID         string             `json:"batch_id"`
	CapturedAt time.Time          `json:"captured_at"`
	Events     []InteractionEvent `json:"events"`
}
