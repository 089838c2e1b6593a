package models

import "strings"

// AnonymousViewer is the viewer identity used in cache keys when the request
// carries no viewer id.
const AnonymousViewer = "anonymous"

// ContentMetadata describes the video the ads will surround.
type ContentMetadata struct {
	ID              string   `json:"id"`
	Title           string   `json:"title,omitempty"`
	Category        string   `json:"category,omitempty"`
	Topics          []string `json:"topics,omitempty"`
	DurationSeconds int      `json:"duration_seconds,omitempty"`
	CreatorID       string   `json:"creator_id,omitempty"`
}

// HasSignals reports whether the metadata carries anything targeting can use
// beyond the id.
func (c ContentMetadata) HasSignals() bool {
	return c.Category != "" || len(c.Topics) > 0
}

// Location is the viewer's resolved or declared location.
type Location struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// ViewerPreferences are optional, user-declared or inferred preferences.
type ViewerPreferences struct {
	Age                *int     `json:"age,omitempty"`
	Interests          []string `json:"interests,omitempty"`
	SubscribedCreators []string `json:"subscribed_creators,omitempty"`
	WatchedCategories  []string `json:"watched_categories,omitempty"`
	Returning          bool     `json:"returning,omitempty"`
}

// ViewerContext is what is known about the viewer for this request.
type ViewerContext struct {
	DeviceClass string             `json:"device_class,omitempty"`
	Locale      string             `json:"locale,omitempty"`
	Location    *Location          `json:"location,omitempty"`
	Preferences *ViewerPreferences `json:"preferences,omitempty"`
}

// Language returns the lower-cased language subtag of Locale ("en" for
// "en-US"), or "" when no locale is set.
func (v ViewerContext) Language() string {
	if v.Locale == "" {
		return ""
	}
	lang := strings.FieldsFunc(v.Locale, func(r rune) bool { return r == '-' || r == '_' })
	if len(lang) == 0 {
		return ""
	}
	return strings.ToLower(lang[0])
}

// RequestContext is the input to a decision.
type RequestContext struct {
	Content    ContentMetadata `json:"content"`
	Viewer     ViewerContext   `json:"viewer"`
	Placements []PlacementKind `json:"placements" validate:"required,min=1,max=8"`
	SessionID  string          `json:"session_id" validate:"max=128"`
	// ViewerID is empty for anonymous viewers.
	ViewerID  string `json:"viewer_id,omitempty" validate:"max=128"`
	UserAgent string `json:"user_agent,omitempty" validate:"max=1024"`
	IP        string `json:"ip,omitempty" validate:"omitempty,ip"`
}

// ViewerKey identifies whose exposures frequency caps count: the viewer id,
// or the session when anonymous.
func (rc RequestContext) ViewerKey() string {
	if rc.ViewerID != "" {
		return rc.ViewerID
	}
	return "session:" + rc.SessionID
}
