package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/videoadserve/internal/analytics"
	"github.com/patrickwarner/videoadserve/internal/decision"
	"github.com/patrickwarner/videoadserve/internal/logic"
	"github.com/patrickwarner/videoadserve/internal/logic/selectors"
	"github.com/patrickwarner/videoadserve/internal/models"
)

// AdRequestInput describes a simulated playback request.
type AdRequestInput struct {
	SessionID       string   `json:"session_id,omitempty"`
	ViewerID        string   `json:"viewer_id,omitempty"`
	ContentID       string   `json:"content_id,omitempty"`
	Category        string   `json:"category,omitempty"`
	Topics          []string `json:"topics,omitempty"`
	CreatorID       string   `json:"creator_id,omitempty"`
	DurationSeconds int      `json:"duration_seconds,omitempty"`
	Placements      []string `json:"placements"`
	DeviceClass     string   `json:"device_class,omitempty"`
	Country         string   `json:"country,omitempty"`
	Region          string   `json:"region,omitempty"`
	Locale          string   `json:"locale,omitempty"`
	Age             *int     `json:"age,omitempty"`
	Interests       []string `json:"interests,omitempty"`
}

func (in AdRequestInput) requestContext() (models.RequestContext, error) {
	rc := models.RequestContext{
		SessionID: in.SessionID,
		ViewerID:  in.ViewerID,
		Content: models.ContentMetadata{
			ID:              in.ContentID,
			Category:        in.Category,
			Topics:          in.Topics,
			CreatorID:       in.CreatorID,
			DurationSeconds: in.DurationSeconds,
		},
		Viewer: models.ViewerContext{
			DeviceClass: in.DeviceClass,
			Locale:      in.Locale,
		},
	}
	if rc.SessionID == "" {
		rc.SessionID = "mcp-" + time.Now().UTC().Format("20060102T150405")
	}
	if in.Country != "" || in.Region != "" {
		rc.Viewer.Location = &models.Location{Country: in.Country, Region: in.Region}
	}
	if in.Age != nil || len(in.Interests) > 0 {
		rc.Viewer.Preferences = &models.ViewerPreferences{Age: in.Age, Interests: in.Interests}
	}
	for _, p := range in.Placements {
		kind, err := models.ParsePlacementKind(p)
		if err != nil {
			return rc, err
		}
		rc.Placements = append(rc.Placements, kind)
	}
	rc.Placements = models.NormalizePlacements(rc.Placements)
	if len(rc.Placements) == 0 {
		return rc, fmt.Errorf("at least one placement is required")
	}
	return rc, nil
}

// ExplainTargetingInput names a campaign and the request to score it against.
type ExplainTargetingInput struct {
	CampaignID int `json:"campaign_id"`
	AdRequestInput
}

// CampaignFunnelInput selects a campaign and a look-back window.
type CampaignFunnelInput struct {
	CampaignID int `json:"campaign_id"`
	SinceHours int `json:"since_hours,omitempty"`
}

type requestAdsOutput struct {
	Decision models.Decision       `json:"decision"`
	Trace    *logic.SelectionTrace `json:"trace"`
}

type creativeCompliance struct {
	CreativeID int    `json:"creative_id"`
	Eligible   bool   `json:"eligible"`
	Reason     string `json:"reason,omitempty"`
}

type explainOutput struct {
	CampaignID int                    `json:"campaign_id"`
	Live       bool                   `json:"live"`
	Match      models.TargetingMatch  `json:"match"`
	Creatives  []creativeCompliance   `json:"creatives"`
	Caps       *models.FrequencyCaps  `json:"caps,omitempty"`
	Frequency  *models.FrequencyState `json:"frequency,omitempty"`
}

type funnelOutput struct {
	CampaignID     int                        `json:"campaign_id"`
	Since          time.Time                  `json:"since"`
	Counts         map[models.EventKind]int64 `json:"counts"`
	CompletionRate float64                    `json:"completion_rate"`
}

// OpsServer exposes read-only operator tools over the decisioning core.
type OpsServer struct {
	campaigns models.CampaignStore
	decisions *decision.Service
	frequency logic.FrequencyStore
	policy    selectors.Policy
	analytics *analytics.ClickHouse
	logger    *zap.Logger
	now       func() time.Time
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil, nil
}

// RequestAds runs a full decision with the selection trace. The decision
// cache is bypassed and no frequency is recorded.
func (s *OpsServer) RequestAds(ctx context.Context, _ *mcp.CallToolRequest, input AdRequestInput) (*mcp.CallToolResult, any, error) {
	rc, err := input.requestContext()
	if err != nil {
		return nil, nil, err
	}
	d, trace := s.decisions.RequestAdsWithTrace(ctx, rc)
	s.logger.Info("request_ads",
		zap.String("decision_id", d.ID),
		zap.Int("ads", d.AdCount()))
	return jsonResult(requestAdsOutput{Decision: d, Trace: trace})
}

// ExplainTargeting reports how one campaign scores against a request and
// which of its creatives pass content safety.
func (s *OpsServer) ExplainTargeting(ctx context.Context, _ *mcp.CallToolRequest, input ExplainTargetingInput) (*mcp.CallToolResult, any, error) {
	c := s.campaigns.Get(input.CampaignID)
	if c == nil {
		return nil, nil, fmt.Errorf("campaign %d not found", input.CampaignID)
	}
	rc, err := input.requestContext()
	if err != nil {
		return nil, nil, err
	}

	out := explainOutput{
		CampaignID: c.ID,
		Live:       c.IsLive(s.now()),
		Match:      logic.Score(*c, rc),
		Caps:       c.Caps,
	}
	for _, cr := range c.Creatives {
		cc := creativeCompliance{CreativeID: cr.ID, Eligible: true}
		if err := logic.CheckCompliance(*c, cr, s.policy.Safety); err != nil {
			cc.Eligible = false
			cc.Reason = err.Error()
		}
		out.Creatives = append(out.Creatives, cc)
	}
	if s.frequency != nil && (rc.ViewerID != "" || input.SessionID != "") {
		state, err := s.frequency.Load(ctx, rc.ViewerKey(), []models.Campaign{*c})
		if err != nil {
			s.logger.Warn("frequency lookup failed", zap.Error(err))
		}
		out.Frequency = &state
	}
	return jsonResult(out)
}

// CampaignFunnel counts a campaign's tracked events by kind.
func (s *OpsServer) CampaignFunnel(ctx context.Context, _ *mcp.CallToolRequest, input CampaignFunnelInput) (*mcp.CallToolResult, any, error) {
	hours := input.SinceHours
	if hours <= 0 {
		hours = 24
	}
	since := s.now().Add(-time.Duration(hours) * time.Hour)
	counts, err := s.analytics.CampaignFunnel(ctx, input.CampaignID, since)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(funnelOutput{
		CampaignID:     input.CampaignID,
		Since:          since.UTC(),
		Counts:         counts,
		CompletionRate: analytics.CompletionRate(counts),
	})
}

func requestProperties() map[string]any {
	return map[string]any{
		"session_id":       map[string]any{"type": "string", "description": "Player session id"},
		"viewer_id":        map[string]any{"type": "string", "description": "Viewer id (omit for anonymous)"},
		"content_id":       map[string]any{"type": "string", "description": "Content id"},
		"category":         map[string]any{"type": "string", "description": "Content category"},
		"topics":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"creator_id":       map[string]any{"type": "string"},
		"duration_seconds": map[string]any{"type": "integer", "description": "Content length, used for mid-roll planning"},
		"placements": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string", "enum": []string{"pre-roll", "mid-roll", "post-roll"}},
			"description": "Requested ad slots",
		},
		"device_class": map[string]any{"type": "string", "enum": []string{"mobile", "tablet", "desktop", "tv", "other"}},
		"country":      map[string]any{"type": "string", "description": "ISO 3166-1 alpha-2 country"},
		"region":       map[string]any{"type": "string"},
		"locale":       map[string]any{"type": "string", "description": "BCP 47 locale such as en-US"},
		"age":          map[string]any{"type": "integer"},
		"interests":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	}
}

// register adds the operator tools to server. The funnel tool is only
// offered when ClickHouse is connected.
func (s *OpsServer) register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "request_ads",
		Description: "Run a dry-run ad decision for a simulated playback request and return the selection trace",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": requestProperties(),
			"required":   []string{"placements"},
		},
	}, s.RequestAds)

	explainProps := requestProperties()
	explainProps["campaign_id"] = map[string]any{"type": "integer", "description": "Campaign to explain"}
	mcp.AddTool(server, &mcp.Tool{
		Name:        "explain_targeting",
		Description: "Explain how a campaign's targeting scores against a request and which creatives pass content safety",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": explainProps,
			"required":   []string{"campaign_id", "placements"},
		},
	}, s.ExplainTargeting)

	if s.analytics == nil {
		return
	}
	mcp.AddTool(server, &mcp.Tool{
		Name:        "campaign_funnel",
		Description: "Count a campaign's tracked playback events by kind",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"campaign_id": map[string]any{"type": "integer"},
				"since_hours": map[string]any{"type": "integer", "minimum": 1, "description": "Look-back window (default 24)"},
			},
			"required": []string{"campaign_id"},
		},
	}, s.CampaignFunnel)
}
