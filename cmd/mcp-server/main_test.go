package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/videoadserve/internal/config"
	"github.com/patrickwarner/videoadserve/internal/logic"
	"github.com/patrickwarner/videoadserve/internal/models"
)

func testOps(t *testing.T, campaigns ...models.Campaign) *OpsServer {
	t.Helper()
	cfg := config.Config{
		TokenSecret:            "mcp-secret",
		GlobalFrequencyCap:     20,
		AdvertiserFrequencyCap: 6,
		CampaignFrequencyCap:   3,
		BlockedKeywords:        []string{"gambling"},
		MaxAdDuration:          time.Minute,
		MaxPreRoll:             2,
		MaxMidRoll:             2,
		MaxPostRoll:            2,
	}
	store := models.NewInMemoryCampaignStore()
	require.NoError(t, store.SetCampaigns(campaigns))
	return newOpsServer(store, logic.NewMemoryFrequencyStore(nil), cfg, nil, zap.NewNop())
}

func resultText(t *testing.T, res *mcp.CallToolResult) []byte {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return []byte(tc.Text)
}

func TestRequestAdsTool(t *testing.T) {
	ops := testOps(t, models.TestCampaign(1, 10))

	res, _, err := ops.RequestAds(context.Background(), nil, AdRequestInput{
		SessionID:  "s1",
		Category:   "sports",
		Placements: []string{"preroll"},
	})
	require.NoError(t, err)

	var out requestAdsOutput
	require.NoError(t, json.Unmarshal(resultText(t, res), &out))
	require.Len(t, out.Decision.Placements[models.PreRoll], 1)
	assert.Equal(t, 1, out.Decision.Placements[models.PreRoll][0].CampaignID)
	require.NotNil(t, out.Trace)
	assert.NotEmpty(t, out.Trace.Steps)
}

func TestRequestAdsToolRejectsUnknownPlacement(t *testing.T) {
	ops := testOps(t)
	_, _, err := ops.RequestAds(context.Background(), nil, AdRequestInput{Placements: []string{"banner"}})
	assert.Error(t, err)

	_, _, err = ops.RequestAds(context.Background(), nil, AdRequestInput{})
	assert.Error(t, err)
}

func TestExplainTargetingTool(t *testing.T) {
	c := models.TestCampaign(1, 10)
	c.Targeting.Geographic = &models.GeographicRules{Countries: []string{"US"}}
	flagged := models.TestVideoCreative(101, 1)
	flagged.Compliance.Keywords = []string{"Gambling"}
	c.Creatives = append(c.Creatives, flagged)
	ops := testOps(t, c)

	res, _, err := ops.ExplainTargeting(context.Background(), nil, ExplainTargetingInput{
		CampaignID: 1,
		AdRequestInput: AdRequestInput{
			ViewerID:   "v1",
			Country:    "US",
			Placements: []string{"pre-roll"},
		},
	})
	require.NoError(t, err)

	var out explainOutput
	require.NoError(t, json.Unmarshal(resultText(t, res), &out))
	assert.True(t, out.Live)
	assert.Greater(t, out.Match.Overall, 0.0)
	require.Len(t, out.Creatives, 2)
	assert.True(t, out.Creatives[0].Eligible)
	assert.False(t, out.Creatives[1].Eligible)
	assert.NotEmpty(t, out.Creatives[1].Reason)
	require.NotNil(t, out.Frequency)
	assert.Equal(t, 0, out.Frequency.Global)

	_, _, err = ops.ExplainTargeting(context.Background(), nil, ExplainTargetingInput{CampaignID: 99})
	assert.Error(t, err)
}

func TestCampaignFunnelWithoutClickHouse(t *testing.T) {
	ops := testOps(t)
	_, _, err := ops.CampaignFunnel(context.Background(), nil, CampaignFunnelInput{CampaignID: 1})
	assert.Error(t, err)
}
