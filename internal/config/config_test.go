package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8787", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.DecisionCacheTTL)
	assert.Equal(t, 2*time.Second, cfg.ContextTimeout)
	assert.Equal(t, 10*time.Second, cfg.TelemetryFlushInterval)
	assert.Equal(t, 20, cfg.TelemetryBatchSize)
	assert.Equal(t, 2, cfg.MaxPerPlacement)
	assert.Equal(t, 2, cfg.MaxMidRoll)
	assert.Equal(t, CampaignSourcePostgres, cfg.CampaignSource)
	assert.Equal(t, TelemetrySinkHTTP, cfg.TelemetrySink)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("FREQ_CAP_CAMPAIGN", "7")
	t.Setenv("TELEMETRY_FLUSH_INTERVAL", "3")
	t.Setenv("BLOCKED_KEYWORDS", " gambling , ,crypto")
	t.Setenv("MAX_PER_PLACEMENT", "4")
	t.Setenv("MAX_PREROLL", "1")
	t.Setenv("TRACKING_BASE_URL", "https://ads.example.com/")
	t.Setenv("CAMPAIGN_SOURCE", "HTTP")

	cfg := Load()

	assert.Equal(t, 7, cfg.CampaignFrequencyCap)
	assert.Equal(t, 3*time.Second, cfg.TelemetryFlushInterval)
	assert.Equal(t, []string{"gambling", "crypto"}, cfg.BlockedKeywords)
	assert.Equal(t, 1, cfg.MaxPreRoll)
	assert.Equal(t, 4, cfg.MaxMidRoll)
	assert.Equal(t, 4, cfg.MaxPostRoll)
	assert.Equal(t, "https://ads.example.com", cfg.TrackingBaseURL)
	assert.Equal(t, CampaignSourceHTTP, cfg.CampaignSource)
}

func TestEnvHelpers_InvalidFallsBack(t *testing.T) {
	t.Setenv("X_INT", "abc")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_FLOAT", "nan-ish")

	assert.Equal(t, 9, envInt("X_INT", 9))
	assert.Equal(t, time.Minute, envDuration("X_DUR", time.Minute))
	assert.True(t, envBool("X_BOOL", true))
	assert.Equal(t, 0.5, envFloat("X_FLOAT", 0.5))
	assert.Equal(t, []string{"a"}, envList("X_LIST_UNSET", []string{"a"}))
}
