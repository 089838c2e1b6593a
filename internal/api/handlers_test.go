package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/videoadserve/internal/config"
	"github.com/patrickwarner/videoadserve/internal/decision"
	logic "github.com/patrickwarner/videoadserve/internal/logic"
	"github.com/patrickwarner/videoadserve/internal/logic/selectors"
	"github.com/patrickwarner/videoadserve/internal/models"
	"github.com/patrickwarner/videoadserve/internal/observability"
	"github.com/patrickwarner/videoadserve/internal/telemetry"
	"github.com/patrickwarner/videoadserve/internal/token"
)

const testSecret = "handler-secret"

type recordingTransport struct {
	mu      sync.Mutex
	events  []models.InteractionEvent
	batches []models.EventBatch
	sent    chan models.InteractionEvent
}

func (r *recordingTransport) SendEvent(_ context.Context, ev models.InteractionEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.sent <- ev
	return nil
}

func (r *recordingTransport) SendBatch(_ context.Context, b models.EventBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return nil
}

type staticLoader struct {
	campaigns []models.Campaign
	err       error
}

func (l staticLoader) LoadCampaigns(context.Context) ([]models.Campaign, error) {
	return l.campaigns, l.err
}

type fixture struct {
	srv       *Server
	handler   http.Handler
	transport *recordingTransport
	freq      *logic.MemoryFrequencyStore
	metrics   *observability.MockMetricsRegistry
}

func testConfig() config.Config {
	return config.Config{
		TokenSecret:             testSecret,
		TokenTTL:                time.Hour,
		GlobalFrequencyCap:      20,
		AdvertiserFrequencyCap:  6,
		CampaignFrequencyCap:    3,
		MaxAdDuration:           time.Minute,
		SkipAfter:               5 * time.Second,
		MaxPreRoll:              2,
		MaxMidRoll:              2,
		MaxPostRoll:             2,
		MinMidRollVideoDuration: 8 * time.Minute,
		MidRollSpacing:          4 * time.Minute,
		RateLimitEnabled:        true,
		RateLimitCapacity:       100,
		RateLimitRefill:         100,
	}
}

func newFixture(t *testing.T, cfg config.Config, campaigns ...models.Campaign) *fixture {
	t.Helper()
	store := models.NewInMemoryCampaignStore()
	require.NoError(t, store.SetCampaigns(campaigns))
	freq := logic.NewMemoryFrequencyStore(nil)
	metrics := observability.NewMockMetricsRegistry()

	svc := decision.NewService(decision.Options{
		Campaigns: decision.StoreCandidates{Store: store},
		Frequency: freq,
		Selector:  selectors.NewRuleBasedSelector(selectors.PolicyFromConfig(cfg), nil, nil),
		Tracking:  decision.TrackingSigner{BaseURL: "https://ads.example.com", Secret: []byte(cfg.TokenSecret)},
		Metrics:   metrics,
	})
	tr := &recordingTransport{sent: make(chan models.InteractionEvent, 10)}
	pipeline := telemetry.NewPipeline(tr, telemetry.Config{}, zap.NewNop(), metrics)

	srv := NewServer(zap.NewNop(), svc, pipeline, store, staticLoader{campaigns: campaigns}, nil, metrics, cfg)
	return &fixture{srv: srv, handler: srv.Router(), transport: tr, freq: freq, metrics: metrics}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func adsRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/ads", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148")
	return req
}

func TestAdsHandlerServesDecision(t *testing.T) {
	f := newFixture(t, testConfig(), models.TestCampaign(1, 10))

	rr := f.do(adsRequest(`{"session_id":"s1","viewer_id":"v1","content":{"id":"vid-1","category":"sports"},"placements":["preroll"]}`))
	require.Equal(t, http.StatusOK, rr.Code)

	var d models.Decision
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &d))
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "s1", d.SessionID)
	require.Len(t, d.Placements[models.PreRoll], 1)
	ad := d.Placements[models.PreRoll][0]
	assert.Equal(t, 1, ad.CampaignID)
	assert.True(t, strings.HasPrefix(ad.Tracking.Impression, "https://ads.example.com/track?"))
	assert.Equal(t, float64(1), f.metrics.Get("requests:ads:POST:200"))
}

func TestAdsHandlerRejectsBadRequests(t *testing.T) {
	f := newFixture(t, testConfig(), models.TestCampaign(1, 10))

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"session_id":`},
		{"no placements", `{"session_id":"s1","placements":[]}`},
		{"unknown placements only", `{"session_id":"s1","placements":["banner"]}`},
		{"bad ip", `{"session_id":"s1","ip":"not-an-ip","placements":["pre-roll"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(adsRequest(tt.body))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestAdsHandlerEmptyDecisionIsNotAnError(t *testing.T) {
	f := newFixture(t, testConfig())

	rr := f.do(adsRequest(`{"session_id":"s1","placements":["pre-roll","post-roll"]}`))
	require.Equal(t, http.StatusOK, rr.Code)

	var d models.Decision
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &d))
	assert.True(t, d.Empty())
}

func TestAdsHandlerDebugTrace(t *testing.T) {
	f := newFixture(t, testConfig(), models.TestCampaign(1, 10))

	req := adsRequest(`{"session_id":"s1","placements":["pre-roll"]}`)
	req.URL.RawQuery = "debug=1"
	rr := f.do(req)
	require.Equal(t, http.StatusOK, rr.Code)

	var out struct {
		Debug struct {
			Trace logic.SelectionTrace `json:"trace"`
		} `json:"debug"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.NotEmpty(t, out.Debug.Trace.Steps)
}

func signedTrackURL(t *testing.T, kind models.EventKind, extra url.Values) string {
	t.Helper()
	tok, err := token.Generate(token.Claims{
		DecisionID:   "d1",
		CampaignID:   1,
		AdvertiserID: 10,
		CreativeID:   100,
		Placement:    string(models.PreRoll),
		SessionID:    "s1",
		ViewerID:     "v1",
		IssuedAt:     time.Now(),
	}, []byte(testSecret))
	require.NoError(t, err)
	q := url.Values{}
	q.Set("t", tok)
	q.Set("kind", string(kind))
	for k, v := range extra {
		q[k] = v
	}
	return "/track?" + q.Encode()
}

func TestTrackHandlerImpressionRecordsFrequency(t *testing.T) {
	f := newFixture(t, testConfig(), models.TestCampaign(1, 10))

	rr := f.do(httptest.NewRequest(http.MethodGet, signedTrackURL(t, models.EventImpression, nil), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/gif", rr.Header().Get("Content-Type"))
	assert.Equal(t, pixelGIF, rr.Body.Bytes())

	select {
	case ev := <-f.transport.sent:
		assert.Equal(t, models.EventImpression, ev.Kind)
		assert.Equal(t, "d1", ev.DecisionID)
		assert.Equal(t, 100, ev.CreativeID)
		assert.Equal(t, models.PreRoll, ev.Placement)
	case <-time.After(2 * time.Second):
		t.Fatal("impression was not sent")
	}

	state, err := f.freq.Load(context.Background(), "v1", []models.Campaign{models.TestCampaign(1, 10)})
	require.NoError(t, err)
	assert.Equal(t, 1, state.Global)
	assert.Equal(t, 1, state.ByCampaign[1])
	assert.Equal(t, 1, state.ByAdvertiser[10])
}

func TestTrackHandlerQueuesProgressEvents(t *testing.T) {
	f := newFixture(t, testConfig())

	rr := f.do(httptest.NewRequest(http.MethodGet, signedTrackURL(t, models.EventMidpoint, url.Values{"watched": {"7.5"}}), nil))
	require.Equal(t, http.StatusOK, rr.Code)

	queued := f.srv.Pipeline.Queue().Snapshot()
	require.Len(t, queued, 1)
	assert.Equal(t, models.EventMidpoint, queued[0].Kind)
	require.NotNil(t, queued[0].WatchedSeconds)
	assert.InDelta(t, 7.5, *queued[0].WatchedSeconds, 0.001)
}

func TestTrackHandlerRejects(t *testing.T) {
	f := newFixture(t, testConfig())

	rr := f.do(httptest.NewRequest(http.MethodGet, "/track?kind=impression", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(httptest.NewRequest(http.MethodGet, "/track?kind=impression&t=forged.token", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(httptest.NewRequest(http.MethodGet, signedTrackURL(t, "rewind", nil), nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(httptest.NewRequest(http.MethodGet, signedTrackURL(t, models.EventComplete, url.Values{"watched": {"-1"}}), nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Equal(t, 0, f.srv.Pipeline.Queue().Len())
}

func TestEventsHandlerCountsAcceptedAndRejected(t *testing.T) {
	f := newFixture(t, testConfig())

	body := `[
		{"decision_id":"d1","creative_id":100,"campaign_id":1,"kind":"first_quartile","session_id":"s1"},
		{"decision_id":"d1","creative_id":100,"campaign_id":1,"kind":"complete","session_id":"s1","watched_seconds":15},
		{"decision_id":"","creative_id":100,"kind":"complete"},
		{"decision_id":"d1","creative_id":100,"kind":"rewind"},
		{"decision_id":"d1","creative_id":0,"kind":"skip"}
	]`
	rr := f.do(httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rr.Code)

	var resp eventsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Accepted)
	assert.Equal(t, 3, resp.Rejected)
	assert.Equal(t, 2, f.srv.Pipeline.Queue().Len())

	rr = f.do(httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{"not":"an array"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTelemetryEndpointsAreRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitCapacity = 1
	cfg.RateLimitRefill = 0.001
	f := newFixture(t, cfg)

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`[]`))
		req.RemoteAddr = "198.51.100.20:5000"
		return f.do(req).Code
	}
	assert.Equal(t, http.StatusAccepted, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}

func TestReload(t *testing.T) {
	f := newFixture(t, testConfig())
	f.srv.Loader = staticLoader{campaigns: []models.Campaign{models.TestCampaign(1, 10), models.TestCampaign(2, 20)}}

	rr := f.do(httptest.NewRequest(http.MethodPost, "/reload", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Len(t, f.srv.Campaigns.All(), 2)
	assert.Equal(t, float64(2), f.metrics.Get("campaigns_loaded"))

	f.srv.Loader = staticLoader{err: errors.New("postgres down")}
	rr = f.do(httptest.NewRequest(http.MethodPost, "/reload", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Len(t, f.srv.Campaigns.All(), 2, "failed reload keeps the previous campaign set")

	f.srv.Loader = nil
	assert.Error(t, f.srv.Reload(context.Background()))
}

func TestHealthHandler(t *testing.T) {
	f := newFixture(t, testConfig(), models.TestCampaign(1, 10))

	rr := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Campaigns)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}
