package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/videoadserve/internal/logic"
	"github.com/patrickwarner/videoadserve/internal/middleware"
	"github.com/patrickwarner/videoadserve/internal/models"
	"github.com/patrickwarner/videoadserve/internal/observability"
)

const maxAdsBody = 64 << 10

type adsResponse struct {
	models.Decision
	Debug any `json:"debug,omitempty"`
}

// normalizeRequestPlacements accepts the alternate spellings players send
// ("preroll", "mid_roll") and drops anything unknown.
func normalizeRequestPlacements(kinds []models.PlacementKind) []models.PlacementKind {
	parsed := make([]models.PlacementKind, 0, len(kinds))
	for _, k := range kinds {
		if pk, err := models.ParsePlacementKind(string(k)); err == nil {
			parsed = append(parsed, pk)
		}
	}
	return models.NormalizePlacements(parsed)
}

// AdsHandler handles POST /ads. Decisioning failures yield an empty decision
// with 200; only malformed requests are rejected.
func (s *Server) AdsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "AdsHandler",
		trace.WithAttributes(
			attribute.String("http.method", "POST"),
			attribute.String("http.route", "/ads"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "ads"
	const method = "POST"

	var rc models.RequestContext
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdsBody)).Decode(&rc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid body")
		logger.Warn("invalid ads request", zap.Error(err))
		s.observe(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(rc); err != nil {
		logger.Warn("ads request failed validation", zap.Error(err))
		s.observe(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}
	rc.Placements = normalizeRequestPlacements(rc.Placements)
	if len(rc.Placements) == 0 {
		s.observe(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "no valid placements requested", http.StatusBadRequest)
		return
	}

	if rc.UserAgent == "" {
		rc.UserAgent = r.UserAgent()
	}
	if rc.IP == "" {
		rc.IP = middleware.ClientIP(r)
	}
	if logic.IsBot(rc.UserAgent) {
		logger.Debug("bot user agent", zap.String("user_agent", rc.UserAgent))
	}
	logic.EnrichViewer(s.GeoIP, &rc)

	span.SetAttributes(
		attribute.String("session_id", rc.SessionID),
		attribute.String("content_id", rc.Content.ID),
		attribute.String("device_class", rc.Viewer.DeviceClass),
	)

	debug := s.DebugTrace || r.URL.Query().Get("debug") == "1"
	out := adsResponse{}
	if debug {
		d, tr := s.Decisions.RequestAdsWithTrace(ctx, rc)
		out.Decision = d
		out.Debug = map[string]any{"trace": tr}
	} else {
		out.Decision = s.Decisions.RequestAds(ctx, rc)
	}

	if observability.ShouldSample(observability.GetSamplingRate()) {
		logger.Info("ads served",
			zap.String("decision_id", out.ID),
			zap.String("session_id", rc.SessionID),
			zap.Int("ads", out.AdCount()))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		logger.Error("encode decision", zap.Error(err))
	}
	s.observe(endpoint, method, http.StatusOK, start)
}
