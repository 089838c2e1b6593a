package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/videoadserve/internal/middleware"
	"github.com/patrickwarner/videoadserve/internal/models"
	"github.com/patrickwarner/videoadserve/internal/token"
)

// pixelGIF is a transparent 1x1 GIF.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackHandler handles GET /track pixel requests fired from the tracking
// URLs embedded in a decision.
func (s *Server) TrackHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "TrackHandler",
		trace.WithAttributes(
			attribute.String("http.method", "GET"),
			attribute.String("http.route", "/track"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)

	start := time.Now()
	const endpoint = "track"
	const method = "GET"

	q := r.URL.Query()
	tok := q.Get("t")
	if tok == "" {
		logger.Warn("missing token")
		s.observe(endpoint, method, http.StatusUnauthorized, start)
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}
	claims, err := token.Verify(tok, s.TokenSecret, s.TokenTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid token")
		logger.Warn("token verify", zap.Error(err))
		s.observe(endpoint, method, http.StatusUnauthorized, start)
		if errors.Is(err, token.ErrExpired) {
			http.Error(w, "token expired", http.StatusUnauthorized)
			return
		}
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	kind := models.EventKind(q.Get("kind"))
	if !kind.Valid() {
		s.observe(endpoint, method, http.StatusBadRequest, start)
		http.Error(w, "unknown event kind", http.StatusBadRequest)
		return
	}

	ev := models.InteractionEvent{
		DecisionID: claims.DecisionID,
		CampaignID: claims.CampaignID,
		CreativeID: claims.CreativeID,
		Placement:  models.PlacementKind(claims.Placement),
		Kind:       kind,
		SessionID:  claims.SessionID,
		ViewerID:   claims.ViewerID,
	}
	if v := q.Get("watched"); v != "" {
		watched, err := strconv.ParseFloat(v, 64)
		if err != nil || watched < 0 {
			s.observe(endpoint, method, http.StatusBadRequest, start)
			http.Error(w, "invalid watched seconds", http.StatusBadRequest)
			return
		}
		ev.WatchedSeconds = &watched
	}

	span.SetAttributes(
		attribute.String("decision_id", claims.DecisionID),
		attribute.Int("campaign_id", claims.CampaignID),
		attribute.Int("creative_id", claims.CreativeID),
		attribute.String("event_kind", string(kind)),
	)

	if kind == models.EventImpression && s.Decisions != nil {
		viewerKey := models.RequestContext{ViewerID: claims.ViewerID, SessionID: claims.SessionID}.ViewerKey()
		if err := s.Decisions.RecordImpression(ctx, viewerKey, claims.CampaignID, claims.AdvertiserID); err != nil {
			// The pixel still succeeds; the impression is reported below.
			logger.Error("failed to record frequency", zap.Error(err), zap.Int("campaign_id", claims.CampaignID))
		}
	}
	if s.Pipeline != nil {
		s.Pipeline.Track(ev)
	}

	s.observe(endpoint, method, http.StatusOK, start)
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pixelGIF)
}
