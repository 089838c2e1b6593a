package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/patrickwarner/videoadserve/internal/config"
	"github.com/patrickwarner/videoadserve/internal/decision"
	"github.com/patrickwarner/videoadserve/internal/geoip"
	"github.com/patrickwarner/videoadserve/internal/logic/ratelimit"
	"github.com/patrickwarner/videoadserve/internal/middleware"
	"github.com/patrickwarner/videoadserve/internal/models"
	"github.com/patrickwarner/videoadserve/internal/observability"
	"github.com/patrickwarner/videoadserve/internal/telemetry"
)

var tracer = observability.Tracer("api")

var validate = validator.New()

// CampaignLoader reads the full campaign set from the system of record.
type CampaignLoader interface {
	LoadCampaigns(ctx context.Context) ([]models.Campaign, error)
}

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger      *zap.Logger
	Decisions   *decision.Service
	Pipeline    *telemetry.Pipeline
	Campaigns   models.CampaignStore
	Loader      CampaignLoader
	GeoIP       *geoip.GeoIP
	DebugTrace  bool
	TokenSecret []byte
	TokenTTL    time.Duration
	Metrics     observability.MetricsRegistry
	Config      config.Config

	limiter  *ratelimit.KeyedLimiter
	reloadMu sync.Mutex
}

// NewServer constructs a Server. A nil loader disables Reload; a nil
// campaign store is only valid when decisions come from a remote source.
func NewServer(logger *zap.Logger, decisions *decision.Service, pipeline *telemetry.Pipeline, campaigns models.CampaignStore, loader CampaignLoader, geo *geoip.GeoIP, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Server{
		Logger:      logger,
		Decisions:   decisions,
		Pipeline:    pipeline,
		Campaigns:   campaigns,
		Loader:      loader,
		GeoIP:       geo,
		DebugTrace:  cfg.DebugTrace,
		TokenSecret: []byte(cfg.TokenSecret),
		TokenTTL:    cfg.TokenTTL,
		Metrics:     metrics,
		Config:      cfg,
		limiter: ratelimit.NewKeyedLimiter("telemetry", ratelimit.Config{
			Capacity:   cfg.RateLimitCapacity,
			RefillRate: cfg.RateLimitRefill,
			Enabled:    cfg.RateLimitEnabled,
		}, metrics),
	}
}

// Limiter exposes the telemetry rate limiter so callers can run its cleanup.
func (s *Server) Limiter() *ratelimit.KeyedLimiter { return s.limiter }

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger))

	r.HandleFunc("/ads", s.AdsHandler).Methods(http.MethodPost)
	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/reload", s.ReloadHandler).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	limited := middleware.RateLimit(s.limiter, s.Logger)
	r.Handle("/track", limited(http.HandlerFunc(s.TrackHandler))).Methods(http.MethodGet)
	r.Handle("/events", limited(http.HandlerFunc(s.EventsHandler))).Methods(http.MethodPost)

	return otelhttp.NewHandler(r, "videoadserve",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

// Reload refreshes the in-memory campaign set from the loader.
func (s *Server) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if s.Loader == nil || s.Campaigns == nil {
		return fmt.Errorf("campaign loader unavailable")
	}
	campaigns, err := s.Loader.LoadCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("load campaigns: %w", err)
	}
	if err := s.Campaigns.SetCampaigns(campaigns); err != nil {
		return fmt.Errorf("reload campaigns: %w", err)
	}
	s.Metrics.SetCampaignsLoaded(len(campaigns))
	s.Logger.Info("campaigns reloaded", zap.Int("count", len(campaigns)))
	return nil
}

func (s *Server) observe(endpoint, method string, status int, start time.Time) {
	s.Metrics.IncrementRequests(endpoint, method, fmt.Sprint(status))
	s.Metrics.RecordRequestLatency(endpoint, method, time.Since(start))
}
