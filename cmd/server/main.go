package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/videoadserve/internal/analytics"
	"github.com/patrickwarner/videoadserve/internal/api"
	"github.com/patrickwarner/videoadserve/internal/config"
	"github.com/patrickwarner/videoadserve/internal/db"
	"github.com/patrickwarner/videoadserve/internal/decision"
	"github.com/patrickwarner/videoadserve/internal/geoip"
	"github.com/patrickwarner/videoadserve/internal/logic"
	"github.com/patrickwarner/videoadserve/internal/logic/selectors"
	"github.com/patrickwarner/videoadserve/internal/models"
	"github.com/patrickwarner/videoadserve/internal/observability"
	"github.com/patrickwarner/videoadserve/internal/telemetry"
	"github.com/patrickwarner/videoadserve/internal/transport"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TokenSecret == "" {
		return errors.New("TOKEN_SECRET must be set")
	}

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	metricsRegistry := observability.NewPrometheusRegistry()

	store, err := db.InitRedis(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	defer store.Close()

	geoSvc, err := geoip.Init(cfg.GeoIPDB)
	if err != nil {
		logger.Warn("geoip unavailable, locations come from requests only", zap.Error(err))
		geoSvc = nil
	}
	defer func() { _ = geoSvc.Close() }()

	backend := transport.NewClient(transport.ClientConfig{
		BaseURL:          cfg.BackendURL,
		Timeout:          cfg.BackendTimeout,
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
	}, logger)

	// Without a backend the service decides on request-supplied metadata
	// and preferences alone.
	var content decision.ContentResolver
	var viewers decision.ViewerResolver
	if cfg.BackendURL != "" {
		content, viewers = backend, backend
	}

	campaignStore := models.NewInMemoryCampaignStore()
	var candidates decision.CandidateSource = decision.StoreCandidates{Store: campaignStore}
	var loader api.CampaignLoader
	switch cfg.CampaignSource {
	case config.CampaignSourceHTTP:
		if cfg.BackendURL == "" {
			return errors.New("CAMPAIGN_SOURCE=http requires BACKEND_URL")
		}
		candidates = backend
		if err := backend.HealthCheck(ctx); err != nil {
			logger.Warn("backend health check failed", zap.String("url", cfg.BackendURL), zap.Error(err))
		}
	case config.CampaignSourcePostgres:
		pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			return fmt.Errorf("failed to connect postgres: %w", err)
		}
		defer pg.Close()
		loader = pg
	default:
		return fmt.Errorf("unknown campaign source %q", cfg.CampaignSource)
	}

	sink, closeSink, err := telemetrySink(ctx, cfg, backend, metricsRegistry)
	if err != nil {
		return err
	}
	defer closeSink()

	var cache decision.Cache
	if cfg.DecisionCacheBackend == "redis" {
		cache = decision.NewRedisCache(store, cfg.DecisionCacheTTL, logger)
	} else {
		mc := decision.NewMemoryCache(cfg.DecisionCacheTTL, nil)
		mc.StartJanitor(ctx, time.Minute)
		cache = mc
	}

	// Swap out RuleBasedSelector for a custom one to change how ads are
	// ranked and allocated.
	selector := selectors.NewRuleBasedSelector(selectors.PolicyFromConfig(cfg), logger, metricsRegistry)

	svc := decision.NewService(decision.Options{
		Campaigns:      candidates,
		Content:        content,
		Viewers:        viewers,
		Frequency:      logic.NewRedisFrequencyStore(store),
		Selector:       selector,
		Cache:          cache,
		Tracking:       decision.TrackingSigner{BaseURL: cfg.TrackingBaseURL, Secret: []byte(cfg.TokenSecret)},
		ContextTimeout: cfg.ContextTimeout,
		Logger:         logger,
		Metrics:        metricsRegistry,
	})

	pipeline := telemetry.NewPipeline(sink, telemetry.Config{
		BatchSize:     cfg.TelemetryBatchSize,
		FlushInterval: cfg.TelemetryFlushInterval,
		SendTimeout:   cfg.TelemetrySendTimeout,
	}, logger, metricsRegistry)
	pipeline.Start(ctx)

	srvDeps := api.NewServer(logger, svc, pipeline, campaignStore, loader, geoSvc, metricsRegistry, cfg)
	srvDeps.Limiter().StartCleanup(ctx, time.Minute, 10*time.Minute)
	if loader != nil {
		if err := srvDeps.Reload(ctx); err != nil {
			return fmt.Errorf("initial campaign load: %w", err)
		}
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      srvDeps.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Ad server running",
		zap.String("addr", addr),
		zap.String("campaign_source", cfg.CampaignSource),
		zap.String("telemetry_sink", cfg.TelemetrySink))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	if loader != nil && cfg.ReloadInterval > 0 {
		ticker := time.NewTicker(cfg.ReloadInterval)
		go func() {
			for {
				select {
				case <-ticker.C:
					if err := srvDeps.Reload(ctx); err != nil {
						logger.Error("auto reload", zap.Error(err))
					}
				case <-ctx.Done():
					ticker.Stop()
					return
				}
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	pipeline.Stop()
	if err := pipeline.Drain(shutdownCtx); err != nil {
		logger.Warn("telemetry drain incomplete",
			zap.Int("pending", pipeline.Queue().Len()), zap.Error(err))
	}
	observability.LogSamplingStats(logger)
	return runErr
}

// telemetrySink builds the transport selected by TELEMETRY_SINK and returns
// a function closing it.
func telemetrySink(ctx context.Context, cfg config.Config, backend *transport.Client, metrics observability.MetricsRegistry) (telemetry.Transport, func(), error) {
	switch cfg.TelemetrySink {
	case config.TelemetrySinkHTTP:
		if cfg.BackendURL == "" {
			return nil, nil, errors.New("TELEMETRY_SINK=http requires BACKEND_URL")
		}
		return backend, func() {}, nil
	case config.TelemetrySinkClickHouse:
		ch, err := analytics.InitClickHouse(ctx, cfg.ClickHouseDSN, metrics)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		return ch, ch.Close, nil
	case config.TelemetrySinkKafka:
		k, err := transport.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, fmt.Errorf("init kafka sink: %w", err)
		}
		return k, func() { _ = k.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown telemetry sink %q", cfg.TelemetrySink)
}
