package main

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/videoadserve/internal/analytics"
	"github.com/patrickwarner/videoadserve/internal/config"
	"github.com/patrickwarner/videoadserve/internal/db"
	"github.com/patrickwarner/videoadserve/internal/decision"
	"github.com/patrickwarner/videoadserve/internal/logic"
	"github.com/patrickwarner/videoadserve/internal/logic/selectors"
	"github.com/patrickwarner/videoadserve/internal/models"
	"github.com/patrickwarner/videoadserve/internal/observability"
)

// newOpsServer wires a decision service over an in-memory campaign set. The
// decision cache is never consulted by the tools.
func newOpsServer(campaigns models.CampaignStore, freq logic.FrequencyStore, cfg config.Config, ch *analytics.ClickHouse, logger *zap.Logger) *OpsServer {
	policy := selectors.PolicyFromConfig(cfg)
	svc := decision.NewService(decision.Options{
		Campaigns: decision.StoreCandidates{Store: campaigns},
		Frequency: freq,
		Selector:  selectors.NewRuleBasedSelector(policy, logger, nil),
		Tracking:  decision.TrackingSigner{BaseURL: cfg.TrackingBaseURL, Secret: []byte(cfg.TokenSecret)},
		Logger:    logger,
	})
	return &OpsServer{
		campaigns: campaigns,
		decisions: svc,
		frequency: freq,
		policy:    policy,
		analytics: ch,
		logger:    logger,
		now:       time.Now,
	}
}

func main() {
	// stdout carries the MCP protocol, so logs go to stderr only.
	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{"stderr"}
	logger, err := zcfg.Build()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	ctx := context.Background()

	pg, err := db.InitPostgres(cfg.PostgresDSN, 10, 5, 30*time.Minute, cfg.DBConnMaxIdleTime)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pg.Close()

	loaded, err := pg.LoadCampaigns(ctx)
	if err != nil {
		logger.Fatal("Failed to load campaigns", zap.Error(err))
	}
	campaigns := models.NewInMemoryCampaignStore()
	if err := campaigns.SetCampaigns(loaded); err != nil {
		logger.Fatal("Failed to populate campaign store", zap.Error(err))
	}
	logger.Info("Loaded campaigns from Postgres", zap.Int("campaigns", len(loaded)))

	// Live frequency counts make explain_targeting reflect real caps; without
	// Redis the tools run against an empty history.
	var freq logic.FrequencyStore = logic.NewMemoryFrequencyStore(nil)
	if store, err := db.InitRedis(cfg.RedisAddr); err != nil {
		logger.Warn("Redis unavailable, frequency counts start empty", zap.Error(err))
	} else {
		defer store.Close()
		freq = logic.NewRedisFrequencyStore(store)
	}

	var ch *analytics.ClickHouse
	if c, err := analytics.InitClickHouse(ctx, cfg.ClickHouseDSN, observability.NewNoOpRegistry()); err != nil {
		logger.Warn("ClickHouse unavailable, campaign_funnel disabled", zap.Error(err))
	} else {
		defer c.Close()
		ch = c
	}

	ops := newOpsServer(campaigns, freq, cfg, ch, logger)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.ServiceName,
		Version: observability.ServiceVersion,
	}, nil)
	ops.register(server)

	var logBuffer bytes.Buffer
	loggingTransport := &mcp.LoggingTransport{
		Transport: &mcp.StdioTransport{},
		Writer:    &logBuffer,
	}

	logger.Info("MCP Server running via stdio")

	if err := server.Run(ctx, loggingTransport); err != nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}
