package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/patrickwarner/videoadserve/internal/analytics"
	"github.com/patrickwarner/videoadserve/internal/config"
	"github.com/patrickwarner/videoadserve/internal/observability"
)

func main() {
	logger, err := observability.InitLoggerWithService("query-events")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var id, dsn string
	var campaign int
	var since time.Duration
	flag.StringVar(&id, "id", "", "decision ID")
	flag.IntVar(&campaign, "campaign", 0, "campaign ID for a funnel summary")
	flag.DurationVar(&since, "since", 24*time.Hour, "funnel look-back window")
	flag.StringVar(&dsn, "dsn", "", "ClickHouse DSN")
	flag.Parse()

	if id == "" && campaign == 0 {
		fmt.Fprintln(os.Stderr, "id or campaign required")
		os.Exit(1)
	}
	if dsn == "" {
		cfg := config.Load()
		dsn = cfg.ClickHouseDSN
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := analytics.InitClickHouse(ctx, dsn, observability.NewNoOpRegistry())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect clickhouse: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	var out any
	if id != "" {
		events, err := a.EventsByDecision(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "query events: %v\n", err)
			os.Exit(1)
		}
		out = events
	} else {
		counts, err := a.CampaignFunnel(ctx, campaign, time.Now().Add(-since))
		if err != nil {
			fmt.Fprintf(os.Stderr, "query funnel: %v\n", err)
			os.Exit(1)
		}
		out = map[string]any{
			"campaign_id":     campaign,
			"counts":          counts,
			"completion_rate": analytics.CompletionRate(counts),
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode events: %v\n", err)
		os.Exit(1)
	}
}
