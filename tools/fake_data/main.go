package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/videoadserve/internal/config"
	"github.com/patrickwarner/videoadserve/internal/db"
	"github.com/patrickwarner/videoadserve/internal/models"
	"github.com/patrickwarner/videoadserve/internal/observability"
)

var (
	advertisers  = flag.Int("advertisers", 5, "number of advertisers")
	campPerAdv   = flag.Int("campaigns", 4, "campaigns per advertiser")
	creativesPer = flag.Int("creatives", 2, "creatives per campaign")
	seed         = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	skipReload   = flag.Bool("skip-reload", false, "skip automatic reload after data insertion")
	pauseIDs     = flag.String("pause", "", "comma-separated campaign IDs to pause instead of seeding")
	deleteIDs    = flag.String("delete", "", "comma-separated campaign IDs to delete instead of seeding")
)

var (
	categories = []string{"sports", "news", "gaming", "music", "cooking", "travel", "tech"}
	topics     = []string{"football", "esports", "recipes", "elections", "gadgets", "hiking", "concerts", "finance"}
	interests  = []string{"cars", "fitness", "fashion", "movies", "pets", "investing", "outdoors"}
	countries  = []string{"US", "CA", "GB", "DE", "FR", "BR", "JP"}
	devices    = []string{"mobile", "desktop", "tablet", "tv"}
	languages  = []string{"en", "de", "fr", "pt", "ja"}
)

func main() {
	flag.Parse()

	logger, err := observability.InitLoggerWithService("fake-data")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	ctx := context.Background()

	if *pauseIDs != "" || *deleteIDs != "" {
		if err := maintain(ctx, pg, *pauseIDs, *deleteIDs); err != nil {
			logger.Fatal("campaign maintenance", zap.Error(err))
		}
		reload(logger, &cfg)
		return
	}

	r := rand.New(rand.NewSource(*seed))

	inserted := 0
	for a := 1; a <= *advertisers; a++ {
		for c := 0; c < *campPerAdv; c++ {
			camp := randomCampaign(r, a)
			if err := pg.UpsertCampaign(ctx, &camp); err != nil {
				logger.Fatal("insert campaign", zap.Error(err))
			}
			inserted++
		}
	}

	fmt.Printf("fake data inserted: %d campaigns\n", inserted)
	reload(logger, &cfg)
}

func reload(logger *zap.Logger, cfg *config.Config) {
	if *skipReload {
		return
	}
	if err := callReloadEndpoint(cfg); err != nil {
		logger.Error("reload endpoint failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Warning: failed to reload server data: %v\n", err)
		return
	}
	fmt.Println("server data reloaded")
}

func parseIDs(csv string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid campaign id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func maintain(ctx context.Context, pg *db.Postgres, pause, del string) error {
	toPause, err := parseIDs(pause)
	if err != nil {
		return err
	}
	toDelete, err := parseIDs(del)
	if err != nil {
		return err
	}
	for _, id := range toPause {
		if err := pg.UpdateCampaignStatus(ctx, id, models.CampaignPaused); err != nil {
			return err
		}
		fmt.Printf("paused campaign %d\n", id)
	}
	for _, id := range toDelete {
		if err := pg.DeleteCampaign(ctx, id); err != nil {
			return err
		}
		fmt.Printf("deleted campaign %d\n", id)
	}
	return nil
}

func pick(r *rand.Rand, values []string, n int) []string {
	if n <= 0 {
		return nil
	}
	perm := r.Perm(len(values))
	if n > len(values) {
		n = len(values)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = values[perm[i]]
	}
	return out
}

func fakeCampaignName(r *rand.Rand) string {
	seasons := []string{"Spring", "Summer", "Fall", "Winter", "Holiday"}
	products := []string{"Launch", "Promo", "Trailer", "Special"}
	return fmt.Sprintf("%s %s %d", seasons[r.Intn(len(seasons))], products[r.Intn(len(products))], r.Intn(100))
}

// randomTargeting leaves each rule group unset about half the time so the
// catalog mixes broad and narrow campaigns.
func randomTargeting(r *rand.Rand) models.Targeting {
	var t models.Targeting
	if r.Float64() < 0.5 {
		t.Geographic = &models.GeographicRules{Countries: pick(r, countries, 1+r.Intn(3))}
	}
	if r.Float64() < 0.4 {
		minAge := 18 + r.Intn(20)
		t.Demographic = &models.DemographicRules{
			AgeRange:      &models.AgeRange{Min: minAge, Max: minAge + 10 + r.Intn(30)},
			DeviceClasses: pick(r, devices, 1+r.Intn(2)),
			Languages:     pick(r, languages, 1),
		}
	}
	if r.Float64() < 0.5 {
		t.Interest = &models.InterestRules{Categories: pick(r, interests, 1+r.Intn(3))}
	}
	if r.Float64() < 0.6 {
		t.Contextual = &models.ContextualRules{
			Categories: pick(r, categories, 1+r.Intn(2)),
			Topics:     pick(r, topics, r.Intn(3)),
		}
		if r.Float64() < 0.2 {
			t.Contextual.Exclude = pick(r, topics, 1)
		}
	}
	return t
}

func randomCreative(r *rand.Rand, i int) models.Creative {
	format := models.FormatVideo
	duration := []int{6, 15, 15, 30}[r.Intn(4)]
	if r.Float64() < 0.15 {
		format = models.FormatOverlay
		duration = 10
	}
	cr := models.Creative{
		Format:          format,
		Title:           fmt.Sprintf("Spot %d", i+1),
		MediaURL:        fmt.Sprintf("https://cdn.example.com/ads/%d-%d.mp4", r.Intn(100000), duration),
		ClickThroughURL: fmt.Sprintf("https://brand%d.example.com/landing?utm_source=video", r.Intn(1000)),
		DurationSeconds: duration,
		Skippable:       duration > 6,
		Compliance:      models.Compliance{Approved: r.Float64() < 0.9},
	}
	if cr.Skippable && r.Float64() < 0.3 {
		cr.SkipAfterSeconds = 3 + r.Intn(5)
	}
	if r.Float64() < 0.2 {
		cr.Placements = []models.PlacementKind{models.PreRoll}
	}
	return cr
}

func randomCampaign(r *rand.Rand, advertiserID int) models.Campaign {
	now := time.Now().UTC()
	start := now.Add(-time.Duration(r.Intn(72)) * time.Hour)
	end := now.Add(time.Duration(24+r.Intn(24*30)) * time.Hour)
	status := models.CampaignActive
	if r.Float64() < 0.1 {
		status = models.CampaignPaused
	}
	total := float64(1000 + r.Intn(50000))
	c := models.Campaign{
		AdvertiserID: advertiserID,
		Name:         fakeCampaignName(r),
		Status:       status,
		Budget:       models.Budget{Total: total, Spent: total * r.Float64() * 0.5, DailyLimit: total / 30},
		Schedule:     models.Schedule{Start: &start, End: &end, Timezone: "UTC"},
		Targeting:    randomTargeting(r),
	}
	if r.Float64() < 0.25 {
		c.Caps = &models.FrequencyCaps{Campaign: 1 + r.Intn(3)}
	}
	for i := 0; i < *creativesPer; i++ {
		c.Creatives = append(c.Creatives, randomCreative(r, i))
	}
	return c
}

func callReloadEndpoint(cfg *config.Config) error {
	reloadURL := fmt.Sprintf("http://localhost:%s/reload", cfg.Port)
	req, err := http.NewRequest("POST", reloadURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
