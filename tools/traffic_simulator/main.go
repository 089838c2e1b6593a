package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickwarner/videoadserve/internal/config"
	"github.com/patrickwarner/videoadserve/internal/db"
	"github.com/patrickwarner/videoadserve/internal/models"
	"github.com/patrickwarner/videoadserve/internal/observability"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	server       string
	viewers      int
	placementCSV string
	totalReq     int
	conc         int
	duration     time.Duration
	rate         float64
	clickRate    float64
	skipRate     float64
	stats        bool
	flush        bool
	redisAddr    string
	debug        bool
	label        string
	jitter       float64
)

var logger *zap.Logger

var httpClient *http.Client

// Click pixels redirect to the advertiser; the simulator only needs the
// tracking hit.
var clickClient *http.Client

var (
	placements = []string{"pre-roll"}
	categories = []string{"sports", "news", "gaming", "music", "cooking", "travel", "tech"}
	topics     = []string{"football", "esports", "recipes", "elections", "gadgets", "hiking", "concerts", "finance"}
	interests  = []string{"cars", "fitness", "fashion", "movies", "pets", "investing", "outdoors"}
	locales    = []string{"en-US", "en-GB", "de-DE", "fr-FR", "pt-BR", "ja-JP"}
	userAgents = []string{
		// Mobile
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 12; Pixel 6 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.5735.196 Mobile Safari/537.36",
		"Mozilla/5.0 (iPad; CPU OS 15_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.2 Mobile/15E148 Safari/604.1",

		// Desktop
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_3_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",

		// TV
		"Mozilla/5.0 (SMART-TV; Linux; Tizen 6.0) AppleWebKit/537.36 (KHTML, like Gecko) SamsungBrowser/4.0 Chrome/76.0.3809.146 TV Safari/537.36",
		"Roku/DVP-12.0 (12.0.0.4182-88)",
	}
	viewerIPs = []string{
		"192.0.2.1",
		"198.51.100.1",
		"203.0.113.1",
	}
)

const statsInterval = 5 * time.Second

var (
	countSent     uint64
	countServed   uint64
	countEmpty    uint64
	countErrors   uint64
	countPixels   uint64
	countComplete uint64
	countSkips    uint64
	countClicks   uint64
)

func newClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			MaxConnsPerHost:       50,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

func main() {
	flag.StringVar(&server, "server", "http://localhost:8787", "ad server base URL")
	flag.IntVar(&viewers, "viewers", 100, "number of unique viewers")
	flag.StringVar(&placementCSV, "placements", "pre-roll,mid-roll,post-roll", "comma-separated placement kinds to draw from")
	flag.IntVar(&totalReq, "requests", 1000, "total requests to send")
	flag.IntVar(&conc, "concurrency", 20, "concurrent requests")
	flag.DurationVar(&duration, "duration", 0, "how long to run traffic (0 to disable)")
	flag.Float64Var(&rate, "rate", 0, "requests per second (0 for unlimited)")
	flag.Float64Var(&clickRate, "click-rate", 0.03, "probability of a click per impression")
	flag.Float64Var(&skipRate, "skip-rate", 0.3, "probability a skippable ad is skipped")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.BoolVar(&flush, "flush", false, "flush frequency and decision keys from redis before sending traffic")
	flag.StringVar(&redisAddr, "redis", "", "redis address (defaults to REDIS_ADDR)")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.Float64Var(&jitter, "jitter", 0.0, "random jitter factor for request spacing")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	var err error
	logger, err = observability.InitLoggerWithLevel(level, "traffic-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	httpClient = newClient(30 * time.Second)
	clickClient = newClient(10 * time.Second)
	clickClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}

	if flush {
		flushRedis()
	}

	placements = strings.Split(placementCSV, ",")
	for i := range placements {
		placements[i] = strings.TrimSpace(placements[i])
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var wg sync.WaitGroup
	sem := make(chan struct{}, conc)
	done := make(chan struct{})

	var baseInterval time.Duration
	if rate > 0 {
		baseInterval = time.Duration(float64(time.Second) / rate)
	} else if duration > 0 && totalReq > 0 {
		baseInterval = duration / time.Duration(totalReq)
	}

	start := time.Now()
	next := start

	if stats {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					printStats()
				case <-done:
					return
				}
			}
		}()
	}

	for i := 0; ; i++ {
		if totalReq > 0 && i >= totalReq {
			break
		}
		if duration > 0 && time.Since(start) >= duration {
			break
		}
		if baseInterval > 0 {
			effective := baseInterval
			if jitter > 0 {
				jf := 1 + (r.Float64()*2-1)*jitter
				if jf < 0.1 {
					jf = 0.1
				}
				effective = time.Duration(float64(effective) * jf)
			}
			if now := time.Now(); now.Before(next) {
				time.Sleep(next.Sub(now))
			}
			next = next.Add(effective)
		}

		// r stays on this goroutine; each worker gets its own source.
		body, ip, ua := randomRequest(r, i)
		seed := r.Int63()

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			simulate(body, ip, ua, rand.New(rand.NewSource(seed)))
		}()
	}
	wg.Wait()
	close(done)
	printStats()
}

func flushRedis() {
	cfg := config.Load()
	addr := redisAddr
	if addr == "" {
		addr = cfg.RedisAddr
	}
	store, err := db.InitRedis(addr)
	if err != nil {
		logger.Fatal("redis connect", zap.Error(err))
	}
	defer store.Close()

	flushed := 0
	for _, pattern := range []string{"freq:*", "decision:*"} {
		keys, err := store.Client.Keys(store.Ctx, pattern).Result()
		if err != nil {
			logger.Error("failed to get keys for pattern", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		if len(keys) == 0 {
			continue
		}
		if err := store.Client.Del(store.Ctx, keys...).Err(); err != nil {
			logger.Error("failed to delete keys", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		flushed += len(keys)
	}
	logger.Info("redis frequency data flushed", zap.String("addr", addr), zap.Int("keys_deleted", flushed))
}

func randomRequest(r *rand.Rand, i int) (models.RequestContext, string, string) {
	rc := models.RequestContext{
		SessionID: fmt.Sprintf("sim-%s-%d", label, i),
		Content: models.ContentMetadata{
			ID:              fmt.Sprintf("video-%d", r.Intn(500)),
			Category:        categories[r.Intn(len(categories))],
			Topics:          []string{topics[r.Intn(len(topics))]},
			CreatorID:       fmt.Sprintf("creator-%d", r.Intn(40)),
			DurationSeconds: 60 + r.Intn(1800),
		},
		Viewer: models.ViewerContext{Locale: locales[r.Intn(len(locales))]},
	}
	if r.Float64() < 0.8 {
		rc.ViewerID = fmt.Sprintf("viewer%d", r.Intn(viewers))
	}
	if r.Float64() < 0.5 {
		age := 18 + r.Intn(50)
		rc.Viewer.Preferences = &models.ViewerPreferences{
			Age:       &age,
			Interests: []string{interests[r.Intn(len(interests))]},
		}
	}
	n := 1 + r.Intn(len(placements))
	for _, idx := range r.Perm(len(placements))[:n] {
		rc.Placements = append(rc.Placements, models.PlacementKind(placements[idx]))
	}
	return rc, viewerIPs[r.Intn(len(viewerIPs))], userAgents[r.Intn(len(userAgents))]
}

// simulate requests ads for one playback and walks each placed ad through
// the player's tracking sequence.
func simulate(rc models.RequestContext, ip, ua string, r *rand.Rand) {
	atomic.AddUint64(&countSent, 1)

	blob, err := json.Marshal(rc)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("marshal error", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/ads", bytes.NewReader(blob))
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("request build error", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", ip)
	req.Header.Set("User-Agent", ua)

	resp, err := httpClient.Do(req)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("ad request error", zap.Error(err))
		return
	}
	bodyBytes, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("read body error", zap.Error(err))
		return
	}
	if resp.StatusCode != http.StatusOK {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("unexpected status", zap.Int("status", resp.StatusCode), zap.String("body", strings.TrimSpace(string(bodyBytes))))
		return
	}

	var decision models.Decision
	if err := json.Unmarshal(bodyBytes, &decision); err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("decode error", zap.Error(err))
		return
	}
	if decision.Empty() {
		atomic.AddUint64(&countEmpty, 1)
		logger.Debug("no ads", zap.String("session_id", rc.SessionID))
		return
	}
	atomic.AddUint64(&countServed, 1)

	for _, ads := range decision.Placements {
		for _, ad := range ads {
			play(ctx, ad, ip, r)
		}
	}
}

func play(ctx context.Context, ad models.PlacedAd, ip string, r *rand.Rand) {
	t := ad.Tracking
	if !fire(ctx, httpClient, t.Impression, ip) {
		return
	}
	if r.Float64() < clickRate && fire(ctx, clickClient, t.Click, ip) {
		atomic.AddUint64(&countClicks, 1)
	}
	if ad.Creative.Skippable && r.Float64() < skipRate {
		// Skip lands somewhere after the skip offset, before the midpoint.
		if r.Intn(2) == 0 {
			fire(ctx, httpClient, t.FirstQuartile, ip)
		}
		if fire(ctx, httpClient, t.Skip, ip) {
			atomic.AddUint64(&countSkips, 1)
		}
		return
	}
	for _, u := range []string{t.FirstQuartile, t.Midpoint, t.ThirdQuartile} {
		if !fire(ctx, httpClient, u, ip) {
			return
		}
	}
	if fire(ctx, httpClient, t.Completion, ip) {
		atomic.AddUint64(&countComplete, 1)
	}
}

// fire requests a tracking pixel and reports whether it was accepted.
func fire(ctx context.Context, client *http.Client, pixel, ip string) bool {
	if pixel == "" {
		return false
	}
	if strings.HasPrefix(pixel, "/") {
		pixel = strings.TrimRight(server, "/") + pixel
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pixel, nil)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("pixel request build error", zap.Error(err))
		return false
	}
	req.Header.Set("X-Forwarded-For", ip)
	resp, err := client.Do(req)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("pixel get error", zap.Error(err))
		return false
	}
	_ = resp.Body.Close()
	atomic.AddUint64(&countPixels, 1)
	if resp.StatusCode >= 400 {
		logger.Debug("pixel rejected", zap.Int("status", resp.StatusCode))
		return false
	}
	return true
}

func printStats() {
	sent := atomic.LoadUint64(&countSent)
	served := atomic.LoadUint64(&countServed)
	clk := atomic.LoadUint64(&countClicks)
	complete := atomic.LoadUint64(&countComplete)
	var ctr, vcr float64
	if served > 0 {
		ctr = float64(clk) / float64(served)
		vcr = float64(complete) / float64(served)
	}
	logger.Info("stats",
		zap.String("run", label),
		zap.Uint64("sent", sent),
		zap.Uint64("served", served),
		zap.Uint64("empty", atomic.LoadUint64(&countEmpty)),
		zap.Uint64("errors", atomic.LoadUint64(&countErrors)),
		zap.Uint64("pixels", atomic.LoadUint64(&countPixels)),
		zap.Uint64("completions", complete),
		zap.Uint64("skips", atomic.LoadUint64(&countSkips)),
		zap.Uint64("clicks", clk),
		zap.Float64("ctr", ctr),
		zap.Float64("completion_rate", vcr))
}
