package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	logic "github.com/patrickwarner/videoadserve/internal/logic"
	"github.com/patrickwarner/videoadserve/internal/logic/selectors"
	"github.com/patrickwarner/videoadserve/internal/models"
	"github.com/patrickwarner/videoadserve/internal/observability"
)

// ErrNoFrequencyStore is returned when impressions cannot be counted.
var ErrNoFrequencyStore = errors.New("frequency store not configured")

// DefaultContextTimeout bounds viewer and content resolution.
const DefaultContextTimeout = 2 * time.Second

// Decision outcomes reported to metrics.
const (
	OutcomeServed       = "served"
	OutcomeEmpty        = "empty"
	OutcomeCached       = "cached"
	OutcomeNoContext    = "no_context"
	OutcomeNoCandidates = "no_candidates"
	OutcomePanic        = "panic"
)

// ContentResolver fetches authoritative metadata for a content id.
type ContentResolver interface {
	ContentMetadata(ctx context.Context, contentID string) (models.ContentMetadata, error)
}

// ViewerResolver fetches stored preferences for a viewer id.
type ViewerResolver interface {
	ViewerPreferences(ctx context.Context, viewerID string) (*models.ViewerPreferences, error)
}

// CandidateSource returns the campaigns eligible for a request before
// scoring.
type CandidateSource interface {
	Candidates(ctx context.Context, rc models.RequestContext) ([]models.Campaign, error)
}

// StoreCandidates serves live campaigns from an in-memory CampaignStore.
type StoreCandidates struct {
	Store models.CampaignStore
	Now   func() time.Time
}

// Candidates returns every campaign live at the current time.
func (s StoreCandidates) Candidates(_ context.Context, _ models.RequestContext) ([]models.Campaign, error) {
	if s.Store == nil {
		return nil, errors.New("campaign store not configured")
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return s.Store.Live(now()), nil
}

// Options configures a Service. Campaigns, Frequency and Selector are
// required; the rest fall back to sensible defaults.
type Options struct {
	Campaigns      CandidateSource
	Content        ContentResolver
	Viewers        ViewerResolver
	Frequency      logic.FrequencyStore
	Selector       selectors.Selector
	Cache          Cache
	Scorer         logic.Scorer
	Tracking       TrackingSigner
	ContextTimeout time.Duration
	Logger         *zap.Logger
	Metrics        observability.MetricsRegistry
	Now            func() time.Time
}

// Service turns a request context into a Decision.
type Service struct {
	campaigns      CandidateSource
	content        ContentResolver
	viewers        ViewerResolver
	frequency      logic.FrequencyStore
	selector       selectors.Selector
	cache          Cache
	scorer         logic.Scorer
	tracking       TrackingSigner
	contextTimeout time.Duration
	logger         *zap.Logger
	metrics        observability.MetricsRegistry
	now            func() time.Time
}

// NewService wires a decision service.
func NewService(opts Options) *Service {
	s := &Service{
		campaigns:      opts.Campaigns,
		content:        opts.Content,
		viewers:        opts.Viewers,
		frequency:      opts.Frequency,
		selector:       opts.Selector,
		cache:          opts.Cache,
		scorer:         opts.Scorer,
		tracking:       opts.Tracking,
		contextTimeout: opts.ContextTimeout,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		now:            opts.Now,
	}
	if s.cache == nil {
		s.cache = NewMemoryCache(DefaultCacheTTL, opts.Now)
	}
	if s.scorer == nil {
		s.scorer = logic.Score
	}
	if s.contextTimeout <= 0 {
		s.contextTimeout = DefaultContextTimeout
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = observability.NewNoOpRegistry()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// RequestAds returns the decision for rc. It never fails: every error path
// yields an empty decision. Only successful decisions are cached.
func (s *Service) RequestAds(ctx context.Context, rc models.RequestContext) models.Decision {
	d, _ := s.decide(ctx, rc, nil)
	return d
}

// RequestAdsWithTrace runs a full decision bypassing the cache and returns
// the selection trace alongside it.
func (s *Service) RequestAdsWithTrace(ctx context.Context, rc models.RequestContext) (models.Decision, *logic.SelectionTrace) {
	trace := &logic.SelectionTrace{}
	d, _ := s.decide(ctx, rc, trace)
	return d, trace
}

// decide runs one decision. A non-nil trace disables the cache in both
// directions. The returned outcome is the metrics label.
func (s *Service) decide(ctx context.Context, rc models.RequestContext, trace *logic.SelectionTrace) (d models.Decision, outcome string) {
	ctx, span := observability.Tracer("decision").Start(ctx, "decision.request_ads")
	defer span.End()
	span.SetAttributes(
		attribute.String("content.id", rc.Content.ID),
		attribute.String("session.id", rc.SessionID),
		attribute.Int("placements.requested", len(rc.Placements)),
	)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("decision panic recovered", zap.Any("panic", r), zap.String("content_id", rc.Content.ID))
			span.SetStatus(codes.Error, "panic")
			d, outcome = s.empty(rc), OutcomePanic
		}
		s.metrics.IncrementDecisions(outcome)
		span.SetAttributes(attribute.String("decision.outcome", outcome), attribute.Int("decision.ads", d.AdCount()))
	}()

	key := CacheKey(rc)
	if trace == nil {
		if cached, ok := s.cache.Get(ctx, key); ok {
			s.metrics.IncrementCacheLookups("hit")
			return cached, OutcomeCached
		}
		s.metrics.IncrementCacheLookups("miss")
	}

	rc, ok := s.resolveContext(ctx, rc)
	if !ok {
		return s.empty(rc), OutcomeNoContext
	}

	campaigns, err := s.campaigns.Candidates(ctx, rc)
	if err != nil {
		s.logger.Warn("candidate fetch failed", zap.String("content_id", rc.Content.ID), zap.Error(err))
		span.RecordError(err)
		return s.empty(rc), OutcomeNoCandidates
	}

	candidates, scored := s.score(campaigns, rc)
	s.metrics.ObserveCandidatesScored(len(candidates))

	state := s.loadFrequency(ctx, rc, scored)

	d = s.selector.Select(candidates, rc, state, trace)
	s.finalize(&d, rc)

	outcome = OutcomeServed
	if d.Empty() {
		outcome = OutcomeEmpty
	}
	// An unreadable frequency store empties every decision; caching that
	// would outlive the outage.
	if trace == nil && !state.Unavailable {
		s.cache.Put(ctx, key, d)
	}
	if observability.ShouldSample(observability.GetSamplingRate()) {
		s.logger.Info("decision made",
			zap.String("decision_id", d.ID),
			zap.String("content_id", rc.Content.ID),
			zap.Int("candidates", len(candidates)),
			zap.Int("ads", d.AdCount()))
	}
	return d.Clone(), outcome
}

// resolveContext merges backend content metadata and viewer preferences into
// rc, each bounded by the context timeout. It reports false when content
// metadata is unavailable and the request carries no usable signals.
func (s *Service) resolveContext(ctx context.Context, rc models.RequestContext) (models.RequestContext, bool) {
	type contentResult struct {
		md  models.ContentMetadata
		err error
	}
	type viewerResult struct {
		prefs *models.ViewerPreferences
		err   error
	}

	rctx, cancel := context.WithTimeout(ctx, s.contextTimeout)
	defer cancel()

	var contentCh chan contentResult
	if s.content != nil && rc.Content.ID != "" {
		contentCh = make(chan contentResult, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					contentCh <- contentResult{err: fmt.Errorf("content resolver panic: %v", r)}
				}
			}()
			md, err := s.content.ContentMetadata(rctx, rc.Content.ID)
			contentCh <- contentResult{md, err}
		}()
	}
	var viewerCh chan viewerResult
	if s.viewers != nil && rc.ViewerID != "" {
		viewerCh = make(chan viewerResult, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					viewerCh <- viewerResult{err: fmt.Errorf("viewer resolver panic: %v", r)}
				}
			}()
			prefs, err := s.viewers.ViewerPreferences(rctx, rc.ViewerID)
			viewerCh <- viewerResult{prefs, err}
		}()
	}

	timedOut := false
	if contentCh != nil {
		select {
		case res := <-contentCh:
			if res.err != nil {
				s.logger.Warn("content metadata unavailable", zap.String("content_id", rc.Content.ID), zap.Error(res.err))
				if !rc.Content.HasSignals() {
					return rc, false
				}
			} else {
				rc.Content = mergeContent(rc.Content, res.md)
			}
		case <-rctx.Done():
			timedOut = true
			s.logger.Warn("content metadata timed out", zap.String("content_id", rc.Content.ID))
			if !rc.Content.HasSignals() {
				s.metrics.IncrementContextTimeouts()
				return rc, false
			}
		}
	}
	if viewerCh != nil {
		select {
		case res := <-viewerCh:
			if res.err != nil {
				s.logger.Warn("viewer preferences unavailable", zap.String("viewer_id", rc.ViewerID), zap.Error(res.err))
			} else if res.prefs != nil {
				rc.Viewer.Preferences = res.prefs
			}
		case <-rctx.Done():
			timedOut = true
			s.logger.Warn("viewer preferences timed out", zap.String("viewer_id", rc.ViewerID))
		}
	}
	if timedOut {
		s.metrics.IncrementContextTimeouts()
	}
	return rc, true
}

// mergeContent overlays resolved metadata on what the request supplied.
func mergeContent(req, resolved models.ContentMetadata) models.ContentMetadata {
	out := req
	if resolved.Title != "" {
		out.Title = resolved.Title
	}
	if resolved.Category != "" {
		out.Category = resolved.Category
	}
	if len(resolved.Topics) > 0 {
		out.Topics = resolved.Topics
	}
	if resolved.DurationSeconds > 0 {
		out.DurationSeconds = resolved.DurationSeconds
	}
	if resolved.CreatorID != "" {
		out.CreatorID = resolved.CreatorID
	}
	return out
}

// score validates and scores every campaign. Campaigns that are not live
// (paused, out of schedule, budget spent) or carry malformed targeting are
// skipped, whatever source supplied them.
func (s *Service) score(campaigns []models.Campaign, rc models.RequestContext) ([]selectors.Candidate, []models.Campaign) {
	candidates := make([]selectors.Candidate, 0, len(campaigns))
	scored := make([]models.Campaign, 0, len(campaigns))
	skipped, notLive := 0, 0
	now := s.now()
	for _, c := range campaigns {
		if !c.IsLive(now) {
			notLive++
			continue
		}
		if err := c.Targeting.Validate(c.ID); err != nil {
			skipped++
			s.logger.Warn("skipping campaign with invalid targeting", zap.Int("campaign_id", c.ID), zap.Error(err))
			continue
		}
		candidates = append(candidates, selectors.Candidate{Campaign: c, Match: s.scorer(c, rc)})
		scored = append(scored, c)
	}
	s.metrics.AddCampaignsFiltered("targeting_config", skipped)
	s.metrics.AddCampaignsFiltered("not_live", notLive)
	return candidates, scored
}

// loadFrequency reads the viewer's exposure counts. Failures mark the state
// unavailable so the selector fails closed.
func (s *Service) loadFrequency(ctx context.Context, rc models.RequestContext, campaigns []models.Campaign) models.FrequencyState {
	if s.frequency == nil {
		state := models.NewFrequencyState()
		state.Unavailable = true
		return state
	}
	state, err := s.frequency.Load(ctx, rc.ViewerKey(), campaigns)
	if err != nil {
		s.logger.Warn("frequency state unavailable", zap.String("viewer", rc.ViewerKey()), zap.Error(err))
		state.Unavailable = true
	}
	return state
}

// finalize stamps identity and tracking URLs on a fresh decision.
func (s *Service) finalize(d *models.Decision, rc models.RequestContext) {
	d.ID = uuid.NewString()
	d.SessionID = rc.SessionID
	d.ServedAt = s.now().UTC()
	if d.Placements == nil {
		d.Placements = make(map[models.PlacementKind][]models.PlacedAd)
	}
	if err := s.tracking.Attach(d, rc); err != nil {
		s.logger.Warn("tracking url signing failed", zap.String("decision_id", d.ID), zap.Error(err))
	}
}

func (s *Service) empty(rc models.RequestContext) models.Decision {
	d := models.Decision{Placements: make(map[models.PlacementKind][]models.PlacedAd)}
	d.ID = uuid.NewString()
	d.SessionID = rc.SessionID
	d.ServedAt = s.now().UTC()
	return d
}

// RecordImpression counts one served ad against the viewer's caps and drops
// the viewer's cached decisions, which were chosen against the old counts.
func (s *Service) RecordImpression(ctx context.Context, viewerKey string, campaignID, advertiserID int) error {
	if s.frequency == nil {
		return ErrNoFrequencyStore
	}
	if err := s.frequency.RecordServe(ctx, viewerKey, campaignID, advertiserID); err != nil {
		s.metrics.IncrementFrequencyRecords("error")
		return fmt.Errorf("record impression: %w", err)
	}
	s.metrics.IncrementFrequencyRecords("ok")
	s.cache.InvalidateViewer(ctx, cacheViewer(viewerKey))
	return nil
}
