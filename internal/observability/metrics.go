package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoads_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "videoads_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// decisions returned, labelled served/empty/failed
	DecisionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoads_decisions_total",
			Help: "Total ad decisions by outcome",
		},
		[]string{"outcome"},
	)

	// decision cache lookups, labelled hit/miss
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoads_decision_cache_total",
			Help: "Decision cache lookups by result",
		},
		[]string{"result"},
	)

	// viewer context resolution that ran past the deadline
	ContextTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "videoads_context_timeouts_total",
			Help: "Viewer context resolutions abandoned after the timeout",
		},
	)

	// campaigns scored per decision
	CandidatesScored = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "videoads_candidates_scored",
			Help:    "Number of campaigns scored per decision",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// campaigns removed by each selection stage
	CampaignsFiltered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoads_campaigns_filtered_total",
			Help: "Campaigns removed during selection, by stage",
		},
		[]string{"stage"},
	)

	// number of events tracked, labelled by kind
	EventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoads_events_total",
			Help: "Total interaction events tracked",
		},
		[]string{"kind"},
	)

	// telemetry deliveries by channel (immediate/batch) and outcome
	TelemetrySends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoads_telemetry_sends_total",
			Help: "Telemetry transport calls by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	// events waiting in the batch queue
	TelemetryQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "videoads_telemetry_queue_depth",
			Help: "Events currently queued for batch delivery",
		},
	)

	// events returned to the queue after a failed batch
	EventsRequeued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "videoads_events_requeued_total",
			Help: "Events requeued after a failed batch send",
		},
	)

	// events discarded, labelled by reason
	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoads_events_dropped_total",
			Help: "Events discarded without delivery",
		},
		[]string{"reason"},
	)

	// frequency exposures recorded, labelled by outcome
	FrequencyRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoads_frequency_records_total",
			Help: "Frequency exposure writes by outcome",
		},
		[]string{"outcome"},
	)

	// campaigns currently loaded
	CampaignsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "videoads_campaigns_loaded",
			Help: "Campaigns in the in-memory store",
		},
	)

	// rate limit hits per scope
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoads_ratelimit_hits_total",
			Help: "Total rate limited requests per scope",
		},
		[]string{"scope"},
	)

	// rate limit checks per scope
	RateLimitRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videoads_ratelimit_requests_total",
			Help: "Total rate limit checks per scope",
		},
		[]string{"scope"},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		DecisionCount,
		CacheLookups,
		ContextTimeouts,
		CandidatesScored,
		CampaignsFiltered,
		EventCount,
		TelemetrySends,
		TelemetryQueueDepth,
		EventsRequeued,
		EventsDropped,
		FrequencyRecords,
		CampaignsLoaded,
		RateLimitHits,
		RateLimitRequests,
	)
}
