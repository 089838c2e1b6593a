package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics.
// Components receive it by injection instead of touching the package-level
// Prometheus collectors.
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Decisioning metrics
	IncrementDecisions(outcome string)
	IncrementCacheLookups(result string)
	IncrementContextTimeouts()
	ObserveCandidatesScored(n int)
	AddCampaignsFiltered(stage string, n int)
	SetCampaignsLoaded(n int)

	// Telemetry metrics
	IncrementEvent(kind string)
	IncrementTelemetrySends(channel, outcome string)
	SetTelemetryQueueDepth(n int)
	AddEventsRequeued(n int)
	IncrementEventsDropped(reason string)
	IncrementFrequencyRecords(outcome string)

	// Rate limiting metrics
	IncrementRateLimitRequests(scope string)
	IncrementRateLimitHits(scope string)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

// HTTP Request metrics
func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Decisioning metrics
func (r *PrometheusRegistry) IncrementDecisions(outcome string) {
	DecisionCount.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) IncrementCacheLookups(result string) {
	CacheLookups.WithLabelValues(result).Inc()
}

func (r *PrometheusRegistry) IncrementContextTimeouts() {
	ContextTimeouts.Inc()
}

func (r *PrometheusRegistry) ObserveCandidatesScored(n int) {
	CandidatesScored.Observe(float64(n))
}

func (r *PrometheusRegistry) AddCampaignsFiltered(stage string, n int) {
	if n > 0 {
		CampaignsFiltered.WithLabelValues(stage).Add(float64(n))
	}
}

func (r *PrometheusRegistry) SetCampaignsLoaded(n int) {
	CampaignsLoaded.Set(float64(n))
}

// Telemetry metrics
func (r *PrometheusRegistry) IncrementEvent(kind string) {
	EventCount.WithLabelValues(kind).Inc()
}

func (r *PrometheusRegistry) IncrementTelemetrySends(channel, outcome string) {
	TelemetrySends.WithLabelValues(channel, outcome).Inc()
}

func (r *PrometheusRegistry) SetTelemetryQueueDepth(n int) {
	TelemetryQueueDepth.Set(float64(n))
}

func (r *PrometheusRegistry) AddEventsRequeued(n int) {
	EventsRequeued.Add(float64(n))
}

func (r *PrometheusRegistry) IncrementEventsDropped(reason string) {
	EventsDropped.WithLabelValues(reason).Inc()
}

func (r *PrometheusRegistry) IncrementFrequencyRecords(outcome string) {
	FrequencyRecords.WithLabelValues(outcome).Inc()
}

// Rate limiting metrics
func (r *PrometheusRegistry) IncrementRateLimitRequests(scope string) {
	RateLimitRequests.WithLabelValues(scope).Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitHits(scope string) {
	RateLimitHits.WithLabelValues(scope).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

// HTTP Request metrics
func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}

// Decisioning metrics
func (r *NoOpRegistry) IncrementDecisions(outcome string)        {}
func (r *NoOpRegistry) IncrementCacheLookups(result string)      {}
func (r *NoOpRegistry) IncrementContextTimeouts()                {}
func (r *NoOpRegistry) ObserveCandidatesScored(n int)            {}
func (r *NoOpRegistry) AddCampaignsFiltered(stage string, n int) {}
func (r *NoOpRegistry) SetCampaignsLoaded(n int)                 {}

// Telemetry metrics
func (r *NoOpRegistry) IncrementEvent(kind string)                      {}
func (r *NoOpRegistry) IncrementTelemetrySends(channel, outcome string) {}
func (r *NoOpRegistry) SetTelemetryQueueDepth(n int)                    {}
func (r *NoOpRegistry) AddEventsRequeued(n int)                         {}
func (r *NoOpRegistry) IncrementEventsDropped(reason string)            {}
func (r *NoOpRegistry) IncrementFrequencyRecords(outcome string)        {}

// Rate limiting metrics
func (r *NoOpRegistry) IncrementRateLimitRequests(scope string) {}
func (r *NoOpRegistry) IncrementRateLimitHits(scope string)     {}
