package observability

import (
	"fmt"
	"sync"
	"time"
)

// MockMetricsRegistry records every metric call as a counter keyed by
// "<metric>:<labels>" so tests can assert on them.
type MockMetricsRegistry struct {
	mu     sync.Mutex
	counts map[string]float64
}

// NewMockMetricsRegistry creates an empty recording registry.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{counts: make(map[string]float64)}
}

func (m *MockMetricsRegistry) add(key string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]float64)
	}
	m.counts[key] += v
}

func (m *MockMetricsRegistry) set(key string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]float64)
	}
	m.counts[key] = v
}

// Get returns the recorded value for key.
func (m *MockMetricsRegistry) Get(key string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

// HTTP Request metrics
func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string) {
	m.add(fmt.Sprintf("requests:%s:%s:%s", endpoint, method, status), 1)
}
func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	m.add(fmt.Sprintf("latency:%s:%s", endpoint, method), 1)
}

// Decisioning metrics
func (m *MockMetricsRegistry) IncrementDecisions(outcome string) { m.add("decisions:"+outcome, 1) }
func (m *MockMetricsRegistry) IncrementCacheLookups(result string) {
	m.add("cache:"+result, 1)
}
func (m *MockMetricsRegistry) IncrementContextTimeouts()     { m.add("context_timeouts", 1) }
func (m *MockMetricsRegistry) ObserveCandidatesScored(n int) { m.add("candidates_scored", float64(n)) }
func (m *MockMetricsRegistry) AddCampaignsFiltered(stage string, n int) {
	m.add("filtered:"+stage, float64(n))
}
func (m *MockMetricsRegistry) SetCampaignsLoaded(n int) { m.set("campaigns_loaded", float64(n)) }

// Telemetry metrics
func (m *MockMetricsRegistry) IncrementEvent(kind string) { m.add("events:"+kind, 1) }
func (m *MockMetricsRegistry) IncrementTelemetrySends(channel, outcome string) {
	m.add(fmt.Sprintf("sends:%s:%s", channel, outcome), 1)
}
func (m *MockMetricsRegistry) SetTelemetryQueueDepth(n int) { m.set("queue_depth", float64(n)) }
func (m *MockMetricsRegistry) AddEventsRequeued(n int)      { m.add("requeued", float64(n)) }
func (m *MockMetricsRegistry) IncrementEventsDropped(reason string) {
	m.add("dropped:"+reason, 1)
}
func (m *MockMetricsRegistry) IncrementFrequencyRecords(outcome string) {
	m.add("frequency:"+outcome, 1)
}

// Rate limiting metrics
func (m *MockMetricsRegistry) IncrementRateLimitRequests(scope string) {
	m.add("ratelimit_requests:"+scope, 1)
}
func (m *MockMetricsRegistry) IncrementRateLimitHits(scope string) { m.add("ratelimit_hits:"+scope, 1) }
