package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/videoadserve/internal/models"
	"github.com/patrickwarner/videoadserve/internal/observability"
)

// fakeTransport records what it was asked to send.
type fakeTransport struct {
	mu         sync.Mutex
	events     []models.InteractionEvent
	batches    []models.EventBatch
	failBatch  bool
	failEvent  bool
	eventDelay time.Duration
	sent       chan models.InteractionEvent
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(chan models.InteractionEvent, 100)}
}

func (f *fakeTransport) SendEvent(_ context.Context, ev models.InteractionEvent) error {
	if f.eventDelay > 0 {
		time.Sleep(f.eventDelay)
	}
	f.mu.Lock()
	fail := f.failEvent
	if !fail {
		f.events = append(f.events, ev)
	}
	f.mu.Unlock()
	f.sent <- ev
	if fail {
		return errors.New("ingest down")
	}
	return nil
}

func (f *fakeTransport) SendBatch(_ context.Context, b models.EventBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBatch {
		return ErrTransportUnavailable
	}
	f.batches = append(f.batches, b)
	return nil
}

func (f *fakeTransport) setFailBatch(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failBatch = v
}

func (f *fakeTransport) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func event(kind models.EventKind, i int) models.InteractionEvent {
	return models.InteractionEvent{
		ID:         fmt.Sprintf("ev-%02d", i),
		DecisionID: "d1",
		CampaignID: 1,
		CreativeID: 100,
		Placement:  models.PreRoll,
		Kind:       kind,
		SessionID:  "s1",
	}
}

func ids(events []models.InteractionEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

func TestFlushBatchesAndRequeuesOnFailure(t *testing.T) {
	tr := newFakeTransport()
	metrics := observability.NewMockMetricsRegistry()
	p := NewPipeline(tr, Config{BatchSize: 20}, zap.NewNop(), metrics)

	for i := 0; i < 25; i++ {
		p.Track(event(models.EventMidpoint, i))
	}
	require.Equal(t, 25, p.Queue().Len())
	before := ids(p.Queue().Snapshot())

	tr.setFailBatch(true)
	err := p.Flush(context.Background())
	require.ErrorIs(t, err, ErrTransportUnavailable)
	assert.Equal(t, 25, p.Queue().Len())
	assert.Equal(t, before, ids(p.Queue().Snapshot()))
	assert.Equal(t, float64(20), metrics.Get("requeued"))
	assert.Equal(t, float64(25), metrics.Get("queue_depth"))

	tr.setFailBatch(false)
	require.NoError(t, p.Flush(context.Background()))
	assert.Equal(t, 5, p.Queue().Len())
	require.Equal(t, 1, tr.batchCount())
	assert.Equal(t, before[:20], ids(tr.batches[0].Events))
	assert.NotEmpty(t, tr.batches[0].ID)
	assert.Equal(t, float64(1), metrics.Get("sends:batch:ok"))
}

func TestCriticalEventsBypassQueue(t *testing.T) {
	tr := newFakeTransport()
	metrics := observability.NewMockMetricsRegistry()
	p := NewPipeline(tr, Config{}, zap.NewNop(), metrics)

	for _, kind := range []models.EventKind{models.EventImpression, models.EventClick, models.EventCTAClick} {
		p.Track(event(kind, 1))
	}
	p.Stop()

	assert.Equal(t, 0, p.Queue().Len())
	tr.mu.Lock()
	assert.Len(t, tr.events, 3)
	tr.mu.Unlock()
	assert.Equal(t, float64(3), metrics.Get("sends:immediate:ok"))
}

func TestCriticalFailureIsDropped(t *testing.T) {
	tr := newFakeTransport()
	tr.failEvent = true
	metrics := observability.NewMockMetricsRegistry()
	p := NewPipeline(tr, Config{}, zap.NewNop(), metrics)

	p.Track(event(models.EventImpression, 1))
	p.Stop()

	assert.Equal(t, 0, p.Queue().Len())
	assert.Equal(t, float64(1), metrics.Get("dropped:send_failed"))
	assert.Len(t, tr.sent, 1)
}

func TestTrackDoesNotBlockOnSlowTransport(t *testing.T) {
	tr := newFakeTransport()
	tr.eventDelay = 200 * time.Millisecond
	p := NewPipeline(tr, Config{}, zap.NewNop(), nil)

	start := time.Now()
	for i := 0; i < 10; i++ {
		p.Track(event(models.EventImpression, i))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	p.Stop()
	assert.Len(t, tr.sent, 10)
}

func TestTrackFillsIdentityAndDropsInvalid(t *testing.T) {
	tr := newFakeTransport()
	metrics := observability.NewMockMetricsRegistry()
	p := NewPipeline(tr, Config{}, zap.NewNop(), metrics)
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	ev := event(models.EventComplete, 1)
	ev.ID = ""
	p.Track(ev)

	bad := event("rewind", 2)
	p.Track(bad)

	queued := p.Queue().Snapshot()
	require.Len(t, queued, 1)
	assert.NotEmpty(t, queued[0].ID)
	assert.Equal(t, fixed, queued[0].Timestamp)
	assert.Equal(t, float64(1), metrics.Get("dropped:invalid"))
	assert.Equal(t, float64(1), metrics.Get("events:complete"))
}

func TestStartFlushesPeriodically(t *testing.T) {
	tr := newFakeTransport()
	p := NewPipeline(tr, Config{FlushInterval: 10 * time.Millisecond}, zap.NewNop(), nil)
	p.Track(event(models.EventSkip, 1))

	p.Start(context.Background())
	defer p.Stop()

	assert.Eventually(t, func() bool { return tr.batchCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, p.Queue().Len())
}

func TestDrain(t *testing.T) {
	tr := newFakeTransport()
	p := NewPipeline(tr, Config{BatchSize: 4}, zap.NewNop(), nil)
	for i := 0; i < 10; i++ {
		p.Track(event(models.EventFirstQuartile, i))
	}

	require.NoError(t, p.Drain(context.Background()))
	assert.Equal(t, 0, p.Queue().Len())
	assert.Equal(t, 3, tr.batchCount())

	for i := 0; i < 3; i++ {
		p.Track(event(models.EventFirstQuartile, i))
	}
	tr.setFailBatch(true)
	assert.Error(t, p.Drain(context.Background()))
	assert.Equal(t, 3, p.Queue().Len())
}

func TestCriticalEventsAfterStopAreQueued(t *testing.T) {
	tr := newFakeTransport()
	p := NewPipeline(tr, Config{}, zap.NewNop(), nil)
	p.Stop()

	p.Track(event(models.EventImpression, 1))
	assert.Equal(t, 1, p.Queue().Len())
	require.NoError(t, p.Drain(context.Background()))
	assert.Equal(t, 1, tr.batchCount())
}
