package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patrickwarner/videoadserve/internal/models"
	"github.com/patrickwarner/videoadserve/internal/observability"
)

// Defaults applied when Config leaves a field unset.
const (
	DefaultBatchSize     = 20
	DefaultFlushInterval = 10 * time.Second
	DefaultSendTimeout   = 5 * time.Second
)

// Config tunes batching.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	SendTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	return c
}

// Pipeline records interaction events without blocking playback. Critical
// events are sent immediately on their own goroutine with a single attempt;
// everything else is queued and flushed in batches. A failed batch is put
// back at the head of the queue, so delivery is at-least-once.
type Pipeline struct {
	transport Transport
	queue     *Queue
	cfg       Config
	logger    *zap.Logger
	metrics   observability.MetricsRegistry
	now       func() time.Time

	flushMu sync.Mutex

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPipeline creates a pipeline over transport. Nil logger and metrics fall
// back to no-op implementations.
func NewPipeline(transport Transport, cfg Config, logger *zap.Logger, metrics observability.MetricsRegistry) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Pipeline{
		transport: transport,
		queue:     &Queue{},
		cfg:       cfg.withDefaults(),
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Queue exposes the pending-event buffer.
func (p *Pipeline) Queue() *Queue { return p.queue }

// Track accepts one event. It fills a missing ID and timestamp, never
// blocks on I/O and never panics. Events that fail validation are dropped.
func (p *Pipeline) Track(ev models.InteractionEvent) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("telemetry track panic recovered", zap.Any("panic", r))
			p.metrics.IncrementEventsDropped("panic")
		}
	}()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now().UTC()
	}
	if err := ev.Validate(); err != nil {
		p.logger.Warn("dropping invalid event", zap.String("event_id", ev.ID), zap.Error(err))
		p.metrics.IncrementEventsDropped("invalid")
		return
	}
	p.metrics.IncrementEvent(string(ev.Kind))

	if ev.Kind.IsCritical() && p.startImmediate() {
		go p.sendImmediate(ev)
		return
	}
	p.metrics.SetTelemetryQueueDepth(p.queue.Append(ev))
}

// startImmediate registers an in-flight send unless the pipeline is
// stopped, in which case the caller queues the event for Drain instead.
func (p *Pipeline) startImmediate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	p.inflight.Add(1)
	return true
}

func (p *Pipeline) sendImmediate(ev models.InteractionEvent) {
	defer p.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("telemetry send panic recovered", zap.Any("panic", r), zap.String("event_id", ev.ID))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SendTimeout)
	defer cancel()
	if err := p.transport.SendEvent(ctx, ev); err != nil {
		p.metrics.IncrementTelemetrySends("immediate", "error")
		p.metrics.IncrementEventsDropped("send_failed")
		p.logger.Warn("critical event send failed",
			zap.String("event_id", ev.ID),
			zap.String("kind", string(ev.Kind)),
			zap.String("decision_id", ev.DecisionID),
			zap.Error(err))
		return
	}
	p.metrics.IncrementTelemetrySends("immediate", "ok")
}

// Flush sends up to BatchSize queued events as one batch. On failure the
// same events return to the head of the queue and the error is returned.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	events := p.queue.Take(p.cfg.BatchSize)
	if len(events) == 0 {
		return nil
	}
	batch := models.EventBatch{ID: uuid.NewString(), CapturedAt: p.now().UTC(), Events: events}

	sctx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()
	err := p.sendBatch(sctx, batch)
	if err != nil {
		depth := p.queue.Prepend(events)
		p.metrics.IncrementTelemetrySends("batch", "error")
		p.metrics.AddEventsRequeued(len(events))
		p.metrics.SetTelemetryQueueDepth(depth)
		p.logger.Warn("telemetry batch send failed, events requeued",
			zap.String("batch_id", batch.ID),
			zap.Int("events", len(events)),
			zap.Int("queue_depth", depth),
			zap.Error(err))
		return err
	}
	p.metrics.IncrementTelemetrySends("batch", "ok")
	p.metrics.SetTelemetryQueueDepth(p.queue.Len())
	return nil
}

// sendBatch converts a transport panic into an error so the batch is kept.
func (p *Pipeline) sendBatch(ctx context.Context, batch models.EventBatch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("telemetry transport panicked")
		}
	}()
	return p.transport.SendBatch(ctx, batch)
}

// Start launches the periodic flush worker. It returns immediately.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil || p.stopped {
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(wctx, p.done)
}

func (p *Pipeline) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Errors are logged in Flush; the events wait for the next tick.
			_ = p.Flush(ctx)
		}
	}
}

// Stop halts the flush worker and waits for in-flight critical sends.
// Queued events stay queued; call Drain to deliver them.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	p.inflight.Wait()
}

// Drain flushes until the queue is empty or a send fails.
func (p *Pipeline) Drain(ctx context.Context) error {
	for p.queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}
