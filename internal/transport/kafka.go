package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/patrickwarner/videoadserve/internal/models"
	"github.com/patrickwarner/videoadserve/internal/telemetry"
)

// messageWriter is the subset of *kafka.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes interaction events to a Kafka topic, one message per
// event keyed by session id so a session's events stay ordered.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka sink requires a topic")
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
	}, nil
}

func eventMessage(ev models.InteractionEvent, batchID string) (kafka.Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: payload,
		Time:  ev.Timestamp.UTC(),
		Headers: []kafka.Header{
			{Key: "event_kind", Value: []byte(ev.Kind)},
		},
	}
	if batchID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "batch_id", Value: []byte(batchID)})
	}
	return msg, nil
}

// SendEvent publishes a single event.
func (k *KafkaSink) SendEvent(ctx context.Context, ev models.InteractionEvent) error {
	if k == nil || k.writer == nil {
		return telemetry.ErrTransportUnavailable
	}
	msg, err := eventMessage(ev, "")
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.ID, err)
	}
	return nil
}

// SendBatch publishes all events of a batch in one write.
func (k *KafkaSink) SendBatch(ctx context.Context, batch models.EventBatch) error {
	if k == nil || k.writer == nil {
		return telemetry.ErrTransportUnavailable
	}
	msgs := make([]kafka.Message, 0, len(batch.Events))
	for _, ev := range batch.Events {
		msg, err := eventMessage(ev, batch.ID)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		var werr kafka.WriteErrors
		if errors.As(err, &werr) {
			return fmt.Errorf("publish batch %s: %d of %d messages failed: %w", batch.ID, werr.Count(), len(msgs), err)
		}
		return fmt.Errorf("publish batch %s: %w", batch.ID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

var _ telemetry.Transport = (*KafkaSink)(nil)
