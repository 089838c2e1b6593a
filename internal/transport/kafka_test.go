package transport

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/videoadserve/internal/models"
	"github.com/patrickwarner/videoadserve/internal/telemetry"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaSinkBatchKeysBySession(t *testing.T) {
	w := &recordingWriter{}
	sink := &KafkaSink{writer: w}
	ts := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	batch := models.EventBatch{ID: "b1", Events: []models.InteractionEvent{
		{ID: "e1", SessionID: "s1", Kind: models.EventMidpoint, Timestamp: ts},
		{ID: "e2", SessionID: "s2", Kind: models.EventComplete, Timestamp: ts},
	}}

	require.NoError(t, sink.SendBatch(context.Background(), batch))
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "s1", string(w.msgs[0].Key))
	assert.Equal(t, "s2", string(w.msgs[1].Key))
	assert.Equal(t, ts, w.msgs[0].Time)

	var ev models.InteractionEvent
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &ev))
	assert.Equal(t, "e2", ev.ID)

	headers := map[string]string{}
	for _, h := range w.msgs[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "midpoint", headers["event_kind"])
	assert.Equal(t, "b1", headers["batch_id"])
}

func TestKafkaSinkErrors(t *testing.T) {
	sink := &KafkaSink{writer: &recordingWriter{err: errors.New("broker down")}}
	err := sink.SendEvent(context.Background(), models.InteractionEvent{ID: "e1"})
	assert.ErrorContains(t, err, "broker down")

	var nilSink *KafkaSink
	assert.ErrorIs(t, nilSink.SendBatch(context.Background(), models.EventBatch{}), telemetry.ErrTransportUnavailable)

	_, err = NewKafkaSink(nil, "topic")
	assert.Error(t, err)
}
