package telemetry

import (
	"context"
	"errors"

	"github.com/patrickwarner/videoadserve/internal/models"
)

// ErrTransportUnavailable is returned when a sink cannot accept events at
// all, for example while its circuit breaker is open.
var ErrTransportUnavailable = errors.New("telemetry transport unavailable")

// Transport delivers interaction events to an ingestion backend.
type Transport interface {
	// SendEvent delivers one critical event immediately.
	SendEvent(ctx context.Context, ev models.InteractionEvent) error
	// SendBatch delivers a group of queued events. The batch succeeds or
	// fails as a whole.
	SendBatch(ctx context.Context, batch models.EventBatch) error
}
