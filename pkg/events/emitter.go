// Package events handles event emission for negotiation state changes.
// Emission is fire-and-forget from the domain's point of view: the engine
// notifies after its transaction commits, and a broker failure is logged
// but never rolls back a committed transition.
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Emitter publishes negotiation events
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter. A nil producer disables emission
// (used in tests and when Kafka is turned off by config).
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// Notify publishes one event for an engagement. Errors are swallowed after
// logging; a committed domain transition must never fail on notification.
func (e *Emitter) Notify(ctx context.Context, engagementID string, kind Kind, payload any) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.Notify")
	defer span.End()

	if e.producer == nil {
		return
	}

	data, err := json.Marshal(Envelope{SchemaVersion: SchemaVersion, Payload: payload})
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type":    string(kind),
			"engagement_id": engagementID,
		}).Error("Failed to marshal negotiation event")
		return
	}

	event := &kafka.NegotiationEvent{
		EventType:    string(kind),
		EngagementID: engagementID,
		Data:         data,
	}

	if err := e.producer.PublishNegotiationEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type":    string(kind),
			"engagement_id": engagementID,
		}).Error("Failed to emit negotiation event")
	}
}
