package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Producer handles Kafka event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	requiredAcks := kafka.RequiredAcks(cfg.RequiredAcks)

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           requiredAcks,
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// NegotiationEvent is an event about an engagement's negotiation state
type NegotiationEvent struct {
	EventType    string          `json:"event_type"`
	EngagementID string          `json:"engagement_id"`
	CardID       string          `json:"card_id,omitempty"`
	PartyID      string          `json:"party_id,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// PublishNegotiationEvent publishes a negotiation event to Kafka. Events are
// keyed by engagement id so per-engagement ordering is preserved.
func (p *Producer) PublishNegotiationEvent(ctx context.Context, event *NegotiationEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishNegotiationEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.EngagementID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "engagement_id", Value: []byte(event.EngagementID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type":    event.EventType,
			"engagement_id": event.EngagementID,
		}).Error("Failed to publish negotiation event")
		return err
	}

	return nil
}
