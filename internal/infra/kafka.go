package infra

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/trailpass/platform/internal/domain"
)

// KafkaProducer wraps a kafka-go writer bound to one topic.
type KafkaProducer struct {
	writer  *kafka.Writer
	topic   string
	logger  *slog.Logger
	enabled bool
}

// NewKafkaProducer creates a Kafka producer. If brokers is empty or disabled, writes are no-ops.
func NewKafkaProducer(brokers, topic string, enabled bool, logger *slog.Logger) *KafkaProducer {
	if !enabled || brokers == "" {
		logger.Info("kafka producer disabled")
		return &KafkaProducer{topic: topic, enabled: false, logger: logger}
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}

	logger.Info("kafka producer initialized", "brokers", brokers, "topic", topic)
	return &KafkaProducer{writer: w, topic: topic, logger: logger, enabled: true}
}

// Topic returns the destination topic.
func (p *KafkaProducer) Topic() string { return p.topic }

// PublishEvents writes a batch of outbox events. Messages are keyed by the
// partition key so one user's events stay ordered. No-op if disabled.
func (p *KafkaProducer) PublishEvents(ctx context.Context, events []domain.OutboxRow) error {
	if !p.enabled || len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		msgs = append(msgs, EventMessage(e))
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

// EventMessage maps an outbox row onto a Kafka message.
func EventMessage(e domain.OutboxRow) kafka.Message {
	return kafka.Message{
		Key:   []byte(e.PartitionKey),
		Value: e.Payload,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(e.EventID.String())},
			{Key: "event_type", Value: []byte(e.EventType)},
			{Key: "aggregate_type", Value: []byte(e.AggregateType)},
			{Key: "aggregate_id", Value: []byte(e.AggregateID)},
		},
	}
}

// Close shuts down the Kafka writer.
func (p *KafkaProducer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
