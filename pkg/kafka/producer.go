// Package kafka publishes ingestion events to a Kafka topic. Events are JSON
// values keyed by case id, with the event type and the producing run carried
// in message headers so consumers can route without decoding the value.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/config"
	"github.com/segmentio/kafka-go"
)

// Header names set on every published message.
const (
	HeaderEventType   = "event-type"
	HeaderRunID       = "run-id"
	HeaderContentType = "content-type"
)

// EventCaseIngested is the type of the event published once a case and its
// dockets and documents have committed.
const EventCaseIngested = "clearinghouse.case.ingested"

// Event is one message. Key selects the partition, so events for the same
// case stay ordered.
type Event struct {
	Type  string
	Key   string
	RunID string
	Value any
}

type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer writes synchronously to cfg.Topic with all-replica acks.
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{
		writer: w,
		logger: slog.Default().With("component", "event-producer", "topic", cfg.Topic),
	}
}

// Message encodes event as it is written to the topic.
func Message(event Event) (kafka.Message, error) {
	if event.Type == "" {
		return kafka.Message{}, fmt.Errorf("event for key %q has no type", event.Key)
	}
	value, err := json.Marshal(event.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding %s event: %w", event.Type, err)
	}
	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(event.Type)},
		{Key: HeaderContentType, Value: []byte("application/json")},
	}
	if event.RunID != "" {
		headers = append(headers, kafka.Header{Key: HeaderRunID, Value: []byte(event.RunID)})
	}
	return kafka.Message{Key: []byte(event.Key), Value: value, Headers: headers}, nil
}

func (p *Producer) Publish(ctx context.Context, event Event) error {
	msg, err := Message(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish event",
			"event_type", event.Type,
			"key", event.Key,
			"run_id", event.RunID,
			"error", err,
		)
		return fmt.Errorf("publishing %s event for %s: %w", event.Type, event.Key, err)
	}
	p.logger.Debug("event published", "event_type", event.Type, "key", event.Key, "value_size", len(msg.Value))
	return nil
}

// Close flushes pending writes.
func (p *Producer) Close() error {
	return p.writer.Close()
}
