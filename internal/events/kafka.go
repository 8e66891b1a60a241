package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic receives every ledger event.
const DefaultTopic = "loanbook.ledger"

// KafkaPublisher writes events to a Kafka topic keyed by book id, so one
// book's events stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher constructs a publisher for brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 5 * time.Second,
		},
	}
}

// Publish writes evt as one JSON message.
func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	msg, err := Message(evt)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", evt.Type, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Message encodes evt as a Kafka message.
func Message(evt Event) (kafka.Message, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("events: encode %s: %w", evt.Type, err)
	}
	return kafka.Message{
		Key:   []byte(evt.BookID.String()),
		Value: data,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
		},
	}, nil
}
