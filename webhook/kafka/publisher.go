// Package kafka publishes outbox events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"

	"github.com/xraph/accounting/webhook"
)

// DefaultTopic receives liquidity events when no topic is configured.
const DefaultTopic = "ledger.webhook_events"

var _ webhook.Publisher = (*Publisher)(nil)

// messageWriter is the subset of *kafka.Writer used by Publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer   messageWriter
	maxTries uint
}

// NewPublisher creates a Publisher writing to topic on brokers.
func NewPublisher(brokers []string, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		maxTries: 3,
	}
}

// payload is the wire shape of a published event.
type payload struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// Publish writes e keyed by its id so that redeliveries land on one partition.
func (p *Publisher) Publish(ctx context.Context, e *webhook.Event) error {
	msg, err := message(e)
	if err != nil {
		return err
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, p.writer.WriteMessages(ctx, msg)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(p.maxTries),
	)
	return err
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func message(e *webhook.Event) (kafka.Message, error) {
	data, err := json.Marshal(payload{
		ID:        e.ID.String(),
		Type:      e.Type,
		Data:      e.Data,
		CreatedAt: e.CreatedAt,
	})
	if err != nil {
		return kafka.Message{}, err
	}

	return kafka.Message{
		Key:   []byte(e.ID.String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}, nil
}
