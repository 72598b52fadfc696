// Package messaging provides the Kafka producer and consumer used by the
// outbox relay and the order worker.
package messaging

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/minishop/orders/internal/event"
)

// Message is an outbound record for the broker. EventType, CorrelationID, and
// IdempotencyKey are attached as record headers.
type Message struct {
	Topic          string
	Key            string
	Payload        []byte
	EventType      string
	CorrelationID  string
	IdempotencyKey string
}

// Publisher publishes messages to the broker. Publish returns only after the
// broker has acknowledged the write.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// KafkaPublisher implements Publisher using a synchronous Kafka producer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

// NewKafkaPublisher connects a synchronous producer to the given brokers.
// Writes require acknowledgement from all in-sync replicas and are idempotent
// so relay retries cannot duplicate records on the broker side.
func NewKafkaPublisher(brokers []string, clientID string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V2_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &KafkaPublisher{producer: producer}, nil
}

// Publish sends the message and waits for broker acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	record := &sarama.ProducerMessage{
		Topic: msg.Topic,
		Key:   sarama.StringEncoder(msg.Key),
		Value: sarama.ByteEncoder(msg.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(event.HeaderCorrelationID), Value: []byte(msg.CorrelationID)},
			{Key: []byte(event.HeaderIdempotencyKey), Value: []byte(msg.IdempotencyKey)},
			{Key: []byte(event.HeaderEventType), Value: []byte(msg.EventType)},
		},
	}

	if _, _, err := p.producer.SendMessage(record); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Topic, err)
	}

	return nil
}

// Close shuts down the underlying producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
