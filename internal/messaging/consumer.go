package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

// InboundMessage is a record delivered from the broker to a Handler.
type InboundMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Payload   []byte
	Headers   map[string]string
}

// Handler processes messages delivered by the consumer. Implementations own
// their retry and dead-letter behavior; a returned error is terminal for the
// message and is logged, not redelivered.
type Handler interface {
	HandleMessage(ctx context.Context, msg *InboundMessage) error
}

// Consumer runs a Kafka consumer group over a set of topics, dispatching each
// record to a Handler.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler Handler
	logger  *slog.Logger
}

// NewConsumer joins the given consumer group on the brokers.
func NewConsumer(
	brokers []string,
	groupID string,
	clientID string,
	topics []string,
	handler Handler,
	logger *slog.Logger,
) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V2_6_0_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &Consumer{
		group:   group,
		topics:  topics,
		handler: handler,
		logger:  logger,
	}, nil
}

// Run consumes until the context is cancelled. Rebalances restart the consume
// loop transparently.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("consumer group error", "error", err)
		}
	}()

	handler := &groupHandler{handler: c.handler, logger: c.logger}

	for {
		if err := c.group.Consume(ctx, c.topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume failed: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

// groupHandler adapts a Handler to the sarama consumer group callbacks.
type groupHandler struct {
	handler Handler
	logger  *slog.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case record, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			msg := &InboundMessage{
				Topic:     record.Topic,
				Partition: record.Partition,
				Offset:    record.Offset,
				Key:       record.Key,
				Payload:   record.Value,
				Headers:   headerMap(record.Headers),
			}

			if err := h.handler.HandleMessage(session.Context(), msg); err != nil {
				h.logger.Error("message handling failed",
					"topic", msg.Topic,
					"partition", msg.Partition,
					"offset", msg.Offset,
					"error", err,
				)
			}

			// The handler owns retries and dead-lettering, so the offset is
			// committed either way.
			session.MarkMessage(record, "")
		}
	}
}

func headerMap(headers []*sarama.RecordHeader) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		if h == nil {
			continue
		}
		m[string(h.Key)] = string(h.Value)
	}
	return m
}
