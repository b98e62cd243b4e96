package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes an order.created event keyed by order id.
type KafkaNotifier struct {
	writer MessageWriter
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return NewKafkaNotifierWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	})
}

func NewKafkaNotifierWithWriter(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

func (n *KafkaNotifier) SendOrderConfirmation(ctx context.Context, c Confirmation) error {
	event, err := newEvent(c)
	if err != nil {
		return fmt.Errorf("notification: failed to build event: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notification: failed to encode event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(c.OrderID.String()),
		Value: data,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("notification: failed to publish event for order %s: %w", c.OrderID, err)
	}

	log.Debug().Stringer("order_id", c.OrderID).Stringer("event_id", event.EventID).Msg("notification: order.created published")
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
