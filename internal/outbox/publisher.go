// Package outbox delivers events committed with ledger batches. Delivery
// is at least once; consumers dedupe on the operation id.
package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/segmentio/kafka-go"
)

// Message is the wire body of a delivered event.
type Message struct {
	EventID     string           `json:"event_id"`
	OperationID string           `json:"operation_id"`
	EventType   models.EventType `json:"event_type"`
	UserID      string           `json:"user_id"`
	Payload     map[string]any   `json:"payload"`
	CreatedAt   time.Time        `json:"created_at"`
}

func NewMessage(ev models.OutboxEvent) Message {
	return Message{
		EventID:     ev.ID,
		OperationID: ev.OperationID,
		EventType:   ev.EventType,
		UserID:      ev.UserID,
		Payload:     ev.Payload,
		CreatedAt:   ev.CreatedAt,
	}
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// ----------------- Kafka -----------------

type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher writes to topic with the operation id as message key,
// so every event of one operation lands on the same partition.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.OperationID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
			{Key: "event_id", Value: []byte(msg.EventID)},
		},
	})
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// ----------------- Log -----------------

// LogPublisher logs events instead of sending them. Used in dev and when
// no broker is configured.
type LogPublisher struct{ log *slog.Logger }

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	p.log.Info("outbox event", "event_id", msg.EventID, "op_id", msg.OperationID,
		"event_type", msg.EventType, "user_id", msg.UserID)
	return nil
}

// NewPublisher returns a Kafka publisher when brokers are configured and a
// LogPublisher otherwise. The returned func releases the publisher.
func NewPublisher(brokers []string, topic string, log *slog.Logger) (Publisher, func() error) {
	if len(brokers) == 0 {
		return NewLogPublisher(log), func() error { return nil }
	}
	p := NewKafkaPublisher(brokers, topic)
	return p, p.Close
}
