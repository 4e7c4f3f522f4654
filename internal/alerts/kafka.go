package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer used by KafkaNotifier.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures KafkaNotifier.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// KafkaNotifier publishes triggered alerts to a topic consumed by the push
// delivery service. Messages are keyed by user id so a user's notifications
// stay ordered within a partition.
type KafkaNotifier struct {
	w messageWriter
}

// AlertTriggeredEvent is the published message body.
type AlertTriggeredEvent struct {
	EventID     string  `json:"eventId"`
	AlertID     string  `json:"alertId"`
	UserID      string  `json:"userId"`
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	TargetPrice float64 `json:"targetPrice"`
	TriggeredAt string  `json:"triggeredAt"` // RFC 3339
}

// NewKafkaNotifier creates a notifier writing to cfg.Topic.
func NewKafkaNotifier(cfg KafkaConfig) *KafkaNotifier {
	return &KafkaNotifier{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           cfg.BatchTimeout,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

// NotifyAlertTriggered implements Notifier.
func (n *KafkaNotifier) NotifyAlertTriggered(ctx context.Context, t Trigger) error {
	msg, err := encodeTrigger(t)
	if err != nil {
		return err
	}
	if err := n.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish alert %s: %w", t.AlertID, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.w.Close()
}

func encodeTrigger(t Trigger) (kafka.Message, error) {
	body, err := json.Marshal(AlertTriggeredEvent{
		EventID:     uuid.NewString(),
		AlertID:     t.AlertID,
		UserID:      t.UserID,
		Symbol:      string(t.Symbol),
		Price:       t.Price,
		TargetPrice: t.TargetPrice,
		TriggeredAt: t.TriggeredAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal alert event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(t.UserID),
		Value: body,
		Time:  t.TriggeredAt,
	}, nil
}
