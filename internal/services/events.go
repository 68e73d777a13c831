package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/example/storefront/internal/models"
)

// Order event types.
const (
	EventOrderPlaced   = "order.placed"
	EventOrderPaid     = "order.paid"
	EventPaymentFailed = "order.payment_failed"
	EventOrderShipped  = "order.shipped"
)

const eventProducer = "storefront-api"

// OrderEvent is the envelope published for every order notification.
type OrderEvent struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	EventVersion  int               `json:"event_version"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Producer      string            `json:"producer"`
	CorrelationID string            `json:"correlation_id"`
	Payload       OrderEventPayload `json:"payload"`
}

type OrderEventPayload struct {
	OrderID       string `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	PaymentMethod string `json:"payment_method"`
	Total         string `json:"total"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason,omitempty"`
}

func NewOrderEvent(eventType string, order models.Order, reason string) OrderEvent {
	return OrderEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      eventProducer,
		CorrelationID: order.ID.String(),
		Payload: OrderEventPayload{
			OrderID:       order.ID.String(),
			OrderNumber:   order.OrderNumber,
			Status:        string(order.Status),
			PaymentStatus: string(order.PaymentStatus),
			PaymentMethod: order.PaymentMethod,
			Total:         order.Total.StringFixed(2),
			Currency:      order.Currency,
			Reason:        reason,
		},
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes order events keyed by order id, so every event of
// one order lands on the same partition.
type KafkaPublisher struct {
	w messageWriter
}

var _ EventPublisher = (*KafkaPublisher)(nil)

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(csv string) []string {
	var brokers []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.EventType, err)
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.CorrelationID),
		Value: data,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
