package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/storefront/internal/lifecycle"
)

type capturingWriter struct {
	msgs []kafka.Message
}

func (w *capturingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *capturingWriter) Close() error { return nil }

func TestKafkaPublisherKeysByOrder(t *testing.T) {
	w := &capturingWriter{}
	pub := &KafkaPublisher{w: w}

	order := sampleOrder()
	order.Status = lifecycle.StatusCancelled
	order.PaymentStatus = lifecycle.PaymentFailed

	require.NoError(t, pub.Publish(context.Background(), NewOrderEvent(EventPaymentFailed, order, "declined")))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, order.ID.String(), string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, EventPaymentFailed, string(msg.Headers[0].Value))

	var ev OrderEvent
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, EventPaymentFailed, ev.EventType)
	assert.Equal(t, 1, ev.EventVersion)
	assert.Equal(t, "CANCELLED", ev.Payload.Status)
	assert.Equal(t, "FAILED", ev.Payload.PaymentStatus)
	assert.Equal(t, "100.00", ev.Payload.Total)
	assert.Equal(t, "declined", ev.Payload.Reason)
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092 "))
	assert.Nil(t, ParseBrokers(""))
}
