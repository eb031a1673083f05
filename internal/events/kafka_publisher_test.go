package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &recordingWriter{}
	p := NewKafkaPublisher(w)

	event := models.PaymentStatusChanged{
		PaymentID:        "pay-1",
		OrderID:          "order-1",
		GatewayPaymentID: "123",
		Status:           models.PaymentCompleted,
		PreviousStatus:   models.PaymentPending,
		GatewayStatus:    "approved",
		Timestamp:        time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Publish(context.Background(), "pay-1", event))

	require.Len(t, w.messages, 1)
	assert.Equal(t, "pay-1", string(w.messages[0].Key))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &decoded))
	assert.Equal(t, "completed", decoded["status"])
	assert.Equal(t, "pending", decoded["previous_status"])
	assert.Equal(t, "123", decoded["mp_payment_id"])
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	p := NewKafkaPublisher(&recordingWriter{err: errors.New("broker down")})

	err := p.Publish(context.Background(), "pay-1", map[string]string{"a": "b"})
	assert.ErrorContains(t, err, "broker down")
}

func TestNewStatusWriter(t *testing.T) {
	w := NewStatusWriter([]string{"k1:9092", "k2:9092"})
	defer w.Close()

	assert.Equal(t, TopicPaymentStatusChanged, w.Topic)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
	assert.Equal(t, 10*time.Millisecond, w.BatchTimeout)
}
