package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

const (
	NotificationSubject = "payments.notifications"
	NotificationQueue   = "payment-reconciler"
)

// NotificationSubscriber runs notifications relayed over NATS through the same
// reconcile path as the HTTP webhook.
type NotificationSubscriber struct {
	reconciler NotificationReconciler
	timeout    time.Duration
	logger     *zap.Logger
	publish    func(subject string, data []byte) error
}

func NewNotificationSubscriber(reconciler NotificationReconciler, timeout time.Duration, logger *zap.Logger) *NotificationSubscriber {
	return &NotificationSubscriber{reconciler: reconciler, timeout: timeout, logger: logger}
}

// Subscribe joins the queue group so each relayed notification is handled by one instance.
func (s *NotificationSubscriber) Subscribe(nc *nats.Conn) (*nats.Subscription, error) {
	s.publish = nc.Publish
	return nc.QueueSubscribe(NotificationSubject, NotificationQueue, s.HandleMessage)
}

func (s *NotificationSubscriber) HandleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var n models.Notification
	var ack models.WebhookAck
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		telemetry.NotificationsTotal.WithLabelValues("unknown", "invalid").Inc()
		s.logger.Warn("Invalid relayed notification", zap.Error(err))
		ack = models.WebhookAck{Success: false, Error: "invalid notification body"}
	} else {
		_, ack = Acknowledge(s.reconciler.Reconcile(ctx, n))
	}

	if msg.Reply == "" || s.publish == nil {
		return
	}
	payload, _ := json.Marshal(ack)
	if err := s.publish(msg.Reply, payload); err != nil {
		s.logger.Error("Failed to reply to relayed notification", zap.Error(err))
	}
}
