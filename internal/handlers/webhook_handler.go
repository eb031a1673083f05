package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-reconciler/internal/apperrors"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
	"github.com/akylbek/payment-system/payment-reconciler/internal/service"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

const (
	msgProcessed    = "Webhook processed"
	msgNotProcessed = "Webhook received but not processed"
)

// NotificationReconciler is implemented by *service.Reconciler.
type NotificationReconciler interface {
	Reconcile(ctx context.Context, n models.Notification) (*service.ReconcileResult, error)
}

type WebhookHandler struct {
	reconciler NotificationReconciler
	logger     *zap.Logger
}

func NewWebhookHandler(reconciler NotificationReconciler, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, logger: logger}
}

// HandleMercadoPago receives gateway notifications. Any non-2xx answer makes the gateway redeliver.
func (h *WebhookHandler) HandleMercadoPago(c *gin.Context) {
	var n models.Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		telemetry.NotificationsTotal.WithLabelValues("unknown", "invalid").Inc()
		h.logger.Warn("Invalid notification body", zap.Error(err))
		c.JSON(http.StatusBadRequest, models.WebhookAck{Success: false, Error: "invalid notification body"})
		return
	}

	status, ack := Acknowledge(h.reconciler.Reconcile(c.Request.Context(), n))
	c.JSON(status, ack)
}

// Acknowledge turns a reconcile outcome into the status code and body returned to the sender.
func Acknowledge(result *service.ReconcileResult, err error) (int, models.WebhookAck) {
	if err != nil {
		if apperrors.IsValidation(err) {
			return http.StatusBadRequest, models.WebhookAck{Success: false, Error: err.Error()}
		}
		return http.StatusInternalServerError, models.WebhookAck{Success: false, Error: err.Error()}
	}
	if result == nil || !result.Handled {
		return http.StatusOK, models.WebhookAck{Success: true, Message: msgNotProcessed}
	}
	return http.StatusOK, models.WebhookAck{Success: true, Message: msgProcessed}
}
