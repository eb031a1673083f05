package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

// CheckoutProcessor is implemented by *service.CheckoutService.
type CheckoutProcessor interface {
	CreateCheckout(ctx context.Context, req models.CreateCheckoutRequest) (*models.CheckoutSession, error)
	ProcessCardPayment(ctx context.Context, req models.CardPaymentRequest) (*models.CardPaymentResult, error)
	CheckStatus(ctx context.Context, paymentID string) (*models.StatusCheck, error)
	CreateOrderPreference(ctx context.Context, req models.OrderPreferenceRequest) (*models.CheckoutSession, error)
	PayOrder(ctx context.Context, req models.OrderPaymentRequest) (*models.GatewayPaymentState, error)
	GatewayPaymentStatus(ctx context.Context, gatewayPaymentID string) (*models.GatewayPaymentState, error)
	RetryPayment(ctx context.Context, req models.RetryPaymentRequest) (*models.GatewayPaymentState, error)
}

// PaymentReader is the read side of the payment store.
type PaymentReader interface {
	GetByID(ctx context.Context, id string) (*models.Payment, error)
}

type PaymentHandler struct {
	checkout CheckoutProcessor
	payments PaymentReader
	logger   *zap.Logger
	actions  map[models.PaymentAction]gin.HandlerFunc
}

func NewPaymentHandler(checkout CheckoutProcessor, payments PaymentReader, logger *zap.Logger) *PaymentHandler {
	h := &PaymentHandler{
		checkout: checkout,
		payments: payments,
		logger:   logger,
	}
	h.actions = map[models.PaymentAction]gin.HandlerFunc{
		models.ActionCreatePreference: h.createOrderPreference,
		models.ActionProcessPayment:   h.payOrder,
		models.ActionGetPaymentStatus: h.gatewayStatus,
		models.ActionRetryPayment:     h.retryPayment,
	}
	return h
}

// GetPayment returns the local state of a payment attempt.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	paymentID := c.Param("id")

	p, err := h.payments.GetByID(c.Request.Context(), paymentID)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error("Failed to fetch payment", zap.String("payment_id", paymentID), zap.Error(err))
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payment_id":       p.ID,
		"order_id":         p.OrderID,
		"status":           p.Status,
		"amount":           p.Amount,
		"currency":         p.Currency,
		"mp_preference_id": p.PreferenceID,
		"mp_payment_id":    p.GatewayPaymentID,
		"mp_status":        p.GatewayStatus,
		"mp_status_detail": p.StatusDetail,
		"deferred_order":   p.HasDeferredOrder(),
		"created_at":       p.CreatedAt,
		"updated_at":       p.UpdatedAt,
		"paid_at":          p.PaidAt,
	})
}

func (h *PaymentHandler) CreateCheckout(c *gin.Context) {
	var req models.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	session, err := h.checkout.CreateCheckout(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Failed to create checkout", zap.String("order_id", req.OrderID), zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"preference_id": session.PreferenceID,
		"init_point":    session.InitPoint,
		"payment_id":    session.PaymentID,
	})
}

func (h *PaymentHandler) ProcessCardPayment(c *gin.Context) {
	var req models.CardPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("X-Idempotency-Key")
	}

	result, err := h.checkout.ProcessCardPayment(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Failed to process card payment", zap.Error(err))
		respondError(c, err)
		return
	}

	// A rejection is an expected outcome, not a server error.
	if result.Rejected {
		errMsg := result.StatusDetail
		if errMsg == "" {
			errMsg = "Payment rejected"
		}
		c.JSON(http.StatusOK, gin.H{
			"success":    false,
			"status":     models.GatewayRejected,
			"error":      errMsg,
			"payment_id": result.GatewayPaymentID,
		})
		return
	}

	message := "Payment pending validation"
	if result.Approved {
		message = "Payment processed"
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"status":           result.GatewayStatus,
		"status_detail":    result.StatusDetail,
		"order_id":         result.OrderID,
		"payment_id":       result.GatewayPaymentID,
		"local_payment_id": result.PaymentID,
		"message":          message,
	})
}

func (h *PaymentHandler) CheckStatus(c *gin.Context) {
	var req struct {
		PaymentID string `json:"payment_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	check, err := h.checkout.CheckStatus(c.Request.Context(), req.PaymentID)
	if err != nil {
		h.logger.Error("Failed to check payment status", zap.String("payment_id", req.PaymentID), zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"status":           check.Status,
		"mp_payment_id":    check.GatewayPaymentID,
		"mp_status":        check.GatewayStatus,
		"mp_status_detail": check.StatusDetail,
		"message":          check.Message,
	})
}

// HandleAction dispatches on the "action" field. Unknown actions are rejected.
func (h *PaymentHandler) HandleAction(c *gin.Context) {
	var env models.ActionEnvelope
	if err := c.ShouldBindBodyWith(&env, binding.JSON); err != nil {
		respondBindError(c, err)
		return
	}

	if !env.Action.Valid() {
		h.logger.Warn("Invalid payment action", zap.String("action", string(env.Action)))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid action"})
		return
	}
	h.actions[env.Action](c)
}

func (h *PaymentHandler) createOrderPreference(c *gin.Context) {
	var req models.OrderPreferenceRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		respondBindError(c, err)
		return
	}

	session, err := h.checkout.CreateOrderPreference(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Failed to create preference", zap.String("order_id", req.OrderID), zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"preference_id": session.PreferenceID,
		"init_point":    session.InitPoint,
	})
}

func (h *PaymentHandler) payOrder(c *gin.Context) {
	var req models.OrderPaymentRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		respondBindError(c, err)
		return
	}

	state, err := h.checkout.PayOrder(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Failed to process order payment", zap.String("order_id", req.OrderID), zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"payment_id":    state.GatewayPaymentID,
		"status":        state.Status,
		"status_detail": state.StatusDetail,
	})
}

func (h *PaymentHandler) gatewayStatus(c *gin.Context) {
	var req models.GatewayStatusRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		respondBindError(c, err)
		return
	}

	state, err := h.checkout.GatewayPaymentStatus(c.Request.Context(), req.PaymentID.String())
	if err != nil {
		h.logger.Error("Failed to get gateway payment status", zap.String("mp_payment_id", req.PaymentID.String()), zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"status":        state.Status,
		"status_detail": state.StatusDetail,
	})
}

func (h *PaymentHandler) retryPayment(c *gin.Context) {
	var req models.RetryPaymentRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		respondBindError(c, err)
		return
	}

	state, err := h.checkout.RetryPayment(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Failed to retry payment",
			zap.String("order_id", req.OrderID),
			zap.String("mp_payment_id", req.GatewayPaymentID.String()),
			zap.Error(err),
		)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"new_payment_id": state.GatewayPaymentID,
		"status":         state.Status,
	})
}
