package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-reconciler/internal/apperrors"
	"github.com/akylbek/payment-system/payment-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

const notificationLockPrefix = "notification_lock:"

// ReconcileResult describes what a handled notification did.
type ReconcileResult struct {
	Handled          bool
	PaymentID        string
	GatewayPaymentID string
	OrderID          string
	OrderCreated     bool
	Status           models.PaymentStatus
	PreviousStatus   models.PaymentStatus
	DebtsSettled     int64
}

// Reconciler applies gateway payment notifications to local payments, orders and debts.
type Reconciler struct {
	payments  interfaces.PaymentRepository
	orders    interfaces.OrderRepository
	debts     interfaces.DebtRepository
	gateway   interfaces.PaymentGateway
	locker    interfaces.Locker
	publisher interfaces.EventPublisher
	lockTTL   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewReconciler(
	payments interfaces.PaymentRepository,
	orders interfaces.OrderRepository,
	debts interfaces.DebtRepository,
	gateway interfaces.PaymentGateway,
	locker interfaces.Locker,
	publisher interfaces.EventPublisher,
	lockTTL time.Duration,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		payments:  payments,
		orders:    orders,
		debts:     debts,
		gateway:   gateway,
		locker:    locker,
		publisher: publisher,
		lockTTL:   lockTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// Reconcile processes one notification. Kinds other than payment are acknowledged
// without side effects. Safe under repeated and concurrent delivery of the same notification.
func (r *Reconciler) Reconcile(ctx context.Context, n models.Notification) (*ReconcileResult, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "Reconciler.Reconcile")
	defer span.End()

	kind := string(n.Type)
	if kind == "" {
		kind = "unknown"
	}
	span.SetAttributes(attribute.String("notification.type", kind))

	if !n.Type.Handled() {
		telemetry.NotificationsTotal.WithLabelValues(kind, "ignored").Inc()
		r.logger.Info("Notification type not processed", zap.String("type", kind))
		return &ReconcileResult{Handled: false}, nil
	}

	gatewayID := n.Data.ID.String()
	if gatewayID == "" {
		telemetry.NotificationsTotal.WithLabelValues(kind, "invalid").Inc()
		return nil, apperrors.NewValidationError("data.id", "payment id is required")
	}
	span.SetAttributes(attribute.String("mp_payment_id", gatewayID))

	release, err := r.acquire(ctx, gatewayID)
	if err != nil {
		telemetry.NotificationsTotal.WithLabelValues(kind, "failed").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer release()

	result, err := r.reconcilePayment(ctx, gatewayID)
	if err != nil {
		telemetry.NotificationsTotal.WithLabelValues(kind, "failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("Failed to reconcile payment notification",
			zap.String("mp_payment_id", gatewayID),
			zap.Error(err),
		)
		return nil, err
	}

	telemetry.NotificationsTotal.WithLabelValues(kind, "processed").Inc()
	span.SetAttributes(
		attribute.String("payment_id", result.PaymentID),
		attribute.String("payment.status", string(result.Status)),
	)
	return result, nil
}

// acquire takes the per-payment notification lock. A Redis failure is logged and
// processing continues unlocked.
func (r *Reconciler) acquire(ctx context.Context, gatewayID string) (func(), error) {
	noop := func() {}
	if r.locker == nil {
		return noop, nil
	}

	release, ok, err := r.locker.Acquire(ctx, notificationLockPrefix+gatewayID, r.lockTTL)
	if err != nil {
		r.logger.Warn("Notification lock unavailable, continuing without it",
			zap.String("mp_payment_id", gatewayID),
			zap.Error(err),
		)
		return noop, nil
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotificationInFlight, gatewayID)
	}
	return release, nil
}

func (r *Reconciler) reconcilePayment(ctx context.Context, gatewayID string) (*ReconcileResult, error) {
	gp, err := r.gateway.GetPayment(ctx, gatewayID)
	if err != nil {
		return nil, err
	}

	if gp.PreferenceID == "" {
		return nil, fmt.Errorf("%w: gateway payment %s has no preference", apperrors.ErrPaymentRecordNotFound, gatewayID)
	}

	logger := r.logger.With(
		zap.String("mp_payment_id", gatewayID),
		zap.String("preference_id", gp.PreferenceID),
		zap.String("external_reference", gp.ExternalReference),
	)

	payment, err := r.payments.GetByPreferenceID(ctx, gp.PreferenceID)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("payment_id", payment.ID))

	result := &ReconcileResult{
		Handled:          true,
		PaymentID:        payment.ID,
		GatewayPaymentID: gatewayID,
	}
	if payment.OrderID != nil {
		result.OrderID = *payment.OrderID
	}

	if payment.HasDeferredOrder() {
		orderID, created, err := r.materializeOrder(ctx, payment, gatewayID, logger)
		if err != nil {
			return nil, err
		}
		result.OrderID = orderID
		result.OrderCreated = created
	}

	status := models.MapGatewayStatus(gp.Status)
	update := models.PaymentUpdate{
		GatewayPaymentID: gatewayID,
		Status:           status,
		GatewayStatus:    gp.Status,
		StatusDetail:     gp.StatusDetail,
	}
	if result.OrderID != "" {
		orderID := result.OrderID
		update.OrderID = &orderID
	}

	previous, err := r.payments.ApplyNotification(ctx, payment.ID, update)
	if err != nil {
		return nil, err
	}
	// completed is never downgraded by the update
	if previous == models.PaymentCompleted {
		status = models.PaymentCompleted
	}
	result.Status = status
	result.PreviousStatus = previous

	logger.Info("Payment reconciled",
		zap.String("order_id", result.OrderID),
		zap.String("mp_status", gp.Status),
		zap.String("from_status", string(previous)),
		zap.String("to_status", string(status)),
	)

	if status != previous {
		r.publishStatusChange(ctx, result, gp.Status, logger)
	}

	// Gated on the persisted marker so a failed settlement is retried on redelivery.
	if status == models.PaymentCompleted && payment.DebtSettledAt == nil {
		settled, err := r.settleDebts(ctx, payment.ID, result.OrderID, gp.Metadata.ClientDebt(), logger)
		if err != nil {
			return nil, err
		}
		result.DebtsSettled = settled
	}

	return result, nil
}

// materializeOrder creates the deferred order for the payment. Items are only
// written by the delivery that actually inserted the order.
func (r *Reconciler) materializeOrder(ctx context.Context, payment *models.Payment, gatewayID string, logger *zap.Logger) (string, bool, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "Reconciler.materializeOrder")
	defer span.End()

	orderID, created, err := r.orders.CreateForPayment(ctx, models.NewOrder{
		PaymentID: payment.ID,
		Data:      *payment.OrderData,
	})
	if err != nil {
		span.RecordError(err)
		if markErr := r.payments.MarkFailed(ctx, payment.ID, gatewayID); markErr != nil {
			logger.Error("Failed to mark payment failed after order creation error", zap.Error(markErr))
		}
		return "", false, &apperrors.OrderCreationError{PaymentID: payment.ID, Err: err}
	}

	if !created {
		logger.Info("Order already exists for payment", zap.String("order_id", orderID))
		return orderID, false, nil
	}

	telemetry.OrdersCreatedTotal.WithLabelValues("notification").Inc()
	logger.Info("Order created from payment", zap.String("order_id", orderID))

	if err := r.orders.InsertItems(ctx, payment.OrderData.ItemsFor(orderID)); err != nil {
		logger.Error("Failed to insert order items",
			zap.String("order_id", orderID),
			zap.Int("items", len(payment.OrderData.Items)),
			zap.Error(err),
		)
	}
	return orderID, true, nil
}

// settleDebts flips the order owner's pending debts to paid and stamps the payment's
// settlement marker. Any failure is returned so the notification is redelivered.
func (r *Reconciler) settleDebts(ctx context.Context, paymentID, orderID string, clientDebt decimal.Decimal, logger *zap.Logger) (int64, error) {
	if !clientDebt.IsPositive() || orderID == "" {
		return 0, nil
	}

	userID, err := r.orders.GetUserID(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve client of order %s for debt settlement: %w", orderID, err)
	}

	n, err := r.debts.SettlePending(ctx, userID, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to settle debts of client %s: %w", userID, err)
	}
	if _, err := r.payments.MarkDebtSettled(ctx, paymentID); err != nil {
		return 0, err
	}

	telemetry.DebtsSettledTotal.Add(float64(n))
	logger.Info("Client debts settled",
		zap.String("client_id", userID),
		zap.Int64("debts", n),
		zap.String("client_debt", clientDebt.StringFixed(2)),
	)
	return n, nil
}

func (r *Reconciler) publishStatusChange(ctx context.Context, result *ReconcileResult, gatewayStatus string, logger *zap.Logger) {
	if r.publisher == nil {
		return
	}
	event := models.PaymentStatusChanged{
		PaymentID:        result.PaymentID,
		OrderID:          result.OrderID,
		GatewayPaymentID: result.GatewayPaymentID,
		Status:           result.Status,
		PreviousStatus:   result.PreviousStatus,
		GatewayStatus:    gatewayStatus,
		Timestamp:        r.now().UTC(),
	}
	if err := r.publisher.Publish(ctx, result.PaymentID, event); err != nil {
		logger.Error("Failed to publish payment status change", zap.Error(err))
	}
}
