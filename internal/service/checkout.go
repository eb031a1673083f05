package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-reconciler/internal/apperrors"
	"github.com/akylbek/payment-system/payment-reconciler/internal/gateway"
	"github.com/akylbek/payment-system/payment-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

// cardPaymentNamespace derives local card payment ids from client idempotency keys.
var cardPaymentNamespace = uuid.MustParse("8a4f6c3e-2b1d-4e7a-9f05-6c3d2e1b0a97")

type CheckoutConfig struct {
	Currency            string
	WebhookURL          string
	StatementDescriptor string
}

// CheckoutService opens gateway checkouts and charges cards on behalf of clients.
type CheckoutService struct {
	payments interfaces.PaymentRepository
	orders   interfaces.OrderRepository
	debts    interfaces.DebtRepository
	gateway  interfaces.PaymentGateway
	cfg      CheckoutConfig
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

func NewCheckoutService(
	payments interfaces.PaymentRepository,
	orders interfaces.OrderRepository,
	debts interfaces.DebtRepository,
	gw interfaces.PaymentGateway,
	cfg CheckoutConfig,
	logger *zap.Logger,
) *CheckoutService {
	return &CheckoutService{
		payments: payments,
		orders:   orders,
		debts:    debts,
		gateway:  gw,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// CreateCheckout creates a gateway preference and the pending payment that the
// webhook later resolves by preference id. Without an existing order the order
// payload is stored on the payment and materialized by the first notification.
func (s *CheckoutService) CreateCheckout(ctx context.Context, req models.CreateCheckoutRequest) (*models.CheckoutSession, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "CheckoutService.CreateCheckout")
	defer span.End()

	if !req.Amount.IsPositive() {
		return nil, apperrors.NewValidationError("amount", "must be a positive number")
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, apperrors.NewValidationError("description", "is required")
	}
	if strings.TrimSpace(req.Email) == "" {
		return nil, apperrors.NewValidationError("email", "is required")
	}

	orderID := strings.TrimSpace(req.OrderID)
	temporary := strings.HasPrefix(orderID, models.TempOrderPrefix)
	var existingOrderID *string
	switch {
	case orderID != "" && !temporary:
		if _, err := s.orders.GetByID(ctx, orderID); err != nil {
			return nil, err
		}
		existingOrderID = &orderID
	case req.OrderData != nil || temporary:
		if req.OrderData == nil {
			s.logger.Warn("Temporary order id without order data", zap.String("order_id", orderID))
		}
	default:
		return nil, apperrors.NewValidationError("order_id", "order_id or order_data is required")
	}

	amount := req.Amount.Round(2)
	externalRef := models.PendingCreationReference
	var metaOrderID any
	if existingOrderID != nil {
		externalRef = *existingOrderID
		metaOrderID = *existingOrderID
	}

	pref, err := s.gateway.CreatePreference(ctx, gateway.PreferenceRequest{
		Items: []gateway.PreferenceItem{{
			Title:      req.Description,
			Quantity:   1,
			UnitPrice:  amount.InexactFloat64(),
			CurrencyID: s.cfg.Currency,
		}},
		Payer: gateway.Payer{Email: req.Email},
		BackURLs: gateway.BackURLs{
			Success: s.cfg.WebhookURL,
			Failure: s.cfg.WebhookURL,
			Pending: s.cfg.WebhookURL,
		},
		AutoReturn:        models.GatewayApproved,
		ExternalReference: externalRef,
		NotificationURL:   s.cfg.WebhookURL,
		Metadata: map[string]any{
			"order_id":       metaOrderID,
			"client_debt":    nonNegative(req.ClientDebt).InexactFloat64(),
			"has_order_data": req.OrderData != nil,
		},
	})
	if err != nil {
		return nil, err
	}

	payment, err := s.payments.Create(ctx, models.NewPayment{
		OrderID:          existingOrderID,
		PreferenceID:     &pref.ID,
		Amount:           amount,
		Currency:         s.cfg.Currency,
		PaymentMethod:    models.PaymentMethodCard,
		Status:           models.PaymentPending,
		InitPoint:        &pref.InitPoint,
		ClientDebtAmount: nonNegative(req.ClientDebt),
		OrderData:        req.OrderData,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Checkout created",
		zap.String("payment_id", payment.ID),
		zap.String("preference_id", pref.ID),
		zap.String("external_reference", externalRef),
		zap.Bool("deferred_order", req.OrderData != nil && existingOrderID == nil),
	)

	return &models.CheckoutSession{
		PreferenceID: pref.ID,
		InitPoint:    pref.InitPoint,
		PaymentID:    payment.ID,
	}, nil
}

// ProcessCardPayment tokenizes the card, charges it and records the order and
// payment. A rejected charge returns Rejected without any writes.
func (s *CheckoutService) ProcessCardPayment(ctx context.Context, req models.CardPaymentRequest) (*models.CardPaymentResult, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "CheckoutService.ProcessCardPayment")
	defer span.End()

	if !req.Amount.IsPositive() {
		return nil, apperrors.NewValidationError("amount", "must be a positive number")
	}
	if req.OrderData == nil {
		return nil, apperrors.NewValidationError("order_data", "is required")
	}
	month, err := strconv.Atoi(req.CardData.ExpirationMonth)
	if err != nil {
		return nil, apperrors.NewValidationError("card_data.expiration_month", "must be numeric")
	}
	year, err := strconv.Atoi(req.CardData.ExpirationYear)
	if err != nil {
		return nil, apperrors.NewValidationError("card_data.expiration_year", "must be numeric")
	}

	// The local payment id doubles as the gateway idempotency key and the order's payment_id.
	paymentID := s.newID()
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		paymentID = uuid.NewSHA1(cardPaymentNamespace, []byte(key)).String()
		recorded, err := s.payments.GetByID(ctx, paymentID)
		switch {
		case err == nil:
			s.logger.Info("Replaying recorded card payment", zap.String("payment_id", paymentID))
			return replayCardPayment(recorded), nil
		case !errors.Is(err, apperrors.ErrPaymentNotFound):
			return nil, err
		}
	}

	amount := req.Amount.Round(2)
	clientDebt := nonNegative(req.ClientDebt)
	orderData := *req.OrderData

	token, err := s.gateway.CreateCardToken(ctx, gateway.CardTokenRequest{
		CardNumber:      req.CardData.CardNumber,
		SecurityCode:    req.CardData.SecurityCode,
		ExpirationMonth: month,
		ExpirationYear:  year,
		Cardholder: gateway.Cardholder{
			Name: req.CardData.CardholderName,
			Identification: gateway.Identification{
				Type:   req.CardData.IdentificationType,
				Number: req.CardData.IdentificationNumber,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	payer := gateway.Payer{Email: req.Payer.Email}
	if req.Payer.Identification != nil {
		payer.Identification = &gateway.Identification{
			Type:   req.Payer.Identification.Type,
			Number: req.Payer.Identification.Number,
		}
	}
	installments := req.Installments
	if installments < 1 {
		installments = 1
	}

	gp, err := s.gateway.CreatePayment(ctx, gateway.PaymentRequest{
		TransactionAmount:   amount.InexactFloat64(),
		Token:               token.ID,
		Description:         req.Description,
		Installments:        installments,
		PaymentMethodID:     token.PaymentMethodID,
		IssuerID:            token.IssuerID.String(),
		Payer:               payer,
		ExternalReference:   paymentID,
		StatementDescriptor: s.cfg.StatementDescriptor,
		Metadata: map[string]any{
			"user_id":       orderData.UserID,
			"restaurant_id": orderData.RestaurantID,
			"client_debt":   clientDebt.InexactFloat64(),
		},
	}, paymentID)
	if err != nil {
		return nil, err
	}

	gatewayID := gp.ID.String()
	logger := s.logger.With(
		zap.String("payment_id", paymentID),
		zap.String("mp_payment_id", gatewayID),
		zap.String("mp_status", gp.Status),
	)

	result := &models.CardPaymentResult{
		GatewayPaymentID: gatewayID,
		GatewayStatus:    gp.Status,
		StatusDetail:     gp.StatusDetail,
	}
	if gp.Status == models.GatewayRejected {
		logger.Info("Card payment rejected", zap.String("status_detail", gp.StatusDetail))
		result.Rejected = true
		return result, nil
	}

	orderID, created, err := s.orders.CreateForPayment(ctx, models.NewOrder{PaymentID: paymentID, Data: orderData})
	if err != nil {
		logger.Error("Failed to create order for card payment", zap.Error(err))
		return nil, &apperrors.OrderCreationError{PaymentID: paymentID, Err: err}
	}
	logger = logger.With(zap.String("order_id", orderID))
	if created {
		telemetry.OrdersCreatedTotal.WithLabelValues("card").Inc()
		if err := s.orders.InsertItems(ctx, orderData.ItemsFor(orderID)); err != nil {
			logger.Error("Failed to insert order items", zap.Error(err))
		}
	}

	status := models.MapGatewayStatus(gp.Status)
	var paidAt *time.Time
	if status == models.PaymentCompleted {
		at := s.now().UTC()
		paidAt = &at
	}
	details, _ := json.Marshal(map[string]any{
		"payment_method_id": token.PaymentMethodID,
		"installments":      installments,
		"status_detail":     gp.StatusDetail,
	})

	if _, err := s.payments.Create(ctx, models.NewPayment{
		ID:               paymentID,
		OrderID:          &orderID,
		GatewayPaymentID: &gatewayID,
		Amount:           amount,
		Currency:         s.cfg.Currency,
		PaymentMethod:    models.PaymentMethodCard,
		Status:           status,
		GatewayStatus:    &gp.Status,
		StatusDetail:     &gp.StatusDetail,
		ClientDebtAmount: clientDebt,
		Details:          details,
		PaidAt:           paidAt,
	}); err != nil {
		// The order exists and the charge went through; the webhook carries no
		// preference for this payment, so this is left for manual reconciliation.
		logger.Error("Failed to record card payment", zap.Error(err))
	}

	if status == models.PaymentCompleted && clientDebt.IsPositive() {
		n, err := s.debts.SettlePending(ctx, orderData.UserID, s.now().UTC())
		if err != nil {
			logger.Error("Failed to settle client debts", zap.String("client_id", orderData.UserID), zap.Error(err))
		} else {
			telemetry.DebtsSettledTotal.Add(float64(n))
		}
	}

	split := ComputeSplit(orderData.TotalAmount, DefaultDeliveryFee)
	logger.Info("Card payment recorded; revenue split is booked on delivery",
		zap.String("status", string(status)),
		zap.String("product_total", split.ProductTotal.StringFixed(2)),
		zap.String("restaurant_net", split.RestaurantNet.StringFixed(2)),
		zap.String("platform_commission", split.PlatformCommission.StringFixed(2)),
		zap.String("delivery_earning", split.DeliveryEarning.StringFixed(2)),
	)

	result.Approved = status == models.PaymentCompleted
	result.PaymentID = paymentID
	result.OrderID = orderID
	return result, nil
}

// CheckStatus returns the local status, refreshing it from the gateway while it is not terminal.
func (s *CheckoutService) CheckStatus(ctx context.Context, paymentID string) (*models.StatusCheck, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "CheckoutService.CheckStatus")
	defer span.End()

	if strings.TrimSpace(paymentID) == "" {
		return nil, apperrors.NewValidationError("payment_id", "is required")
	}

	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if p.Status.IsTerminal() {
		return &models.StatusCheck{
			Status:           p.Status,
			GatewayPaymentID: deref(p.GatewayPaymentID),
			GatewayStatus:    deref(p.GatewayStatus),
			StatusDetail:     deref(p.StatusDetail),
		}, nil
	}

	if p.GatewayPaymentID == nil || *p.GatewayPaymentID == "" {
		return &models.StatusCheck{
			Status:  models.PaymentPending,
			Message: "Payment pending processing",
		}, nil
	}

	gp, err := s.gateway.GetPayment(ctx, *p.GatewayPaymentID)
	if err != nil {
		return nil, err
	}

	status := models.MapGatewayStatus(gp.Status)
	if err := s.payments.UpdateGatewayStatus(ctx, p.ID, status, gp.Status, gp.StatusDetail); err != nil {
		return nil, err
	}

	return &models.StatusCheck{
		Status:           status,
		GatewayPaymentID: *p.GatewayPaymentID,
		GatewayStatus:    gp.Status,
		StatusDetail:     gp.StatusDetail,
	}, nil
}

// CreateOrderPreference opens a checkout for an order that already exists and
// attaches the preference to the order's payments.
func (s *CheckoutService) CreateOrderPreference(ctx context.Context, req models.OrderPreferenceRequest) (*models.CheckoutSession, error) {
	if !req.TotalAmount.IsPositive() {
		return nil, apperrors.NewValidationError("total_amount", "must be a positive number")
	}

	pref, err := s.gateway.CreatePreference(ctx, gateway.PreferenceRequest{
		Items: []gateway.PreferenceItem{{
			Title:      req.Description,
			Quantity:   1,
			UnitPrice:  req.TotalAmount.Round(2).InexactFloat64(),
			CurrencyID: s.cfg.Currency,
		}},
		Payer: gateway.Payer{Email: req.ClientEmail},
		BackURLs: gateway.BackURLs{
			Success: s.cfg.WebhookURL,
			Failure: s.cfg.WebhookURL,
			Pending: s.cfg.WebhookURL,
		},
		AutoReturn:        models.GatewayApproved,
		ExternalReference: req.OrderID,
		NotificationURL:   s.cfg.WebhookURL,
		Metadata: map[string]any{
			"order_id":    req.OrderID,
			"client_debt": nonNegative(req.ClientDebt).InexactFloat64(),
		},
	})
	if err != nil {
		return nil, err
	}

	n, err := s.payments.SetPreferenceForOrder(ctx, req.OrderID, pref.ID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		s.logger.Warn("No payment rows for order; notifications for this preference will not resolve",
			zap.String("order_id", req.OrderID),
			zap.String("preference_id", pref.ID),
		)
	}

	return &models.CheckoutSession{PreferenceID: pref.ID, InitPoint: pref.InitPoint}, nil
}

// PayOrder charges an existing order with a client-side card token.
func (s *CheckoutService) PayOrder(ctx context.Context, req models.OrderPaymentRequest) (*models.GatewayPaymentState, error) {
	if !req.Amount.IsPositive() {
		return nil, apperrors.NewValidationError("amount", "must be a positive number")
	}

	// Card tokens are single use, so order+token identifies one charge attempt.
	key := req.OrderID + ":" + req.Token
	gp, err := s.gateway.CreatePayment(ctx, gateway.PaymentRequest{
		TransactionAmount: req.Amount.Round(2).InexactFloat64(),
		Token:             req.Token,
		Description:       req.Description,
		Installments:      1,
		PaymentMethodID:   req.PaymentMethodID,
		Payer:             gateway.Payer{Email: req.Email},
		ExternalReference: req.OrderID,
		Metadata:          map[string]any{"order_id": req.OrderID},
	}, key)
	if err != nil {
		return nil, err
	}

	if err := s.applyOrderPayment(ctx, req.OrderID, gp); err != nil {
		return nil, err
	}

	return &models.GatewayPaymentState{
		GatewayPaymentID: gp.ID.String(),
		Status:           gp.Status,
		StatusDetail:     gp.StatusDetail,
	}, nil
}

// GatewayPaymentStatus passes the gateway's view of a payment through.
func (s *CheckoutService) GatewayPaymentStatus(ctx context.Context, gatewayPaymentID string) (*models.GatewayPaymentState, error) {
	gp, err := s.gateway.GetPayment(ctx, gatewayPaymentID)
	if err != nil {
		return nil, err
	}
	return &models.GatewayPaymentState{
		GatewayPaymentID: gp.ID.String(),
		Status:           gp.Status,
		StatusDetail:     gp.StatusDetail,
	}, nil
}

// RetryPayment charges the card of a previous gateway payment again for the same order.
func (s *CheckoutService) RetryPayment(ctx context.Context, req models.RetryPaymentRequest) (*models.GatewayPaymentState, error) {
	original, err := s.gateway.GetPayment(ctx, req.GatewayPaymentID.String())
	if err != nil {
		return nil, err
	}

	gp, err := s.gateway.CreatePayment(ctx, gateway.PaymentRequest{
		TransactionAmount: original.TransactionAmount.InexactFloat64(),
		Token:             original.Card.ID,
		Description:       original.Description,
		Installments:      1,
		PaymentMethodID:   original.PaymentMethodID,
		Payer:             gateway.Payer{Email: original.Payer.Email},
		ExternalReference: req.OrderID,
	}, s.newID())
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment retried",
		zap.String("order_id", req.OrderID),
		zap.String("original_mp_payment_id", req.GatewayPaymentID.String()),
		zap.String("mp_payment_id", gp.ID.String()),
		zap.String("mp_status", gp.Status),
	)

	if err := s.applyOrderPayment(ctx, req.OrderID, gp); err != nil {
		return nil, err
	}

	return &models.GatewayPaymentState{
		GatewayPaymentID: gp.ID.String(),
		Status:           gp.Status,
		StatusDetail:     gp.StatusDetail,
	}, nil
}

func (s *CheckoutService) applyOrderPayment(ctx context.Context, orderID string, gp *gateway.Payment) error {
	status := models.MapGatewayStatus(gp.Status)
	n, err := s.payments.UpdateByOrderID(ctx, orderID, gp.ID.String(), status)
	if err != nil {
		return err
	}
	if n == 0 {
		s.logger.Warn("No payment rows updated for order", zap.String("order_id", orderID))
	}
	if status == models.PaymentCompleted {
		if err := s.orders.MarkPaid(ctx, orderID); err != nil {
			return fmt.Errorf("payment %s approved: %w", gp.ID, err)
		}
	}
	return nil
}

// replayCardPayment rebuilds the result of a card payment that was already recorded.
func replayCardPayment(p *models.Payment) *models.CardPaymentResult {
	return &models.CardPaymentResult{
		Approved:         p.Status == models.PaymentCompleted,
		GatewayPaymentID: deref(p.GatewayPaymentID),
		GatewayStatus:    deref(p.GatewayStatus),
		StatusDetail:     deref(p.StatusDetail),
		PaymentID:        p.ID,
		OrderID:          deref(p.OrderID),
	}
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
