package interfaces

import (
	"context"
	"time"

	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

// PaymentRepository defines the contract for payment attempt data access
type PaymentRepository interface {
	Create(ctx context.Context, p models.NewPayment) (*models.Payment, error)
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	GetByPreferenceID(ctx context.Context, preferenceID string) (*models.Payment, error)
	// ApplyNotification updates the row keyed by id and returns the status it had before.
	ApplyNotification(ctx context.Context, id string, upd models.PaymentUpdate) (models.PaymentStatus, error)
	MarkFailed(ctx context.Context, id, gatewayPaymentID string) error
	// MarkDebtSettled stamps the debt settlement marker once; false means it was already set.
	MarkDebtSettled(ctx context.Context, id string) (bool, error)
	UpdateGatewayStatus(ctx context.Context, id string, status models.PaymentStatus, gatewayStatus, statusDetail string) error
	SetPreferenceForOrder(ctx context.Context, orderID, preferenceID string) (int64, error)
	UpdateByOrderID(ctx context.Context, orderID, gatewayPaymentID string, status models.PaymentStatus) (int64, error)
}

// OrderRepository defines the contract for orders and their items
type OrderRepository interface {
	// CreateForPayment inserts the order unless one already exists for the payment.
	// created is false when an existing order id is returned.
	CreateForPayment(ctx context.Context, o models.NewOrder) (orderID string, created bool, err error)
	InsertItems(ctx context.Context, items []models.OrderItem) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetUserID(ctx context.Context, orderID string) (string, error)
	MarkPaid(ctx context.Context, orderID string) error
}

// DebtRepository defines the contract for client debt settlement
type DebtRepository interface {
	SettlePending(ctx context.Context, clientID string, at time.Time) (int64, error)
}

// LedgerRepository records account transactions for delivered orders
type LedgerRepository interface {
	// Record returns false when the transaction was already recorded.
	Record(ctx context.Context, tx models.AccountTransaction) (bool, error)
}
