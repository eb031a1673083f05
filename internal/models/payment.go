package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// IsTerminal reports whether the status is no longer moved by status checks.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

// Gateway payment statuses we branch on. Anything else maps to pending.
const (
	GatewayApproved = "approved"
	GatewayRejected = "rejected"
	GatewayPending  = "pending"
)

// MapGatewayStatus maps the gateway vocabulary onto the local payment status.
func MapGatewayStatus(gatewayStatus string) PaymentStatus {
	switch gatewayStatus {
	case GatewayApproved:
		return PaymentCompleted
	case GatewayRejected:
		return PaymentFailed
	default:
		return PaymentPending
	}
}

// Payment is one payment attempt row.
type Payment struct {
	ID               string
	OrderID          *string
	PreferenceID     *string
	GatewayPaymentID *string
	Amount           decimal.Decimal
	Currency         string
	PaymentMethod    string
	Status           PaymentStatus
	GatewayStatus    *string
	StatusDetail     *string
	InitPoint        *string
	ClientDebtAmount decimal.Decimal
	OrderData        *OrderData
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaidAt           *time.Time
	// DebtSettledAt is stamped once the client's pending debts were settled for this payment.
	DebtSettledAt *time.Time
}

// HasDeferredOrder reports whether the order still has to be materialized from OrderData.
func (p *Payment) HasDeferredOrder() bool {
	return (p.OrderID == nil || *p.OrderID == "") && p.OrderData != nil
}

// NewPayment is the insert shape for a payment attempt. ID may be left empty.
type NewPayment struct {
	ID               string
	OrderID          *string
	PreferenceID     *string
	GatewayPaymentID *string
	Amount           decimal.Decimal
	Currency         string
	PaymentMethod    string
	Status           PaymentStatus
	GatewayStatus    *string
	StatusDetail     *string
	InitPoint        *string
	ClientDebtAmount decimal.Decimal
	OrderData        *OrderData
	Details          json.RawMessage
	PaidAt           *time.Time
}

// PaymentUpdate is applied by the reconciler in a single statement keyed by the internal id.
type PaymentUpdate struct {
	OrderID          *string
	GatewayPaymentID string
	Status           PaymentStatus
	GatewayStatus    string
	StatusDetail     string
}

// PaymentStatusChanged is published whenever a notification moves a payment's status.
type PaymentStatusChanged struct {
	PaymentID        string        `json:"payment_id"`
	OrderID          string        `json:"order_id,omitempty"`
	GatewayPaymentID string        `json:"mp_payment_id"`
	Status           PaymentStatus `json:"status"`
	PreviousStatus   PaymentStatus `json:"previous_status"`
	GatewayStatus    string        `json:"mp_status"`
	Timestamp        time.Time     `json:"timestamp"`
}
