package models

import (
	"github.com/shopspring/decimal"
)

// TempOrderPrefix marks client-side order ids that do not exist in the orders table yet.
const TempOrderPrefix = "temp_"

// PendingCreationReference is the external_reference used while the order is deferred.
const PendingCreationReference = "pending_creation"

type CreateCheckoutRequest struct {
	OrderID     string          `json:"order_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" binding:"required"`
	Email       string          `json:"email" binding:"required,email"`
	ClientDebt  decimal.Decimal `json:"client_debt"`
	OrderData   *OrderData      `json:"order_data"`
}

type CheckoutSession struct {
	PreferenceID string `json:"preference_id"`
	InitPoint    string `json:"init_point"`
	PaymentID    string `json:"payment_id,omitempty"`
}

type CardData struct {
	CardNumber           string `json:"card_number" binding:"required"`
	CardholderName       string `json:"cardholder_name" binding:"required"`
	ExpirationMonth      string `json:"expiration_month" binding:"required,numeric"`
	ExpirationYear       string `json:"expiration_year" binding:"required,numeric"`
	SecurityCode         string `json:"security_code" binding:"required"`
	IdentificationType   string `json:"identification_type"`
	IdentificationNumber string `json:"identification_number"`
}

type PayerIdentification struct {
	Type   string `json:"type" binding:"required"`
	Number string `json:"number" binding:"required"`
}

type CardPayer struct {
	Email          string               `json:"email" binding:"required,email"`
	Identification *PayerIdentification `json:"identification"`
}

type CardPaymentRequest struct {
	CardData     CardData        `json:"card_data"`
	Installments int             `json:"installments" binding:"gte=0"`
	Payer        CardPayer       `json:"payer"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description" binding:"required"`
	OrderData    *OrderData      `json:"order_data" binding:"required"`
	ClientDebt   decimal.Decimal `json:"client_debt"`
	// IdempotencyKey makes a retried request replay the first charge instead of charging again.
	IdempotencyKey string `json:"idempotency_key" binding:"omitempty,max=64"`
}

// CardPaymentResult is returned for both accepted and rejected card payments.
type CardPaymentResult struct {
	Approved         bool
	Rejected         bool
	GatewayPaymentID string
	GatewayStatus    string
	StatusDetail     string
	PaymentID        string
	OrderID          string
}

// StatusCheck is the answer of a payment status check.
type StatusCheck struct {
	Status           PaymentStatus `json:"status"`
	GatewayPaymentID string        `json:"mp_payment_id,omitempty"`
	GatewayStatus    string        `json:"mp_status,omitempty"`
	StatusDetail     string        `json:"mp_status_detail,omitempty"`
	Message          string        `json:"message,omitempty"`
}

// PaymentAction is the closed set of operations accepted by the action endpoint.
type PaymentAction string

const (
	ActionCreatePreference PaymentAction = "create_preference"
	ActionProcessPayment   PaymentAction = "process_payment"
	ActionGetPaymentStatus PaymentAction = "get_payment_status"
	ActionRetryPayment     PaymentAction = "retry_payment"
)

func (a PaymentAction) Valid() bool {
	switch a {
	case ActionCreatePreference, ActionProcessPayment, ActionGetPaymentStatus, ActionRetryPayment:
		return true
	}
	return false
}

type ActionEnvelope struct {
	Action PaymentAction `json:"action"`
}

type OrderPreferenceRequest struct {
	OrderID     string          `json:"order_id" binding:"required,uuid"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ClientDebt  decimal.Decimal `json:"client_debt"`
	Description string          `json:"description" binding:"required"`
	ClientEmail string          `json:"client_email" binding:"required,email"`
}

type OrderPaymentRequest struct {
	OrderID         string          `json:"order_id" binding:"required,uuid"`
	Token           string          `json:"token" binding:"required"`
	PaymentMethodID string          `json:"payment_method_id" binding:"required"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	Email           string          `json:"email" binding:"required,email"`
}

type GatewayStatusRequest struct {
	PaymentID GatewayID `json:"payment_id" binding:"required"`
}

type RetryPaymentRequest struct {
	OrderID          string    `json:"order_id" binding:"required,uuid"`
	GatewayPaymentID GatewayID `json:"mp_payment_id" binding:"required"`
}

// GatewayPaymentState is a gateway payment reduced to what action callers see.
type GatewayPaymentState struct {
	GatewayPaymentID string
	Status           string
	StatusDetail     string
}
