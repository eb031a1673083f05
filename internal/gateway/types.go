package gateway

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

// Payment is the subset of GET/POST /v1/payments the service reads.
type Payment struct {
	ID                models.GatewayID `json:"id"`
	Status            string           `json:"status"`
	StatusDetail      string           `json:"status_detail"`
	ExternalReference string           `json:"external_reference"`
	PreferenceID      string           `json:"preference_id"`
	PaymentMethodID   string           `json:"payment_method_id"`
	TransactionAmount decimal.Decimal  `json:"transaction_amount"`
	Description       string           `json:"description"`
	Metadata          PaymentMetadata  `json:"metadata"`
	Payer             struct {
		Email string `json:"email"`
	} `json:"payer"`
	Card struct {
		ID string `json:"id"`
	} `json:"card"`
}

// PaymentMetadata keeps client_debt raw: a value that is not a JSON number counts as zero.
type PaymentMetadata struct {
	ClientDebtRaw json.RawMessage `json:"client_debt,omitempty"`
}

// ClientDebt returns the debt repayment hint, or zero when absent or not numeric.
func (m PaymentMetadata) ClientDebt() decimal.Decimal {
	raw := bytes.TrimSpace(m.ClientDebtRaw)
	if len(raw) == 0 || raw[0] == '"' {
		return decimal.Zero
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Amounts sent to the gateway are plain JSON numbers; decimal.Decimal marshals as a string.
type PreferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type PreferenceRequest struct {
	Items             []PreferenceItem `json:"items"`
	Payer             Payer            `json:"payer"`
	BackURLs          BackURLs         `json:"back_urls"`
	AutoReturn        string           `json:"auto_return,omitempty"`
	ExternalReference string           `json:"external_reference"`
	NotificationURL   string           `json:"notification_url,omitempty"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
}

type Preference struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

type Identification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type Payer struct {
	Email          string          `json:"email"`
	Identification *Identification `json:"identification,omitempty"`
}

type Cardholder struct {
	Name           string         `json:"name"`
	Identification Identification `json:"identification"`
}

type CardTokenRequest struct {
	CardNumber      string     `json:"card_number"`
	SecurityCode    string     `json:"security_code"`
	ExpirationMonth int        `json:"expiration_month"`
	ExpirationYear  int        `json:"expiration_year"`
	Cardholder      Cardholder `json:"cardholder"`
}

type CardToken struct {
	ID              string           `json:"id"`
	PaymentMethodID string           `json:"payment_method_id"`
	IssuerID        models.GatewayID `json:"issuer_id"`
}

type PaymentRequest struct {
	TransactionAmount   float64        `json:"transaction_amount"`
	Token               string         `json:"token,omitempty"`
	Description         string         `json:"description"`
	Installments        int            `json:"installments"`
	PaymentMethodID     string         `json:"payment_method_id"`
	IssuerID            string         `json:"issuer_id,omitempty"`
	Payer               Payer          `json:"payer"`
	ExternalReference   string         `json:"external_reference,omitempty"`
	StatementDescriptor string         `json:"statement_descriptor,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// errorBody is the gateway's error envelope.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Cause   []struct {
		Code        any    `json:"code"`
		Description string `json:"description"`
	} `json:"cause"`
}
