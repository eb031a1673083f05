package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// NotificationKind is the closed set of gateway notification types the service knows.
type NotificationKind string

const (
	NotificationPayment       NotificationKind = "payment"
	NotificationMerchantOrder NotificationKind = "merchant_order"
)

// Handled reports whether notifications of this kind are reconciled.
func (k NotificationKind) Handled() bool {
	return k == NotificationPayment
}

// GatewayID is a gateway identifier that may be sent as a JSON number or string.
type GatewayID string

func (id *GatewayID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = GatewayID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("gateway id must be a string or number: %w", err)
	}
	*id = GatewayID(n.String())
	return nil
}

func (id GatewayID) String() string { return string(id) }

// Notification is the webhook envelope: {"type": "payment", "data": {"id": ...}}.
type Notification struct {
	Type NotificationKind `json:"type"`
	Data struct {
		ID GatewayID `json:"id"`
	} `json:"data"`
}

// WebhookAck is the body returned to the gateway (and to NATS relay requests).
type WebhookAck struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
