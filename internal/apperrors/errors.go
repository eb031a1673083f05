package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrPaymentRecordNotFound means a notification referenced a preference with no local payment.
	ErrPaymentRecordNotFound = errors.New("payment record not found")
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrOrderNotFound         = errors.New("order not found")
	// ErrNotificationInFlight is returned while another delivery of the same gateway payment holds the lock.
	ErrNotificationInFlight = errors.New("notification is already being processed")
)

// ValidationError is a missing or malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// UpstreamFetchError is returned when the gateway is unreachable or answers non-2xx.
type UpstreamFetchError struct {
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s failed with status %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway %s failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("gateway %s failed: %s", e.Operation, e.Message)
}

func (e *UpstreamFetchError) Unwrap() error { return e.Err }

// OrderCreationError wraps a failed deferred order insert. The payment has already been marked failed.
type OrderCreationError struct {
	PaymentID string
	Err       error
}

func (e *OrderCreationError) Error() string {
	return fmt.Sprintf("failed to create order for payment %s: %v", e.PaymentID, e.Err)
}

func (e *OrderCreationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
