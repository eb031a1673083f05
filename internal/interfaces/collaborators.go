package interfaces

import (
	"context"
	"time"

	"github.com/akylbek/payment-system/payment-reconciler/internal/gateway"
)

// PaymentGateway is the subset of the gateway REST API the service calls.
type PaymentGateway interface {
	GetPayment(ctx context.Context, id string) (*gateway.Payment, error)
	CreatePreference(ctx context.Context, req gateway.PreferenceRequest) (*gateway.Preference, error)
	CreateCardToken(ctx context.Context, req gateway.CardTokenRequest) (*gateway.CardToken, error)
	CreatePayment(ctx context.Context, req gateway.PaymentRequest, idempotencyKey string) (*gateway.Payment, error)
}

// Locker serializes work on a key across service instances.
type Locker interface {
	// Acquire returns a release func, or ok=false when the key is already held.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// EventPublisher publishes domain events keyed for partitioning.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}
