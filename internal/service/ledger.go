package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/payment-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
	"github.com/akylbek/payment-system/payment-reconciler/internal/telemetry"
)

var (
	DefaultDeliveryFee     = decimal.RequireFromString("35.00")
	platformCommissionRate = decimal.RequireFromString("0.20")
	deliveryEarningRate    = decimal.RequireFromString("0.85")
)

// ComputeSplit distributes an order total between restaurant, courier and platform.
func ComputeSplit(total, deliveryFee decimal.Decimal) models.RevenueSplit {
	productTotal := total.Sub(deliveryFee)
	commission := productTotal.Mul(platformCommissionRate).Round(2)
	deliveryEarning := deliveryFee.Mul(deliveryEarningRate).Round(2)
	return models.RevenueSplit{
		ProductTotal:           productTotal,
		PlatformCommission:     commission,
		RestaurantNet:          productTotal.Sub(commission),
		DeliveryEarning:        deliveryEarning,
		PlatformDeliveryMargin: deliveryFee.Sub(deliveryEarning),
	}
}

// MessageReader is the part of *kafka.Reader the ledger consumes from.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Ledger books account transactions for delivered card orders.
type Ledger struct {
	orders      interfaces.OrderRepository
	entries     interfaces.LedgerRepository
	deliveryFee decimal.Decimal
	logger      *zap.Logger
}

func NewLedger(orders interfaces.OrderRepository, entries interfaces.LedgerRepository, logger *zap.Logger) *Ledger {
	return &Ledger{
		orders:      orders,
		entries:     entries,
		deliveryFee: DefaultDeliveryFee,
		logger:      logger,
	}
}

// RecordDelivery writes the revenue split of a delivered order and returns how many
// entries were new. Replays of the same order write nothing.
func (l *Ledger) RecordDelivery(ctx context.Context, orderID string) (int, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "Ledger.RecordDelivery")
	defer span.End()

	order, err := l.orders.GetByID(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if order.PaymentMethod != models.PaymentMethodCard {
		l.logger.Info("Skipping ledger for non-card order",
			zap.String("order_id", orderID),
			zap.String("payment_method", order.PaymentMethod),
		)
		return 0, nil
	}
	if order.Status != models.OrderDelivered {
		l.logger.Warn("Order is not delivered, ledger not booked",
			zap.String("order_id", orderID),
			zap.String("status", string(order.Status)),
		)
		return 0, nil
	}

	split := ComputeSplit(order.TotalAmount, l.deliveryFee)
	txs := []models.AccountTransaction{
		{OrderID: orderID, AccountType: models.AccountRestaurant, TransactionType: models.TxOrderRevenue, Amount: split.ProductTotal},
		{OrderID: orderID, AccountType: models.AccountRestaurant, TransactionType: models.TxPlatformCommission, Amount: split.PlatformCommission},
		{OrderID: orderID, AccountType: models.AccountDelivery, TransactionType: models.TxDeliveryEarning, Amount: split.DeliveryEarning},
	}

	recorded := 0
	for _, tx := range txs {
		inserted, err := l.entries.Record(ctx, tx)
		if err != nil {
			return recorded, err
		}
		if inserted {
			recorded++
			telemetry.LedgerEntriesTotal.WithLabelValues(string(tx.TransactionType)).Inc()
		}
	}

	l.logger.Info("Ledger booked for delivered order",
		zap.String("order_id", orderID),
		zap.Int("entries", recorded),
		zap.String("product_total", split.ProductTotal.StringFixed(2)),
		zap.String("platform_delivery_margin", split.PlatformDeliveryMargin.StringFixed(2)),
	)
	return recorded, nil
}

// ConsumeDeliveries reads order.delivered events until ctx is cancelled or the reader is closed.
func (l *Ledger) ConsumeDeliveries(ctx context.Context, reader MessageReader) {
	l.logger.Info("Started consuming order.delivered events")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				l.logger.Info("Stopped consuming order.delivered events")
				return
			}
			l.logger.Error("Error reading message from Kafka", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var event models.OrderDeliveredEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil || event.OrderID == "" {
			l.logger.Error("Invalid order.delivered event",
				zap.ByteString("value", msg.Value),
				zap.Error(err),
			)
			continue
		}

		if _, err := l.RecordDelivery(ctx, event.OrderID); err != nil {
			l.logger.Error("Error booking ledger",
				zap.String("order_id", event.OrderID),
				zap.Error(err),
			)
		}
	}
}
