package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderDelivered OrderStatus = "delivered"
)

const PaymentMethodCard = "card"

// OrderData is the deferred order payload stored with a payment until the first
// gateway notification materializes it.
type OrderData struct {
	UserID                    string          `json:"user_id" binding:"required"`
	RestaurantID              string          `json:"restaurant_id" binding:"required"`
	TotalAmount               decimal.Decimal `json:"total_amount"`
	DeliveryAddress           string          `json:"delivery_address"`
	DeliveryLat               *float64        `json:"delivery_lat,omitempty"`
	DeliveryLon               *float64        `json:"delivery_lon,omitempty"`
	DeliveryPlaceID           *string         `json:"delivery_place_id,omitempty"`
	DeliveryAddressStructured json.RawMessage `json:"delivery_address_structured,omitempty"`
	OrderNotes                *string         `json:"order_notes,omitempty"`
	Items                     []OrderItemData `json:"items" binding:"dive"`
}

type OrderItemData struct {
	ProductID          string          `json:"product_id" binding:"required"`
	Quantity           int             `json:"quantity" binding:"gt=0"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	PriceAtTimeOfOrder decimal.Decimal `json:"price_at_time_of_order"`
}

// NewOrder is the insert shape for an order created from a payment.
type NewOrder struct {
	PaymentID string
	Data      OrderData
}

type Order struct {
	ID            string
	UserID        string
	RestaurantID  string
	TotalAmount   decimal.Decimal
	PaymentMethod string
	Status        OrderStatus
	PaymentStatus *string
	PaymentID     *string
	CreatedAt     time.Time
}

type OrderItem struct {
	OrderID            string
	ProductID          string
	Quantity           int
	UnitPrice          decimal.Decimal
	PriceAtTimeOfOrder decimal.Decimal
}

// ItemsFor builds order_items rows for a created order.
func (d OrderData) ItemsFor(orderID string) []OrderItem {
	items := make([]OrderItem, 0, len(d.Items))
	for _, it := range d.Items {
		items = append(items, OrderItem{
			OrderID:            orderID,
			ProductID:          it.ProductID,
			Quantity:           it.Quantity,
			UnitPrice:          it.UnitPrice,
			PriceAtTimeOfOrder: it.PriceAtTimeOfOrder,
		})
	}
	return items
}

// OrderDeliveredEvent is consumed from Kafka by the ledger.
type OrderDeliveredEvent struct {
	OrderID string `json:"order_id"`
}
