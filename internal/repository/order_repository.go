package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/akylbek/payment-system/payment-reconciler/internal/apperrors"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreateForPayment inserts the order for a payment. orders.payment_id is unique, so a
// concurrent duplicate loses the insert and gets the existing order id with created=false.
func (r *OrderRepository) CreateForPayment(ctx context.Context, o models.NewOrder) (string, bool, error) {
	d := o.Data
	var orderID string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO orders (id, payment_id, user_id, restaurant_id, total_amount, delivery_address,
			delivery_lat, delivery_lon, delivery_place_id, delivery_address_structured, order_notes,
			payment_method, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (payment_id) DO NOTHING
		RETURNING id
	`, uuid.NewString(), o.PaymentID, d.UserID, d.RestaurantID, d.TotalAmount, d.DeliveryAddress,
		d.DeliveryLat, d.DeliveryLon, d.DeliveryPlaceID, jsonParam(d.DeliveryAddressStructured), d.OrderNotes,
		models.PaymentMethodCard, string(models.OrderPending),
	).Scan(&orderID)
	if err == nil {
		return orderID, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("failed to insert order for payment %s: %w", o.PaymentID, err)
	}

	err = r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE payment_id = $1`, o.PaymentID).Scan(&orderID)
	if err != nil {
		return "", false, fmt.Errorf("failed to load existing order for payment %s: %w", o.PaymentID, err)
	}
	return orderID, false, nil
}

// InsertItems writes all items in one statement.
func (r *OrderRepository) InsertItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	values := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*5)
	for i, it := range items {
		n := i * 5
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, NOW())", n+1, n+2, n+3, n+4, n+5))
		args = append(args, it.OrderID, it.ProductID, it.Quantity, it.UnitPrice, it.PriceAtTimeOfOrder)
	}

	query := `INSERT INTO order_items (order_id, product_id, quantity, unit_price, price_at_time_of_order, created_at) VALUES ` +
		strings.Join(values, ", ")
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert %d order items: %w", len(items), err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	if !isUUID(id) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, id)
	}
	var (
		o             models.Order
		status        string
		paymentStatus sql.NullString
		paymentID     sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, restaurant_id, total_amount, payment_method, status, payment_status, payment_id, created_at
		FROM orders WHERE id = $1
	`, id).Scan(&o.ID, &o.UserID, &o.RestaurantID, &o.TotalAmount, &o.PaymentMethod, &status,
		&paymentStatus, &paymentID, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", id, err)
	}
	o.Status = models.OrderStatus(status)
	o.PaymentStatus = nullString(paymentStatus)
	o.PaymentID = nullString(paymentID)
	return &o, nil
}

func (r *OrderRepository) GetUserID(ctx context.Context, orderID string) (string, error) {
	if !isUUID(orderID) {
		return "", fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, orderID)
	}
	var userID string
	err := r.db.QueryRowContext(ctx, `SELECT user_id FROM orders WHERE id = $1`, orderID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", apperrors.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load user of order %s: %w", orderID, err)
	}
	return userID, nil
}

func (r *OrderRepository) MarkPaid(ctx context.Context, orderID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE orders SET payment_status = 'paid' WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("failed to mark order %s paid: %w", orderID, err)
	}
	return nil
}
