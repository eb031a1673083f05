package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/payment-reconciler/internal/apperrors"
	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

const paymentColumns = `id, order_id, mp_preference_id, mp_payment_id, amount, currency, payment_method,
	status, mp_status, mp_status_detail, mp_init_point, client_debt_amount, order_data,
	created_at, updated_at, paid_at, debt_settled_at`

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a payment attempt. A zero ID gets a fresh UUID.
func (r *PaymentRepository) Create(ctx context.Context, p models.NewPayment) (*models.Payment, error) {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}

	var orderData []byte
	if p.OrderData != nil {
		var err error
		if orderData, err = json.Marshal(p.OrderData); err != nil {
			return nil, fmt.Errorf("failed to encode order_data: %w", err)
		}
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO payments (id, order_id, mp_preference_id, mp_payment_id, amount, currency, payment_method,
			status, mp_status, mp_status_detail, mp_init_point, client_debt_amount, order_data, payment_details, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING `+paymentColumns,
		id, p.OrderID, p.PreferenceID, p.GatewayPaymentID, p.Amount, p.Currency, p.PaymentMethod,
		p.Status, p.GatewayStatus, p.StatusDetail, p.InitPoint, p.ClientDebtAmount, jsonParam(orderData),
		jsonParam(p.Details), p.PaidAt,
	)
	payment, err := scanPayment(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}
	return payment, nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	if !isUUID(id) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrPaymentNotFound, id)
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	payment, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrPaymentNotFound, id)
	}
	return payment, err
}

// GetByPreferenceID returns the most recent payment for a gateway preference.
func (r *PaymentRepository) GetByPreferenceID(ctx context.Context, preferenceID string) (*models.Payment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE mp_preference_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, preferenceID)
	payment, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: preference %s", apperrors.ErrPaymentRecordNotFound, preferenceID)
	}
	return payment, err
}

// ApplyNotification writes a reconciled notification onto the payment row and
// returns the status the row had before. The row is locked for the statement;
// order_id is only ever filled, never replaced, and completed is never downgraded.
func (r *PaymentRepository) ApplyNotification(ctx context.Context, id string, upd models.PaymentUpdate) (models.PaymentStatus, error) {
	var previous models.PaymentStatus
	err := r.db.QueryRowContext(ctx, `
		WITH prev AS (
			SELECT id, status FROM payments WHERE id = $1 FOR UPDATE
		)
		UPDATE payments p
		SET order_id = COALESCE(p.order_id, $2::uuid),
			mp_payment_id = CASE WHEN p.status = 'completed' THEN COALESCE(p.mp_payment_id, $3) ELSE $3 END,
			status = CASE WHEN p.status = 'completed' THEN p.status ELSE $4 END,
			mp_status = CASE WHEN p.status = 'completed' THEN p.mp_status ELSE $5 END,
			mp_status_detail = CASE WHEN p.status = 'completed' THEN p.mp_status_detail ELSE $6 END,
			paid_at = CASE WHEN $4 = 'completed' AND p.paid_at IS NULL THEN NOW() ELSE p.paid_at END,
			updated_at = NOW()
		FROM prev
		WHERE p.id = prev.id
		RETURNING prev.status
	`, id, upd.OrderID, upd.GatewayPaymentID, string(upd.Status), upd.GatewayStatus, upd.StatusDetail).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", apperrors.ErrPaymentNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to update payment %s: %w", id, err)
	}
	return previous, nil
}

// MarkFailed records a failed attempt unless the payment already completed.
func (r *PaymentRepository) MarkFailed(ctx context.Context, id, gatewayPaymentID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET mp_payment_id = $2, status = 'failed', updated_at = NOW()
		WHERE id = $1 AND status <> 'completed'
	`, id, gatewayPaymentID)
	if err != nil {
		return fmt.Errorf("failed to mark payment %s failed: %w", id, err)
	}
	return nil
}

// MarkDebtSettled stamps debt_settled_at unless it is already set. It reports
// whether this call stamped it.
func (r *PaymentRepository) MarkDebtSettled(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments SET debt_settled_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND debt_settled_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark debts settled for payment %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PaymentRepository) UpdateGatewayStatus(ctx context.Context, id string, status models.PaymentStatus, gatewayStatus, statusDetail string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = CASE WHEN status = 'completed' THEN status ELSE $2 END,
			mp_status = $3,
			mp_status_detail = $4,
			paid_at = CASE WHEN $2 = 'completed' AND paid_at IS NULL THEN NOW() ELSE paid_at END,
			updated_at = NOW()
		WHERE id = $1
	`, id, string(status), gatewayStatus, statusDetail)
	if err != nil {
		return fmt.Errorf("failed to update payment %s status: %w", id, err)
	}
	return nil
}

func (r *PaymentRepository) SetPreferenceForOrder(ctx context.Context, orderID, preferenceID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments SET mp_preference_id = $2, updated_at = NOW() WHERE order_id = $1
	`, orderID, preferenceID)
	if err != nil {
		return 0, fmt.Errorf("failed to set preference for order %s: %w", orderID, err)
	}
	return result.RowsAffected()
}

func (r *PaymentRepository) UpdateByOrderID(ctx context.Context, orderID, gatewayPaymentID string, status models.PaymentStatus) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET mp_payment_id = $2,
			status = CASE WHEN status = 'completed' THEN status ELSE $3 END,
			paid_at = CASE WHEN $3 = 'completed' AND paid_at IS NULL THEN NOW() ELSE paid_at END,
			updated_at = NOW()
		WHERE order_id = $1
	`, orderID, gatewayPaymentID, string(status))
	if err != nil {
		return 0, fmt.Errorf("failed to update payments for order %s: %w", orderID, err)
	}
	return result.RowsAffected()
}

func scanPayment(row scanner) (*models.Payment, error) {
	var (
		p                                                  models.Payment
		orderID, prefID, mpID, mpStatus, detail, initPoint sql.NullString
		status                                             string
		orderData                                          []byte
		paidAt, debtSettledAt                              sql.NullTime
		amount, debt                                       decimal.Decimal
	)
	err := row.Scan(&p.ID, &orderID, &prefID, &mpID, &amount, &p.Currency, &p.PaymentMethod,
		&status, &mpStatus, &detail, &initPoint, &debt, &orderData,
		&p.CreatedAt, &p.UpdatedAt, &paidAt, &debtSettledAt)
	if err != nil {
		return nil, err
	}

	p.OrderID = nullString(orderID)
	p.PreferenceID = nullString(prefID)
	p.GatewayPaymentID = nullString(mpID)
	p.GatewayStatus = nullString(mpStatus)
	p.StatusDetail = nullString(detail)
	p.InitPoint = nullString(initPoint)
	p.Status = models.PaymentStatus(status)
	p.Amount = amount
	p.ClientDebtAmount = debt
	p.PaidAt = nullTime(paidAt)
	p.DebtSettledAt = nullTime(debtSettledAt)

	if len(orderData) > 0 && string(orderData) != "null" {
		var od models.OrderData
		if err := json.Unmarshal(orderData, &od); err != nil {
			return nil, fmt.Errorf("failed to decode order_data of payment %s: %w", p.ID, err)
		}
		p.OrderData = &od
	}
	return &p, nil
}
