package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InitDB creates the tables the service reads and writes when they do not exist yet.
func InitDB(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			payment_id UUID UNIQUE,
			user_id VARCHAR(255) NOT NULL,
			restaurant_id VARCHAR(255) NOT NULL,
			total_amount NUMERIC(12,2) NOT NULL,
			delivery_address TEXT,
			delivery_lat DOUBLE PRECISION,
			delivery_lon DOUBLE PRECISION,
			delivery_place_id VARCHAR(255),
			delivery_address_structured JSONB,
			order_notes TEXT,
			payment_method VARCHAR(50) NOT NULL,
			status VARCHAR(50) NOT NULL DEFAULT 'pending',
			payment_status VARCHAR(50),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id BIGSERIAL PRIMARY KEY,
			order_id UUID NOT NULL REFERENCES orders(id),
			product_id VARCHAR(255) NOT NULL,
			quantity INT NOT NULL,
			unit_price NUMERIC(12,2) NOT NULL,
			price_at_time_of_order NUMERIC(12,2) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id UUID PRIMARY KEY,
			order_id UUID,
			mp_preference_id VARCHAR(255),
			mp_payment_id VARCHAR(255),
			amount NUMERIC(12,2) NOT NULL,
			currency VARCHAR(3) NOT NULL,
			payment_method VARCHAR(50) NOT NULL,
			status VARCHAR(20) NOT NULL,
			mp_status VARCHAR(50),
			mp_status_detail VARCHAR(255),
			mp_init_point TEXT,
			client_debt_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			order_data JSONB,
			payment_details JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			paid_at TIMESTAMPTZ,
			debt_settled_at TIMESTAMPTZ
		)`,
		`ALTER TABLE payments ADD COLUMN IF NOT EXISTS debt_settled_at TIMESTAMPTZ`,
		`CREATE INDEX IF NOT EXISTS idx_payments_preference ON payments(mp_preference_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_order ON payments(order_id)`,
		`CREATE TABLE IF NOT EXISTS client_debts (
			id BIGSERIAL PRIMARY KEY,
			client_id VARCHAR(255) NOT NULL,
			amount NUMERIC(12,2) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			paid_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_client_debts_client_status ON client_debts(client_id, status)`,
		`CREATE TABLE IF NOT EXISTS account_transactions (
			id BIGSERIAL PRIMARY KEY,
			order_id UUID NOT NULL,
			account_type VARCHAR(20) NOT NULL,
			transaction_type VARCHAR(50) NOT NULL,
			amount NUMERIC(12,2) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (order_id, transaction_type)
		)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return nil
}

// isUUID reports whether id can be compared with a UUID column without a cast error.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// jsonParam passes raw JSON as text so pq does not encode it as bytea.
func jsonParam(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
