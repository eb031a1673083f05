package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/akylbek/payment-system/payment-reconciler/internal/models"
)

const pqUniqueViolation = "23505"

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Record inserts one account transaction. (order_id, transaction_type) is unique;
// a replayed entry reports false instead of failing.
func (r *LedgerRepository) Record(ctx context.Context, tx models.AccountTransaction) (bool, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO account_transactions (order_id, account_type, transaction_type, amount)
		VALUES ($1, $2, $3, $4)
	`, tx.OrderID, string(tx.AccountType), string(tx.TransactionType), tx.Amount)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("failed to record %s for order %s: %w", tx.TransactionType, tx.OrderID, err)
	}
	return true, nil
}
