package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type DebtRepository struct {
	db *sql.DB
}

func NewDebtRepository(db *sql.DB) *DebtRepository {
	return &DebtRepository{db: db}
}

// SettlePending flips every pending debt of the client to paid. Rows that are
// already paid are not touched, so repeating the call is harmless.
func (r *DebtRepository) SettlePending(ctx context.Context, clientID string, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE client_debts
		SET status = 'paid', paid_at = $2, updated_at = $2
		WHERE client_id = $1 AND status = 'pending'
	`, clientID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to settle debts of client %s: %w", clientID, err)
	}
	return result.RowsAffected()
}
