package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tronrecon/internal/money"
	"tronrecon/internal/types"
)

// RecordTransaction inserts a pending (unconfirmed, unmatched) transaction
// row. Unlike SettleAtomic's insert, this path never touches a form and
// is used only to keep a local record of transfers seen but not yet
// matched, feeding the Amount Generator's collision set.
func (db *DB) RecordTransaction(ctx context.Context, t types.Transaction) error {
	_, err := db.Exec(ctx, `
		INSERT INTO transactions (transaction_id, from_address, to_address, amount, currency, status, payment_form_id, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.TransactionID, t.FromAddress, t.ToAddress, t.Amount.Float(), string(t.Currency), string(t.Status), nullableString(t.PaymentFormID), t.Description, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("store: record transaction: %w", err)
	}
	return nil
}

// GetTransactionByID looks up a transaction by its chain hash.
func (db *DB) GetTransactionByID(ctx context.Context, transactionID string) (types.Transaction, bool, error) {
	row := db.QueryRow(ctx, `
		SELECT id, transaction_id, from_address, to_address, amount, currency, status, payment_form_id, description, created_at, updated_at
		FROM transactions WHERE transaction_id = ?
	`, transactionID)

	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Transaction{}, false, nil
	}
	if err != nil {
		return types.Transaction{}, false, fmt.Errorf("store: get transaction: %w", err)
	}
	return t, true, nil
}

// GetTransactionsByForm returns every transaction recorded against a
// form, most recent first.
func (db *DB) GetTransactionsByForm(ctx context.Context, formID string) ([]types.Transaction, error) {
	rows, err := db.Query(ctx, `
		SELECT id, transaction_id, from_address, to_address, amount, currency, status, payment_form_id, description, created_at, updated_at
		FROM transactions WHERE payment_form_id = ? ORDER BY created_at DESC
	`, formID)
	if err != nil {
		return nil, fmt.Errorf("store: get transactions by form: %w", err)
	}
	defer rows.Close()
	return scanTransactionList(rows)
}

// GetPendingTransactions returns every transaction not yet confirmed.
func (db *DB) GetPendingTransactions(ctx context.Context) ([]types.Transaction, error) {
	rows, err := db.Query(ctx, `
		SELECT id, transaction_id, from_address, to_address, amount, currency, status, payment_form_id, description, created_at, updated_at
		FROM transactions WHERE status = 'pending' ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: get pending transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactionList(rows)
}

func scanTransactionList(rows *sql.Rows) ([]types.Transaction, error) {
	var out []types.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(s rowScanner) (types.Transaction, error) {
	var t types.Transaction
	var amount float64
	var currency, status string
	var formID, description sql.NullString

	err := s.Scan(&t.ID, &t.TransactionID, &t.FromAddress, &t.ToAddress, &amount, &currency, &status, &formID, &description, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return types.Transaction{}, err
	}
	t.Amount = money.FromFloat(amount)
	t.Currency = types.Currency(currency)
	t.Status = types.TxStatus(status)
	t.PaymentFormID = formID.String
	t.Description = description.String
	return t, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
