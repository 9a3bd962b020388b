package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tronrecon/internal/money"
	"tronrecon/internal/types"
)

// CreateForm inserts a new pending form. It reports false (with no error)
// on a form_id uniqueness violation so the caller can retry with a fresh
// identifier.
func (db *DB) CreateForm(ctx context.Context, formID string, amount, originalAmount money.Amount, currency types.Currency, description, wallet string, expiresHours int, now int64) (bool, error) {
	expiresAt := now + int64(expiresHours)*3600

	_, err := db.Exec(ctx, `
		INSERT INTO payment_forms (form_id, amount, currency, description, status, created_at, updated_at, expires_at, wallet_address)
		VALUES (?, ?, ?, ?, 'pending', ?, ?, ?, ?)
	`, formID, amount.Float(), string(currency), description, now, now, expiresAt, wallet)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("store: create form: %w", err)
	}
	return true, nil
}

// GetForm returns the form by its canonical identifier, or (zero, false)
// if no such form exists.
func (db *DB) GetForm(ctx context.Context, formID string) (types.PaymentForm, bool, error) {
	row := db.QueryRow(ctx, `
		SELECT form_id, amount, currency, description, status, created_at, updated_at, expires_at, wallet_address
		FROM payment_forms WHERE form_id = ?
	`, formID)

	f, err := scanForm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PaymentForm{}, false, nil
	}
	if err != nil {
		return types.PaymentForm{}, false, fmt.Errorf("store: get form: %w", err)
	}
	return f, true, nil
}

// GetActiveForms returns every pending, unexpired form, newest first.
func (db *DB) GetActiveForms(ctx context.Context, now int64) ([]types.PaymentForm, error) {
	rows, err := db.Query(ctx, `
		SELECT form_id, amount, currency, description, status, created_at, updated_at, expires_at, wallet_address
		FROM payment_forms WHERE status = 'pending' AND expires_at > ?
		ORDER BY created_at DESC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("store: get active forms: %w", err)
	}
	defer rows.Close()

	var out []types.PaymentForm
	for rows.Next() {
		f, err := scanFormRows(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan active form: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetAllPaymentForms returns every form regardless of status, for
// diagnostics and collision-set gathering.
func (db *DB) GetAllPaymentForms(ctx context.Context) ([]types.PaymentForm, error) {
	rows, err := db.Query(ctx, `
		SELECT form_id, amount, currency, description, status, created_at, updated_at, expires_at, wallet_address
		FROM payment_forms ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: get all forms: %w", err)
	}
	defer rows.Close()

	var out []types.PaymentForm
	for rows.Next() {
		f, err := scanFormRows(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan form: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ExpireOldForms bulk-transitions every pending, past-deadline form to
// expired in a single statement and returns the number of rows affected.
// Guarded on status='pending' so a form already paid or already expired
// is never touched twice.
func (db *DB) ExpireOldForms(ctx context.Context, now int64) (int64, error) {
	res, err := db.Exec(ctx, `
		UPDATE payment_forms SET status = 'expired', updated_at = ?
		WHERE status = 'pending' AND expires_at <= ?
	`, now, now)
	if err != nil {
		return 0, fmt.Errorf("store: expire old forms: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanForm(row *sql.Row) (types.PaymentForm, error) {
	return scanFormGeneric(row)
}

func scanFormRows(rows *sql.Rows) (types.PaymentForm, error) {
	return scanFormGeneric(rows)
}

func scanFormGeneric(s rowScanner) (types.PaymentForm, error) {
	var f types.PaymentForm
	var amount float64
	var currency, status string
	var expiresAt sql.NullInt64

	err := s.Scan(&f.FormID, &amount, &currency, &f.Description, &status, &f.CreatedAt, &f.UpdatedAt, &expiresAt, &f.WalletAddress)
	if err != nil {
		return types.PaymentForm{}, err
	}
	f.Amount = money.FromFloat(amount)
	f.OriginalAmount = f.Amount
	f.Currency = types.Currency(currency)
	f.Status = types.FormStatus(status)
	f.ExpiresAt = expiresAt.Int64
	return f, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
