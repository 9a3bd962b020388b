package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"tronrecon/internal/money"
	"tronrecon/internal/rerr"
	"tronrecon/internal/types"
)

// busyRetryDelays is the exponential backoff schedule used when the
// embedded database reports a lock-busy condition during settlement.
// Outside this class of failure, settlement is not retried.
var busyRetryDelays = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// SettleAtomic performs the serializable settlement critical section: it
// records the chain transaction and transitions the matching form from
// pending to paid in one immediate write transaction, or aborts with a
// specific Kind if any precondition fails. It is additionally serialized
// by a process-wide mutex so two in-process callers never contend on the
// database's own write lock unnecessarily.
func (db *DB) SettleAtomic(ctx context.Context, txID, from, to string, amount money.Amount, currency types.Currency, formID string) (types.SettleResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for attempt := 0; ; attempt++ {
		result, err := db.settleOnce(ctx, txID, from, to, amount, currency, formID)
		if err == nil {
			return result, nil
		}
		if !isBusy(err) || attempt >= len(busyRetryDelays) {
			return types.SettleResult{}, err
		}
		time.Sleep(busyRetryDelays[attempt])
	}
}

// settleOnce runs the eight-step critical section on a single dedicated
// connection, using BEGIN IMMEDIATE to acquire SQLite's reserved write
// lock up front rather than deferring lock acquisition to the first
// write, so writer/writer conflicts surface as an early, retryable busy
// error instead of a mid-transaction one.
func (db *DB) settleOnce(ctx context.Context, txID, from, to string, amount money.Amount, currency types.Currency, formID string) (types.SettleResult, error) {
	release, _ := db.acquire(ctx)
	defer release()

	conn, err := db.sqlDB.Conn(ctx)
	if err != nil {
		return types.SettleResult{}, rerr.Wrap(rerr.StorageFailed, "acquire connection", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return types.SettleResult{}, wrapStorageErr(err)
	}
	committed := false
	defer func() {
		if !committed {
			conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	var existingStatus string
	err = conn.QueryRowContext(ctx, `SELECT status FROM transactions WHERE transaction_id = ?`, txID).Scan(&existingStatus)
	hadPendingRow := false
	if err == nil {
		if existingStatus != string(types.TxPending) {
			return types.SettleResult{Success: false, Kind: string(rerr.AlreadyProcessed)}, nil
		}
		hadPendingRow = true
	} else if !errors.Is(err, sql.ErrNoRows) {
		return types.SettleResult{}, wrapStorageErr(err)
	}

	now := time.Now().Unix()

	var form types.PaymentForm
	var formAmount float64
	var formCurrency string
	var expiresAt sql.NullInt64
	err = conn.QueryRowContext(ctx, `
		SELECT form_id, amount, currency, expires_at FROM payment_forms
		WHERE form_id = ? AND status = 'pending'
	`, formID).Scan(&form.FormID, &formAmount, &formCurrency, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.SettleResult{Success: false, Kind: string(rerr.FormNotPending)}, nil
	}
	if err != nil {
		return types.SettleResult{}, wrapStorageErr(err)
	}
	form.Amount = money.FromFloat(formAmount)
	form.Currency = types.Currency(formCurrency)
	form.ExpiresAt = expiresAt.Int64

	if now > form.ExpiresAt {
		return types.SettleResult{Success: false, Kind: string(rerr.Expired)}, nil
	}

	if !amount.CloseEnough(form.Amount) || currency != form.Currency {
		return types.SettleResult{Success: false, Kind: string(rerr.Mismatch)}, nil
	}

	if hadPendingRow {
		_, err = conn.ExecContext(ctx, `
			UPDATE transactions SET from_address = ?, to_address = ?, amount = ?, currency = ?,
				status = 'confirmed', payment_form_id = ?, updated_at = ?
			WHERE transaction_id = ?
		`, from, to, amount.Float(), string(currency), formID, now, txID)
	} else {
		_, err = conn.ExecContext(ctx, `
			INSERT INTO transactions (transaction_id, from_address, to_address, amount, currency, status, payment_form_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 'confirmed', ?, ?, ?)
		`, txID, from, to, amount.Float(), string(currency), formID, now, now)
	}
	if err != nil {
		return types.SettleResult{}, wrapStorageErr(err)
	}

	res, err := conn.ExecContext(ctx, `
		UPDATE payment_forms SET status = 'paid', updated_at = ? WHERE form_id = ? AND status = 'pending'
	`, now, formID)
	if err != nil {
		return types.SettleResult{}, wrapStorageErr(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return types.SettleResult{}, wrapStorageErr(err)
	}
	if rows == 0 {
		return types.SettleResult{Success: false, Kind: string(rerr.RaceLost)}, nil
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return types.SettleResult{}, wrapStorageErr(err)
	}
	committed = true

	return types.SettleResult{Success: true}, nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

func wrapStorageErr(err error) error {
	if isBusy(err) {
		return rerr.Wrap(rerr.StorageBusy, "database busy", err)
	}
	return rerr.Wrap(rerr.StorageFailed, "storage operation failed", err)
}
