package store

import (
	"context"

	"tronrecon/internal/money"
	"tronrecon/internal/types"
)

// Store is the persistence contract the rest of the engine depends on.
// Every component that needs durable state talks to this interface, never
// to *DB directly, so a fake can stand in for it in tests.
type Store interface {
	CreateForm(ctx context.Context, formID string, amount, originalAmount money.Amount, currency types.Currency, description, wallet string, expiresHours int, now int64) (bool, error)
	GetForm(ctx context.Context, formID string) (types.PaymentForm, bool, error)
	GetActiveForms(ctx context.Context, now int64) ([]types.PaymentForm, error)
	GetAllPaymentForms(ctx context.Context) ([]types.PaymentForm, error)
	ExpireOldForms(ctx context.Context, now int64) (int64, error)

	SettleAtomic(ctx context.Context, txID, from, to string, amount money.Amount, currency types.Currency, formID string) (types.SettleResult, error)

	RecordTransaction(ctx context.Context, t types.Transaction) error
	GetTransactionByID(ctx context.Context, transactionID string) (types.Transaction, bool, error)
	GetTransactionsByForm(ctx context.Context, formID string) ([]types.Transaction, error)
	GetPendingTransactions(ctx context.Context) ([]types.Transaction, error)

	Close() error
}

var _ Store = (*DB)(nil)
