// Package formmanager owns PaymentForm creation, lookup, and the rate
// limits and short-TTL caches that guard both. It is the only component
// that mints form identifiers or perturbed amounts.
package formmanager

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"tronrecon/internal/amountgen"
	"tronrecon/internal/config"
	"tronrecon/internal/money"
	"tronrecon/internal/rerr"
	"tronrecon/internal/store"
	"tronrecon/internal/types"
	"tronrecon/internal/validator"
)

const (
	similarityThreshold    = 0.01
	onChainCollisionWindow = time.Hour
	onChainCollisionLimit  = 20
)

// ExplorerClient is the subset of explorer.Client the Form Manager needs
// to pull recent on-chain transfers to the merchant wallet into the
// collision set. Declared here (rather than depending on the explorer
// package's concrete type) so tests can substitute a fake.
type ExplorerClient interface {
	NativeTransfers(ctx context.Context, address string, limit, start int) ([]map[string]any, error)
	TRC20Transfers(ctx context.Context, address string, limit, start int) ([]map[string]any, error)
	ParseTransaction(ctx context.Context, record map[string]any) (types.ParsedTransfer, error)
}

// CreateFormRequest carries the caller-supplied arguments to CreateForm.
type CreateFormRequest struct {
	Amount       float64
	Currency     types.Currency
	Description  string
	ExpiresHours int
	UserID       string
}

// Manager creates and serves PaymentForms on top of a Store, enforcing
// the engine's global and per-caller rate limits and a short-TTL read
// cache over Store.GetForm.
type Manager struct {
	store    store.Store
	explorer ExplorerClient
	cfg      *config.Config

	formCache *gocache.Cache

	limiter *rateLimiter

	nowFunc func() time.Time
}

// New constructs a Manager over store using cfg's tunables. expl may be
// nil, in which case the on-chain leg of the collision set (4.D) is
// skipped — useful for tests and offline tooling that never observe the
// chain directly.
func New(st store.Store, cfg *config.Config, expl ExplorerClient) *Manager {
	cacheTTL := time.Duration(cfg.CacheExpirySeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 300 * time.Second
	}
	return &Manager{
		store:     st,
		explorer:  expl,
		cfg:       cfg,
		formCache: gocache.New(cacheTTL, cacheTTL*2),
		limiter:   newRateLimiter(cfg),
		nowFunc:   time.Now,
	}
}

// CreateForm validates req, enforces rate limits, generates a perturbed
// amount, and persists a new pending form.
func (m *Manager) CreateForm(ctx context.Context, req CreateFormRequest) (types.PaymentForm, error) {
	if req.Amount <= 0 {
		return types.PaymentForm{}, rerr.New(rerr.InvalidArgument, "amount must be positive")
	}
	if req.Currency != types.TRX && req.Currency != types.USDT {
		return types.PaymentForm{}, rerr.New(rerr.UnsupportedCurrency, fmt.Sprintf("unsupported currency %q", req.Currency))
	}
	if req.ExpiresHours < 1 || req.ExpiresHours > 168 {
		return types.PaymentForm{}, rerr.New(rerr.InvalidArgument, "expires_hours must be between 1 and 168")
	}

	now := m.nowFunc()
	if err := m.limiter.checkGlobalInterval(now); err != nil {
		return types.PaymentForm{}, err
	}
	activeCount, err := m.activeFormCount(ctx, now)
	if err != nil {
		return types.PaymentForm{}, err
	}
	if activeCount >= m.cfg.MaxTotalForms {
		return types.PaymentForm{}, rerr.New(rerr.FormCapExceeded, "maximum active form count reached")
	}
	if req.UserID != "" {
		if err := m.limiter.checkUser(req.UserID, now); err != nil {
			return types.PaymentForm{}, err
		}
	}

	originalAmount := money.FromFloat(req.Amount)
	if err := validator.Amount(originalAmount, req.Currency, m.cfg); err != nil {
		return types.PaymentForm{}, err
	}
	if err := validator.Description(req.Description, m.cfg.MaxDescriptionLength); err != nil {
		return types.PaymentForm{}, err
	}
	if !validator.Address(m.cfg.WalletAddress) {
		return types.PaymentForm{}, rerr.New(rerr.InvalidWallet, "configured merchant wallet address is invalid")
	}

	collisionSet, err := m.collisionSet(ctx, req.Currency)
	if err != nil {
		return types.PaymentForm{}, err
	}
	for _, existing := range collisionSet {
		if diff := originalAmount.Float() - existing.Float(); diff > -similarityThreshold && diff < similarityThreshold {
			return types.PaymentForm{}, rerr.New(rerr.SimilarToRecent, "amount too close to a recent pending amount")
		}
	}

	perturbed := amountgen.Generate(originalAmount, collisionSet)

	const maxIDAttempts = 5
	var formID string
	nowEpoch := now.Unix()
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		formID = uuid.NewString()
		created, err := m.store.CreateForm(ctx, formID, perturbed, originalAmount, req.Currency, req.Description, m.cfg.WalletAddress, req.ExpiresHours, nowEpoch)
		if err != nil {
			return types.PaymentForm{}, err
		}
		if created {
			m.limiter.commit(req.UserID, now)
			form, found, err := m.store.GetForm(ctx, formID)
			if err != nil {
				return types.PaymentForm{}, err
			}
			if !found {
				return types.PaymentForm{}, rerr.New(rerr.StorageFailed, "form vanished immediately after creation")
			}
			form.OriginalAmount = originalAmount
			m.formCache.Set(formID, form, gocache.DefaultExpiration)
			return form, nil
		}
	}
	return types.PaymentForm{}, rerr.New(rerr.StorageFailed, "exhausted form identifier retries")
}

// GetForm validates id's shape, serves from the short-TTL cache on a
// hit, and falls back to the Store on a miss.
func (m *Manager) GetForm(ctx context.Context, id string) (types.PaymentForm, bool, error) {
	if !validator.FormID(id) {
		return types.PaymentForm{}, false, rerr.New(rerr.InvalidArgument, "malformed form id")
	}
	if cached, ok := m.formCache.Get(id); ok {
		return cached.(types.PaymentForm), true, nil
	}
	form, found, err := m.store.GetForm(ctx, id)
	if err != nil || !found {
		return types.PaymentForm{}, found, err
	}
	m.formCache.Set(id, form, gocache.DefaultExpiration)
	return form, true, nil
}

// InvalidateForm evicts id from the read cache; called by the reconciler
// after a settlement changes the form's status.
func (m *Manager) InvalidateForm(id string) {
	m.formCache.Delete(id)
}

// ActiveForms returns every pending, unexpired form directly from the
// Store (the reconciler's polling loop always wants a fresh view, never
// the per-id read cache).
func (m *Manager) ActiveForms(ctx context.Context, now int64) ([]types.PaymentForm, error) {
	return m.store.GetActiveForms(ctx, now)
}

func (m *Manager) activeFormCount(ctx context.Context, now time.Time) (int, error) {
	forms, err := m.store.GetActiveForms(ctx, now.Unix())
	if err != nil {
		return 0, err
	}
	return len(forms), nil
}

// collisionSet gathers, for the given currency, the union of three legs
// a new form's perturbed amount must avoid colliding with: active
// pending forms, locally recorded pending transactions, and recent
// on-chain transfers to the merchant wallet.
func (m *Manager) collisionSet(ctx context.Context, currency types.Currency) ([]money.Amount, error) {
	forms, err := m.store.GetAllPaymentForms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]money.Amount, 0, len(forms))
	for _, f := range forms {
		if f.Status == types.FormPending && f.Currency == currency {
			out = append(out, f.Amount)
		}
	}

	pending, err := m.store.GetPendingTransactions(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range pending {
		if t.Currency == currency {
			out = append(out, t.Amount)
		}
	}

	out = append(out, m.onChainAmounts(ctx, currency)...)
	return out, nil
}

// onChainAmounts fetches transfers to the merchant wallet within the
// last hour (up to onChainCollisionLimit each of native and TRC-20) and
// returns the amounts matching currency. Explorer failures are logged
// and treated as an empty leg rather than failing form creation.
func (m *Manager) onChainAmounts(ctx context.Context, currency types.Currency) []money.Amount {
	if m.explorer == nil {
		return nil
	}

	native, err := m.explorer.NativeTransfers(ctx, m.cfg.WalletAddress, onChainCollisionLimit, 0)
	if err != nil {
		slog.Warn("formmanager: fetching native transfers for collision set failed", "error", err)
		native = nil
	}
	trc20, err := m.explorer.TRC20Transfers(ctx, m.cfg.WalletAddress, onChainCollisionLimit, 0)
	if err != nil {
		slog.Warn("formmanager: fetching trc20 transfers for collision set failed", "error", err)
		trc20 = nil
	}

	cutoff := m.nowFunc().Add(-onChainCollisionWindow).UnixMilli()
	raw := make([]map[string]any, 0, len(native)+len(trc20))
	raw = append(raw, native...)
	raw = append(raw, trc20...)

	out := make([]money.Amount, 0, len(raw))
	for _, rec := range raw {
		transfer, err := m.explorer.ParseTransaction(ctx, rec)
		if err != nil {
			continue
		}
		if transfer.Currency != currency || transfer.Timestamp < cutoff {
			continue
		}
		if !strings.EqualFold(transfer.ToAddress, m.cfg.WalletAddress) {
			continue
		}
		out = append(out, transfer.Amount)
	}
	return out
}

// CheckPaymentStatus combines form state and its most recent transaction
// into a single caller-facing status.
func (m *Manager) CheckPaymentStatus(ctx context.Context, id string) (string, error) {
	form, found, err := m.GetForm(ctx, id)
	if err != nil {
		return "", err
	}
	if !found {
		return "not_found", nil
	}
	switch form.Status {
	case types.FormExpired:
		return "expired", nil
	case types.FormPaid:
		return "paid", nil
	}

	txs, err := m.store.GetTransactionsByForm(ctx, id)
	if err != nil {
		return "", err
	}
	for _, tx := range txs {
		if tx.Status == types.TxConfirmed {
			return "paid", nil
		}
	}
	if len(txs) > 0 {
		return "waiting", nil
	}
	return "pending", nil
}
