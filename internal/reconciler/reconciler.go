// Package reconciler runs the background loop that watches the
// merchant wallet for incoming transfers and matches them against
// active payment forms.
package reconciler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tronrecon/internal/config"
	"tronrecon/internal/formmanager"
	"tronrecon/internal/store"
	"tronrecon/internal/types"
	"tronrecon/internal/validator"
)

// ExplorerClient is the subset of explorer.Client the reconciler needs.
// Declared here so tests can substitute a fake without talking to the
// network.
type ExplorerClient interface {
	NativeTransfers(ctx context.Context, address string, limit, start int) ([]map[string]any, error)
	TRC20Transfers(ctx context.Context, address string, limit, start int) ([]map[string]any, error)
	ParseTransaction(ctx context.Context, record map[string]any) (types.ParsedTransfer, error)
}

// Callback is invoked after a form settles successfully. Panics from the
// callback are recovered and logged; they never propagate out of the
// reconciler loop.
type Callback func(form types.PaymentForm, tx types.Transaction)

const (
	maxWorkers      = 10
	lookbackWindow  = 2 * time.Hour
	overallDeadline = 30 * time.Second
	futureDeadline  = 5 * time.Second
	maxConsecutive  = 5
)

// Reconciler is the single background worker that polls the explorer,
// matches transfers to forms, and drives settlement.
type Reconciler struct {
	store    store.Store
	explorer ExplorerClient
	forms    *formmanager.Manager
	cfg      *config.Config
	wallet   string
	interval time.Duration

	seen    *dedupeSet
	inFlight *inFlightSet

	callbacksMu sync.Mutex
	callbacks   map[string]Callback

	lastSeen atomic.Int64

	monitoring atomic.Bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// New constructs a Reconciler. interval is the poll period; pass 0 to
// use cfg.ReconcileIntervalSeconds (default 3s).
func New(st store.Store, expl ExplorerClient, forms *formmanager.Manager, cfg *config.Config, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Duration(cfg.ReconcileIntervalSeconds) * time.Second
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Reconciler{
		store:     st,
		explorer:  expl,
		forms:     forms,
		cfg:       cfg,
		wallet:    cfg.WalletAddress,
		interval:  interval,
		seen:      newDedupeSet(10000, 5000),
		inFlight:  newInFlightSet(),
		callbacks: make(map[string]Callback),
		stopCh:    make(chan struct{}),
	}
}

// RegisterCallback arranges for fn to be invoked when formID settles.
func (r *Reconciler) RegisterCallback(formID string, fn Callback) {
	r.callbacksMu.Lock()
	defer r.callbacksMu.Unlock()
	r.callbacks[formID] = fn
}

// StartMonitoring starts the polling loop. It returns immediately; the
// loop runs in a goroutine until ctx is cancelled or StopMonitoring is
// called.
func (r *Reconciler) StartMonitoring(ctx context.Context) {
	if !r.monitoring.CompareAndSwap(false, true) {
		return
	}
	r.wg.Add(1)
	go r.run(ctx)
}

// StopMonitoring cooperatively stops the loop and waits for it to exit.
func (r *Reconciler) StopMonitoring() {
	if !r.monitoring.CompareAndSwap(true, false) {
		return
	}
	close(r.stopCh)
	r.wg.Wait()
	r.stopCh = make(chan struct{})
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		default:
		}

		if err := r.cycle(ctx); err != nil {
			consecutiveErrors++
			slog.Error("reconciler: cycle failed", "error", err, "consecutive_errors", consecutiveErrors)
			if consecutiveErrors >= maxConsecutive {
				slog.Error("reconciler: too many consecutive failures, stopping")
				r.monitoring.Store(false)
				return
			}
			backoff := time.Duration(consecutiveErrors) * r.interval
			if backoff > 300*time.Second {
				backoff = 300 * time.Second
			}
			if !r.sleep(ctx, backoff) {
				return
			}
			continue
		}
		consecutiveErrors = 0

		if !r.sleep(ctx, r.interval) {
			return
		}
	}
}

func (r *Reconciler) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-r.stopCh:
		return false
	}
}

// cycle runs exactly one poll/match iteration.
func (r *Reconciler) cycle(ctx context.Context) error {
	now := time.Now()

	expiredCount, err := r.store.ExpireOldForms(ctx, now.Unix())
	if err != nil {
		return err
	}
	if expiredCount > 0 {
		slog.Info("reconciler: expired forms", "count", expiredCount)
	}

	forms, err := r.forms.ActiveForms(ctx, now.Unix())
	if err != nil {
		return err
	}
	if len(forms) == 0 {
		return nil
	}

	watermark := r.lastSeen.Load()
	lookback := now.Add(-lookbackWindow).UnixMilli()
	if watermark < lookback {
		watermark = lookback
	}

	transfers, err := r.fetchTransfers(ctx, watermark)
	if err != nil {
		return err
	}
	if len(transfers) == 0 {
		return nil
	}

	var maxTs int64
	fresh := make([]types.ParsedTransfer, 0, len(transfers))
	for _, t := range transfers {
		if t.Timestamp > maxTs {
			maxTs = t.Timestamp
		}
		if r.seen.contains(t.TransactionID) {
			continue
		}
		r.seen.add(t.TransactionID)
		fresh = append(fresh, t)
	}
	if maxTs > watermark {
		r.lastSeen.Store(maxTs)
	}
	if len(fresh) == 0 {
		return nil
	}

	r.recordPending(ctx, fresh)
	r.matchAndSettle(ctx, forms, fresh)
	return nil
}

// recordPending persists every freshly observed transfer as a pending
// local transaction, feeding the Amount Generator's collision set
// (4.D leg 2) even before a transfer is matched to a form. Settlement
// later upgrades the row to confirmed rather than inserting a second
// one. Failures are logged, not fatal: the collision set degrades
// gracefully to its other legs.
func (r *Reconciler) recordPending(ctx context.Context, transfers []types.ParsedTransfer) {
	now := time.Now().Unix()
	for _, t := range transfers {
		tx := types.Transaction{
			TransactionID: t.TransactionID,
			FromAddress:   t.FromAddress,
			ToAddress:     t.ToAddress,
			Amount:        t.Amount,
			Currency:      t.Currency,
			Status:        types.TxPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := r.store.RecordTransaction(ctx, tx); err != nil {
			slog.Warn("reconciler: recording pending transaction failed", "tx_id", t.TransactionID, "error", err)
		}
	}
}

// fetchTransfers pulls native and TRC-20 transfers to the merchant
// wallet since watermarkMs and parses them into canonical records.
func (r *Reconciler) fetchTransfers(ctx context.Context, watermarkMs int64) ([]types.ParsedTransfer, error) {
	native, err := r.explorer.NativeTransfers(ctx, r.wallet, 50, 0)
	if err != nil {
		return nil, err
	}
	trc20, err := r.explorer.TRC20Transfers(ctx, r.wallet, 50, 0)
	if err != nil {
		return nil, err
	}

	raw := make([]map[string]any, 0, len(native)+len(trc20))
	raw = append(raw, native...)
	raw = append(raw, trc20...)

	out := make([]types.ParsedTransfer, 0, len(raw))
	for _, rec := range raw {
		if !r.monitoring.Load() {
			break
		}
		transfer, err := r.explorer.ParseTransaction(ctx, rec)
		if err != nil {
			slog.Warn("reconciler: failed to parse transfer record", "error", err)
			continue
		}
		if transfer.Timestamp < watermarkMs {
			continue
		}
		out = append(out, transfer)
	}
	return out, nil
}

// matchAndSettle fans transfers across forms using a bounded worker
// pool, one worker per form, each scanning every fresh transfer and
// short-circuiting on its first match.
func (r *Reconciler) matchAndSettle(ctx context.Context, forms []types.PaymentForm, transfers []types.ParsedTransfer) {
	workers := len(forms)
	if workers > maxWorkers {
		workers = maxWorkers
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, overallDeadline)
	defer cancel()

	jobs := make(chan types.PaymentForm, len(forms))
	for _, f := range forms {
		jobs <- f
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for form := range jobs {
				if !r.monitoring.Load() {
					return
				}
				r.matchOneForm(deadlineCtx, form, transfers)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(overallDeadline):
		slog.Warn("reconciler: worker pool did not finish within deadline")
	}
}

func (r *Reconciler) matchOneForm(ctx context.Context, form types.PaymentForm, transfers []types.ParsedTransfer) {
	for _, t := range transfers {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !r.transferMatchesForm(ctx, t, form) {
			continue
		}
		r.settle(ctx, form, t)
		return
	}
}

func (r *Reconciler) transferMatchesForm(ctx context.Context, t types.ParsedTransfer, form types.PaymentForm) bool {
	if !t.Amount.CloseEnough(form.Amount) || t.Currency != form.Currency {
		return false
	}
	if !strings.EqualFold(t.ToAddress, r.wallet) {
		return false
	}
	if !t.Confirmed {
		return false
	}
	if existing, found, err := r.store.GetTransactionByID(ctx, t.TransactionID); err == nil && found {
		if existing.Status == types.TxConfirmed {
			return false
		}
	}
	if err := validator.Sender(t.FromAddress, r.wallet, r.cfg.BlacklistedAddresses); err != nil {
		return false
	}
	if err := validator.Freshness(t.Timestamp, time.Now().UnixMilli(), r.cfg.MaxTransactionAgeHours, r.cfg.FutureToleranceMinutes); err != nil {
		return false
	}
	if err := validator.Confirmations(t.Confirmed, 0, t.Currency, r.cfg); err != nil {
		return false
	}
	if err := validator.USDTContract(t.Currency, t.ContractAddress); err != nil {
		return false
	}
	return true
}

// settle acquires an in-flight lock for the transfer, calls atomic
// settlement, and invokes the registered callback on success.
func (r *Reconciler) settle(ctx context.Context, form types.PaymentForm, t types.ParsedTransfer) {
	if !r.inFlight.acquire(t.TransactionID) {
		return
	}
	defer r.inFlight.release(t.TransactionID)

	result, err := r.store.SettleAtomic(ctx, t.TransactionID, t.FromAddress, t.ToAddress, t.Amount, t.Currency, form.FormID)
	if err != nil {
		slog.Warn("reconciler: settlement failed", "form_id", form.FormID, "tx_id", t.TransactionID, "error", err)
		return
	}
	if !result.Success {
		return
	}

	r.forms.InvalidateForm(form.FormID)

	tx := types.Transaction{
		TransactionID: t.TransactionID,
		FromAddress:   t.FromAddress,
		ToAddress:     t.ToAddress,
		Amount:        t.Amount,
		Currency:      t.Currency,
		Status:        types.TxConfirmed,
		PaymentFormID: form.FormID,
	}
	r.invokeCallback(form, tx)
}

func (r *Reconciler) invokeCallback(form types.PaymentForm, tx types.Transaction) {
	r.callbacksMu.Lock()
	fn, ok := r.callbacks[form.FormID]
	r.callbacksMu.Unlock()
	if !ok {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("reconciler: settlement callback panicked", "form_id", form.FormID, "panic", rec)
		}
	}()
	fn(form, tx)
}
