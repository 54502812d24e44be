// Package ledger runs investor actions against a tokenized asset: it gates
// each request, serializes actions per asset, drives the contract call and
// records the outcome as a transaction.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/rwavault/internal/domain"
	"github.com/alanyoungcy/rwavault/internal/eligibility"
	"github.com/alanyoungcy/rwavault/internal/metrics"
	"github.com/alanyoungcy/rwavault/internal/payout"
	"github.com/alanyoungcy/rwavault/internal/portfolio"
)

// lockMargin is added to the call timeout for the cross-process asset lock.
const lockMargin = 30 * time.Second

// Config holds ledger policy.
type Config struct {
	// RequireKYC=false treats every account as approved.
	RequireKYC     bool
	CallTimeout    time.Duration
	PlatformFeePct decimal.Decimal
	ExpectedROIPct decimal.Decimal
	Limits         eligibility.Limits
}

// Deps are the ledger's collaborators. Audit, Bus, Locks and Metrics are
// optional.
type Deps struct {
	Chain     domain.AssetLedger
	Portfolio *portfolio.Store
	Txs       domain.TransactionStore
	Kyc       domain.KycStore
	Audit     domain.AuditStore
	Bus       domain.EventBus
	Locks     domain.LockManager
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

type slotKey struct {
	assetID string
	action  domain.ActionType
}

// Ledger executes actions. It is safe for concurrent use; actions on one
// asset are serialized, actions on different assets run in parallel.
type Ledger struct {
	cfg       Config
	chain     domain.AssetLedger
	portfolio *portfolio.Store
	txs       domain.TransactionStore
	kyc       domain.KycStore
	audit     domain.AuditStore
	bus       domain.EventBus
	locks     domain.LockManager
	metrics   *metrics.Metrics
	gate      *eligibility.Gate
	now       func() time.Time
	logger    *slog.Logger

	inflight *inflight

	mu    sync.RWMutex
	slots map[slotKey]domain.Invocation
}

// New creates a Ledger.
func New(cfg Config, deps Deps, logger *slog.Logger) *Ledger {
	l := &Ledger{
		cfg:       cfg,
		chain:     deps.Chain,
		portfolio: deps.Portfolio,
		txs:       deps.Txs,
		kyc:       deps.Kyc,
		audit:     deps.Audit,
		bus:       deps.Bus,
		locks:     deps.Locks,
		metrics:   deps.Metrics,
		gate:      eligibility.NewGate(cfg.Limits),
		now:       deps.Now,
		logger:    logger.With(slog.String("component", "ledger")),
		slots:     make(map[slotKey]domain.Invocation),
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.cfg.CallTimeout <= 0 {
		l.cfg.CallTimeout = 2 * time.Minute
	}
	var onSize func(int)
	if deps.Metrics != nil {
		onSize = func(n int) { deps.Metrics.InFlight.Set(float64(n)) }
	}
	l.inflight = newInflight(onSize)
	return l
}

// Account is the investor address the ledger acts for.
func (l *Ledger) Account() string {
	return l.chain.Account()
}

// KycStatus returns the account's verification state. Unknown accounts are
// NOT_STARTED.
func (l *Ledger) KycStatus(ctx context.Context) (domain.KycStatus, error) {
	if !l.cfg.RequireKYC {
		return domain.KycApproved, nil
	}
	rec, err := l.kyc.Get(ctx, l.Account())
	if errors.Is(err, domain.ErrNotFound) {
		return domain.KycNotStarted, nil
	}
	if err != nil {
		return "", fmt.Errorf("ledger: kyc status: %w", err)
	}
	return rec.Status, nil
}

// SetKyc records a verification decision for the account.
func (l *Ledger) SetKyc(ctx context.Context, status domain.KycStatus, reason string) (domain.KycRecord, error) {
	if !status.Valid() {
		return domain.KycRecord{}, fmt.Errorf("ledger: unknown kyc status %q", status)
	}
	rec := domain.KycRecord{Account: l.Account(), Status: status, Reason: reason, UpdatedAt: l.now().UTC()}
	if err := l.kyc.Upsert(ctx, rec); err != nil {
		return domain.KycRecord{}, fmt.Errorf("ledger: set kyc: %w", err)
	}
	l.auditLog(ctx, "kyc.updated", map[string]any{"account": rec.Account, "status": string(status)})
	return rec, nil
}

// Eligibility checks action against the current position without executing
// it. A nil error means Execute would reach the contract.
func (l *Ledger) Eligibility(ctx context.Context, action domain.ActionType, assetID string, amount decimal.Decimal) error {
	if l.inflight.busy(assetID) {
		return domain.ErrActionInProgress
	}
	pos, kyc, err := l.inputs(ctx, assetID)
	if err != nil {
		return err
	}
	return l.gate.Check(eligibility.Request{Action: action, Position: pos, Kyc: kyc, Amount: amount, Now: l.now()})
}

// Allowed lists the actions that would pass for amount right now.
func (l *Ledger) Allowed(ctx context.Context, assetID string, amount decimal.Decimal) ([]domain.ActionType, error) {
	if l.inflight.busy(assetID) {
		return nil, nil
	}
	pos, kyc, err := l.inputs(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return l.gate.Allowed(pos, kyc, amount, l.now()), nil
}

// Quote prices a prospective BUY of amount.
func (l *Ledger) Quote(ctx context.Context, assetID string, amount decimal.Decimal) (payout.Quote, error) {
	pos, err := l.portfolio.GetPosition(ctx, assetID)
	if err != nil {
		return payout.Quote{}, err
	}
	return payout.NewQuote(pos.Terms, amount, l.cfg.PlatformFeePct, l.cfg.ExpectedROIPct, l.cfg.Limits.MaxShare)
}

// State returns the latest invocation of action on assetID. An action never
// run is INPUTTING.
func (l *Ledger) State(assetID string, action domain.ActionType) domain.Invocation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if inv, ok := l.slots[slotKey{assetID, action}]; ok {
		return inv
	}
	return domain.Invocation{AssetID: assetID, Action: action, State: domain.StateInputting}
}

// States returns every recorded invocation for assetID.
func (l *Ledger) States(assetID string) []domain.Invocation {
	out := make([]domain.Invocation, 0, len(domain.AllActions))
	for _, a := range domain.AllActions {
		out = append(out, l.State(assetID, a))
	}
	return out
}

// Retry re-reads authoritative balances for assetID and moves a FAILED
// invocation of action back to INPUTTING.
func (l *Ledger) Retry(ctx context.Context, assetID string, action domain.ActionType) (domain.AssetPosition, error) {
	if l.inflight.busy(assetID) {
		return domain.AssetPosition{}, domain.ErrActionInProgress
	}
	pos, err := l.reload(ctx, assetID)
	if err != nil {
		return domain.AssetPosition{}, err
	}
	l.resetFailed(assetID, action)
	return pos, nil
}

// Execute runs action on assetID. The returned transaction is the recorded
// outcome; it is zero only when the request never got a slot (another
// action in progress) or the position could not be read. Gate and external
// failures return both the FAILED transaction and the error.
func (l *Ledger) Execute(ctx context.Context, action domain.ActionType, assetID string, amount decimal.Decimal) (domain.Transaction, error) {
	if !knownAction(action) {
		return domain.Transaction{}, fmt.Errorf("%w: %q", domain.ErrUnknownAction, action)
	}
	invID := uuid.NewString()
	started := l.now()

	if _, ok := l.inflight.acquire(assetID, invID, started); !ok {
		l.metrics.ObserveAction(string(action), "in_progress", 0)
		return domain.Transaction{}, domain.ErrActionInProgress
	}
	defer l.inflight.release(assetID, invID)

	if l.locks != nil {
		unlock, err := l.locks.Acquire(ctx, l.lockKey(assetID), l.cfg.CallTimeout+lockMargin)
		if errors.Is(err, domain.ErrLockHeld) {
			l.metrics.ObserveAction(string(action), "in_progress", 0)
			return domain.Transaction{}, domain.ErrActionInProgress
		}
		if err != nil {
			return domain.Transaction{}, fmt.Errorf("ledger: asset lock: %w", err)
		}
		defer unlock()
	}

	// A failed slot is retried before a new attempt: balances are re-read
	// so the gate sees what the chain actually holds.
	if l.State(assetID, action).State == domain.StateFailed {
		if _, err := l.reload(ctx, assetID); err != nil {
			return domain.Transaction{}, err
		}
		l.resetFailed(assetID, action)
	}

	inv := domain.Invocation{
		ID:        invID,
		AssetID:   assetID,
		Action:    action,
		Amount:    amount,
		State:     domain.StateProcessing,
		StartedAt: started,
	}
	l.setSlot(inv)

	log := l.logger.With(
		slog.String("invocation_id", invID),
		slog.String("asset_id", assetID),
		slog.String("action", string(action)),
	)

	pos, kyc, err := l.inputs(ctx, assetID)
	if err != nil {
		l.finishSlot(inv, domain.StateFailed, "", err)
		log.WarnContext(ctx, "position read failed", slog.String("error", err.Error()))
		l.metrics.ObserveAction(string(action), string(domain.FailureKindOf(err)), l.now().Sub(started))
		return domain.Transaction{}, err
	}

	tx := domain.Transaction{
		ID:        uuid.NewString(),
		AssetID:   assetID,
		Account:   l.Account(),
		Type:      action,
		AmountIn:  amount,
		Timestamp: started.UTC(),
		Status:    domain.TxPending,
	}
	if !action.TakesAmount() {
		tx.AmountIn = decimal.Zero
	}

	if err := l.gate.Check(eligibility.Request{Action: action, Position: pos, Kyc: kyc, Amount: amount, Now: started}); err != nil {
		return l.rejectAtGate(ctx, log, inv, tx, err)
	}

	plan, err := l.plan(action, amount, pos)
	if err != nil {
		return l.rejectAtGate(ctx, log, inv, tx, err)
	}
	tx.AmountOut = plan.amountOut

	if err := l.txs.Append(ctx, tx); err != nil {
		l.finishSlot(inv, domain.StateFailed, tx.ID, err)
		return domain.Transaction{}, fmt.Errorf("ledger: record transaction: %w", err)
	}
	l.publish(ctx, "tx_pending", tx)
	log.InfoContext(ctx, "action submitted", slog.String("tx_id", tx.ID), slog.String("amount", amount.String()))

	// A submitted call runs to completion or timeout even if the caller
	// goes away.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.CallTimeout)
	defer cancel()

	fin, callErr := l.submit(callCtx, action, assetID, plan)
	fin.At = l.now().UTC()

	settled, err := l.txs.Finalize(context.WithoutCancel(ctx), tx.ID, fin)
	if err != nil {
		log.ErrorContext(ctx, "finalize transaction failed", slog.String("tx_id", tx.ID), slog.String("error", err.Error()))
		settled = fin.Apply(tx)
	}

	// The chain is the source of truth; drop what we held and read it again.
	if _, err := l.reload(context.WithoutCancel(ctx), assetID); err != nil {
		log.WarnContext(ctx, "post-action refresh failed", slog.String("error", err.Error()))
	}

	elapsed := l.now().Sub(started)
	if callErr != nil {
		l.finishSlot(inv, domain.StateFailed, tx.ID, callErr)
		l.publish(ctx, "tx_failed", settled)
		l.auditLog(ctx, "action.failed", map[string]any{
			"tx_id": tx.ID, "asset_id": assetID, "action": string(action),
			"kind": string(fin.FailureKind), "reason": fin.FailureReason,
		})
		l.metrics.ObserveAction(string(action), string(fin.FailureKind), elapsed)
		log.WarnContext(ctx, "action failed",
			slog.String("tx_id", tx.ID),
			slog.String("kind", string(fin.FailureKind)),
			slog.String("error", callErr.Error()),
		)
		return settled, callErr
	}

	l.finishSlot(inv, domain.StateSuccess, tx.ID, nil)
	l.publish(ctx, "tx_completed", settled)
	l.auditLog(ctx, "action.completed", map[string]any{
		"tx_id": tx.ID, "asset_id": assetID, "action": string(action),
		"amount_in": settled.AmountIn.String(), "amount_out": settled.AmountOut.String(),
		"tx_hash": settled.TxHash,
	})
	l.metrics.ObserveAction(string(action), "success", elapsed)
	log.InfoContext(ctx, "action completed",
		slog.String("tx_id", tx.ID),
		slog.String("tx_hash", settled.TxHash),
		slog.String("amount_out", settled.AmountOut.String()),
		slog.Duration("elapsed", elapsed),
	)
	return settled, nil
}

// plan is what will be sent to the contract for one action.
type plan struct {
	amount    decimal.Decimal // value passed to the contract call
	approve   decimal.Decimal // allowance to request first, zero for none
	amountOut decimal.Decimal // expected payout, tokens bought or rewards claimed
}

func (l *Ledger) plan(action domain.ActionType, amount decimal.Decimal, pos domain.AssetPosition) (plan, error) {
	p := plan{amount: amount}
	switch action {
	case domain.ActionCashOut, domain.ActionRedeem:
		out, err := payout.ExitValue(action, amount, pos)
		if err != nil {
			return plan{}, err
		}
		p.amountOut = payout.RoundPayout(out)
	case domain.ActionClaim:
		p.amountOut = pos.AccruedRewards
	case domain.ActionStake:
		p.approve = amount
	case domain.ActionBuy:
		tokens, err := payout.TokenAmount(amount, pos.Terms.TokenPrice)
		if err != nil {
			return plan{}, err
		}
		p.amount = tokens
		p.amountOut = tokens
		p.approve = amount.Add(payout.PlatformFee(amount, l.cfg.PlatformFeePct))
	}
	return p, nil
}

// submit performs the approval, if any, and the contract call.
func (l *Ledger) submit(ctx context.Context, action domain.ActionType, assetID string, p plan) (domain.TxFinalization, error) {
	fin := domain.TxFinalization{Status: domain.TxCompleted, AmountOut: p.amountOut}

	fail := func(err error) (domain.TxFinalization, error) {
		err = asExternal(err)
		fin.Status = domain.TxFailed
		fin.AmountOut = decimal.Zero
		fin.FailureKind = domain.FailureKindOf(err)
		fin.FailureReason = err.Error()
		return fin, err
	}

	if action.NeedsApproval() && p.approve.IsPositive() {
		rec, err := l.timed(ctx, "approve", func(ctx context.Context) (domain.Receipt, error) {
			return l.chain.Approve(ctx, p.approve)
		})
		if err != nil {
			if !errors.Is(err, domain.ErrApprovalFailed) {
				err = fmt.Errorf("%w: %w", domain.ErrApprovalFailed, err)
			}
			return fail(err)
		}
		fin.ApprovalTxHash = rec.TxHash
	}

	rec, err := l.timed(ctx, strings.ToLower(string(action)), func(ctx context.Context) (domain.Receipt, error) {
		switch action {
		case domain.ActionBuy:
			return l.chain.SubmitBuy(ctx, assetID, p.amount)
		case domain.ActionStake:
			return l.chain.SubmitStake(ctx, assetID, p.amount)
		case domain.ActionUnstake:
			return l.chain.SubmitUnstake(ctx, assetID, p.amount)
		case domain.ActionClaim:
			return l.chain.SubmitClaim(ctx, assetID)
		case domain.ActionCashOut:
			return l.chain.SubmitCashOut(ctx, assetID, p.amount)
		case domain.ActionRedeem:
			return l.chain.SubmitRedeem(ctx, assetID, p.amount)
		}
		return domain.Receipt{}, domain.ErrUnknownAction
	})
	fin.TxHash = rec.TxHash
	if err != nil {
		return fail(err)
	}
	if rec.AmountOut != nil {
		fin.AmountOut = *rec.AmountOut
		if action == domain.ActionCashOut || action == domain.ActionRedeem {
			fin.AmountOut = payout.RoundPayout(fin.AmountOut)
		}
	}
	return fin, nil
}

func (l *Ledger) timed(ctx context.Context, method string, fn func(context.Context) (domain.Receipt, error)) (domain.Receipt, error) {
	start := time.Now()
	rec, err := fn(ctx)
	l.metrics.ObserveChainCall(method, time.Since(start))
	return rec, err
}

// asExternal makes sure a contract-side error carries an external sentinel.
func asExternal(err error) error {
	if domain.IsExternalError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", domain.ErrNetworkFailure, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrContractCallRejected, err)
}

func (l *Ledger) rejectAtGate(ctx context.Context, log *slog.Logger, inv domain.Invocation, tx domain.Transaction, gateErr error) (domain.Transaction, error) {
	tx.Status = domain.TxFailed
	tx.FailureKind = domain.FailureGate
	tx.FailureReason = gateErr.Error()
	tx.UpdatedAt = tx.Timestamp

	if err := l.txs.Append(ctx, tx); err != nil {
		log.ErrorContext(ctx, "record gate rejection failed", slog.String("error", err.Error()))
	}
	l.finishSlot(inv, domain.StateFailed, tx.ID, gateErr)
	l.publish(ctx, "tx_failed", tx)
	l.metrics.ObserveGateRejection(gateReason(gateErr))
	l.metrics.ObserveAction(string(inv.Action), string(domain.FailureGate), 0)
	log.InfoContext(ctx, "action refused", slog.String("reason", gateErr.Error()))
	return tx, gateErr
}

// inputs reads the position and KYC status the gate needs.
func (l *Ledger) inputs(ctx context.Context, assetID string) (domain.AssetPosition, domain.KycStatus, error) {
	pos, err := l.portfolio.GetPosition(ctx, assetID)
	if err != nil {
		return domain.AssetPosition{}, "", err
	}
	kyc, err := l.KycStatus(ctx)
	if err != nil {
		return domain.AssetPosition{}, "", err
	}
	return pos, kyc, nil
}

func (l *Ledger) reload(ctx context.Context, assetID string) (domain.AssetPosition, error) {
	l.portfolio.Invalidate(ctx, assetID)
	return l.portfolio.Refresh(ctx, assetID)
}

func (l *Ledger) setSlot(inv domain.Invocation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slots[slotKey{inv.AssetID, inv.Action}] = inv
}

func (l *Ledger) finishSlot(inv domain.Invocation, to domain.ActionState, txID string, err error) {
	if !inv.State.CanTransition(to) {
		l.logger.Error("illegal state transition",
			slog.String("from", string(inv.State)),
			slog.String("to", string(to)),
		)
		return
	}
	inv.State = to
	inv.TxID = txID
	inv.EndedAt = l.now()
	if err != nil {
		inv.Error = domain.UserMessage(err)
	}
	l.setSlot(inv)
}

func (l *Ledger) resetFailed(assetID string, action domain.ActionType) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := slotKey{assetID, action}
	if inv, ok := l.slots[key]; ok && inv.State == domain.StateFailed {
		inv.State = domain.StateInputting
		l.slots[key] = inv
	}
}

func (l *Ledger) lockKey(assetID string) string {
	return "asset:" + strings.ToLower(l.Account()) + ":" + assetID
}

func (l *Ledger) publish(ctx context.Context, kind string, tx domain.Transaction) {
	if l.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.TxEvent{Kind: kind, Transaction: tx})
	if err != nil {
		return
	}
	if err := l.bus.Publish(context.WithoutCancel(ctx), domain.ChannelTransactions, payload); err != nil {
		l.logger.WarnContext(ctx, "publish event failed", slog.String("kind", kind), slog.String("error", err.Error()))
	}
}

func (l *Ledger) auditLog(ctx context.Context, event string, detail map[string]any) {
	if l.audit == nil {
		return
	}
	if err := l.audit.Log(context.WithoutCancel(ctx), event, detail); err != nil {
		l.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func knownAction(a domain.ActionType) bool {
	for _, known := range domain.AllActions {
		if a == known {
			return true
		}
	}
	return false
}

var gateReasons = []struct {
	err    error
	reason string
}{
	{domain.ErrKycRequired, "kyc_required"},
	{domain.ErrAssetLocked, "asset_locked"},
	{domain.ErrInvalidAmount, "invalid_amount"},
	{domain.ErrInvalidRate, "invalid_rate"},
	{domain.ErrInsufficientBalance, "insufficient_balance"},
	{domain.ErrInsufficientStaked, "insufficient_staked"},
	{domain.ErrNotMatured, "not_matured"},
	{domain.ErrNothingToClaim, "nothing_to_claim"},
	{domain.ErrBelowMinInvestment, "below_min_investment"},
	{domain.ErrAboveMaxInvestment, "above_max_investment"},
	{domain.ErrInvalidTerms, "invalid_terms"},
}

func gateReason(err error) string {
	for _, g := range gateReasons {
		if errors.Is(err, g.err) {
			return g.reason
		}
	}
	return "other"
}
