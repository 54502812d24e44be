// Package sim is an in-memory stand-in for the property registry, used in
// simulate mode and demos. It enforces the same balance, allowance and
// maturity rules as the contract and can inject latency and failures.
package sim

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/rwavault/internal/domain"
	"github.com/alanyoungcy/rwavault/internal/payout"
)

var secondsPerYear = decimal.NewFromInt(365 * 24 * 3600)

// Compile-time check that Ledger implements domain.AssetLedger.
var _ domain.AssetLedger = (*Ledger)(nil)

// Options tunes the simulation.
type Options struct {
	// Latency is how long every write takes to "mine".
	Latency time.Duration
	// FailureRate is the probability in [0,1) that a write is rejected.
	FailureRate float64
	// StakingAPY is the yearly reward percent paid on staked tokens.
	StakingAPY decimal.Decimal
	Now        func() time.Time
}

type holding struct {
	balance decimal.Decimal
	staked  decimal.Decimal
	rewards decimal.Decimal
	accrued time.Time
}

// Ledger is a single-account simulated registry.
type Ledger struct {
	account string
	opts    Options

	mu        sync.Mutex
	terms     map[string]domain.AssetTerms
	holdings  map[string]*holding
	allowance decimal.Decimal
	failNext  error
	block     uint64
}

// New creates a Ledger for account.
func New(account string, opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{
		account:  account,
		opts:     opts,
		terms:    make(map[string]domain.AssetTerms),
		holdings: make(map[string]*holding),
	}
}

// ListAsset registers or replaces an asset's terms.
func (l *Ledger) ListAsset(terms domain.AssetTerms) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.terms[terms.AssetID] = terms
}

// Credit sets the account's holding in assetID directly.
func (l *Ledger) Credit(assetID string, balance, staked, rewards decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.holding(assetID)
	h.balance, h.staked, h.rewards = balance, staked, rewards
}

// FailNext makes the next write fail with err.
func (l *Ledger) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

// Account returns the simulated account.
func (l *Ledger) Account() string { return l.account }

func (l *Ledger) ReadBalance(ctx context.Context, assetID string) (decimal.Decimal, error) {
	return l.read(assetID, func(h *holding) decimal.Decimal { return h.balance })
}

func (l *Ledger) ReadStaked(ctx context.Context, assetID string) (decimal.Decimal, error) {
	return l.read(assetID, func(h *holding) decimal.Decimal { return h.staked })
}

func (l *Ledger) ReadRewards(ctx context.Context, assetID string) (decimal.Decimal, error) {
	return l.read(assetID, func(h *holding) decimal.Decimal { return h.rewards })
}

func (l *Ledger) ReadAssetTerms(ctx context.Context, assetID string) (domain.AssetTerms, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.terms[assetID]
	if !ok {
		return domain.AssetTerms{}, fmt.Errorf("%w: asset %s not listed", domain.ErrContractCallRejected, assetID)
	}
	return t, nil
}

func (l *Ledger) read(assetID string, pick func(*holding) decimal.Decimal) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.terms[assetID]; !ok {
		return decimal.Zero, fmt.Errorf("%w: asset %s not listed", domain.ErrContractCallRejected, assetID)
	}
	h := l.holding(assetID)
	l.accrue(h)
	return pick(h), nil
}

func (l *Ledger) Approve(ctx context.Context, amount decimal.Decimal) (domain.Receipt, error) {
	return l.write(ctx, func() (*decimal.Decimal, error) {
		l.allowance = amount
		return nil, nil
	})
}

func (l *Ledger) SubmitBuy(ctx context.Context, assetID string, tokens decimal.Decimal) (domain.Receipt, error) {
	return l.write(ctx, func() (*decimal.Decimal, error) {
		t, h, err := l.asset(assetID)
		if err != nil {
			return nil, err
		}
		if !t.IsActive {
			return nil, reject("asset not active")
		}
		if tokens.GreaterThan(t.AvailableTokens()) {
			return nil, reject("not enough tokens left")
		}
		cost := tokens.Mul(t.TokenPrice)
		if l.allowance.LessThan(cost) {
			return nil, reject("insufficient allowance")
		}
		l.allowance = l.allowance.Sub(cost)
		t.TokensSold = t.TokensSold.Add(tokens)
		l.terms[assetID] = t
		h.balance = h.balance.Add(tokens)
		return nil, nil
	})
}

func (l *Ledger) SubmitStake(ctx context.Context, assetID string, amount decimal.Decimal) (domain.Receipt, error) {
	return l.write(ctx, func() (*decimal.Decimal, error) {
		_, h, err := l.asset(assetID)
		if err != nil {
			return nil, err
		}
		if amount.GreaterThan(h.balance) {
			return nil, reject("stake exceeds balance")
		}
		if l.allowance.LessThan(amount) {
			return nil, reject("insufficient allowance")
		}
		l.allowance = l.allowance.Sub(amount)
		h.balance = h.balance.Sub(amount)
		h.staked = h.staked.Add(amount)
		return nil, nil
	})
}

func (l *Ledger) SubmitUnstake(ctx context.Context, assetID string, amount decimal.Decimal) (domain.Receipt, error) {
	return l.write(ctx, func() (*decimal.Decimal, error) {
		_, h, err := l.asset(assetID)
		if err != nil {
			return nil, err
		}
		if amount.GreaterThan(h.staked) {
			return nil, reject("unstake exceeds staked balance")
		}
		h.staked = h.staked.Sub(amount)
		h.balance = h.balance.Add(amount)
		return nil, nil
	})
}

func (l *Ledger) SubmitClaim(ctx context.Context, assetID string) (domain.Receipt, error) {
	return l.write(ctx, func() (*decimal.Decimal, error) {
		_, h, err := l.asset(assetID)
		if err != nil {
			return nil, err
		}
		if !h.rewards.IsPositive() {
			return nil, reject("nothing to claim")
		}
		paid := h.rewards
		h.rewards = decimal.Zero
		return &paid, nil
	})
}

func (l *Ledger) SubmitCashOut(ctx context.Context, assetID string, amount decimal.Decimal) (domain.Receipt, error) {
	return l.write(ctx, func() (*decimal.Decimal, error) {
		t, h, err := l.asset(assetID)
		if err != nil {
			return nil, err
		}
		if amount.GreaterThan(h.balance) {
			return nil, reject("cash out exceeds balance")
		}
		out, err := payout.EarlyCashOutAmount(amount, t.DiscountRate)
		if err != nil {
			return nil, reject(err.Error())
		}
		h.balance = h.balance.Sub(amount)
		return &out, nil
	})
}

func (l *Ledger) SubmitRedeem(ctx context.Context, assetID string, amount decimal.Decimal) (domain.Receipt, error) {
	return l.write(ctx, func() (*decimal.Decimal, error) {
		t, h, err := l.asset(assetID)
		if err != nil {
			return nil, err
		}
		if l.opts.Now().Before(t.MaturityDate) {
			return nil, reject("not matured")
		}
		if amount.GreaterThan(h.balance) {
			return nil, reject("redeem exceeds balance")
		}
		out, err := payout.RedemptionAmount(amount, t.RedemptionRate)
		if err != nil {
			return nil, reject(err.Error())
		}
		h.balance = h.balance.Sub(amount)
		return &out, nil
	})
}

// write waits out the latency, then applies fn atomically.
func (l *Ledger) write(ctx context.Context, fn func() (*decimal.Decimal, error)) (domain.Receipt, error) {
	if l.opts.Latency > 0 {
		timer := time.NewTimer(l.opts.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return domain.Receipt{}, fmt.Errorf("%w: %v", domain.ErrNetworkFailure, ctx.Err())
		case <-timer.C:
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.failNext; err != nil {
		l.failNext = nil
		return domain.Receipt{}, err
	}
	if l.opts.FailureRate > 0 && mrand.Float64() < l.opts.FailureRate {
		return domain.Receipt{}, reject("simulated failure")
	}

	out, err := fn()
	if err != nil {
		return domain.Receipt{}, err
	}
	l.block++
	return domain.Receipt{TxHash: randomHash(), BlockNumber: l.block, AmountOut: out}, nil
}

// asset must be called with mu held.
func (l *Ledger) asset(assetID string) (domain.AssetTerms, *holding, error) {
	t, ok := l.terms[assetID]
	if !ok {
		return domain.AssetTerms{}, nil, reject("asset " + assetID + " not listed")
	}
	h := l.holding(assetID)
	l.accrue(h)
	return t, h, nil
}

func (l *Ledger) holding(assetID string) *holding {
	h, ok := l.holdings[assetID]
	if !ok {
		h = &holding{accrued: l.opts.Now()}
		l.holdings[assetID] = h
	}
	return h
}

// accrue pays staking yield for the time since the last touch.
func (l *Ledger) accrue(h *holding) {
	now := l.opts.Now()
	if l.opts.StakingAPY.IsPositive() && h.staked.IsPositive() && now.After(h.accrued) {
		elapsed := decimal.NewFromFloat(now.Sub(h.accrued).Seconds())
		gain := h.staked.Mul(l.opts.StakingAPY).Div(decimal.NewFromInt(100)).Mul(elapsed).Div(secondsPerYear)
		h.rewards = h.rewards.Add(gain)
	}
	h.accrued = now
}

func reject(reason string) error {
	return fmt.Errorf("%w: execution reverted: %s", domain.ErrContractCallRejected, reason)
}

func randomHash() string {
	var b [32]byte
	_, _ = rand.Read(b[:])
	return "0x" + hex.EncodeToString(b[:])
}
