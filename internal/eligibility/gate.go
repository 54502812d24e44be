// Package eligibility decides whether an action may be attempted against a
// position. Rules run in a fixed order and the first failure wins, so the
// investor always sees the most fundamental reason first.
package eligibility

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

// Limits bounds the BUY action.
type Limits struct {
	MinInvestment decimal.Decimal
	// MaxShare is the largest fraction of the funding goal one investment may take.
	MaxShare decimal.Decimal
}

// Gate evaluates eligibility rules. The zero value applies no BUY limits.
type Gate struct {
	limits Limits
}

// NewGate creates a Gate with the given BUY limits.
func NewGate(limits Limits) *Gate {
	return &Gate{limits: limits}
}

// Request is one eligibility question.
type Request struct {
	Action   domain.ActionType
	Position domain.AssetPosition
	Kyc      domain.KycStatus
	Amount   decimal.Decimal
	Now      time.Time
}

// Check returns nil when the action may proceed, or the first gate error.
func (g *Gate) Check(req Request) error {
	if req.Kyc != domain.KycApproved {
		return domain.ErrKycRequired
	}
	if req.Position.IsLocked {
		return domain.ErrAssetLocked
	}
	if req.Action.TakesAmount() && !req.Amount.IsPositive() {
		return domain.ErrInvalidAmount
	}

	pos := req.Position
	switch req.Action {
	case domain.ActionStake, domain.ActionCashOut:
		if req.Amount.GreaterThan(pos.Balance) {
			return domain.ErrInsufficientBalance
		}
		if req.Action == domain.ActionCashOut && !validDiscount(pos.DiscountRate) {
			return domain.ErrInvalidRate
		}
	case domain.ActionUnstake:
		if req.Amount.GreaterThan(pos.StakedBalance) {
			return domain.ErrInsufficientStaked
		}
	case domain.ActionRedeem:
		if !pos.IsMatured(req.Now) {
			return domain.ErrNotMatured
		}
		if req.Amount.GreaterThan(pos.Balance) {
			return domain.ErrInsufficientBalance
		}
		if pos.RedemptionRate.IsNegative() {
			return domain.ErrInvalidRate
		}
	case domain.ActionClaim:
		if !pos.AccruedRewards.IsPositive() {
			return domain.ErrNothingToClaim
		}
	case domain.ActionBuy:
		return g.checkBuy(req.Amount, pos.Terms)
	default:
		return domain.ErrUnknownAction
	}
	return nil
}

func (g *Gate) checkBuy(amount decimal.Decimal, terms domain.AssetTerms) error {
	if amount.LessThan(g.limits.MinInvestment) {
		return domain.ErrBelowMinInvestment
	}
	if terms.FundingGoal.IsPositive() && g.limits.MaxShare.IsPositive() {
		if amount.GreaterThan(terms.FundingGoal.Mul(g.limits.MaxShare)) {
			return domain.ErrAboveMaxInvestment
		}
	}
	return nil
}

func validDiscount(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThan(decimal.NewFromInt(100))
}

// Allowed lists every action that would pass for amount against the position.
// CLAIM ignores the amount.
func (g *Gate) Allowed(pos domain.AssetPosition, kyc domain.KycStatus, amount decimal.Decimal, now time.Time) []domain.ActionType {
	var out []domain.ActionType
	for _, a := range domain.AllActions {
		if g.Check(Request{Action: a, Position: pos, Kyc: kyc, Amount: amount, Now: now}) == nil {
			out = append(out, a)
		}
	}
	return out
}
