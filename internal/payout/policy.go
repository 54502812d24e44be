// Package payout holds the pure exit-value arithmetic for tokenized assets:
// early cash-out at a discount and redemption at maturity, plus the
// investment quote used by the buy flow.
//
// All arithmetic runs on decimal.Decimal at full precision. Rounding to
// cents happens once, through RoundPayout, where a value is recorded or
// transferred.
package payout

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

// PayoutPlaces is the number of decimals a payout is rounded to.
const PayoutPlaces = 2

var hundred = decimal.NewFromInt(100)

// ParRate is the redemption rate that returns exactly the principal.
var ParRate = hundred

// EarlyCashOutAmount returns amount * (1 - discountRate/100).
func EarlyCashOutAmount(amount, discountRate decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, domain.ErrInvalidAmount
	}
	if discountRate.IsNegative() || discountRate.GreaterThanOrEqual(hundred) {
		return decimal.Zero, domain.ErrInvalidRate
	}
	keep := hundred.Sub(discountRate)
	return amount.Mul(keep).Div(hundred), nil
}

// RedemptionAmount returns amount * redemptionRate/100. Rates above 100 pay a
// premium, below 100 a haircut.
func RedemptionAmount(amount, redemptionRate decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, domain.ErrInvalidAmount
	}
	if redemptionRate.IsNegative() {
		return decimal.Zero, domain.ErrInvalidRate
	}
	return amount.Mul(redemptionRate).Div(hundred), nil
}

// RoundPayout rounds half-up to PayoutPlaces. Payouts are never negative, so
// decimal's half-away-from-zero rounding is half-up here.
func RoundPayout(d decimal.Decimal) decimal.Decimal {
	return d.Round(PayoutPlaces)
}

// FormatPayout renders a payout with exactly two decimals, e.g. "850.00".
func FormatPayout(d decimal.Decimal) string {
	return d.StringFixed(PayoutPlaces)
}

// ExitValue computes the payout a position would receive for action at the
// given amount. Only CASHOUT and REDEEM produce a payout; other actions
// return zero.
func ExitValue(action domain.ActionType, amount decimal.Decimal, pos domain.AssetPosition) (decimal.Decimal, error) {
	switch action {
	case domain.ActionCashOut:
		return EarlyCashOutAmount(amount, pos.DiscountRate)
	case domain.ActionRedeem:
		return RedemptionAmount(amount, pos.RedemptionRate)
	}
	return decimal.Zero, nil
}
