package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// hundred is the percent denominator used by every rate on an asset.
var hundred = decimal.NewFromInt(100)

// AssetTerms is the decoded result of the registry's getAssetDetails call.
type AssetTerms struct {
	AssetID        string          `json:"asset_id"`
	TotalSupply    decimal.Decimal `json:"total_supply"`
	TokenPrice     decimal.Decimal `json:"token_price"`
	TokensSold     decimal.Decimal `json:"tokens_sold"`
	FundingGoal    decimal.Decimal `json:"funding_goal"`
	IsActive       bool            `json:"is_active"`
	MaturityDate   time.Time       `json:"maturity_date"`
	DiscountRate   decimal.Decimal `json:"discount_rate"`   // percent, [0,100)
	RedemptionRate decimal.Decimal `json:"redemption_rate"` // percent, >= 0
}

// Validate rejects terms that no rate computation could be run against.
func (t AssetTerms) Validate() error {
	if t.DiscountRate.IsNegative() || t.DiscountRate.GreaterThanOrEqual(hundred) {
		return ErrInvalidRate
	}
	if t.RedemptionRate.IsNegative() {
		return ErrInvalidRate
	}
	if t.MaturityDate.IsZero() {
		return ErrInvalidTerms
	}
	if t.TokenPrice.IsNegative() || t.FundingGoal.IsNegative() {
		return ErrInvalidTerms
	}
	return nil
}

// AvailableTokens is the unsold supply, floored at zero.
func (t AssetTerms) AvailableTokens() decimal.Decimal {
	left := t.TotalSupply.Sub(t.TokensSold)
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

// AssetPosition is one account's holding in one tokenized asset. Values are
// immutable once built; updates replace the whole record.
type AssetPosition struct {
	AssetID        string          `json:"asset_id"`
	Account        string          `json:"account"`
	Balance        decimal.Decimal `json:"balance"`
	StakedBalance  decimal.Decimal `json:"staked_balance"`
	AccruedRewards decimal.Decimal `json:"accrued_rewards"`
	MaturityDate   time.Time       `json:"maturity_date"`
	DiscountRate   decimal.Decimal `json:"discount_rate"`
	RedemptionRate decimal.Decimal `json:"redemption_rate"`
	IsLocked       bool            `json:"is_locked"`
	Terms          AssetTerms      `json:"terms"`
	RefreshedAt    time.Time       `json:"refreshed_at"`
}

// IsMatured reports whether redemption is open at now. Once true it stays
// true for every later instant.
func (p AssetPosition) IsMatured(now time.Time) bool {
	return !now.Before(p.MaturityDate)
}

// TotalHolding is liquid plus staked tokens.
func (p AssetPosition) TotalHolding() decimal.Decimal {
	return p.Balance.Add(p.StakedBalance)
}
