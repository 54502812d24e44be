package payout

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/rwavault/internal/domain"
)

// tokenPlaces is the precision of a token quantity on chain.
const tokenPlaces = 18

var twelve = decimal.NewFromInt(12)

// Quote is what a prospective investment buys and costs.
type Quote struct {
	AssetID        string          `json:"asset_id"`
	Investment     decimal.Decimal `json:"investment"`
	Tokens         decimal.Decimal `json:"tokens"`
	OwnershipPct   decimal.Decimal `json:"ownership_pct"`
	PlatformFee    decimal.Decimal `json:"platform_fee"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	AnnualReturn   decimal.Decimal `json:"annual_return"`
	MonthlyReturn  decimal.Decimal `json:"monthly_return"`
	MaxInvestment  decimal.Decimal `json:"max_investment"`
	TokensLeft     decimal.Decimal `json:"tokens_left"`
	ExpectedROIPct decimal.Decimal `json:"expected_roi_pct"`
}

// TokenAmount converts a currency amount into tokens at tokenPrice.
func TokenAmount(investment, tokenPrice decimal.Decimal) (decimal.Decimal, error) {
	if !investment.IsPositive() {
		return decimal.Zero, domain.ErrInvalidAmount
	}
	if !tokenPrice.IsPositive() {
		return decimal.Zero, domain.ErrInvalidTerms
	}
	return investment.DivRound(tokenPrice, tokenPlaces), nil
}

// PlatformFee returns amount * feePct/100.
func PlatformFee(amount, feePct decimal.Decimal) decimal.Decimal {
	return amount.Mul(feePct).Div(hundred)
}

// ExpectedReturns returns the annual and monthly return of amount at roiPct.
func ExpectedReturns(amount, roiPct decimal.Decimal) (annual, monthly decimal.Decimal) {
	annual = amount.Mul(roiPct).Div(hundred)
	monthly = annual.Div(twelve)
	return annual, monthly
}

// MaxInvestment caps a single investment at share of the funding goal. A zero
// goal means no cap and returns zero.
func MaxInvestment(fundingGoal, share decimal.Decimal) decimal.Decimal {
	if !fundingGoal.IsPositive() {
		return decimal.Zero
	}
	return fundingGoal.Mul(share)
}

// NewQuote prices an investment against the asset's terms. Monetary fields
// are rounded for display; Tokens keeps on-chain precision.
func NewQuote(terms domain.AssetTerms, investment, feePct, roiPct, maxShare decimal.Decimal) (Quote, error) {
	tokens, err := TokenAmount(investment, terms.TokenPrice)
	if err != nil {
		return Quote{}, err
	}
	fee := PlatformFee(investment, feePct)
	annual, monthly := ExpectedReturns(investment, roiPct)

	ownership := decimal.Zero
	if terms.TotalSupply.IsPositive() {
		ownership = tokens.Mul(hundred).Div(terms.TotalSupply)
	}

	return Quote{
		AssetID:        terms.AssetID,
		Investment:     investment,
		Tokens:         tokens,
		OwnershipPct:   ownership.Round(4),
		PlatformFee:    RoundPayout(fee),
		TotalCost:      RoundPayout(investment.Add(fee)),
		AnnualReturn:   RoundPayout(annual),
		MonthlyReturn:  RoundPayout(monthly),
		MaxInvestment:  RoundPayout(MaxInvestment(terms.FundingGoal, maxShare)),
		TokensLeft:     terms.AvailableTokens(),
		ExpectedROIPct: roiPct,
	}, nil
}
