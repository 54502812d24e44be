package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Receipt is the outcome of a mined registry transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	// AmountOut is set when the registry emitted a payout event.
	AmountOut *decimal.Decimal
}

// AssetReader reads authoritative per-account asset state.
type AssetReader interface {
	Account() string
	ReadBalance(ctx context.Context, assetID string) (decimal.Decimal, error)
	ReadStaked(ctx context.Context, assetID string) (decimal.Decimal, error)
	ReadRewards(ctx context.Context, assetID string) (decimal.Decimal, error)
	ReadAssetTerms(ctx context.Context, assetID string) (AssetTerms, error)
}

// AssetLedger is the full boundary to the property registry contract.
// Writes block until the transaction is mined or ctx ends.
type AssetLedger interface {
	AssetReader
	Approve(ctx context.Context, amount decimal.Decimal) (Receipt, error)
	SubmitBuy(ctx context.Context, assetID string, tokens decimal.Decimal) (Receipt, error)
	SubmitStake(ctx context.Context, assetID string, amount decimal.Decimal) (Receipt, error)
	SubmitUnstake(ctx context.Context, assetID string, amount decimal.Decimal) (Receipt, error)
	SubmitClaim(ctx context.Context, assetID string) (Receipt, error)
	SubmitCashOut(ctx context.Context, assetID string, amount decimal.Decimal) (Receipt, error)
	SubmitRedeem(ctx context.Context, assetID string, amount decimal.Decimal) (Receipt, error)
}
