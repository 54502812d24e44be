package chain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// TokenDecimals is the fixed-point scale of every token amount on chain.
const TokenDecimals = 18

// ToWei converts a token amount to its on-chain integer. Digits beyond
// TokenDecimals are truncated.
func ToWei(amount decimal.Decimal) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("chain: negative amount %s", amount)
	}
	return amount.Shift(TokenDecimals).Truncate(0).BigInt(), nil
}

// FromWei converts an on-chain integer to a token amount.
func FromWei(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -TokenDecimals)
}

// percentFromChain reads an integer percent.
func percentFromChain(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0)
}

// timeFromChain reads a unix-seconds timestamp.
func timeFromChain(v *big.Int) time.Time {
	if v == nil || v.Sign() <= 0 || !v.IsInt64() {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
