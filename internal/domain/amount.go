package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// BaseAssetDecimals is the precision of the native currency.
const BaseAssetDecimals = 18

// ToDecimal converts raw integer units into a human amount.
func ToDecimal(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// ToUnits converts a human amount into raw integer units, truncating extra precision.
func ToUnits(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// ScaleAmount returns amount*pct/100 using integer arithmetic.
func ScaleAmount(amount *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(pct))
	return out.Quo(out, big.NewInt(100))
}
