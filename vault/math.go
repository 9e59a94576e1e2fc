package vault

import (
	"fmt"
	"math/big"
)

var (
	basisPoints = big.NewInt(10_000)
	// pricePrecision is the USD fixed-point scale used for prices and all
	// USD denominated book values.
	pricePrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)
	// fundingPrecision scales the cumulative funding index.
	fundingPrecision = big.NewInt(1_000_000)
)

func bpsOf(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, basisPoints)
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// tokenToUsd converts a native token amount into USD at the supplied price.
// The result carries the engine's USD fixed-point scale.
func tokenToUsd(amount, price *big.Int, decimals uint8) *big.Int {
	if amount == nil || amount.Sign() == 0 || price == nil {
		return big.NewInt(0)
	}
	usd := new(big.Int).Mul(amount, price)
	return usd.Quo(usd, pow10(decimals))
}

// usdToToken converts a USD value back into native token units at the
// supplied price, truncating towards zero.
func usdToToken(usd, price *big.Int, decimals uint8) *big.Int {
	if usd == nil || usd.Sign() == 0 || price == nil || price.Sign() == 0 {
		return big.NewInt(0)
	}
	amount := new(big.Int).Mul(usd, pow10(decimals))
	return amount.Quo(amount, price)
}

// adjustForDecimals rescales an integer amount between two native precisions.
func adjustForDecimals(amount *big.Int, from, to uint8) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	if from == to {
		return new(big.Int).Set(amount)
	}
	out := new(big.Int).Mul(amount, pow10(to))
	return out.Quo(out, pow10(from))
}

// UsdFromWhole converts a whole-dollar figure into the engine's USD
// fixed-point scale.
func UsdFromWhole(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), pricePrecision)
}

// ParseUsd parses a decimal USD string into the engine's fixed-point scale.
func ParseUsd(raw string) (*big.Int, error) {
	rat, ok := new(big.Rat).SetString(raw)
	if !ok || rat.Sign() < 0 {
		return nil, fmt.Errorf("vault engine: invalid usd amount %q", raw)
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(pricePrecision))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}

// usdToDebtUnits rescales a USD fixed-point value into debt unit precision.
func usdToDebtUnits(usd *big.Int) *big.Int {
	if usd == nil || usd.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(usd, pow10(DebtUnitDecimals))
	return out.Quo(out, pricePrecision)
}
