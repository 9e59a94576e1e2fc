package vault

import (
	"math/big"
	"strings"
)

// DebtUnitSymbol is the ledger symbol under which the synthetic debt unit is
// tracked. Debt units are denominated with DebtUnitDecimals precision.
const DebtUnitSymbol = "VUSD"

// DebtUnitDecimals is the native precision of the debt unit.
const DebtUnitDecimals = 18

// TokenConfig captures the governance controlled configuration for a single
// collateral token. A token must resolve a price before it may be
// whitelisted; clearing the configuration resets every derived pool value.
type TokenConfig struct {
	// Symbol is the canonical ledger identifier for the token.
	Symbol string
	// Decimals is the token's native fixed-point precision.
	Decimals uint8
	// Whitelisted gates every vault operation touching the token.
	Whitelisted bool
	// Stable marks tokens expected to trade near one USD.
	Stable bool
	// StrictStable additionally clamps the oracle price to exactly one USD
	// within the configured deviation cap.
	StrictStable bool
	// Shortable allows the token to be used as the index of short positions.
	Shortable bool
	// RedemptionWeightBps caps debt unit issuance against the token as a
	// share of total pool value, expressed in basis points.
	RedemptionWeightBps uint64
	// MinProfitBps is the minimum relative price move before unrealised
	// gains are recognised on a position decrease.
	MinProfitBps uint64
	// BufferAmount is an optional floor under the pool amount that
	// redemptions and swaps may not break.
	BufferAmount *big.Int
}

// Clone returns a deep copy of the configuration.
func (c *TokenConfig) Clone() *TokenConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.BufferAmount != nil {
		clone.BufferAmount = new(big.Int).Set(c.BufferAmount)
	}
	return &clone
}

// PoolState holds the per-token accounting balances. Amount fields are
// denominated in the token's native units; GuaranteedUsd and the funding
// index use the engine's USD fixed-point scale and funding precision.
type PoolState struct {
	// Token is the symbol the state belongs to.
	Token string
	// PoolAmount is the token amount held as backing collateral, excluding
	// accrued fees.
	PoolAmount *big.Int
	// FeeReserve is the token amount owed to the protocol, withdrawable
	// separately from the pool.
	FeeReserve *big.Int
	// IssuedDebt is the debt unit face value minted against this token.
	IssuedDebt *big.Int
	// ReservedAmount is the token amount earmarked against open positions
	// and therefore unavailable for redemption.
	ReservedAmount *big.Int
	// GuaranteedUsd is the USD notional guaranteed by open long positions
	// using this token as collateral.
	GuaranteedUsd *big.Int
	// CumulativeFundingRate is the funding index in funding precision units.
	CumulativeFundingRate *big.Int
	// LastFundingTime records the interval boundary the index was last
	// advanced to, as a unix timestamp.
	LastFundingTime int64
	// RecordedBalance is the custody balance observed after the previous
	// operation; incoming transfers are detected as the delta against it.
	RecordedBalance *big.Int
}

// Position tracks a single leveraged position keyed by owner, collateral
// token, index token and side. Size, Collateral and AveragePrice use the USD
// fixed-point scale; ReserveAmount is in collateral token units.
type Position struct {
	Owner           string
	CollateralToken string
	IndexToken      string
	IsLong          bool
	Size            *big.Int
	Collateral      *big.Int
	AveragePrice    *big.Int
	// EntryFundingRate snapshots the collateral token's cumulative funding
	// index at the last touch.
	EntryFundingRate *big.Int
	ReserveAmount    *big.Int
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{
		Owner:           p.Owner,
		CollateralToken: p.CollateralToken,
		IndexToken:      p.IndexToken,
		IsLong:          p.IsLong,
	}
	clone.Size = cloneBig(p.Size)
	clone.Collateral = cloneBig(p.Collateral)
	clone.AveragePrice = cloneBig(p.AveragePrice)
	clone.EntryFundingRate = cloneBig(p.EntryFundingRate)
	clone.ReserveAmount = cloneBig(p.ReserveAmount)
	return clone
}

// PositionKey renders the canonical storage key for a position tuple.
func PositionKey(owner, collateralToken, indexToken string, isLong bool) string {
	side := "short"
	if isLong {
		side = "long"
	}
	return strings.Join([]string{
		strings.TrimSpace(owner),
		NormalizeSymbol(collateralToken),
		NormalizeSymbol(indexToken),
		side,
	}, "/")
}

// NormalizeSymbol canonicalises token symbols for consistent lookups.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
