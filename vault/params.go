package vault

import "math/big"

// Default parameter values applied when governance has not overridden them.
const (
	DefaultSwapFeeBps       = 30
	DefaultStableSwapFeeBps = 4
	DefaultMarginFeeBps     = 10
	DefaultFundingInterval  = 8 * 60 * 60
	DefaultFundingFactor    = 600
	// DefaultMaxLeverage is expressed against the basis point divisor, so
	// 500_000 corresponds to 50x.
	DefaultMaxLeverage = 500_000
)

// FeeParams groups the basis point fee tables charged by the engine.
type FeeParams struct {
	// SwapFeeBps applies to swaps and debt unit issuance on volatile pairs.
	SwapFeeBps uint64
	// StableSwapFeeBps is the cheaper schedule for stable-to-stable swaps
	// and strict-stable issuance or redemption.
	StableSwapFeeBps uint64
	// MarginFeeBps is charged on position size at entry and exit.
	MarginFeeBps uint64
	// LiquidationFeeUsd is the fixed USD fee paid to the liquidation
	// executor, at the engine's USD fixed-point scale.
	LiquidationFeeUsd *big.Int
}

// Clone returns a deep copy of the fee parameters.
func (f FeeParams) Clone() FeeParams {
	clone := f
	if f.LiquidationFeeUsd != nil {
		clone.LiquidationFeeUsd = new(big.Int).Set(f.LiquidationFeeUsd)
	}
	return clone
}

// Normalise applies defaults to unset fee fields.
func (f FeeParams) Normalise() FeeParams {
	cfg := f.Clone()
	if cfg.SwapFeeBps == 0 {
		cfg.SwapFeeBps = DefaultSwapFeeBps
	}
	if cfg.StableSwapFeeBps == 0 {
		cfg.StableSwapFeeBps = DefaultStableSwapFeeBps
	}
	if cfg.MarginFeeBps == 0 {
		cfg.MarginFeeBps = DefaultMarginFeeBps
	}
	if cfg.LiquidationFeeUsd == nil || cfg.LiquidationFeeUsd.Sign() == 0 {
		cfg.LiquidationFeeUsd = new(big.Int).Mul(big.NewInt(5), pricePrecision)
	}
	return cfg
}

// FundingParams controls the lazy funding index accrual.
type FundingParams struct {
	// IntervalSeconds is the funding interval length.
	IntervalSeconds int64
	// RateFactor scales the reserved/pool utilisation into funding
	// precision units per interval.
	RateFactor uint64
}

// Normalise applies defaults to unset funding fields.
func (f FundingParams) Normalise() FundingParams {
	cfg := f
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = DefaultFundingInterval
	}
	if cfg.RateFactor == 0 {
		cfg.RateFactor = DefaultFundingFactor
	}
	return cfg
}

// PauseView reports whether vault operations have been halted by the
// operator. A nil view never pauses.
type PauseView interface {
	IsPaused(op string) bool
}
