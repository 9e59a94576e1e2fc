package vault

import "math/big"

// advanceFunding brings the pool's cumulative funding index forward to the
// most recent interval boundary. The rate per interval is proportional to
// pool utilisation: rateFactor * reservedAmount / poolAmount, in funding
// precision units. Called at the top of every operation that touches the
// token so positions always settle against a fresh index.
func (e *Engine) advanceFunding(pool *PoolState) {
	now := e.nowFn().Unix()
	interval := e.funding.IntervalSeconds
	if pool.LastFundingTime == 0 {
		pool.LastFundingTime = (now / interval) * interval
		return
	}
	if pool.LastFundingTime+interval > now {
		return
	}
	intervals := (now - pool.LastFundingTime) / interval
	if pool.PoolAmount.Sign() > 0 && pool.ReservedAmount.Sign() > 0 {
		rate := new(big.Int).SetUint64(e.funding.RateFactor)
		rate.Mul(rate, pool.ReservedAmount)
		rate.Mul(rate, big.NewInt(intervals))
		rate.Quo(rate, pool.PoolAmount)
		pool.CumulativeFundingRate = new(big.Int).Add(pool.CumulativeFundingRate, rate)
	}
	pool.LastFundingTime = (now / interval) * interval
}

// fundingFeeUsd settles the funding accrued by a position since its entry
// snapshot, charged against the position's full size.
func fundingFeeUsd(pool *PoolState, pos *Position) *big.Int {
	if pos == nil || pos.Size == nil || pos.Size.Sign() == 0 {
		return big.NewInt(0)
	}
	entry := pos.EntryFundingRate
	if entry == nil {
		entry = big.NewInt(0)
	}
	delta := new(big.Int).Sub(pool.CumulativeFundingRate, entry)
	if delta.Sign() <= 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(pos.Size, delta)
	return fee.Quo(fee, fundingPrecision)
}
