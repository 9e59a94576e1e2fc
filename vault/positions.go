package vault

import "math/big"

// IncreasePosition opens or grows a leveraged position. The collateral
// contributed is the token amount received since the previous operation,
// valued at the oracle's minimum price; sizeDelta is the USD notional added.
// The caller must be the owner or an approved router.
func (e *Engine) IncreasePosition(caller, owner, collateralToken, indexToken string, sizeDelta *big.Int, isLong bool) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := e.guard("increase"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.authorize(caller, owner); err != nil {
		return err
	}
	if sizeDelta == nil || sizeDelta.Sign() <= 0 {
		return ErrZeroAmount
	}
	cfgColl, cfgIdx, err := e.validatePair(collateralToken, indexToken, isLong)
	if err != nil {
		return err
	}
	pool, err := e.ensurePool(cfgColl.Symbol)
	if err != nil {
		return err
	}
	e.advanceFunding(pool)

	markPrice, err := e.quote(cfgIdx.Symbol, isLong)
	if err != nil {
		return err
	}
	collPriceMin, err := e.quote(cfgColl.Symbol, false)
	if err != nil {
		return err
	}

	key := PositionKey(owner, cfgColl.Symbol, cfgIdx.Symbol, isLong)
	stored, err := e.state.GetPosition(key)
	if err != nil {
		return err
	}
	pos := ensurePosition(stored, owner, cfgColl.Symbol, cfgIdx.Symbol, isLong)

	if pos.Size.Sign() == 0 {
		pos.AveragePrice = new(big.Int).Set(markPrice)
	} else {
		pos.AveragePrice = nextAveragePrice(pos, markPrice, sizeDelta, cfgIdx.MinProfitBps)
	}

	feeUsd := bpsOf(sizeDelta, e.fees.MarginFeeBps)
	feeUsd.Add(feeUsd, fundingFeeUsd(pool, pos))

	collateralIn, err := e.transferIn(pool)
	if err != nil {
		return err
	}
	if collateralIn.Sign() < 0 {
		return ErrZeroAmount
	}
	collateralDeltaUsd := tokenToUsd(collateralIn, collPriceMin, cfgColl.Decimals)

	newCollateral := new(big.Int).Add(pos.Collateral, collateralDeltaUsd)
	if newCollateral.Cmp(feeUsd) < 0 {
		return ErrInsufficientCollateral
	}
	newCollateral.Sub(newCollateral, feeUsd)

	newSize := new(big.Int).Add(pos.Size, sizeDelta)
	if newSize.Cmp(newCollateral) <= 0 {
		return ErrSizeBelowCollateral
	}
	if err := e.validateLeverage(newSize, newCollateral); err != nil {
		return err
	}

	feeTokens := usdToToken(feeUsd, collPriceMin, cfgColl.Decimals)
	reserveDelta := usdToToken(sizeDelta, collPriceMin, cfgColl.Decimals)

	projectedPool := new(big.Int).Add(pool.PoolAmount, collateralIn)
	projectedPool.Sub(projectedPool, feeTokens)
	newReserved := new(big.Int).Add(pool.ReservedAmount, reserveDelta)
	if newReserved.Cmp(projectedPool) > 0 {
		return ErrReserveExceedsPool
	}

	pos.Size = newSize
	pos.Collateral = newCollateral
	pos.EntryFundingRate = new(big.Int).Set(pool.CumulativeFundingRate)
	pos.ReserveAmount = new(big.Int).Add(pos.ReserveAmount, reserveDelta)

	pool.PoolAmount = projectedPool
	pool.FeeReserve = new(big.Int).Add(pool.FeeReserve, feeTokens)
	pool.ReservedAmount = newReserved
	if isLong {
		// The pool guarantees the USD shortfall between the notional and
		// the posted collateral; fees reduce collateral, enlarging it.
		guaranteed := new(big.Int).Add(pool.GuaranteedUsd, sizeDelta)
		guaranteed.Add(guaranteed, feeUsd)
		guaranteed.Sub(guaranteed, collateralDeltaUsd)
		pool.GuaranteedUsd = guaranteed
	}

	if err := e.state.PutPosition(key, pos); err != nil {
		return err
	}
	return e.state.PutPool(pool)
}

// DecreasePosition realises profit or loss on sizeDelta of the position,
// withdraws collateralDelta on top, and pays the net settlement to the
// receiver in collateral token units. A full close deletes the position.
func (e *Engine) DecreasePosition(caller, owner, collateralToken, indexToken string, collateralDelta, sizeDelta *big.Int, isLong bool, receiver string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard("decrease"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.authorize(caller, owner); err != nil {
		return nil, err
	}
	if sizeDelta == nil || sizeDelta.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if collateralDelta == nil {
		collateralDelta = big.NewInt(0)
	}
	cfgColl, err := e.whitelistedConfig(collateralToken)
	if err != nil {
		return nil, err
	}
	cfgIdx, err := e.whitelistedConfig(indexToken)
	if err != nil {
		return nil, err
	}
	pool, err := e.ensurePool(cfgColl.Symbol)
	if err != nil {
		return nil, err
	}
	e.advanceFunding(pool)

	key := PositionKey(owner, cfgColl.Symbol, cfgIdx.Symbol, isLong)
	stored, err := e.state.GetPosition(key)
	if err != nil {
		return nil, err
	}
	if stored == nil || stored.Size == nil || stored.Size.Sign() == 0 {
		return nil, ErrNoPosition
	}
	pos := stored.Clone()
	if sizeDelta.Cmp(pos.Size) > 0 {
		return nil, ErrSizeExceeded
	}

	markPrice, err := e.quote(cfgIdx.Symbol, !isLong)
	if err != nil {
		return nil, err
	}
	collPriceMin, err := e.quote(cfgColl.Symbol, false)
	if err != nil {
		return nil, err
	}

	reserveDelta := new(big.Int).Mul(pos.ReserveAmount, sizeDelta)
	reserveDelta.Quo(reserveDelta, pos.Size)

	feeUsd := bpsOf(sizeDelta, e.fees.MarginFeeBps)
	feeUsd.Add(feeUsd, fundingFeeUsd(pool, pos))

	delta, hasProfit := positionDelta(pos, markPrice, cfgIdx.MinProfitBps)
	// Scale the full-size delta down to the portion being closed.
	adjusted := new(big.Int).Mul(delta, sizeDelta)
	adjusted.Quo(adjusted, pos.Size)

	collateral := new(big.Int).Set(pos.Collateral)
	usdOut := big.NewInt(0)
	if hasProfit {
		usdOut.Add(usdOut, adjusted)
	} else {
		if collateral.Cmp(adjusted) < 0 {
			return nil, ErrLossesExceedCollateral
		}
		collateral.Sub(collateral, adjusted)
	}
	if collateralDelta.Sign() > 0 {
		if collateral.Cmp(collateralDelta) < 0 {
			return nil, ErrInsufficientCollateral
		}
		collateral.Sub(collateral, collateralDelta)
		usdOut.Add(usdOut, collateralDelta)
	}
	fullClose := sizeDelta.Cmp(pos.Size) == 0
	if fullClose {
		usdOut.Add(usdOut, collateral)
		collateral = big.NewInt(0)
	}

	if usdOut.Cmp(feeUsd) >= 0 {
		usdOut.Sub(usdOut, feeUsd)
	} else {
		shortfall := new(big.Int).Sub(feeUsd, usdOut)
		usdOut = big.NewInt(0)
		if collateral.Cmp(shortfall) < 0 {
			return nil, ErrInsufficientCollateral
		}
		collateral.Sub(collateral, shortfall)
	}

	newSize := new(big.Int).Sub(pos.Size, sizeDelta)
	if !fullClose {
		if newSize.Cmp(collateral) <= 0 {
			return nil, ErrSizeBelowCollateral
		}
		if collateral.Cmp(e.fees.LiquidationFeeUsd) < 0 {
			return nil, ErrInsufficientCollateral
		}
		if err := e.validateLeverage(newSize, collateral); err != nil {
			return nil, err
		}
	}

	feeTokens := usdToToken(feeUsd, collPriceMin, cfgColl.Decimals)
	tokensOut := usdToToken(usdOut, collPriceMin, cfgColl.Decimals)

	newReserved := new(big.Int).Sub(pool.ReservedAmount, reserveDelta)
	if newReserved.Sign() < 0 {
		newReserved = big.NewInt(0)
	}
	newPool := new(big.Int).Sub(pool.PoolAmount, feeTokens)
	newPool.Sub(newPool, tokensOut)
	if newPool.Sign() < 0 || newPool.Cmp(newReserved) < 0 {
		return nil, ErrInsufficientPool
	}

	if isLong {
		collateralReduction := new(big.Int).Sub(pos.Collateral, collateral)
		guaranteed := new(big.Int).Add(pool.GuaranteedUsd, collateralReduction)
		guaranteed.Sub(guaranteed, sizeDelta)
		if guaranteed.Sign() < 0 {
			guaranteed = big.NewInt(0)
		}
		pool.GuaranteedUsd = guaranteed
	}
	pool.PoolAmount = newPool
	pool.FeeReserve = new(big.Int).Add(pool.FeeReserve, feeTokens)
	pool.ReservedAmount = newReserved

	pos.Size = newSize
	pos.Collateral = collateral
	pos.ReserveAmount = new(big.Int).Sub(pos.ReserveAmount, reserveDelta)
	pos.EntryFundingRate = new(big.Int).Set(pool.CumulativeFundingRate)

	if fullClose {
		if err := e.state.DeletePosition(key); err != nil {
			return nil, err
		}
	} else {
		if err := e.state.PutPosition(key, pos); err != nil {
			return nil, err
		}
	}
	if err := e.transferOut(pool, cfgColl.Symbol, tokensOut, receiver); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	return tokensOut, nil
}

// LiquidatePosition closes an underwater position. Callable by anyone; the
// fixed USD liquidation fee is drawn from the pool in collateral token units
// and paid to feeReceiver, margin and funding fees move to the fee reserve,
// and residual collateral beyond fees and losses is returned to the owner.
func (e *Engine) LiquidatePosition(owner, collateralToken, indexToken string, isLong bool, feeReceiver string) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := e.guard("liquidate"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cfgColl, err := e.whitelistedConfig(collateralToken)
	if err != nil {
		return err
	}
	cfgIdx, err := e.whitelistedConfig(indexToken)
	if err != nil {
		return err
	}
	pool, err := e.ensurePool(cfgColl.Symbol)
	if err != nil {
		return err
	}
	e.advanceFunding(pool)

	key := PositionKey(owner, cfgColl.Symbol, cfgIdx.Symbol, isLong)
	stored, err := e.state.GetPosition(key)
	if err != nil {
		return err
	}
	if stored == nil || stored.Size == nil || stored.Size.Sign() == 0 {
		return ErrNoPosition
	}
	pos := stored.Clone()

	markPrice, err := e.quote(cfgIdx.Symbol, !isLong)
	if err != nil {
		return err
	}
	collPriceMin, err := e.quote(cfgColl.Symbol, false)
	if err != nil {
		return err
	}

	feeUsd := bpsOf(pos.Size, e.fees.MarginFeeBps)
	feeUsd.Add(feeUsd, fundingFeeUsd(pool, pos))
	delta, hasProfit := positionDelta(pos, markPrice, cfgIdx.MinProfitBps)
	loss := big.NewInt(0)
	if !hasProfit {
		loss = delta
	}
	if !e.liquidatable(pos, feeUsd, loss) {
		return ErrNotLiquidatable
	}

	// Settlement priority: losses stay in the pool, margin fees next,
	// residual back to the owner. The fixed liquidation fee is drawn from
	// the pool separately.
	avail := new(big.Int).Set(pos.Collateral)
	lossTaken := minBig(loss, avail)
	avail.Sub(avail, lossTaken)
	feeTaken := minBig(feeUsd, avail)
	avail.Sub(avail, feeTaken)
	residualUsd := avail

	feeTokens := usdToToken(feeTaken, collPriceMin, cfgColl.Decimals)
	residualTokens := usdToToken(residualUsd, collPriceMin, cfgColl.Decimals)
	liqFeeTokens := usdToToken(e.fees.LiquidationFeeUsd, collPriceMin, cfgColl.Decimals)

	newReserved := subClamped(pool.ReservedAmount, pos.ReserveAmount)
	newPool := new(big.Int).Sub(pool.PoolAmount, feeTokens)
	newPool.Sub(newPool, residualTokens)
	newPool.Sub(newPool, liqFeeTokens)
	if newPool.Sign() < 0 || newPool.Cmp(newReserved) < 0 {
		return ErrInsufficientPool
	}

	if isLong {
		shortfall := new(big.Int).Sub(pos.Size, pos.Collateral)
		pool.GuaranteedUsd = subClamped(pool.GuaranteedUsd, shortfall)
	}
	pool.PoolAmount = newPool
	pool.FeeReserve = new(big.Int).Add(pool.FeeReserve, feeTokens)
	pool.ReservedAmount = newReserved

	if err := e.state.DeletePosition(key); err != nil {
		return err
	}
	if err := e.transferOut(pool, cfgColl.Symbol, liqFeeTokens, feeReceiver); err != nil {
		return err
	}
	if err := e.transferOut(pool, cfgColl.Symbol, residualTokens, owner); err != nil {
		return err
	}
	return e.state.PutPool(pool)
}

// liquidatable applies the three liquidation clauses: accrued fees alone
// exceeding collateral forces liquidation regardless of price; otherwise the
// realised loss plus the fixed liquidation fee exceeding collateral, or
// leverage drifting above the configured maximum, qualifies.
func (e *Engine) liquidatable(pos *Position, feeUsd, loss *big.Int) bool {
	if feeUsd.Cmp(pos.Collateral) > 0 {
		return true
	}
	withLiqFee := new(big.Int).Add(loss, e.fees.LiquidationFeeUsd)
	if withLiqFee.Cmp(pos.Collateral) > 0 {
		return true
	}
	remaining := new(big.Int).Sub(pos.Collateral, loss)
	remaining.Sub(remaining, feeUsd)
	if remaining.Sign() <= 0 {
		return true
	}
	lhs := new(big.Int).Mul(pos.Size, basisPoints)
	rhs := new(big.Int).Mul(remaining, new(big.Int).SetUint64(e.maxLeverage))
	return lhs.Cmp(rhs) > 0
}

func (e *Engine) authorize(caller, owner string) error {
	if caller == owner {
		return nil
	}
	if _, ok := e.approved[caller]; ok {
		return nil
	}
	return ErrUnauthorizedCaller
}

// validatePair enforces the collateral/index pairing rules: longs post the
// index token itself as collateral and it must not be a stable token; shorts
// post stable collateral against a shortable, non-stable index.
func (e *Engine) validatePair(collateralToken, indexToken string, isLong bool) (*TokenConfig, *TokenConfig, error) {
	cfgColl, err := e.whitelistedConfig(collateralToken)
	if err != nil {
		return nil, nil, err
	}
	cfgIdx, err := e.whitelistedConfig(indexToken)
	if err != nil {
		return nil, nil, err
	}
	if isLong {
		if cfgColl.Symbol != cfgIdx.Symbol || cfgColl.Stable {
			return nil, nil, ErrInvalidPair
		}
		return cfgColl, cfgIdx, nil
	}
	if !cfgColl.Stable || cfgIdx.Stable || !cfgIdx.Shortable {
		return nil, nil, ErrInvalidPair
	}
	return cfgColl, cfgIdx, nil
}

func (e *Engine) validateLeverage(size, collateral *big.Int) error {
	if collateral.Sign() <= 0 {
		return ErrInsufficientCollateral
	}
	lhs := new(big.Int).Mul(size, basisPoints)
	rhs := new(big.Int).Mul(collateral, new(big.Int).SetUint64(e.maxLeverage))
	if lhs.Cmp(rhs) > 0 {
		return ErrMaxLeverage
	}
	return nil
}

// positionDelta values the position's full size against the mark price.
// Gains below the token's min profit threshold are deferred to zero; losses
// are always recognised in full.
func positionDelta(pos *Position, markPrice *big.Int, minProfitBps uint64) (*big.Int, bool) {
	avg := pos.AveragePrice
	if avg == nil || avg.Sign() == 0 {
		return big.NewInt(0), false
	}
	priceDelta := new(big.Int).Sub(avg, markPrice)
	if priceDelta.Sign() < 0 {
		priceDelta.Neg(priceDelta)
	}
	delta := new(big.Int).Mul(pos.Size, priceDelta)
	delta.Quo(delta, avg)

	var hasProfit bool
	if pos.IsLong {
		hasProfit = markPrice.Cmp(avg) > 0
	} else {
		hasProfit = avg.Cmp(markPrice) > 0
	}
	if hasProfit && minProfitBps > 0 {
		moveBps := new(big.Int).Mul(priceDelta, basisPoints)
		threshold := new(big.Int).Mul(avg, new(big.Int).SetUint64(minProfitBps))
		if moveBps.Cmp(threshold) <= 0 {
			delta = big.NewInt(0)
		}
	}
	return delta, hasProfit
}

// nextAveragePrice blends the entry price with the mark price proportionally
// to the marginal size so that the unrealised delta is preserved across the
// increase.
func nextAveragePrice(pos *Position, markPrice, sizeDelta *big.Int, minProfitBps uint64) *big.Int {
	delta, hasProfit := positionDelta(pos, markPrice, minProfitBps)
	nextSize := new(big.Int).Add(pos.Size, sizeDelta)
	divisor := new(big.Int).Set(nextSize)
	if pos.IsLong == hasProfit {
		divisor.Add(divisor, delta)
	} else {
		divisor.Sub(divisor, delta)
	}
	if divisor.Sign() <= 0 {
		return new(big.Int).Set(markPrice)
	}
	next := new(big.Int).Mul(markPrice, nextSize)
	return next.Quo(next, divisor)
}

func ensurePosition(stored *Position, owner, collateral, index string, isLong bool) *Position {
	pos := stored.Clone()
	if pos == nil {
		pos = &Position{
			Owner:           owner,
			CollateralToken: collateral,
			IndexToken:      index,
			IsLong:          isLong,
		}
	}
	for _, field := range []**big.Int{
		&pos.Size, &pos.Collateral, &pos.AveragePrice,
		&pos.EntryFundingRate, &pos.ReserveAmount,
	} {
		if *field == nil {
			*field = big.NewInt(0)
		}
	}
	return pos
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) < 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
