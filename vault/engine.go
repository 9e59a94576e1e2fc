package vault

import (
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"
)

var (
	ErrNilState               = errors.New("vault engine: state not configured")
	ErrNilOracle              = errors.New("vault engine: price source not configured")
	ErrPaused                 = errors.New("vault engine: operations paused")
	ErrNotWhitelisted         = errors.New("vault engine: token not whitelisted")
	ErrZeroAmount             = errors.New("vault engine: amount must be positive")
	ErrSameToken              = errors.New("vault engine: tokens must differ")
	ErrDebtCapExceeded        = errors.New("vault engine: max debt exceeded")
	ErrDebtUnderflow          = errors.New("vault engine: issued debt underflow")
	ErrInsufficientPool       = errors.New("vault engine: insufficient pool amount")
	ErrBufferBreached         = errors.New("vault engine: pool buffer breached")
	ErrReserveExceedsPool     = errors.New("vault engine: reserve exceeds pool")
	ErrInvalidPair            = errors.New("vault engine: invalid collateral and index pairing")
	ErrUnauthorizedCaller     = errors.New("vault engine: caller not approved")
	ErrNoPosition             = errors.New("vault engine: position does not exist")
	ErrSizeExceeded           = errors.New("vault engine: size delta exceeds position size")
	ErrSizeBelowCollateral    = errors.New("vault engine: size must exceed collateral")
	ErrInsufficientCollateral = errors.New("vault engine: insufficient collateral for fees")
	ErrLossesExceedCollateral = errors.New("vault engine: losses exceed collateral")
	ErrMaxLeverage            = errors.New("vault engine: max leverage exceeded")
	ErrNotLiquidatable        = errors.New("vault engine: position not eligible for liquidation")
	ErrPriceRequired          = errors.New("vault engine: token price not resolvable")
)

// PriceSource resolves a USD fixed-point price for a token. wantMax selects
// the bound that is conservative for the caller's direction.
type PriceSource interface {
	Quote(symbol string, wantMax bool) (*big.Int, error)
}

type engineState interface {
	GetTokenConfig(symbol string) (*TokenConfig, error)
	PutTokenConfig(cfg *TokenConfig) error
	DeleteTokenConfig(symbol string) error
	TokenList() ([]string, error)
	GetPool(symbol string) (*PoolState, error)
	PutPool(pool *PoolState) error
	GetPosition(key string) (*Position, error)
	PutPosition(key string, pos *Position) error
	DeletePosition(key string) error
	GetBalance(owner, token string) (*big.Int, error)
	SetBalance(owner, token string, amount *big.Int) error
	DebtSupply() (*big.Int, error)
	SetDebtSupply(amount *big.Int) error
	DebtRecordedBalance() (*big.Int, error)
	SetDebtRecordedBalance(amount *big.Int) error
}

// Engine orchestrates the vault state transitions: debt unit issuance and
// redemption, swaps, the position lifecycle and fee withdrawal. Every public
// operation re-reads oracle prices, advances funding for the tokens it
// touches and validates the solvency invariants before any state is
// persisted; a failed operation leaves the ledger untouched.
//
// A single mutex serializes every state transition. Reservation and balance
// checks read poolAmount before committing, so two interleaved operations
// could both pass a check the combined result violates.
type Engine struct {
	mu             sync.Mutex
	state          engineState
	oracle         PriceSource
	custodyAccount string
	fees           FeeParams
	funding        FundingParams
	maxLeverage    uint64
	approved       map[string]struct{}
	pauses         PauseView
	nowFn          func() time.Time
}

// NewEngine constructs a vault engine whose custody balances are tracked
// under the supplied ledger account.
func NewEngine(custodyAccount string) *Engine {
	return &Engine{
		custodyAccount: strings.TrimSpace(custodyAccount),
		fees:           FeeParams{}.Normalise(),
		funding:        FundingParams{}.Normalise(),
		maxLeverage:    DefaultMaxLeverage,
		approved:       make(map[string]struct{}),
		nowFn:          func() time.Time { return time.Now().UTC() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetOracle wires the engine to the price aggregation layer.
func (e *Engine) SetOracle(oracle PriceSource) {
	if e == nil {
		return
	}
	e.oracle = oracle
}

// SetPauses installs the operator pause switches consulted on every call.
func (e *Engine) SetPauses(p PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the clock used for funding accrual.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

// SetFees replaces the fee schedule.
func (e *Engine) SetFees(fees FeeParams) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fees = fees.Normalise()
}

// Fees returns a copy of the currently configured fee schedule.
func (e *Engine) Fees() FeeParams {
	if e == nil {
		return FeeParams{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fees.Clone()
}

// SetFundingParams replaces the funding accrual parameters.
func (e *Engine) SetFundingParams(funding FundingParams) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.funding = funding.Normalise()
}

// SetMaxLeverage configures the leverage bound expressed against the basis
// point divisor, so 500_000 corresponds to 50x.
func (e *Engine) SetMaxLeverage(maxLeverage uint64) {
	if e == nil || maxLeverage == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxLeverage = maxLeverage
}

// AddApprovedCaller allows the supplied router identity to invoke position
// operations on behalf of other owners.
func (e *Engine) AddApprovedCaller(caller string) {
	if e == nil {
		return
	}
	trimmed := strings.TrimSpace(caller)
	if trimmed == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.approved[trimmed] = struct{}{}
}

// RemoveApprovedCaller revokes a router identity.
func (e *Engine) RemoveApprovedCaller(caller string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.approved, strings.TrimSpace(caller))
}

// CustodyAccount returns the ledger account holding the vault's custodied
// balances.
func (e *Engine) CustodyAccount() string {
	if e == nil {
		return ""
	}
	return e.custodyAccount
}

// SetTokenConfig creates or updates a token configuration. Whitelisting
// requires the oracle to resolve a price for the token.
func (e *Engine) SetTokenConfig(cfg *TokenConfig) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if cfg == nil {
		return ErrZeroAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	stored := cfg.Clone()
	stored.Symbol = NormalizeSymbol(stored.Symbol)
	if stored.Symbol == "" {
		return ErrNotWhitelisted
	}
	if stored.Whitelisted {
		if e.oracle == nil {
			return ErrNilOracle
		}
		price, err := e.oracle.Quote(stored.Symbol, false)
		if err != nil {
			return err
		}
		if price == nil || price.Sign() <= 0 {
			return ErrPriceRequired
		}
	}
	return e.state.PutTokenConfig(stored)
}

// ClearTokenConfig removes a token configuration and resets every derived
// pool value to zero.
func (e *Engine) ClearTokenConfig(symbol string) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	symbol = NormalizeSymbol(symbol)
	if err := e.state.DeleteTokenConfig(symbol); err != nil {
		return err
	}
	return e.state.PutPool(newPoolState(symbol))
}

// IssueDebtUnit converts the token amount received since the previous
// operation into debt units at the oracle's conservative price and mints
// them to the receiver. The minted amount is returned.
func (e *Engine) IssueDebtUnit(token, receiver string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard("issue"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg, err := e.whitelistedConfig(token)
	if err != nil {
		return nil, err
	}
	pool, err := e.ensurePool(cfg.Symbol)
	if err != nil {
		return nil, err
	}
	e.advanceFunding(pool)

	amountIn, err := e.transferIn(pool)
	if err != nil {
		return nil, err
	}
	if amountIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	price, err := e.quote(cfg.Symbol, false)
	if err != nil {
		return nil, err
	}

	feeAmount := bpsOf(amountIn, e.issuanceFeeBps(cfg))
	afterFee := new(big.Int).Sub(amountIn, feeAmount)
	mintAmount := usdToDebtUnits(tokenToUsd(afterFee, price, cfg.Decimals))
	if mintAmount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	projectedDebt := new(big.Int).Add(pool.IssuedDebt, mintAmount)
	projectedPool := new(big.Int).Add(pool.PoolAmount, afterFee)
	if err := e.checkDebtCap(cfg, projectedDebt, cfg.Symbol, projectedPool); err != nil {
		return nil, err
	}

	supply, err := e.state.DebtSupply()
	if err != nil {
		return nil, err
	}

	pool.FeeReserve = new(big.Int).Add(pool.FeeReserve, feeAmount)
	pool.PoolAmount = projectedPool
	pool.IssuedDebt = projectedDebt

	if err := e.creditBalance(receiver, DebtUnitSymbol, mintAmount); err != nil {
		return nil, err
	}
	if err := e.state.SetDebtSupply(new(big.Int).Add(supply, mintAmount)); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	return mintAmount, nil
}

// RedeemDebtUnit burns the debt units received since the previous operation
// and pays out the corresponding token amount, net of fees, to the receiver.
func (e *Engine) RedeemDebtUnit(token, receiver string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard("redeem"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg, err := e.whitelistedConfig(token)
	if err != nil {
		return nil, err
	}
	pool, err := e.ensurePool(cfg.Symbol)
	if err != nil {
		return nil, err
	}
	e.advanceFunding(pool)

	debtIn, debtCustody, err := e.debtTransferIn()
	if err != nil {
		return nil, err
	}
	if debtIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if debtIn.Cmp(pool.IssuedDebt) > 0 {
		return nil, ErrDebtUnderflow
	}
	price, err := e.quote(cfg.Symbol, true)
	if err != nil {
		return nil, err
	}

	redemption := usdToToken(debtUnitsToUsd(debtIn), price, cfg.Decimals)
	if redemption.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	newPool := new(big.Int).Sub(pool.PoolAmount, redemption)
	if newPool.Sign() < 0 || newPool.Cmp(pool.ReservedAmount) < 0 {
		return nil, ErrInsufficientPool
	}
	if cfg.BufferAmount != nil && newPool.Cmp(cfg.BufferAmount) < 0 {
		return nil, ErrBufferBreached
	}

	feeAmount := bpsOf(redemption, e.issuanceFeeBps(cfg))
	amountOut := new(big.Int).Sub(redemption, feeAmount)

	supply, err := e.state.DebtSupply()
	if err != nil {
		return nil, err
	}
	if supply.Cmp(debtIn) < 0 {
		return nil, ErrDebtUnderflow
	}

	pool.PoolAmount = newPool
	pool.IssuedDebt = new(big.Int).Sub(pool.IssuedDebt, debtIn)
	pool.FeeReserve = new(big.Int).Add(pool.FeeReserve, feeAmount)

	// Burn the received debt units.
	burned := new(big.Int).Sub(debtCustody, debtIn)
	if err := e.state.SetBalance(e.custodyAccount, DebtUnitSymbol, burned); err != nil {
		return nil, err
	}
	if err := e.state.SetDebtRecordedBalance(burned); err != nil {
		return nil, err
	}
	if err := e.state.SetDebtSupply(new(big.Int).Sub(supply, debtIn)); err != nil {
		return nil, err
	}
	if err := e.transferOut(pool, cfg.Symbol, amountOut, receiver); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	return amountOut, nil
}

// Swap converts the tokenIn amount received since the previous operation
// into tokenOut at oracle prices, shifting the issued debt distribution
// between the two pools in the same step.
func (e *Engine) Swap(tokenIn, tokenOut, receiver string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard("swap"); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cfgIn, err := e.whitelistedConfig(tokenIn)
	if err != nil {
		return nil, err
	}
	cfgOut, err := e.whitelistedConfig(tokenOut)
	if err != nil {
		return nil, err
	}
	if cfgIn.Symbol == cfgOut.Symbol {
		return nil, ErrSameToken
	}
	poolIn, err := e.ensurePool(cfgIn.Symbol)
	if err != nil {
		return nil, err
	}
	poolOut, err := e.ensurePool(cfgOut.Symbol)
	if err != nil {
		return nil, err
	}
	e.advanceFunding(poolIn)
	e.advanceFunding(poolOut)

	amountIn, err := e.transferIn(poolIn)
	if err != nil {
		return nil, err
	}
	if amountIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	priceIn, err := e.quote(cfgIn.Symbol, false)
	if err != nil {
		return nil, err
	}
	priceOut, err := e.quote(cfgOut.Symbol, true)
	if err != nil {
		return nil, err
	}

	amountOut := new(big.Int).Mul(amountIn, priceIn)
	amountOut.Quo(amountOut, priceOut)
	amountOut = adjustForDecimals(amountOut, cfgIn.Decimals, cfgOut.Decimals)
	if amountOut.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	debtShift := usdToDebtUnits(tokenToUsd(amountIn, priceIn, cfgIn.Decimals))

	newPoolOut := new(big.Int).Sub(poolOut.PoolAmount, amountOut)
	if newPoolOut.Sign() < 0 || newPoolOut.Cmp(poolOut.ReservedAmount) < 0 {
		return nil, ErrInsufficientPool
	}
	if cfgOut.BufferAmount != nil && newPoolOut.Cmp(cfgOut.BufferAmount) < 0 {
		return nil, ErrBufferBreached
	}

	projectedDebtIn := new(big.Int).Add(poolIn.IssuedDebt, debtShift)
	projectedPoolIn := new(big.Int).Add(poolIn.PoolAmount, amountIn)
	if err := e.checkDebtCapSwap(cfgIn, projectedDebtIn, cfgIn.Symbol, projectedPoolIn, cfgOut.Symbol, newPoolOut); err != nil {
		return nil, err
	}

	feeBps := e.fees.SwapFeeBps
	if cfgIn.Stable && cfgOut.Stable {
		feeBps = e.fees.StableSwapFeeBps
	}
	feeAmount := bpsOf(amountOut, feeBps)
	afterFee := new(big.Int).Sub(amountOut, feeAmount)

	poolIn.PoolAmount = projectedPoolIn
	poolIn.IssuedDebt = projectedDebtIn
	poolOut.PoolAmount = newPoolOut
	poolOut.IssuedDebt = subClamped(poolOut.IssuedDebt, debtShift)
	poolOut.FeeReserve = new(big.Int).Add(poolOut.FeeReserve, feeAmount)

	if err := e.transferOut(poolOut, cfgOut.Symbol, afterFee, receiver); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(poolIn); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(poolOut); err != nil {
		return nil, err
	}
	return afterFee, nil
}

// WithdrawFees moves the accumulated fee reserve for a token out of custody
// to the receiver and returns the withdrawn amount.
func (e *Engine) WithdrawFees(token, receiver string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	symbol := NormalizeSymbol(token)
	pool, err := e.ensurePool(symbol)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Set(pool.FeeReserve)
	if amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	pool.FeeReserve = big.NewInt(0)
	if err := e.transferOut(pool, symbol, amount, receiver); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	return amount, nil
}

// CreditCustody records tokens arriving in the vault's custody account, for
// example a settlement the external ledger confirmed. The credited amount is
// visible to the next operation as a pending deposit.
func (e *Engine) CreditCustody(token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	symbol := NormalizeSymbol(token)
	if symbol == "" {
		return ErrNotWhitelisted
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.creditBalance(e.custodyAccount, symbol, amount)
}

// PoolFor returns a copy of the pool state for the supplied token.
func (e *Engine) PoolFor(token string) (*PoolState, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensurePool(NormalizeSymbol(token))
}

// PositionFor returns a copy of the position stored under the tuple, or nil
// when no position is open.
func (e *Engine) PositionFor(owner, collateralToken, indexToken string, isLong bool) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.state.GetPosition(PositionKey(owner, collateralToken, indexToken, isLong))
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// TotalPoolValueUsd values every whitelisted pool at the oracle's minimum
// price and returns the sum at the USD fixed-point scale.
func (e *Engine) TotalPoolValueUsd() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalPoolValueUsd("", nil, "", nil)
}

// QuotePrice resolves the oracle price for a token at the requested bound.
func (e *Engine) QuotePrice(token string, wantMax bool) (*big.Int, error) {
	if e == nil {
		return nil, ErrNilState
	}
	return e.quote(NormalizeSymbol(token), wantMax)
}

func (e *Engine) guard(op string) error {
	if e.pauses != nil && e.pauses.IsPaused(op) {
		return ErrPaused
	}
	return nil
}

func (e *Engine) whitelistedConfig(token string) (*TokenConfig, error) {
	symbol := NormalizeSymbol(token)
	if symbol == "" {
		return nil, ErrNotWhitelisted
	}
	cfg, err := e.state.GetTokenConfig(symbol)
	if err != nil {
		return nil, err
	}
	if cfg == nil || !cfg.Whitelisted {
		return nil, ErrNotWhitelisted
	}
	return cfg.Clone(), nil
}

func newPoolState(symbol string) *PoolState {
	return &PoolState{
		Token:                 symbol,
		PoolAmount:            big.NewInt(0),
		FeeReserve:            big.NewInt(0),
		IssuedDebt:            big.NewInt(0),
		ReservedAmount:        big.NewInt(0),
		GuaranteedUsd:         big.NewInt(0),
		CumulativeFundingRate: big.NewInt(0),
		RecordedBalance:       big.NewInt(0),
	}
}

// ensurePool loads a defensive copy of the pool state with every amount
// field normalised to a non-nil value.
func (e *Engine) ensurePool(symbol string) (*PoolState, error) {
	stored, err := e.state.GetPool(symbol)
	if err != nil {
		return nil, err
	}
	pool := newPoolState(symbol)
	if stored == nil {
		return pool, nil
	}
	pool.LastFundingTime = stored.LastFundingTime
	for dst, src := range map[**big.Int]*big.Int{
		&pool.PoolAmount:            stored.PoolAmount,
		&pool.FeeReserve:            stored.FeeReserve,
		&pool.IssuedDebt:            stored.IssuedDebt,
		&pool.ReservedAmount:        stored.ReservedAmount,
		&pool.GuaranteedUsd:         stored.GuaranteedUsd,
		&pool.CumulativeFundingRate: stored.CumulativeFundingRate,
		&pool.RecordedBalance:       stored.RecordedBalance,
	} {
		if src != nil {
			*dst = new(big.Int).Set(src)
		}
	}
	return pool, nil
}

func (e *Engine) quote(symbol string, wantMax bool) (*big.Int, error) {
	if e.oracle == nil {
		return nil, ErrNilOracle
	}
	price, err := e.oracle.Quote(symbol, wantMax)
	if err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrPriceRequired
	}
	return price, nil
}

func (e *Engine) issuanceFeeBps(cfg *TokenConfig) uint64 {
	if cfg.StrictStable {
		return e.fees.StableSwapFeeBps
	}
	return e.fees.SwapFeeBps
}

// transferIn detects the token amount deposited since the previous operation
// as the delta between the custody balance and the recorded balance. The
// recorded balance on the working copy is advanced to the observed custody
// balance.
func (e *Engine) transferIn(pool *PoolState) (*big.Int, error) {
	custody, err := e.balance(e.custodyAccount, pool.Token)
	if err != nil {
		return nil, err
	}
	delta := new(big.Int).Sub(custody, pool.RecordedBalance)
	pool.RecordedBalance = custody
	return delta, nil
}

// debtTransferIn mirrors transferIn for the debt unit custody balance and
// additionally returns the observed custody balance for the burn step.
func (e *Engine) debtTransferIn() (*big.Int, *big.Int, error) {
	custody, err := e.balance(e.custodyAccount, DebtUnitSymbol)
	if err != nil {
		return nil, nil, err
	}
	recorded, err := e.state.DebtRecordedBalance()
	if err != nil {
		return nil, nil, err
	}
	if recorded == nil {
		recorded = big.NewInt(0)
	}
	return new(big.Int).Sub(custody, recorded), custody, nil
}

// transferOut pays tokens out of custody and keeps the pool's recorded
// balance aligned with the custody balance.
func (e *Engine) transferOut(pool *PoolState, symbol string, amount *big.Int, receiver string) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	custody, err := e.balance(e.custodyAccount, symbol)
	if err != nil {
		return err
	}
	if custody.Cmp(amount) < 0 {
		return ErrInsufficientPool
	}
	remaining := new(big.Int).Sub(custody, amount)
	if err := e.state.SetBalance(e.custodyAccount, symbol, remaining); err != nil {
		return err
	}
	if err := e.creditBalance(receiver, symbol, amount); err != nil {
		return err
	}
	pool.RecordedBalance = remaining
	return nil
}

func (e *Engine) balance(owner, token string) (*big.Int, error) {
	amount, err := e.state.GetBalance(owner, token)
	if err != nil {
		return nil, err
	}
	if amount == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(amount), nil
}

func (e *Engine) creditBalance(owner, token string, amount *big.Int) error {
	current, err := e.balance(owner, token)
	if err != nil {
		return err
	}
	return e.state.SetBalance(owner, token, new(big.Int).Add(current, amount))
}

// checkDebtCap rejects issuance that would push a token's issued debt above
// its redemption weight share of total pool value. The projected pool amount
// for the issuing token is substituted when valuing the pools.
func (e *Engine) checkDebtCap(cfg *TokenConfig, projectedDebt *big.Int, overrideSymbol string, overrideAmount *big.Int) error {
	return e.checkDebtCapSwap(cfg, projectedDebt, overrideSymbol, overrideAmount, "", nil)
}

func (e *Engine) checkDebtCapSwap(cfg *TokenConfig, projectedDebt *big.Int, symbolA string, amountA *big.Int, symbolB string, amountB *big.Int) error {
	if cfg.RedemptionWeightBps == 0 {
		return nil
	}
	totalUsd, err := e.totalPoolValueUsd(symbolA, amountA, symbolB, amountB)
	if err != nil {
		return err
	}
	cap := bpsOf(usdToDebtUnits(totalUsd), cfg.RedemptionWeightBps)
	if projectedDebt.Cmp(cap) > 0 {
		return ErrDebtCapExceeded
	}
	return nil
}

func (e *Engine) totalPoolValueUsd(symbolA string, amountA *big.Int, symbolB string, amountB *big.Int) (*big.Int, error) {
	tokens, err := e.state.TokenList()
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, symbol := range tokens {
		cfg, err := e.state.GetTokenConfig(symbol)
		if err != nil {
			return nil, err
		}
		if cfg == nil || !cfg.Whitelisted {
			continue
		}
		pool, err := e.ensurePool(symbol)
		if err != nil {
			return nil, err
		}
		amount := pool.PoolAmount
		switch symbol {
		case symbolA:
			if amountA != nil {
				amount = amountA
			}
		case symbolB:
			if amountB != nil {
				amount = amountB
			}
		}
		if amount.Sign() == 0 {
			continue
		}
		price, err := e.quote(symbol, false)
		if err != nil {
			return nil, err
		}
		total.Add(total, tokenToUsd(amount, price, cfg.Decimals))
	}
	return total, nil
}

func subClamped(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

func debtUnitsToUsd(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, pricePrecision)
	return out.Quo(out, pow10(DebtUnitDecimals))
}
