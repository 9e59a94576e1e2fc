package vault

import (
	"math/big"
	"testing"
)

// usdcUnits scales a whole USDC amount to its 6 decimal native units.
func usdcUnits(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), pow10(6))
}

func setupSwapPools(t *testing.T) (*Engine, *mockEngineState, *stubOracle) {
	t.Helper()
	engine, state, oracle := newTestEngine()
	oracle.setUsd("ATOM", 300)
	oracle.setUsd("USDC", 1)
	mustSetToken(t, engine, &TokenConfig{Symbol: "ATOM", Decimals: 18, Whitelisted: true})
	mustSetToken(t, engine, &TokenConfig{Symbol: "USDC", Decimals: 6, Whitelisted: true, Stable: true, StrictStable: true})

	state.deposit(testCustody, "ATOM", tokens(100))
	if _, err := engine.IssueDebtUnit("ATOM", "seed"); err != nil {
		t.Fatalf("seed atom pool: %v", err)
	}
	state.deposit(testCustody, "USDC", usdcUnits(30_000))
	if _, err := engine.IssueDebtUnit("USDC", "seed"); err != nil {
		t.Fatalf("seed usdc pool: %v", err)
	}
	return engine, state, oracle
}

func TestSwapMovesValueBetweenPools(t *testing.T) {
	engine, state, _ := setupSwapPools(t)

	atomDebtBefore := new(big.Int).Set(state.pools["ATOM"].IssuedDebt)
	usdcDebtBefore := new(big.Int).Set(state.pools["USDC"].IssuedDebt)

	// 10 ATOM at 300 buys 3,000 USDC gross; the 0.3% fee keeps 9 USDC.
	state.deposit(testCustody, "ATOM", tokens(10))
	out, err := engine.Swap("ATOM", "USDC", "bob")
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	assertBig(t, "amount out", out, usdcUnits(2_991))

	received, _ := state.GetBalance("bob", "USDC")
	assertBig(t, "receiver balance", received, usdcUnits(2_991))

	atomPool := state.pools["ATOM"]
	usdcPool := state.pools["USDC"]
	assertBig(t, "atom pool", atomPool.PoolAmount, new(big.Int).Add(tokens(109), new(big.Int).Div(tokens(7), big.NewInt(10))))
	assertBig(t, "usdc fee reserve growth", new(big.Int).Sub(usdcPool.FeeReserve, big.NewInt(12_000_000)), usdcUnits(9))

	// Debt exposure shifts from the outgoing to the incoming pool.
	assertBig(t, "atom debt shift", new(big.Int).Sub(atomPool.IssuedDebt, atomDebtBefore), tokens(3_000))
	assertBig(t, "usdc debt shift", new(big.Int).Sub(usdcDebtBefore, usdcPool.IssuedDebt), tokens(3_000))

	assertConservation(t, state, "ATOM")
	assertConservation(t, state, "USDC")
}

func TestSwapStablePairUsesStableFee(t *testing.T) {
	engine, state, oracle := newTestEngine()
	oracle.setUsd("USDC", 1)
	oracle.setUsd("DAI", 1)
	mustSetToken(t, engine, &TokenConfig{Symbol: "USDC", Decimals: 6, Whitelisted: true, Stable: true, StrictStable: true})
	mustSetToken(t, engine, &TokenConfig{Symbol: "DAI", Decimals: 18, Whitelisted: true, Stable: true, StrictStable: true})

	state.deposit(testCustody, "DAI", tokens(10_000))
	if _, err := engine.IssueDebtUnit("DAI", "seed"); err != nil {
		t.Fatalf("seed dai pool: %v", err)
	}

	// 1,000 USDC to DAI at the 0.04% stable fee: 999.6 DAI out.
	state.deposit(testCustody, "USDC", usdcUnits(1_000))
	out, err := engine.Swap("USDC", "DAI", "bob")
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	want, _ := new(big.Int).SetString("999600000000000000000", 10)
	assertBig(t, "amount out", out, want)
	assertConservation(t, state, "USDC")
	assertConservation(t, state, "DAI")
}

func TestSwapRejectsSameToken(t *testing.T) {
	engine, state, _ := setupSwapPools(t)
	state.deposit(testCustody, "ATOM", tokens(1))
	if _, err := engine.Swap("ATOM", "ATOM", "bob"); err != ErrSameToken {
		t.Fatalf("expected same token rejection, got %v", err)
	}
}

func TestSwapRejectsWhenPoolCannotCover(t *testing.T) {
	engine, state, _ := setupSwapPools(t)

	// 200 ATOM would require 60,000 USDC but the pool holds under 30,000.
	state.deposit(testCustody, "ATOM", tokens(200))
	if _, err := engine.Swap("ATOM", "USDC", "bob"); err != ErrInsufficientPool {
		t.Fatalf("expected insufficient pool, got %v", err)
	}

	// The rejected deposit stays pending and the pools are untouched.
	usdcPool := state.pools["USDC"]
	assertBig(t, "usdc pool", usdcPool.PoolAmount, big.NewInt(29_988_000_000))
	custody, _ := state.GetBalance(testCustody, "ATOM")
	assertBig(t, "custody", custody, tokens(300))
}

func TestSwapRejectsUnlistedToken(t *testing.T) {
	engine, state, _ := setupSwapPools(t)
	state.deposit(testCustody, "ATOM", tokens(1))
	if _, err := engine.Swap("ATOM", "OSMO", "bob"); err != ErrNotWhitelisted {
		t.Fatalf("expected whitelist rejection, got %v", err)
	}
}

func TestSwapRejectsWhenDebtCapExceeded(t *testing.T) {
	engine, state, _ := setupSwapPools(t)
	mustSetToken(t, engine, &TokenConfig{Symbol: "ATOM", Decimals: 18, Whitelisted: true, RedemptionWeightBps: 5_000})

	atomDebtBefore := new(big.Int).Set(state.pools["ATOM"].IssuedDebt)

	// Projected ATOM debt of 32,910 units exceeds half of the 59,898 USD
	// combined pool value the swap would leave behind.
	state.deposit(testCustody, "ATOM", tokens(10))
	if _, err := engine.Swap("ATOM", "USDC", "bob"); err != ErrDebtCapExceeded {
		t.Fatalf("expected debt cap rejection, got %v", err)
	}

	assertBig(t, "atom debt", state.pools["ATOM"].IssuedDebt, atomDebtBefore)
	assertBig(t, "usdc pool", state.pools["USDC"].PoolAmount, usdcUnits(29_988))
	received, _ := state.GetBalance("bob", "USDC")
	assertBig(t, "receiver balance", received, big.NewInt(0))
}
