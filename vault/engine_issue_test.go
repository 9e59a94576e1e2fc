package vault

import (
	"math/big"
	"sync"
	"testing"
)

func TestIssueDebtUnitMintsAgainstDeposit(t *testing.T) {
	engine, state, oracle := newTestEngine()
	oracle.setUsd("ATOM", 300)
	mustSetToken(t, engine, &TokenConfig{Symbol: "ATOM", Decimals: 18, Whitelisted: true})

	state.deposit(testCustody, "ATOM", tokens(100))
	minted, err := engine.IssueDebtUnit("ATOM", "alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// 100 tokens at 300 USD, 0.3% fee: 0.3 tokens to the fee reserve, 99.7
	// into the pool, 29,910 debt units minted.
	assertBig(t, "minted", minted, tokens(29_910))
	fee := new(big.Int).Div(tokens(3), big.NewInt(10))
	pool := state.pools["ATOM"]
	assertBig(t, "pool amount", pool.PoolAmount, new(big.Int).Sub(tokens(100), fee))
	assertBig(t, "fee reserve", pool.FeeReserve, fee)
	assertBig(t, "issued debt", pool.IssuedDebt, tokens(29_910))

	supply, _ := state.DebtSupply()
	assertBig(t, "debt supply", supply, tokens(29_910))
	receiver, _ := state.GetBalance("alice", DebtUnitSymbol)
	assertBig(t, "receiver balance", receiver, tokens(29_910))
	assertConservation(t, state, "ATOM")
}

func TestIssueDebtUnitStrictStableUsesStableFee(t *testing.T) {
	engine, state, oracle := newTestEngine()
	oracle.setUsd("USDC", 1)
	mustSetToken(t, engine, &TokenConfig{Symbol: "USDC", Decimals: 6, Whitelisted: true, Stable: true, StrictStable: true})

	// 1,000 USDC at the 0.04% stable fee mints 999.6 debt units.
	state.deposit(testCustody, "USDC", big.NewInt(1_000_000_000))
	minted, err := engine.IssueDebtUnit("USDC", "alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	want, _ := new(big.Int).SetString("999600000000000000000", 10)
	assertBig(t, "minted", minted, want)

	pool := state.pools["USDC"]
	assertBig(t, "fee reserve", pool.FeeReserve, big.NewInt(400_000))
	assertConservation(t, state, "USDC")
}

func TestIssueDebtUnitRejectsWithoutDeposit(t *testing.T) {
	engine, _, oracle := newTestEngine()
	oracle.setUsd("ATOM", 300)
	mustSetToken(t, engine, &TokenConfig{Symbol: "ATOM", Decimals: 18, Whitelisted: true})
	if _, err := engine.IssueDebtUnit("ATOM", "alice"); err != ErrZeroAmount {
		t.Fatalf("expected zero amount rejection, got %v", err)
	}
}

func TestIssueDebtUnitDebtCapLeavesStateUntouched(t *testing.T) {
	engine, state, oracle := newTestEngine()
	oracle.setUsd("ATOM", 300)
	mustSetToken(t, engine, &TokenConfig{Symbol: "ATOM", Decimals: 18, Whitelisted: true, RedemptionWeightBps: 5_000})

	state.deposit(testCustody, "ATOM", tokens(100))
	if _, err := engine.IssueDebtUnit("ATOM", "alice"); err != ErrDebtCapExceeded {
		t.Fatalf("expected debt cap rejection, got %v", err)
	}

	// Nothing may change on a rejected operation: the deposit stays pending
	// in custody and no pool or supply entry appears.
	custody, _ := state.GetBalance(testCustody, "ATOM")
	assertBig(t, "custody", custody, tokens(100))
	if pool, ok := state.pools["ATOM"]; ok && pool.PoolAmount.Sign() != 0 {
		t.Fatalf("expected untouched pool, got %s", pool.PoolAmount)
	}
	supply, _ := state.DebtSupply()
	if supply.Sign() != 0 {
		t.Fatalf("expected zero supply, got %s", supply)
	}
	receiver, _ := state.GetBalance("alice", DebtUnitSymbol)
	if receiver.Sign() != 0 {
		t.Fatalf("expected no mint, got %s", receiver)
	}
}

func TestRedeemDebtUnitPaysOutNetOfFees(t *testing.T) {
	engine, state, oracle := newTestEngine()
	oracle.setUsd("ATOM", 300)
	mustSetToken(t, engine, &TokenConfig{Symbol: "ATOM", Decimals: 18, Whitelisted: true})

	state.deposit(testCustody, "ATOM", tokens(100))
	if _, err := engine.IssueDebtUnit("ATOM", "alice"); err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Alice returns 2,991 debt units: 9.97 tokens redeemed, 0.3% fee.
	state.deposit(testCustody, DebtUnitSymbol, tokens(2_991))
	out, err := engine.RedeemDebtUnit("ATOM", "alice")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	wantOut, _ := new(big.Int).SetString("9940090000000000000", 10)
	assertBig(t, "amount out", out, wantOut)

	pool := state.pools["ATOM"]
	assertBig(t, "issued debt", pool.IssuedDebt, tokens(26_919))
	supply, _ := state.DebtSupply()
	assertBig(t, "debt supply", supply, tokens(26_919))

	received, _ := state.GetBalance("alice", "ATOM")
	assertBig(t, "received tokens", received, wantOut)
	custodyDebt, _ := state.GetBalance(testCustody, DebtUnitSymbol)
	if custodyDebt.Sign() != 0 {
		t.Fatalf("expected returned debt units burned, got %s", custodyDebt)
	}
	assertConservation(t, state, "ATOM")
}

func TestRedeemDebtUnitRejectsIssuedDebtUnderflow(t *testing.T) {
	engine, state, oracle := newTestEngine()
	oracle.setUsd("ATOM", 300)
	mustSetToken(t, engine, &TokenConfig{Symbol: "ATOM", Decimals: 18, Whitelisted: true})

	state.deposit(testCustody, "ATOM", tokens(10))
	if _, err := engine.IssueDebtUnit("ATOM", "alice"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	// More debt units than were ever issued against this token.
	state.deposit(testCustody, DebtUnitSymbol, tokens(5_000))
	if _, err := engine.RedeemDebtUnit("ATOM", "alice"); err != ErrDebtUnderflow {
		t.Fatalf("expected underflow rejection, got %v", err)
	}
	assertConservation(t, state, "ATOM")
}

func TestRedeemDebtUnitHonoursBuffer(t *testing.T) {
	engine, state, oracle := newTestEngine()
	oracle.setUsd("ATOM", 300)
	mustSetToken(t, engine, &TokenConfig{Symbol: "ATOM", Decimals: 18, Whitelisted: true, BufferAmount: tokens(95)})

	state.deposit(testCustody, "ATOM", tokens(100))
	if _, err := engine.IssueDebtUnit("ATOM", "alice"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	state.deposit(testCustody, DebtUnitSymbol, tokens(2_991))
	if _, err := engine.RedeemDebtUnit("ATOM", "alice"); err != ErrBufferBreached {
		t.Fatalf("expected buffer rejection, got %v", err)
	}
}

func TestWithdrawFeesSweepsReserve(t *testing.T) {
	engine, state, oracle := newTestEngine()
	oracle.setUsd("ATOM", 300)
	mustSetToken(t, engine, &TokenConfig{Symbol: "ATOM", Decimals: 18, Whitelisted: true})

	state.deposit(testCustody, "ATOM", tokens(100))
	if _, err := engine.IssueDebtUnit("ATOM", "alice"); err != nil {
		t.Fatalf("issue: %v", err)
	}

	amount, err := engine.WithdrawFees("ATOM", "treasury")
	if err != nil {
		t.Fatalf("withdraw fees: %v", err)
	}
	wantFee := new(big.Int).Div(tokens(3), big.NewInt(10))
	assertBig(t, "withdrawn", amount, wantFee)

	treasury, _ := state.GetBalance("treasury", "ATOM")
	assertBig(t, "treasury balance", treasury, wantFee)
	pool := state.pools["ATOM"]
	if pool.FeeReserve.Sign() != 0 {
		t.Fatalf("expected empty fee reserve, got %s", pool.FeeReserve)
	}
	assertConservation(t, state, "ATOM")
}

func TestIssueDebtUnitSerialisesConcurrentCallers(t *testing.T) {
	engine, state, oracle := newTestEngine()
	oracle.setUsd("ATOM", 300)
	mustSetToken(t, engine, &TokenConfig{Symbol: "ATOM", Decimals: 18, Whitelisted: true})

	state.deposit(testCustody, "ATOM", tokens(100))

	// Both callers race against the same pending deposit; only the first to
	// run sees a positive custody delta, the other must observe nothing.
	var wg sync.WaitGroup
	minted := make([]*big.Int, 2)
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			minted[i], errs[i] = engine.IssueDebtUnit("ATOM", "alice")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i := range errs {
		switch errs[i] {
		case nil:
			succeeded++
			assertBig(t, "minted", minted[i], tokens(29_910))
		case ErrZeroAmount:
		default:
			t.Fatalf("unexpected issue error: %v", errs[i])
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one issuance to mint, got %d", succeeded)
	}
	assertBig(t, "debt supply", state.debtSupply, tokens(29_910))
	assertConservation(t, state, "ATOM")
}

func TestCreditCustodyFundsNextIssuance(t *testing.T) {
	engine, state, oracle := newTestEngine()
	oracle.setUsd("ATOM", 300)
	mustSetToken(t, engine, &TokenConfig{Symbol: "ATOM", Decimals: 18, Whitelisted: true})

	if err := engine.CreditCustody("atom", tokens(100)); err != nil {
		t.Fatalf("credit custody: %v", err)
	}
	minted, err := engine.IssueDebtUnit("ATOM", "alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	assertBig(t, "minted", minted, tokens(29_910))
	assertConservation(t, state, "ATOM")

	if err := engine.CreditCustody("ATOM", big.NewInt(0)); err != ErrZeroAmount {
		t.Fatalf("expected zero amount rejection, got %v", err)
	}
}
