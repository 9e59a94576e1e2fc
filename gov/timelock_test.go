package gov

import (
	"testing"
	"time"

	"perpvault/vault"
)

const governor = "gov-council"

func newTestTimelock(delay time.Duration) (*Timelock, *vault.Engine, func(time.Duration)) {
	engine := vault.NewEngine("vault-custody")
	tl := NewTimelock(engine, governor, delay)
	now := time.Unix(1_900_000_000, 0).UTC()
	tl.SetNowFunc(func() time.Time { return now })
	advance := func(d time.Duration) {
		now = now.Add(d)
	}
	return tl, engine, advance
}

func TestTimelockRejectsNonGovernor(t *testing.T) {
	tl, _, _ := newTestTimelock(time.Hour)
	if err := tl.SignalSetMaxLeverage("mallory", 300_000); err != ErrNotGovernor {
		t.Fatalf("expected governor rejection, got %v", err)
	}
	if _, err := tl.WithdrawFees("mallory", "ATOM", "mallory"); err != ErrNotGovernor {
		t.Fatalf("expected governor rejection on withdraw, got %v", err)
	}
}

func TestTimelockEnforcesDelay(t *testing.T) {
	tl, _, advance := newTestTimelock(time.Hour)

	if err := tl.SignalSetMaxLeverage(governor, 300_000); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if err := tl.ExecuteSetMaxLeverage(governor); err != ErrDelayNotElapsed {
		t.Fatalf("expected delay rejection, got %v", err)
	}
	advance(time.Hour)
	if err := tl.ExecuteSetMaxLeverage(governor); err != nil {
		t.Fatalf("execute after delay: %v", err)
	}
}

func TestTimelockRejectsUnsignalledExecution(t *testing.T) {
	tl, _, _ := newTestTimelock(time.Hour)
	if err := tl.ExecuteSetMaxLeverage(governor); err != ErrUnknownAction {
		t.Fatalf("expected unknown action, got %v", err)
	}
}

func TestTimelockRejectsDuplicateSignal(t *testing.T) {
	tl, _, _ := newTestTimelock(time.Hour)
	if err := tl.SignalSetMaxLeverage(governor, 300_000); err != nil {
		t.Fatalf("signal: %v", err)
	}
	if err := tl.SignalSetMaxLeverage(governor, 400_000); err != ErrDuplicateSignal {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestTimelockExecutionConsumesAction(t *testing.T) {
	tl, _, advance := newTestTimelock(time.Minute)

	if err := tl.SignalSetFees(governor, vault.FeeParams{SwapFeeBps: 25}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	advance(time.Minute)
	if err := tl.ExecuteSetFees(governor); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := tl.ExecuteSetFees(governor); err != ErrUnknownAction {
		t.Fatalf("expected consumed action, got %v", err)
	}
}

func TestTimelockAppliesFeeChange(t *testing.T) {
	tl, engine, advance := newTestTimelock(time.Minute)

	if err := tl.SignalSetFees(governor, vault.FeeParams{SwapFeeBps: 25}); err != nil {
		t.Fatalf("signal: %v", err)
	}
	advance(time.Minute)
	if err := tl.ExecuteSetFees(governor); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := engine.Fees().SwapFeeBps; got != 25 {
		t.Fatalf("expected applied swap fee 25, got %d", got)
	}
}

func TestTimelockCaseInsensitiveGovernor(t *testing.T) {
	tl, _, advance := newTestTimelock(0)
	if err := tl.SignalSetMaxLeverage("GOV-Council", 300_000); err != nil {
		t.Fatalf("signal with case variance: %v", err)
	}
	advance(0)
	if err := tl.ExecuteSetMaxLeverage(governor); err != nil {
		t.Fatalf("execute: %v", err)
	}
}
