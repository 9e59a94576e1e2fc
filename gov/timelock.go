package gov

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"perpvault/vault"
)

var (
	ErrNilEngine       = errors.New("gov: engine not configured")
	ErrNotGovernor     = errors.New("gov: caller is not the governor")
	ErrUnknownAction   = errors.New("gov: unknown pending action")
	ErrDelayNotElapsed = errors.New("gov: timelock delay not yet elapsed")
	ErrDuplicateSignal = errors.New("gov: action already signalled")
)

// Timelock gates the vault's administrative surface behind a governor identity
// and a mandatory delay. Every parameter change is first signalled, then
// executed once the delay elapses; unsignalled executions are rejected.
type Timelock struct {
	mu       sync.Mutex
	engine   *vault.Engine
	governor string
	delay    time.Duration
	pending  map[string]pendingAction
	nowFn    func() time.Time
}

type pendingAction struct {
	eta   time.Time
	apply func(*vault.Engine) error
}

// NewTimelock constructs a timelock controlling the supplied engine. The
// governor string is compared case-insensitively after trimming.
func NewTimelock(engine *vault.Engine, governor string, delay time.Duration) *Timelock {
	if delay < 0 {
		delay = 0
	}
	return &Timelock{
		engine:   engine,
		governor: normalizeIdentity(governor),
		delay:    delay,
		pending:  make(map[string]pendingAction),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock used for delay accounting.
func (t *Timelock) SetNowFunc(now func() time.Time) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if now == nil {
		t.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	t.nowFn = now
}

// Delay reports the configured execution delay.
func (t *Timelock) Delay() time.Duration {
	if t == nil {
		return 0
	}
	return t.delay
}

// RequireGovernor verifies the caller is the configured governor identity.
// Immediate operator actions outside the signal/execute flow use it to share
// the timelock's identity check.
func (t *Timelock) RequireGovernor(caller string) error {
	if t == nil || t.engine == nil {
		return ErrNilEngine
	}
	return t.requireGovernor(caller)
}

// SignalSetTokenConfig queues a token listing update.
func (t *Timelock) SignalSetTokenConfig(caller string, cfg *vault.TokenConfig) error {
	if cfg == nil {
		return fmt.Errorf("gov: nil token config")
	}
	clone := cfg.Clone()
	return t.signal(caller, actionKey("setTokenConfig", clone.Symbol), func(e *vault.Engine) error {
		return e.SetTokenConfig(clone)
	})
}

// ExecuteSetTokenConfig applies a previously signalled token listing update.
func (t *Timelock) ExecuteSetTokenConfig(caller, symbol string) error {
	return t.execute(caller, actionKey("setTokenConfig", symbol))
}

// SignalClearTokenConfig queues a token delisting.
func (t *Timelock) SignalClearTokenConfig(caller, symbol string) error {
	symbol = vault.NormalizeSymbol(symbol)
	return t.signal(caller, actionKey("clearTokenConfig", symbol), func(e *vault.Engine) error {
		return e.ClearTokenConfig(symbol)
	})
}

// ExecuteClearTokenConfig applies a previously signalled delisting.
func (t *Timelock) ExecuteClearTokenConfig(caller, symbol string) error {
	return t.execute(caller, actionKey("clearTokenConfig", symbol))
}

// SignalSetFees queues a fee schedule change.
func (t *Timelock) SignalSetFees(caller string, fees vault.FeeParams) error {
	clone := fees.Clone()
	return t.signal(caller, "setFees", func(e *vault.Engine) error {
		e.SetFees(clone)
		return nil
	})
}

// ExecuteSetFees applies a previously signalled fee schedule.
func (t *Timelock) ExecuteSetFees(caller string) error {
	return t.execute(caller, "setFees")
}

// SignalSetFundingParams queues a funding schedule change.
func (t *Timelock) SignalSetFundingParams(caller string, funding vault.FundingParams) error {
	return t.signal(caller, "setFundingParams", func(e *vault.Engine) error {
		e.SetFundingParams(funding)
		return nil
	})
}

// ExecuteSetFundingParams applies a previously signalled funding schedule.
func (t *Timelock) ExecuteSetFundingParams(caller string) error {
	return t.execute(caller, "setFundingParams")
}

// SignalSetMaxLeverage queues a leverage ceiling change.
func (t *Timelock) SignalSetMaxLeverage(caller string, maxLeverage uint64) error {
	return t.signal(caller, "setMaxLeverage", func(e *vault.Engine) error {
		e.SetMaxLeverage(maxLeverage)
		return nil
	})
}

// ExecuteSetMaxLeverage applies a previously signalled leverage ceiling.
func (t *Timelock) ExecuteSetMaxLeverage(caller string) error {
	return t.execute(caller, "setMaxLeverage")
}

// SignalAddApprovedCaller queues a delegation allow-list addition.
func (t *Timelock) SignalAddApprovedCaller(caller, approved string) error {
	approved = normalizeIdentity(approved)
	return t.signal(caller, actionKey("addApprovedCaller", approved), func(e *vault.Engine) error {
		e.AddApprovedCaller(approved)
		return nil
	})
}

// ExecuteAddApprovedCaller applies a previously signalled allow-list addition.
func (t *Timelock) ExecuteAddApprovedCaller(caller, approved string) error {
	return t.execute(caller, actionKey("addApprovedCaller", normalizeIdentity(approved)))
}

// SignalRemoveApprovedCaller queues a delegation allow-list removal.
func (t *Timelock) SignalRemoveApprovedCaller(caller, approved string) error {
	approved = normalizeIdentity(approved)
	return t.signal(caller, actionKey("removeApprovedCaller", approved), func(e *vault.Engine) error {
		e.RemoveApprovedCaller(approved)
		return nil
	})
}

// ExecuteRemoveApprovedCaller applies a previously signalled allow-list removal.
func (t *Timelock) ExecuteRemoveApprovedCaller(caller, approved string) error {
	return t.execute(caller, actionKey("removeApprovedCaller", normalizeIdentity(approved)))
}

// WithdrawFees sweeps the accumulated fee reserve for a token. Withdrawal does
// not change risk parameters so it executes immediately, governor-only.
func (t *Timelock) WithdrawFees(caller, token, receiver string) (*big.Int, error) {
	if t == nil || t.engine == nil {
		return nil, ErrNilEngine
	}
	if err := t.requireGovernor(caller); err != nil {
		return nil, err
	}
	return t.engine.WithdrawFees(token, receiver)
}

func (t *Timelock) signal(caller, key string, apply func(*vault.Engine) error) error {
	if t == nil || t.engine == nil {
		return ErrNilEngine
	}
	if err := t.requireGovernor(caller); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.pending[key]; exists {
		return ErrDuplicateSignal
	}
	t.pending[key] = pendingAction{eta: t.nowFn().Add(t.delay), apply: apply}
	return nil
}

func (t *Timelock) execute(caller, key string) error {
	if t == nil || t.engine == nil {
		return ErrNilEngine
	}
	if err := t.requireGovernor(caller); err != nil {
		return err
	}
	t.mu.Lock()
	action, ok := t.pending[key]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownAction
	}
	if t.nowFn().Before(action.eta) {
		t.mu.Unlock()
		return ErrDelayNotElapsed
	}
	delete(t.pending, key)
	t.mu.Unlock()
	return action.apply(t.engine)
}

func (t *Timelock) requireGovernor(caller string) error {
	if normalizeIdentity(caller) != t.governor || t.governor == "" {
		return ErrNotGovernor
	}
	return nil
}

func actionKey(op, subject string) string {
	return op + "/" + strings.ToUpper(strings.TrimSpace(subject))
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
