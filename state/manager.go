package state

import (
	"errors"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"perpvault/storage"
	"perpvault/vault"
)

// Manager persists the vault ledger into a key-value database using RLP
// encoded records: one entry per configured token, one per pool, one per
// open position plus the balance and debt supply counters.
type Manager struct {
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

type storedTokenConfig struct {
	Symbol              string
	Decimals            uint8
	Whitelisted         bool
	Stable              bool
	StrictStable        bool
	Shortable           bool
	RedemptionWeightBps uint64
	MinProfitBps        uint64
	BufferAmount        *big.Int
}

type storedPool struct {
	Token                 string
	PoolAmount            *big.Int
	FeeReserve            *big.Int
	IssuedDebt            *big.Int
	ReservedAmount        *big.Int
	GuaranteedUsd         *big.Int
	CumulativeFundingRate *big.Int
	LastFundingTime       uint64
	RecordedBalance       *big.Int
}

type storedPosition struct {
	Owner            string
	CollateralToken  string
	IndexToken       string
	IsLong           bool
	Size             *big.Int
	Collateral       *big.Int
	AveragePrice     *big.Int
	EntryFundingRate *big.Int
	ReserveAmount    *big.Int
}

// GetTokenConfig loads the configuration for a token, or nil when absent.
func (m *Manager) GetTokenConfig(symbol string) (*vault.TokenConfig, error) {
	raw, err := m.db.Get(tokenConfigKey(symbol))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedTokenConfig
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, err
	}
	return &vault.TokenConfig{
		Symbol:              stored.Symbol,
		Decimals:            stored.Decimals,
		Whitelisted:         stored.Whitelisted,
		Stable:              stored.Stable,
		StrictStable:        stored.StrictStable,
		Shortable:           stored.Shortable,
		RedemptionWeightBps: stored.RedemptionWeightBps,
		MinProfitBps:        stored.MinProfitBps,
		BufferAmount:        normalizeStored(stored.BufferAmount),
	}, nil
}

// PutTokenConfig stores the configuration and maintains the token index.
func (m *Manager) PutTokenConfig(cfg *vault.TokenConfig) error {
	if cfg == nil {
		return errors.New("state: token config required")
	}
	stored := storedTokenConfig{
		Symbol:              cfg.Symbol,
		Decimals:            cfg.Decimals,
		Whitelisted:         cfg.Whitelisted,
		Stable:              cfg.Stable,
		StrictStable:        cfg.StrictStable,
		Shortable:           cfg.Shortable,
		RedemptionWeightBps: cfg.RedemptionWeightBps,
		MinProfitBps:        cfg.MinProfitBps,
		BufferAmount:        normalizeStored(cfg.BufferAmount),
	}
	raw, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	if err := m.db.Put(tokenConfigKey(cfg.Symbol), raw); err != nil {
		return err
	}
	return m.indexToken(cfg.Symbol, true)
}

// DeleteTokenConfig removes the configuration and the index entry.
func (m *Manager) DeleteTokenConfig(symbol string) error {
	if err := m.db.Delete(tokenConfigKey(symbol)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return m.indexToken(symbol, false)
}

// TokenList returns the sorted symbols with a stored configuration.
func (m *Manager) TokenList() ([]string, error) {
	raw, err := m.db.Get(tokenIndexKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tokens []string
	if err := rlp.DecodeBytes(raw, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

func (m *Manager) indexToken(symbol string, present bool) error {
	tokens, err := m.TokenList()
	if err != nil {
		return err
	}
	filtered := make([]string, 0, len(tokens)+1)
	for _, entry := range tokens {
		if entry == symbol {
			continue
		}
		filtered = append(filtered, entry)
	}
	if present {
		filtered = append(filtered, symbol)
		sort.Strings(filtered)
	}
	raw, err := rlp.EncodeToBytes(filtered)
	if err != nil {
		return err
	}
	return m.db.Put(tokenIndexKey, raw)
}

// GetPool loads the pool state for a token, or nil when absent.
func (m *Manager) GetPool(symbol string) (*vault.PoolState, error) {
	raw, err := m.db.Get(poolKey(symbol))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedPool
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, err
	}
	return &vault.PoolState{
		Token:                 stored.Token,
		PoolAmount:            normalizeStored(stored.PoolAmount),
		FeeReserve:            normalizeStored(stored.FeeReserve),
		IssuedDebt:            normalizeStored(stored.IssuedDebt),
		ReservedAmount:        normalizeStored(stored.ReservedAmount),
		GuaranteedUsd:         normalizeStored(stored.GuaranteedUsd),
		CumulativeFundingRate: normalizeStored(stored.CumulativeFundingRate),
		LastFundingTime:       int64(stored.LastFundingTime),
		RecordedBalance:       normalizeStored(stored.RecordedBalance),
	}, nil
}

// PutPool stores the pool state.
func (m *Manager) PutPool(pool *vault.PoolState) error {
	if pool == nil {
		return errors.New("state: pool required")
	}
	stored := storedPool{
		Token:                 pool.Token,
		PoolAmount:            normalizeStored(pool.PoolAmount),
		FeeReserve:            normalizeStored(pool.FeeReserve),
		IssuedDebt:            normalizeStored(pool.IssuedDebt),
		ReservedAmount:        normalizeStored(pool.ReservedAmount),
		GuaranteedUsd:         normalizeStored(pool.GuaranteedUsd),
		CumulativeFundingRate: normalizeStored(pool.CumulativeFundingRate),
		LastFundingTime:       uint64(pool.LastFundingTime),
		RecordedBalance:       normalizeStored(pool.RecordedBalance),
	}
	raw, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	return m.db.Put(poolKey(pool.Token), raw)
}

// GetPosition loads the position stored under the supplied key, or nil.
func (m *Manager) GetPosition(key string) (*vault.Position, error) {
	raw, err := m.db.Get(positionKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedPosition
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, err
	}
	return &vault.Position{
		Owner:            stored.Owner,
		CollateralToken:  stored.CollateralToken,
		IndexToken:       stored.IndexToken,
		IsLong:           stored.IsLong,
		Size:             normalizeStored(stored.Size),
		Collateral:       normalizeStored(stored.Collateral),
		AveragePrice:     normalizeStored(stored.AveragePrice),
		EntryFundingRate: normalizeStored(stored.EntryFundingRate),
		ReserveAmount:    normalizeStored(stored.ReserveAmount),
	}, nil
}

// PutPosition stores the position under the supplied key.
func (m *Manager) PutPosition(key string, pos *vault.Position) error {
	if pos == nil {
		return errors.New("state: position required")
	}
	stored := storedPosition{
		Owner:            pos.Owner,
		CollateralToken:  pos.CollateralToken,
		IndexToken:       pos.IndexToken,
		IsLong:           pos.IsLong,
		Size:             normalizeStored(pos.Size),
		Collateral:       normalizeStored(pos.Collateral),
		AveragePrice:     normalizeStored(pos.AveragePrice),
		EntryFundingRate: normalizeStored(pos.EntryFundingRate),
		ReserveAmount:    normalizeStored(pos.ReserveAmount),
	}
	raw, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	return m.db.Put(positionKey(key), raw)
}

// DeletePosition removes the position stored under the supplied key.
func (m *Manager) DeletePosition(key string) error {
	err := m.db.Delete(positionKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// GetBalance returns the ledger balance for an owner and token.
func (m *Manager) GetBalance(owner, token string) (*big.Int, error) {
	raw, err := m.db.Get(balanceKey(owner, token))
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return decodeAmount(raw)
}

// SetBalance stores the ledger balance for an owner and token.
func (m *Manager) SetBalance(owner, token string, amount *big.Int) error {
	raw, err := rlp.EncodeToBytes(normalizeStored(amount))
	if err != nil {
		return err
	}
	return m.db.Put(balanceKey(owner, token), raw)
}

// DebtSupply returns the outstanding debt unit supply.
func (m *Manager) DebtSupply() (*big.Int, error) {
	return m.counter(debtSupplyKey)
}

// SetDebtSupply stores the outstanding debt unit supply.
func (m *Manager) SetDebtSupply(amount *big.Int) error {
	return m.setCounter(debtSupplyKey, amount)
}

// DebtRecordedBalance returns the debt unit custody balance recorded after
// the previous operation.
func (m *Manager) DebtRecordedBalance() (*big.Int, error) {
	return m.counter(debtRecordedKey)
}

// SetDebtRecordedBalance stores the debt unit recorded balance.
func (m *Manager) SetDebtRecordedBalance(amount *big.Int) error {
	return m.setCounter(debtRecordedKey, amount)
}

func (m *Manager) counter(key []byte) (*big.Int, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return decodeAmount(raw)
}

func (m *Manager) setCounter(key []byte, amount *big.Int) error {
	raw, err := rlp.EncodeToBytes(normalizeStored(amount))
	if err != nil {
		return err
	}
	return m.db.Put(key, raw)
}

func decodeAmount(raw []byte) (*big.Int, error) {
	amount := new(big.Int)
	if err := rlp.DecodeBytes(raw, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func normalizeStored(v *big.Int) *big.Int {
	if v == nil || v.Sign() < 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
