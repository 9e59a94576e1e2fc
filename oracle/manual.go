package oracle

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// ManualFeed is an in-memory feed used for tests and operator overrides
// during incident response.
type ManualFeed struct {
	mu     sync.RWMutex
	prices map[string]PriceSample
}

// NewManualFeed constructs an empty manual feed.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{prices: make(map[string]PriceSample)}
}

// Set records the supplied observation for the token.
func (m *ManualFeed) Set(symbol string, value *big.Int, decimals uint8, ts time.Time) {
	if m == nil || value == nil {
		return
	}
	key := normalize(symbol)
	if key == "" {
		return
	}
	m.mu.Lock()
	m.prices[key] = PriceSample{Value: new(big.Int).Set(value), Decimals: decimals, Timestamp: ts}
	m.mu.Unlock()
}

// SetDecimal parses a decimal price string and records it with the supplied
// precision.
func (m *ManualFeed) SetDecimal(symbol, price string, decimals uint8, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual feed not configured")
	}
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return fmt.Errorf("manual feed: price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("manual feed: invalid price %q", price)
	}
	if rat.Sign() <= 0 {
		return fmt.Errorf("manual feed: price must be positive")
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(scale))
	value := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	m.Set(symbol, value, decimals, ts)
	return nil
}

// LatestPrice returns the stored observation for the token.
func (m *ManualFeed) LatestPrice(symbol string) (PriceSample, error) {
	if m == nil {
		return PriceSample{}, fmt.Errorf("manual feed not configured")
	}
	m.mu.RLock()
	sample, ok := m.prices[normalize(symbol)]
	m.mu.RUnlock()
	if !ok {
		return PriceSample{}, ErrNoPrice
	}
	clone := sample
	if sample.Value != nil {
		clone.Value = new(big.Int).Set(sample.Value)
	}
	return clone, nil
}
