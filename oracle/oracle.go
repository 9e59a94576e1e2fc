package oracle

import (
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"
)

var (
	ErrNoPrice      = errors.New("oracle: no price available")
	ErrStalePrice   = errors.New("oracle: price sample stale")
	ErrInvalidPrice = errors.New("oracle: invalid price")
)

// pricePrecision is the USD fixed-point scale every quote is normalised to.
var pricePrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)

// oneUsd is the clamp target for strict-stable tokens.
var oneUsd = new(big.Int).Set(pricePrecision)

// PriceSample is a single observation from an upstream feed. Value carries
// Decimals fixed-point precision per whole token.
type PriceSample struct {
	Value     *big.Int
	Decimals  uint8
	Timestamp time.Time
}

// Feed resolves the latest observation for a token symbol. Any error or a
// non-positive value is treated as a hard failure of the enclosing vault
// operation.
type Feed interface {
	LatestPrice(symbol string) (PriceSample, error)
}

// SecondarySource supplies an independently derived price that the primary
// aggregation is bounded against when enabled.
type SecondarySource interface {
	Price(symbol string, referencePrice *big.Int, wantMax bool) (*big.Int, error)
}

type tokenFeeds struct {
	feeds   []Feed
	samples [][]*big.Int
	strict  bool
}

// Aggregator keeps the last N observations per registered feed and answers
// directional quotes: the maximum or minimum across all retained samples and
// sources, so every transaction is priced against the worst case for the
// protocol.
type Aggregator struct {
	mu                      sync.RWMutex
	tokens                  map[string]*tokenFeeds
	sampleSpace             int
	maxAge                  time.Duration
	maxStrictDeviation      *big.Int
	secondary               SecondarySource
	secondaryEnabled        bool
	secondaryMaxDeviationBp uint64
	nowFn                   func() time.Time
}

// DefaultSampleSpace is the number of observations retained per feed.
const DefaultSampleSpace = 3

// NewAggregator constructs an aggregator with the supplied sample space and
// freshness window. A non-positive sample space falls back to the default.
func NewAggregator(sampleSpace int, maxAge time.Duration) *Aggregator {
	if sampleSpace <= 0 {
		sampleSpace = DefaultSampleSpace
	}
	return &Aggregator{
		tokens:      make(map[string]*tokenFeeds),
		sampleSpace: sampleSpace,
		maxAge:      maxAge,
		nowFn:       func() time.Time { return time.Now().UTC() },
	}
}

// SetSampleSpace resizes the retained observation window. Existing samples
// beyond the new size are dropped oldest-first.
func (a *Aggregator) SetSampleSpace(n int) {
	if a == nil || n <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sampleSpace = n
	for _, tf := range a.tokens {
		for i, ring := range tf.samples {
			if len(ring) > n {
				tf.samples[i] = append([]*big.Int{}, ring[len(ring)-n:]...)
			}
		}
	}
}

// SetMaxAge updates the freshness window applied to feed observations.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// SetMaxStrictDeviation configures how far a strict-stable price may drift
// from one USD before the clamp is lifted, at the USD fixed-point scale.
func (a *Aggregator) SetMaxStrictDeviation(deviation *big.Int) {
	if a == nil || deviation == nil {
		return
	}
	a.mu.Lock()
	a.maxStrictDeviation = new(big.Int).Set(deviation)
	a.mu.Unlock()
}

// SetSecondary wires an optional secondary price source. When enabled the
// primary answer is bounded against it within the deviation window.
func (a *Aggregator) SetSecondary(source SecondarySource, maxDeviationBps uint64) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.secondary = source
	a.secondaryEnabled = source != nil
	a.secondaryMaxDeviationBp = maxDeviationBps
	a.mu.Unlock()
}

// SetNowFunc overrides the clock used for staleness checks.
func (a *Aggregator) SetNowFunc(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.nowFn = now
	a.mu.Unlock()
}

// RegisterFeed adds a price source for the token. strictStable marks the
// token as pegged, enabling the one-USD clamp.
func (a *Aggregator) RegisterFeed(symbol string, feed Feed, strictStable bool) {
	if a == nil || feed == nil {
		return
	}
	key := normalize(symbol)
	if key == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	tf, ok := a.tokens[key]
	if !ok {
		tf = &tokenFeeds{}
		a.tokens[key] = tf
	}
	tf.feeds = append(tf.feeds, feed)
	tf.samples = append(tf.samples, nil)
	tf.strict = strictStable
}

// HasFeed reports whether any price source is registered for the token.
func (a *Aggregator) HasFeed(symbol string) bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	tf, ok := a.tokens[normalize(symbol)]
	return ok && len(tf.feeds) > 0
}

// SetStrictStable toggles the peg clamp for an already registered token.
func (a *Aggregator) SetStrictStable(symbol string, strict bool) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if tf, ok := a.tokens[normalize(symbol)]; ok {
		tf.strict = strict
	}
}

// Quote returns the directional price for the token at the USD fixed-point
// scale: the maximum across retained samples when wantMax is set, otherwise
// the minimum. Every call polls the registered feeds first so the freshest
// observation always participates. Feeds are polled outside the aggregator
// lock so one slow upstream cannot stall quotes for unrelated tokens.
func (a *Aggregator) Quote(symbol string, wantMax bool) (*big.Int, error) {
	if a == nil {
		return nil, ErrNoPrice
	}
	key := normalize(symbol)
	a.mu.RLock()
	tf, ok := a.tokens[key]
	if !ok || len(tf.feeds) == 0 {
		a.mu.RUnlock()
		return nil, ErrNoPrice
	}
	feeds := append([]Feed(nil), tf.feeds...)
	cutoff := time.Time{}
	if a.maxAge > 0 {
		cutoff = a.nowFn().Add(-a.maxAge)
	}
	a.mu.RUnlock()

	observations := make([]*big.Int, len(feeds))
	var lastErr error
	for i, feed := range feeds {
		sample, err := feed.LatestPrice(key)
		if err != nil {
			lastErr = err
			continue
		}
		if sample.Value == nil || sample.Value.Sign() <= 0 {
			lastErr = ErrInvalidPrice
			continue
		}
		if !cutoff.IsZero() && !sample.Timestamp.IsZero() && sample.Timestamp.Before(cutoff) {
			lastErr = ErrStalePrice
			continue
		}
		observations[i] = normalizePrice(sample)
	}

	a.mu.Lock()
	for i, value := range observations {
		if value == nil || i >= len(tf.samples) {
			continue
		}
		ring := append(tf.samples[i], value)
		if len(ring) > a.sampleSpace {
			ring = append([]*big.Int{}, ring[len(ring)-a.sampleSpace:]...)
		}
		tf.samples[i] = ring
	}
	var price *big.Int
	for _, ring := range tf.samples {
		for _, value := range ring {
			if price == nil {
				price = new(big.Int).Set(value)
				continue
			}
			if wantMax == (value.Cmp(price) > 0) {
				price = new(big.Int).Set(value)
			}
		}
	}
	strict := tf.strict
	maxStrictDeviation := a.maxStrictDeviation
	secondary := a.secondary
	secondaryEnabled := a.secondaryEnabled
	secondaryDeviation := a.secondaryMaxDeviationBp
	a.mu.Unlock()

	if price == nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, ErrNoPrice
	}

	if secondaryEnabled {
		bounded, err := boundAgainstSecondary(secondary, key, price, wantMax, secondaryDeviation)
		if err != nil {
			return nil, err
		}
		price = bounded
	}
	if strict {
		price = clampStrictStable(price, maxStrictDeviation, wantMax)
	}
	if price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return price, nil
}

// clampStrictStable pins a pegged token to one USD while the observed price
// stays within the deviation cap. Outside the cap the answer is still never
// allowed to cross the peg against the protocol's favour.
func clampStrictStable(price, maxDeviation *big.Int, wantMax bool) *big.Int {
	if maxDeviation == nil {
		maxDeviation = big.NewInt(0)
	}
	diff := new(big.Int).Sub(price, oneUsd)
	if diff.Sign() < 0 {
		diff.Neg(diff)
	}
	if diff.Cmp(maxDeviation) <= 0 {
		return new(big.Int).Set(oneUsd)
	}
	if wantMax && price.Cmp(oneUsd) > 0 {
		return price
	}
	if !wantMax && price.Cmp(oneUsd) < 0 {
		return price
	}
	return new(big.Int).Set(oneUsd)
}

// boundAgainstSecondary accepts the primary answer while it stays within the
// deviation window of the secondary source; beyond it the conservative bound
// of the two is returned.
func boundAgainstSecondary(source SecondarySource, symbol string, primary *big.Int, wantMax bool, maxDeviationBps uint64) (*big.Int, error) {
	secondary, err := source.Price(symbol, primary, wantMax)
	if err != nil {
		return nil, err
	}
	if secondary == nil || secondary.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	diff := new(big.Int).Sub(primary, secondary)
	if diff.Sign() < 0 {
		diff.Neg(diff)
	}
	diff.Mul(diff, big.NewInt(10_000))
	window := new(big.Int).Mul(secondary, new(big.Int).SetUint64(maxDeviationBps))
	if maxDeviationBps == 0 || diff.Cmp(window) <= 0 {
		return primary, nil
	}
	if wantMax == (secondary.Cmp(primary) > 0) {
		return secondary, nil
	}
	return primary, nil
}

// FeedSecondary adapts a Feed into a SecondarySource, answering every request
// with the feed's latest normalised observation regardless of direction.
type FeedSecondary struct {
	feed Feed
}

// NewFeedSecondary wraps the supplied feed.
func NewFeedSecondary(feed Feed) *FeedSecondary {
	return &FeedSecondary{feed: feed}
}

// Price resolves the feed's latest observation at the USD fixed-point scale.
func (f *FeedSecondary) Price(symbol string, _ *big.Int, _ bool) (*big.Int, error) {
	if f == nil || f.feed == nil {
		return nil, ErrNoPrice
	}
	sample, err := f.feed.LatestPrice(normalize(symbol))
	if err != nil {
		return nil, err
	}
	if sample.Value == nil || sample.Value.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	return normalizePrice(sample), nil
}

// normalizePrice rescales a feed sample to the USD fixed-point scale.
func normalizePrice(sample PriceSample) *big.Int {
	value := new(big.Int).Mul(sample.Value, pricePrecision)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(sample.Decimals)), nil)
	return value.Quo(value, scale)
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
