package funding

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

// DefaultMinUpdateInterval is the minimum spacing of admitted updates per
// market.
const DefaultMinUpdateInterval = 60 * time.Second

// Sink receives every committed outcome inside the market's critical
// section. Append must not block on I/O; it returns the sequence number it
// assigned to the outcome.
type Sink interface {
	Append(o domain.FundingOutcome) uint64
}

// DefaultParams returns the default engine parameters.
func DefaultParams() domain.EngineParams {
	return domain.EngineParams{
		MinUpdateInterval: DefaultMinUpdateInterval,
		MaxFundingRate:    DefaultMaxFundingRate,
	}
}

// market is the mutable funding state of one symbol.
type market struct {
	mu         sync.Mutex
	symbol     string
	feedID     common.Hash
	cumulative uint256.Int
	rate       int64
	lastUpdate int64 // unix seconds
	lastPrice  uint256.Int
}

func (m *market) snapshotLocked() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Symbol:            m.symbol,
		FeedID:            m.feedID,
		CumulativeFunding: new(uint256.Int).Set(&m.cumulative),
		LastFundingRate:   m.rate,
		LastUpdateTime:    time.Unix(m.lastUpdate, 0).UTC(),
		LastPrice:         new(uint256.Int).Set(&m.lastPrice),
	}
}

// Engine owns the funding state of a fixed set of markets. Each market is
// guarded by its own mutex; the symbol set never changes after NewEngine.
type Engine struct {
	registry *Registry
	markets  map[string]*market
	params   atomic.Pointer[domain.EngineParams]
	sink     Sink
	seq      atomic.Uint64
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink routes committed outcomes to s.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates one market per binding with a cumulative index of 1.0,
// no price and lastUpdateTime set to initTime.
func NewEngine(registry *Registry, params domain.EngineParams, initTime time.Time, opts ...Option) (*Engine, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	e := &Engine{
		registry: registry,
		markets:  make(map[string]*market, len(registry.symbols)),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "funding_engine"))

	for _, sym := range registry.symbols {
		m := &market{
			symbol:     sym,
			feedID:     registry.bySymbol[sym],
			lastUpdate: initTime.Unix(),
		}
		m.cumulative.Set(wad)
		e.markets[sym] = m
	}
	p := params
	e.params.Store(&p)
	return e, nil
}

// Registry returns the feed registry the engine was built with.
func (e *Engine) Registry() *Registry { return e.registry }

// ResolveFeed returns the symbol bound to feedID.
func (e *Engine) ResolveFeed(feedID common.Hash) (string, error) {
	return e.registry.Resolve(feedID)
}

// Params returns the current engine parameters.
func (e *Engine) Params() domain.EngineParams {
	return *e.params.Load()
}

// ProcessUpdate admits or rejects one observation for the market bound to
// feedID. A rejected update leaves the market untouched.
func (e *Engine) ProcessUpdate(feedID common.Hash, obs domain.PriceObservation, now time.Time) (domain.FundingOutcome, error) {
	symbol, err := e.registry.Resolve(feedID)
	if err != nil {
		return domain.FundingOutcome{}, err
	}
	m := e.markets[symbol]
	p := e.params.Load()

	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := now.Unix() - m.lastUpdate
	if elapsed <= 0 || elapsed < minElapsedSeconds(p.MinUpdateInterval) {
		return domain.FundingOutcome{}, fmt.Errorf("funding: %s: %ds since last update, need %s: %w",
			symbol, elapsed, p.MinUpdateInterval, domain.ErrTooFrequent)
	}

	price, err := NormalizePrice(obs.Mantissa, obs.Exponent)
	if err != nil {
		return domain.FundingOutcome{}, fmt.Errorf("funding: %s: %w", symbol, err)
	}

	rate := m.rate
	cumulative := new(uint256.Int).Set(&m.cumulative)
	var computed, clamped bool
	if !m.lastPrice.IsZero() {
		rate, clamped = ComputeRate(&m.lastPrice, price, uint64(elapsed), p.MaxFundingRate)
		computed = true
		cumulative, err = Compound(&m.cumulative, rate)
		if err != nil {
			return domain.FundingOutcome{}, fmt.Errorf("funding: %s: %w", symbol, err)
		}
	}

	m.lastPrice.Set(price)
	m.lastUpdate = now.Unix()
	m.rate = rate
	m.cumulative.Set(cumulative)

	o := domain.FundingOutcome{
		ID:                uuid.NewString(),
		Symbol:            symbol,
		FeedID:            feedID,
		Rate:              rate,
		CumulativeFunding: cumulative,
		Price:             price,
		Confidence:        obs.Confidence,
		ObservedAt:        obs.ObservedAt,
		Timestamp:         time.Unix(m.lastUpdate, 0).UTC(),
		RateComputed:      computed,
		Clamped:           clamped,
	}
	if e.sink != nil {
		o.Seq = e.sink.Append(o)
	} else {
		o.Seq = e.seq.Add(1)
	}
	return o, nil
}

func (e *Engine) market(symbol string) (*market, error) {
	m, ok := e.markets[symbol]
	if !ok {
		return nil, fmt.Errorf("funding: symbol %s: %w", symbol, domain.ErrUnknownSymbol)
	}
	return m, nil
}

// GetRate returns the last funding rate of symbol.
func (e *Engine) GetRate(symbol string) (int64, error) {
	m, err := e.market(symbol)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate, nil
}

// GetCumulativeIndex returns a copy of the cumulative funding index of symbol.
func (e *Engine) GetCumulativeIndex(symbol string) (*uint256.Int, error) {
	m, err := e.market(symbol)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(uint256.Int).Set(&m.cumulative), nil
}

// GetMarketSnapshot returns a consistent copy of the market state of symbol.
func (e *Engine) GetMarketSnapshot(symbol string) (domain.MarketSnapshot, error) {
	m, err := e.market(symbol)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(), nil
}

// Snapshots returns a copy of every market, sorted by symbol. Each snapshot
// is consistent on its own; snapshots of different markets may straddle
// concurrent updates.
func (e *Engine) Snapshots() []domain.MarketSnapshot {
	out := make([]domain.MarketSnapshot, 0, len(e.registry.symbols))
	for _, sym := range e.registry.symbols {
		m := e.markets[sym]
		m.mu.Lock()
		out = append(out, m.snapshotLocked())
		m.mu.Unlock()
	}
	return out
}

// UpdateConfig replaces both parameters at once. Updates already past the
// parameter load keep the values they started with.
func (e *Engine) UpdateConfig(params domain.EngineParams) error {
	if err := validateParams(params); err != nil {
		return err
	}
	if params.MinUpdateInterval == 0 {
		e.logger.Warn("update interval gating disabled")
	}
	if params.MaxFundingRate == 0 {
		e.logger.Warn("max funding rate is zero, every rate will clamp to zero")
	}
	p := params
	old := e.params.Swap(&p)
	e.logger.Info("engine config updated",
		slog.Duration("old_min_update_interval", old.MinUpdateInterval),
		slog.Duration("min_update_interval", p.MinUpdateInterval),
		slog.Int64("old_max_funding_rate", old.MaxFundingRate),
		slog.Int64("max_funding_rate", p.MaxFundingRate),
	)
	return nil
}

// minElapsedSeconds is the interval in whole seconds, rounded up, so that
// comparing against elapsed seconds never overflows a Duration.
func minElapsedSeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

func validateParams(p domain.EngineParams) error {
	if p.MinUpdateInterval < 0 {
		return fmt.Errorf("funding: min update interval %s is negative: %w", p.MinUpdateInterval, domain.ErrInvalidConfig)
	}
	if p.MaxFundingRate < 0 {
		return fmt.Errorf("funding: max funding rate %d is negative: %w", p.MaxFundingRate, domain.ErrInvalidConfig)
	}
	if p.MaxFundingRate >= RatePrecision {
		return fmt.Errorf("funding: max funding rate %d must be below %d: %w", p.MaxFundingRate, RatePrecision, domain.ErrInvalidConfig)
	}
	return nil
}

// Restore seeds markets from persisted snapshots. Snapshots for symbols the
// engine does not know are skipped; a snapshot whose feed does not match the
// configured binding or whose index is zero is rejected. It returns the
// number of markets restored.
func (e *Engine) Restore(snaps []domain.MarketSnapshot) (int, error) {
	restored := 0
	for _, s := range snaps {
		m, ok := e.markets[s.Symbol]
		if !ok {
			e.logger.Warn("skipping snapshot for unknown symbol", slog.String("symbol", s.Symbol))
			continue
		}
		if s.FeedID != m.feedID {
			return restored, fmt.Errorf("funding: restore %s: snapshot feed %s, configured %s: %w",
				s.Symbol, s.FeedID.Hex(), m.feedID.Hex(), domain.ErrInvalidConfig)
		}
		if s.CumulativeFunding == nil || s.CumulativeFunding.IsZero() {
			return restored, fmt.Errorf("funding: restore %s: zero cumulative index: %w", s.Symbol, domain.ErrIndexOverflow)
		}

		m.mu.Lock()
		m.cumulative.Set(s.CumulativeFunding)
		m.rate = s.LastFundingRate
		m.lastUpdate = s.LastUpdateTime.Unix()
		if s.LastPrice != nil {
			m.lastPrice.Set(s.LastPrice)
		} else {
			m.lastPrice.Clear()
		}
		m.mu.Unlock()
		restored++
	}
	return restored, nil
}
