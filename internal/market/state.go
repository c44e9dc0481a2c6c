// Package market evolves a synthetic market: per-asset prices driven by a
// bounded random walk, a regime classification, and spread/liquidity
// estimates derived from regime and asset class.
package market

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dexsim/trading-sim/internal/clock"
	"github.com/dexsim/trading-sim/pkg/types"
)

// priceFloor keeps every simulated price strictly positive.
var priceFloor = decimal.New(1, -types.AmountPrecision)

// majorAssets get tighter spreads and higher liquidity scores.
var majorAssets = map[string]bool{
	"ETH": true, "WETH": true, "BTC": true, "WBTC": true,
	"USDC": true, "USDT": true, "DAI": true,
}

const returnWindow = 64

// State owns per-asset prices and the derived market structure. It is
// mutated only by Tick and the explicit SetPrice override.
type State struct {
	logger *zap.Logger
	cfg    types.MarketDataSimulation
	clk    clock.Clock

	mu      sync.RWMutex
	rng     *rand.Rand
	prices  map[string]decimal.Decimal
	stable  map[string]bool
	returns map[string][]float64

	regime           types.MarketRegime
	regimeConfidence float64
	regimeSince      time.Time
	regimeInterval   int
	tickCount        int
}

// NewState builds the market from the configured initial prices. The rng
// is owned by the caller-provided source so trade and market draws share
// one replayable sequence when seeded.
func NewState(logger *zap.Logger, cfg types.MarketDataSimulation, stableAssets []string, regimeInterval int, clk clock.Clock, rng *rand.Rand) *State {
	s := &State{
		logger:         logger.Named("market"),
		cfg:            cfg,
		clk:            clk,
		rng:            rng,
		prices:         make(map[string]decimal.Decimal, len(cfg.InitialPrices)),
		stable:         make(map[string]bool, len(stableAssets)),
		returns:        make(map[string][]float64),
		regime:         types.RegimeSideways,
		regimeSince:    clk.Now(),
		regimeInterval: regimeInterval,
	}
	for asset, price := range cfg.InitialPrices {
		s.prices[asset] = price
	}
	for _, asset := range stableAssets {
		s.stable[asset] = true
	}
	return s
}

// Tick advances every non-stable asset by one bounded random-walk step
// and reclassifies the regime on its slower cadence. It returns the new
// prices so the engine can publish PriceUpdate events.
func (s *State) Tick() map[string]decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		return s.snapshotPricesLocked()
	}

	// Sorted iteration keeps the rng draw order stable, so a seeded run
	// replays the same price path.
	assets := make([]string, 0, len(s.prices))
	for asset := range s.prices {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	// One shared market factor per tick makes the walks co-move when
	// correlation is enabled.
	var common float64
	if s.cfg.CorrelationEnabled {
		common = (s.rng.Float64()*2 - 1) * s.cfg.PriceVolatility
	}

	for _, asset := range assets {
		if s.stable[asset] {
			continue
		}
		price := s.prices[asset]
		// Uniform step in [-vol, +vol], regime-tilted.
		step := (s.rng.Float64()*2 - 1) * s.cfg.PriceVolatility
		if s.cfg.CorrelationEnabled {
			step = common*0.6 + step*0.4
		}
		switch s.regime {
		case types.RegimeBull:
			step += s.cfg.PriceVolatility * 0.3
		case types.RegimeBear:
			step -= s.cfg.PriceVolatility * 0.3
		case types.RegimeVolatile:
			step *= 2
		}
		next := price.Mul(decimal.NewFromFloat(1 + step))
		if next.LessThan(priceFloor) {
			next = priceFloor
		}
		s.prices[asset] = next
		s.pushReturnLocked(asset, step)
	}

	s.tickCount++
	if s.cfg.MarketRegimeDetection && s.regimeInterval > 0 && s.tickCount%s.regimeInterval == 0 {
		s.classifyRegimeLocked()
	}

	return s.snapshotPricesLocked()
}

func (s *State) pushReturnLocked(asset string, r float64) {
	rs := append(s.returns[asset], r)
	if len(rs) > returnWindow {
		rs = rs[len(rs)-returnWindow:]
	}
	s.returns[asset] = rs
}

func (s *State) snapshotPricesLocked() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out
}

// Price returns the current price of an asset.
func (s *State) Price(asset string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown asset %q", asset)
	}
	return p, nil
}

// SetPrice overrides an asset price. Tests use this to pin deterministic
// prices; it also registers assets the initial config did not list.
func (s *State) SetPrice(asset string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("price for %s must be positive, got %s", asset, price)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[asset] = price
	return nil
}

// AllPrices returns a copy of the current price map.
func (s *State) AllPrices() map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotPricesLocked()
}

// Volatility returns the recent return standard deviation for an asset.
func (s *State) Volatility(asset string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return stdDev(s.returns[asset])
}

// Returns exposes the rolling return series of an asset, used as the
// reference series for beta/correlation proxies.
func (s *State) Returns(asset string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs := s.returns[asset]
	out := make([]float64, len(rs))
	copy(out, rs)
	return out
}

// Spread estimates the relative bid-ask spread for a pair. It is
// stochastic within the configured range but anchored on regime and
// asset class, not pure noise.
func (s *State) Spread(assetIn, assetOut string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.SpreadSimulation {
		return decimal.Zero
	}

	min, _ := s.cfg.SpreadMin.Float64()
	max, _ := s.cfg.SpreadMax.Float64()
	spread := min + s.rng.Float64()*(max-min)

	switch s.regime {
	case types.RegimeVolatile:
		spread *= 1.5
	case types.RegimeBear:
		spread *= 1.3
	}
	if !majorAssets[assetIn] || !majorAssets[assetOut] {
		spread *= 1.2
	}
	if ceiling := max * 2; spread > ceiling {
		spread = ceiling
	}
	return decimal.NewFromFloat(spread)
}

// LiquidityScore estimates how much volume a pair can absorb, in [0,1].
// Major pairs score high; volatile and bear regimes degrade everything.
func (s *State) LiquidityScore(assetIn, assetOut string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	score := 0.4
	if majorAssets[assetIn] {
		score += 0.25
	}
	if majorAssets[assetOut] {
		score += 0.25
	}
	switch s.regime {
	case types.RegimeVolatile:
		score -= 0.25
	case types.RegimeBear:
		score -= 0.15
	}
	if s.cfg.OrderBookDepthSimulation {
		score += (s.rng.Float64() - 0.5) * 0.1
	}
	return clamp(score, 0.05, 1)
}

// Regime returns the current classification, its confidence and how long
// it has held.
func (s *State) Regime() (types.MarketRegime, float64, time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regime, s.regimeConfidence, s.clk.Now().Sub(s.regimeSince)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
