package market_test

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dexsim/trading-sim/internal/clock"
	"github.com/dexsim/trading-sim/internal/market"
	"github.com/dexsim/trading-sim/pkg/types"
)

func newTestState(seed int64) *market.State {
	cfg := types.DefaultConfig().MarketData
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return market.NewState(zap.NewNop(), cfg, []string{"USDC", "USDT"}, 4, clk, rand.New(rand.NewSource(seed)))
}

func TestTickMovesOnlyWalkedAssets(t *testing.T) {
	s := newTestState(7)

	eth0, _ := s.Price("ETH")
	usdc0, _ := s.Price("USDC")

	for i := 0; i < 20; i++ {
		s.Tick()
	}

	eth1, _ := s.Price("ETH")
	usdc1, _ := s.Price("USDC")

	if eth1.Equal(eth0) {
		t.Error("ETH should move over 20 ticks")
	}
	if !usdc1.Equal(usdc0) {
		t.Errorf("Stable asset moved: %s -> %s", usdc0, usdc1)
	}
}

func TestPricesStayPositive(t *testing.T) {
	cfg := types.DefaultConfig().MarketData
	cfg.PriceVolatility = 0.9 // extreme walk
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s := market.NewState(zap.NewNop(), cfg, nil, 4, clk, rand.New(rand.NewSource(3)))

	for i := 0; i < 500; i++ {
		for asset, price := range s.Tick() {
			if !price.IsPositive() {
				t.Fatalf("Tick %d: %s price not positive: %s", i, asset, price)
			}
		}
	}
}

func TestSeededWalkIsReproducible(t *testing.T) {
	a, b := newTestState(11), newTestState(11)
	for i := 0; i < 50; i++ {
		pa := a.Tick()
		pb := b.Tick()
		for asset := range pa {
			if !pa[asset].Equal(pb[asset]) {
				t.Fatalf("Tick %d: %s diverged: %s vs %s", i, asset, pa[asset], pb[asset])
			}
		}
	}
}

func TestPriceUnknownAsset(t *testing.T) {
	s := newTestState(1)
	if _, err := s.Price("DOGE"); err == nil {
		t.Fatal("Expected error for unknown asset")
	}
}

func TestSetPrice(t *testing.T) {
	s := newTestState(1)

	if err := s.SetPrice("SOL", decimal.NewFromInt(150)); err != nil {
		t.Fatalf("SetPrice failed: %v", err)
	}
	p, err := s.Price("SOL")
	if err != nil {
		t.Fatalf("Price failed after SetPrice: %v", err)
	}
	if !p.Equal(decimal.NewFromInt(150)) {
		t.Errorf("Expected 150, got %s", p)
	}

	if err := s.SetPrice("SOL", decimal.Zero); err == nil {
		t.Error("Zero price should be rejected")
	}
	if err := s.SetPrice("SOL", decimal.NewFromInt(-5)); err == nil {
		t.Error("Negative price should be rejected")
	}
}

func TestSpreadStaysInBounds(t *testing.T) {
	s := newTestState(5)
	cfg := types.DefaultConfig().MarketData
	min, _ := cfg.SpreadMin.Float64()
	max, _ := cfg.SpreadMax.Float64()

	for i := 0; i < 200; i++ {
		spread, _ := s.Spread("SHIB", "PEPE").Float64() // non-major pair, widest multiplier
		if spread < min {
			t.Fatalf("Spread %f below min %f", spread, min)
		}
		if spread > max*2 {
			t.Fatalf("Spread %f above ceiling %f", spread, max*2)
		}
	}
}

func TestLiquidityScoreRange(t *testing.T) {
	s := newTestState(5)
	for i := 0; i < 200; i++ {
		for _, pair := range [][2]string{{"ETH", "USDC"}, {"SHIB", "PEPE"}} {
			score := s.LiquidityScore(pair[0], pair[1])
			if score < 0.05 || score > 1 {
				t.Fatalf("Liquidity %f out of range for %v", score, pair)
			}
		}
	}

	// Major pairs should out-score unknown pairs on average.
	var major, minor float64
	for i := 0; i < 200; i++ {
		major += s.LiquidityScore("ETH", "USDC")
		minor += s.LiquidityScore("SHIB", "PEPE")
	}
	if major <= minor {
		t.Errorf("Major pair should be more liquid: %f vs %f", major/200, minor/200)
	}
}

func TestCorrelatedWalksShareMarketDirection(t *testing.T) {
	corrOf := func(enabled bool) float64 {
		cfg := types.DefaultConfig().MarketData
		cfg.CorrelationEnabled = enabled
		clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
		s := market.NewState(zap.NewNop(), cfg, []string{"USDC", "USDT"}, 0, clk, rand.New(rand.NewSource(21)))
		for i := 0; i < 60; i++ {
			s.Tick()
		}
		return pearson(s.Returns("ETH"), s.Returns("BTC"))
	}

	with := corrOf(true)
	without := corrOf(false)
	if with < 0.3 {
		t.Errorf("Correlated walks should co-move, got correlation %f", with)
	}
	if with <= without {
		t.Errorf("Correlation %f should exceed the independent baseline %f", with, without)
	}
}

func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	if n < 2 {
		return 0
	}
	var sx, sy float64
	for i := 0; i < n; i++ {
		sx += xs[i]
		sy += ys[i]
	}
	mx, my := sx/float64(n), sy/float64(n)
	var cov, vx, vy float64
	for i := 0; i < n; i++ {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	return cov / math.Sqrt(vx*vy)
}

func TestLiquidityFlatWithoutDepthSimulation(t *testing.T) {
	cfg := types.DefaultConfig().MarketData
	cfg.OrderBookDepthSimulation = false
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s := market.NewState(zap.NewNop(), cfg, []string{"USDC"}, 4, clk, rand.New(rand.NewSource(2)))

	first := s.LiquidityScore("ETH", "USDC")
	if math.Abs(first-0.9) > 1e-9 {
		t.Errorf("Expected the flat major-pair score 0.9, got %f", first)
	}
	for i := 0; i < 50; i++ {
		if got := s.LiquidityScore("ETH", "USDC"); got != first {
			t.Fatalf("Depth noise disabled, score should not vary: %f vs %f", got, first)
		}
	}
}

func TestRegimeClassification(t *testing.T) {
	s := newTestState(9)

	regime, confidence, _ := s.Regime()
	if regime != types.RegimeSideways {
		t.Errorf("Initial regime should be sideways, got %s", regime)
	}

	for i := 0; i < 100; i++ {
		s.Tick()
	}

	regime, confidence, _ = s.Regime()
	switch regime {
	case types.RegimeBull, types.RegimeBear, types.RegimeSideways, types.RegimeVolatile:
	default:
		t.Fatalf("Unknown regime %q", regime)
	}
	if confidence < 0.2 || confidence > 0.95 {
		t.Errorf("Confidence %f out of bounds", confidence)
	}
}

func TestVolatilityTracksReturns(t *testing.T) {
	s := newTestState(13)

	if v := s.Volatility("ETH"); v != 0 {
		t.Errorf("No returns yet, volatility should be 0, got %f", v)
	}

	for i := 0; i < 30; i++ {
		s.Tick()
	}
	if v := s.Volatility("ETH"); v <= 0 {
		t.Errorf("Volatility should be positive after ticking, got %f", v)
	}
	if v := s.Volatility("USDC"); v != 0 {
		t.Errorf("Stable asset volatility should stay 0, got %f", v)
	}

	returns := s.Returns("ETH")
	if len(returns) != 30 {
		t.Errorf("Expected 30 returns, got %d", len(returns))
	}
}

func TestDisabledMarketDataFreezesPrices(t *testing.T) {
	cfg := types.DefaultConfig().MarketData
	cfg.Enabled = false
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s := market.NewState(zap.NewNop(), cfg, nil, 4, clk, rand.New(rand.NewSource(1)))

	before, _ := s.Price("ETH")
	for i := 0; i < 10; i++ {
		s.Tick()
	}
	after, _ := s.Price("ETH")
	if !after.Equal(before) {
		t.Errorf("Disabled feed must not move prices: %s -> %s", before, after)
	}
}
