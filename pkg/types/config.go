// Package types provides configuration types for the trade simulator.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the full simulator configuration. It is captured as an
// immutable value at construction; there is no runtime mutation path.
type Config struct {
	InitialBalances map[string]decimal.Decimal `json:"initialBalances"`
	StableAssets    []string                   `json:"stableAssets"`

	// Seed makes slippage, failure and price-walk draws replayable.
	// Zero seeds from the wall clock.
	Seed int64 `json:"seed"`

	TickInterval      time.Duration `json:"tickInterval"`      // price tick cadence
	AnalyticsInterval int           `json:"analyticsInterval"` // recompute every N ticks
	RegimeInterval    int           `json:"regimeInterval"`    // reclassify every N ticks

	Slippage   SlippageSimulation   `json:"slippageSimulation"`
	Latency    LatencySimulation    `json:"latencySimulation"`
	Failure    FailureSimulation    `json:"failureSimulation"`
	MarketData MarketDataSimulation `json:"marketDataSimulation"`
	Risk       RiskManagement       `json:"riskManagement"`
	Analytics  AnalyticsConfig      `json:"advancedAnalytics"`
}

// SlippageSimulation configures the realized-slippage model.
type SlippageSimulation struct {
	Enabled            bool            `json:"enabled"`
	MinSlippage        decimal.Decimal `json:"minSlippage"` // fraction, e.g. 0.001
	MaxSlippage        decimal.Decimal `json:"maxSlippage"`
	VolatilityFactor   decimal.Decimal `json:"volatilityFactor"`
	MarketImpactFactor decimal.Decimal `json:"marketImpactFactor"`
	LiquidityThreshold float64         `json:"liquidityThreshold"`
}

// LatencySimulation configures the execution-latency model.
type LatencySimulation struct {
	Enabled            bool          `json:"enabled"`
	MinLatency         time.Duration `json:"minLatency"`
	MaxLatency         time.Duration `json:"maxLatency"`
	NetworkVariability float64       `json:"networkVariability"` // 0-1 jitter factor
}

// FailureSimulation configures stochastic trade failures.
type FailureSimulation struct {
	Enabled                bool     `json:"enabled"`
	FailureRate            float64  `json:"failureRate"` // percent, 0-100
	FailureTypes           []string `json:"failureTypes"`
	TimeBasedFailures      bool     `json:"timeBasedFailures"`
	LiquidityBasedFailures bool     `json:"liquidityBasedFailures"`
}

// DefaultFailureTypes is used when FailureTypes is empty.
var DefaultFailureTypes = []string{
	"network_error",
	"insufficient_liquidity",
	"gas_price_spike",
	"mev_frontrun",
	"rpc_timeout",
}

// MarketDataSimulation configures the synthetic market feed.
type MarketDataSimulation struct {
	Enabled                  bool                       `json:"enabled"`
	InitialPrices            map[string]decimal.Decimal `json:"initialPrices"`
	PriceVolatility          float64                    `json:"priceVolatility"` // per-tick walk scale, fraction
	SpreadSimulation         bool                       `json:"spreadSimulation"`
	SpreadMin                decimal.Decimal            `json:"spreadMin"` // fraction
	SpreadMax                decimal.Decimal            `json:"spreadMax"`
	CorrelationEnabled       bool                       `json:"correlationEnabled"`
	MarketRegimeDetection    bool                       `json:"marketRegimeDetection"`
	OrderBookDepthSimulation bool                       `json:"orderBookDepthSimulation"`
}

// RiskManagement configures the informational risk limits.
type RiskManagement struct {
	Enabled            bool    `json:"enabled"`
	MaxPositionSize    float64 `json:"maxPositionSize"`    // fraction of portfolio value
	MaxDailyLoss       float64 `json:"maxDailyLoss"`       // fraction
	MaxDrawdown        float64 `json:"maxDrawdown"`        // fraction
	ConcentrationLimit float64 `json:"concentrationLimit"` // Herfindahl index ceiling
	CorrelationLimit   float64 `json:"correlationLimit"`
}

// AnalyticsConfig toggles the advanced analytics calculations.
type AnalyticsConfig struct {
	Enabled                 bool `json:"enabled"`
	CalculateSharpeRatio    bool `json:"calculateSharpeRatio"`
	CalculateMaxDrawdown    bool `json:"calculateMaxDrawdown"`
	CalculateVaR            bool `json:"calculateVar"`
	CalculateBeta           bool `json:"calculateBeta"`
	RiskAttributionAnalysis bool `json:"riskAttributionAnalysis"`
	PerformanceAttribution  bool `json:"performanceAttribution"`
}

// DefaultConfig returns a configuration with every simulation enabled and
// moderate parameters.
func DefaultConfig() Config {
	return Config{
		InitialBalances: map[string]decimal.Decimal{
			"ETH":  decimal.NewFromInt(10),
			"USDC": decimal.NewFromInt(10000),
		},
		StableAssets:      []string{"USDC", "USDT", "DAI"},
		TickInterval:      5 * time.Second,
		AnalyticsInterval: 6,
		RegimeInterval:    12,
		Slippage: SlippageSimulation{
			Enabled:            true,
			MinSlippage:        decimal.NewFromFloat(0.0005),
			MaxSlippage:        decimal.NewFromFloat(0.02),
			VolatilityFactor:   decimal.NewFromFloat(0.5),
			MarketImpactFactor: decimal.NewFromFloat(0.1),
			LiquidityThreshold: 0.3,
		},
		Latency: LatencySimulation{
			Enabled:            true,
			MinLatency:         50 * time.Millisecond,
			MaxLatency:         800 * time.Millisecond,
			NetworkVariability: 0.2,
		},
		Failure: FailureSimulation{
			Enabled:     true,
			FailureRate: 5,
		},
		MarketData: MarketDataSimulation{
			Enabled: true,
			InitialPrices: map[string]decimal.Decimal{
				"ETH":  decimal.NewFromInt(2000),
				"BTC":  decimal.NewFromInt(40000),
				"USDC": decimal.NewFromInt(1),
				"USDT": decimal.NewFromInt(1),
			},
			PriceVolatility:          0.002,
			SpreadSimulation:         true,
			SpreadMin:                decimal.NewFromFloat(0.0005),
			SpreadMax:                decimal.NewFromFloat(0.005),
			CorrelationEnabled:       true,
			MarketRegimeDetection:    true,
			OrderBookDepthSimulation: true,
		},
		Risk: RiskManagement{
			Enabled:            true,
			MaxPositionSize:    0.5,
			MaxDailyLoss:       0.05,
			MaxDrawdown:        0.2,
			ConcentrationLimit: 0.6,
			CorrelationLimit:   0.8,
		},
		Analytics: AnalyticsConfig{
			Enabled:                 true,
			CalculateSharpeRatio:    true,
			CalculateMaxDrawdown:    true,
			CalculateVaR:            true,
			CalculateBeta:           true,
			RiskAttributionAnalysis: true,
			PerformanceAttribution:  true,
		},
	}
}

// Validate checks the configuration once at construction. Any violation
// is fatal: the engine refuses to start with an invalid config.
func (c *Config) Validate() error {
	if len(c.InitialBalances) == 0 {
		return fmt.Errorf("initialBalances must not be empty")
	}
	for asset, bal := range c.InitialBalances {
		if bal.IsNegative() {
			return fmt.Errorf("initial balance for %s is negative: %s", asset, bal)
		}
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tickInterval must be positive, got %s", c.TickInterval)
	}
	if c.AnalyticsInterval < 0 || c.RegimeInterval < 0 {
		return fmt.Errorf("analyticsInterval and regimeInterval must be non-negative")
	}
	if s := c.Slippage; s.Enabled {
		if s.MinSlippage.IsNegative() {
			return fmt.Errorf("minSlippage must be non-negative, got %s", s.MinSlippage)
		}
		if s.MaxSlippage.LessThan(s.MinSlippage) {
			return fmt.Errorf("maxSlippage %s is below minSlippage %s", s.MaxSlippage, s.MinSlippage)
		}
		if s.MaxSlippage.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("maxSlippage must be a fraction <= 1, got %s", s.MaxSlippage)
		}
		if s.LiquidityThreshold < 0 || s.LiquidityThreshold > 1 {
			return fmt.Errorf("liquidityThreshold must be in [0,1], got %f", s.LiquidityThreshold)
		}
	}
	if l := c.Latency; l.Enabled {
		if l.MinLatency < 0 {
			return fmt.Errorf("minLatency must be non-negative, got %s", l.MinLatency)
		}
		if l.MaxLatency < l.MinLatency {
			return fmt.Errorf("maxLatency %s is below minLatency %s", l.MaxLatency, l.MinLatency)
		}
		if l.NetworkVariability < 0 || l.NetworkVariability > 1 {
			return fmt.Errorf("networkVariability must be in [0,1], got %f", l.NetworkVariability)
		}
	}
	if f := c.Failure; f.Enabled {
		if f.FailureRate < 0 || f.FailureRate > 100 {
			return fmt.Errorf("failureRate must be in [0,100], got %f", f.FailureRate)
		}
	}
	if m := c.MarketData; m.Enabled {
		if m.PriceVolatility < 0 || m.PriceVolatility > 1 {
			return fmt.Errorf("priceVolatility must be in [0,1], got %f", m.PriceVolatility)
		}
		for asset, price := range m.InitialPrices {
			if !price.IsPositive() {
				return fmt.Errorf("initial price for %s must be positive, got %s", asset, price)
			}
		}
		if m.SpreadSimulation {
			if m.SpreadMin.IsNegative() || m.SpreadMax.LessThan(m.SpreadMin) {
				return fmt.Errorf("spread range [%s, %s] is invalid", m.SpreadMin, m.SpreadMax)
			}
		}
	}
	if r := c.Risk; r.Enabled {
		for name, v := range map[string]float64{
			"maxPositionSize":    r.MaxPositionSize,
			"maxDailyLoss":       r.MaxDailyLoss,
			"maxDrawdown":        r.MaxDrawdown,
			"concentrationLimit": r.ConcentrationLimit,
			"correlationLimit":   r.CorrelationLimit,
		} {
			if v < 0 || v > 1 {
				return fmt.Errorf("%s must be in [0,1], got %f", name, v)
			}
		}
	}
	return nil
}
