package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dexsim/trading-sim/pkg/types"
)

// gasEstimateBase approximates a DEX swap; realized usage varies by a
// bounded fraction around the estimate.
const (
	gasEstimateBase   = 150000
	gasUsedVariance   = 0.2
	gasPriceMinGwei   = 10.0
	gasPriceRangeGwei = 40.0
)

var gweiToEth = decimal.New(1, -9)

// buildSnapshot freezes the market conditions onto a new trade: spread,
// liquidity, a composite risk score and the derived execution confidence.
func (e *Engine) buildSnapshot(assetIn, assetOut string, notionalUSD, portfolioValue decimal.Decimal) types.MarketSnapshot {
	regime, regimeConfidence, _ := e.market.Regime()
	spread := e.market.Spread(assetIn, assetOut)
	liquidity := e.market.LiquidityScore(assetIn, assetOut)
	volatility := e.market.Volatility(assetIn)
	if v := e.market.Volatility(assetOut); v > volatility {
		volatility = v
	}

	var sizeRatio float64
	if portfolioValue.IsPositive() {
		sizeRatio, _ = notionalUSD.Div(portfolioValue).Float64()
	}

	score := riskScore(sizeRatio, volatility, liquidity, regime, e.cfg.MarketData.PriceVolatility)
	return types.MarketSnapshot{
		Regime:           regime,
		RegimeConfidence: regimeConfidence,
		Spread:           spread,
		LiquidityScore:   liquidity,
		RiskScore:        score,
		Confidence:       clampFloat(1-score/100*0.7, 0.1, 0.99),
	}
}

// riskScore combines trade-size-to-portfolio ratio, volatility, liquidity
// and regime into a 0-100 score.
func riskScore(sizeRatio, volatility, liquidity float64, regime types.MarketRegime, walkScale float64) float64 {
	score := clampFloat(sizeRatio, 0, 1) * 40
	if walkScale > 0 {
		score += clampFloat(volatility/(walkScale*2), 0, 1) * 20
	}
	score += (1 - liquidity) * 25
	switch regime {
	case types.RegimeVolatile:
		score += 15
	case types.RegimeBear:
		score += 10
	}
	return clampFloat(score, 0, 100)
}

// drawLatency picks an execution delay in [minLatency, maxLatency],
// jittered by network variability but never above the configured upper
// bound scaled by (1 + variability).
func (e *Engine) drawLatency() time.Duration {
	l := e.cfg.Latency
	e.rngMu.Lock()
	span := float64(l.MaxLatency - l.MinLatency)
	d := time.Duration(float64(l.MinLatency) + e.rng.Float64()*span)
	if l.NetworkVariability > 0 {
		jitter := 1 + (e.rng.Float64()*2-1)*l.NetworkVariability
		d = time.Duration(float64(d) * jitter)
	}
	e.rngMu.Unlock()

	if d < l.MinLatency {
		d = l.MinLatency
	}
	if limit := time.Duration(float64(l.MaxLatency) * (1 + l.NetworkVariability)); d > limit {
		d = limit
	}
	return d
}

// drawFailure decides whether this trade fails and with which reason.
func (e *Engine) drawFailure(snapshot types.MarketSnapshot) (string, bool) {
	f := e.cfg.Failure
	now := e.clk.Now()
	e.rngMu.Lock()
	defer e.rngMu.Unlock()

	rate := f.FailureRate
	if f.LiquidityBasedFailures && snapshot.LiquidityScore < e.cfg.Slippage.LiquidityThreshold {
		rate *= 1.5
	}
	if f.TimeBasedFailures {
		// Network congestion peaks during UTC daytime hours.
		if h := now.UTC().Hour(); h >= 13 && h < 21 {
			rate *= 1.5
		}
	}
	if rate > 100 {
		rate = 100
	}
	if e.rng.Float64()*100 >= rate {
		return "", false
	}

	reasons := f.FailureTypes
	if len(reasons) == 0 {
		reasons = types.DefaultFailureTypes
	}
	return reasons[e.rng.Intn(len(reasons))], true
}

// drawSlippage produces the realized slippage and the market-impact
// component. The base draw is bounded by the configured range, capped by
// the caller's tolerance, then adjusted by volatility; impact scales with
// trade size against available liquidity.
func (e *Engine) drawSlippage(snapshot types.MarketSnapshot, callerMax decimal.Decimal, sizeRatio float64) (decimal.Decimal, decimal.Decimal) {
	s := e.cfg.Slippage

	min, _ := s.MinSlippage.Float64()
	max, _ := s.MaxSlippage.Float64()
	if cm, _ := callerMax.Float64(); cm > 0 && cm < max {
		max = cm
		if min > max {
			min = max
		}
	}

	e.rngMu.Lock()
	base := min + e.rng.Float64()*(max-min)
	e.rngMu.Unlock()

	volFactor, _ := s.VolatilityFactor.Float64()
	volAdj := e.market.Volatility(referenceAsset) * volFactor
	if snapshot.Regime == types.RegimeVolatile {
		volAdj *= 1.5
	}

	impactFactor, _ := s.MarketImpactFactor.Float64()
	impact := 0.0
	if snapshot.LiquidityScore > 0 {
		impact = clampFloat(sizeRatio/snapshot.LiquidityScore, 0, 1) * impactFactor
	}

	slip := decimal.NewFromFloat(base + volAdj)
	return slip, decimal.NewFromFloat(impact)
}

// simulateGas draws gas usage around the estimate and prices it with the
// live simulated ETH price. The USD cost deliberately follows the feed
// rather than a fixed reference price.
func (e *Engine) simulateGas() (uint64, uint64, decimal.Decimal, decimal.Decimal) {
	e.rngMu.Lock()
	used := uint64(float64(gasEstimateBase) * (1 + (e.rng.Float64()*2-1)*gasUsedVariance))
	gwei := gasPriceMinGwei + e.rng.Float64()*gasPriceRangeGwei
	e.rngMu.Unlock()

	gasPrice := decimal.NewFromFloat(gwei)
	costETH := gasPrice.Mul(gweiToEth).Mul(decimal.NewFromInt(int64(used)))

	costUSD := decimal.Zero
	if ethPrice, err := e.market.Price(referenceAsset); err == nil {
		costUSD = types.RoundAmount(costETH.Mul(ethPrice))
	}
	return gasEstimateBase, used, gasPrice, costUSD
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
