package market

import (
	"math"

	"go.uber.org/zap"

	"github.com/dexsim/trading-sim/pkg/types"
)

// Thresholds separating the four regimes, expressed on the normalized
// trend score and the per-tick return volatility relative to the
// configured walk scale.
const (
	trendThreshold = 0.3
	volMultiplier  = 1.4
)

// classifyRegimeLocked reclassifies the market from the pooled recent
// returns of all walked assets. Caller holds s.mu.
func (s *State) classifyRegimeLocked() {
	var pooled []float64
	for asset, rs := range s.returns {
		if s.stable[asset] {
			continue
		}
		pooled = append(pooled, rs...)
	}
	if len(pooled) < 8 {
		return
	}

	trend := trendScore(pooled)
	vol := stdDev(pooled)

	next := types.RegimeSideways
	switch {
	case vol > s.cfg.PriceVolatility*volMultiplier:
		next = types.RegimeVolatile
	case trend > trendThreshold:
		next = types.RegimeBull
	case trend < -trendThreshold:
		next = types.RegimeBear
	}

	// Confidence is a bounded score: how far the dominant feature sits
	// beyond its threshold.
	var confidence float64
	switch next {
	case types.RegimeVolatile:
		confidence = clamp(vol/(s.cfg.PriceVolatility*volMultiplier)-0.5, 0.2, 0.95)
	case types.RegimeBull, types.RegimeBear:
		confidence = clamp(math.Abs(trend)/trendThreshold-0.5, 0.2, 0.95)
	default:
		confidence = clamp(1-math.Abs(trend)/trendThreshold, 0.2, 0.95)
	}

	if next != s.regime {
		s.logger.Debug("market regime changed",
			zap.String("from", string(s.regime)),
			zap.String("to", string(next)),
			zap.Float64("trend", trend),
			zap.Float64("volatility", vol),
		)
		s.regime = next
		s.regimeSince = s.clk.Now()
	}
	s.regimeConfidence = confidence
}

// trendScore normalizes the cumulative return by its volatility,
// clamped to [-1, 1].
func trendScore(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	vol := stdDev(returns)
	if vol == 0 {
		return 0
	}
	return clamp(sum/(vol*math.Sqrt(float64(len(returns)))), -1, 1)
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}
