package engine

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dexsim/trading-sim/pkg/types"
)

// Analytics derives performance and risk statistics from the trade
// history. It never mutates balances.
type Analytics struct {
	logger *zap.Logger
	cfg    types.AnalyticsConfig
	risk   types.RiskManagement
}

// NewAnalytics creates the calculator.
func NewAnalytics(logger *zap.Logger, cfg types.AnalyticsConfig, risk types.RiskManagement) *Analytics {
	return &Analytics{
		logger: logger.Named("analytics"),
		cfg:    cfg,
		risk:   risk,
	}
}

// Compute recalculates all statistics from the trade list. initialValue
// anchors the equity curve used for drawdown; refReturns is the market
// return series of the reference asset for the beta/correlation proxy.
func (a *Analytics) Compute(
	trades []*types.Trade,
	balances map[string]decimal.Decimal,
	prices map[string]decimal.Decimal,
	initialValue decimal.Decimal,
	refReturns []float64,
	now time.Time,
) (types.PerformanceStats, types.RiskSnapshot) {
	perf := a.computePerformance(trades)

	risk := types.RiskSnapshot{UpdatedAt: now}
	if a.cfg.Enabled {
		returns := tradeReturns(trades)
		if a.cfg.CalculateSharpeRatio {
			risk.SharpeRatio = sharpe(returns)
		}
		if a.cfg.CalculateMaxDrawdown {
			risk.MaxDrawdown = maxDrawdown(trades, initialValue)
		}
		if a.cfg.CalculateVaR {
			risk.VaR95 = valueAtRisk(returns, 0.05)
		}
		if a.cfg.CalculateBeta {
			risk.Beta, risk.Correlation = betaCorrelation(returns, refReturns)
		}
		risk.ConcentrationRisk = concentration(balances, prices)
	}

	return perf, risk
}

func (a *Analytics) computePerformance(trades []*types.Trade) types.PerformanceStats {
	var perf types.PerformanceStats
	var totalWins, totalLosses decimal.Decimal
	var sizes []decimal.Decimal
	var sizeSum decimal.Decimal

	for _, t := range trades {
		switch t.Status {
		case types.TradeStatusCompleted:
			perf.SuccessfulTrades++
		case types.TradeStatusFailed:
			perf.FailedTrades++
		case types.TradeStatusCancelled:
			perf.CancelledTrades++
		default:
			continue // pending trades are not counted yet
		}
		perf.TotalTrades++

		if !t.NotionalUSD.IsZero() {
			sizes = append(sizes, t.NotionalUSD)
			sizeSum = sizeSum.Add(t.NotionalUSD)
		}

		if t.Status != types.TradeStatusCompleted {
			perf.ConsecutiveWins = 0
			perf.ConsecutiveLosses = 0
			continue
		}
		switch {
		case t.PnL.IsPositive():
			perf.WinningTrades++
			totalWins = totalWins.Add(t.PnL)
			if t.PnL.GreaterThan(perf.LargestWin) {
				perf.LargestWin = t.PnL
			}
			perf.ConsecutiveWins++
			perf.ConsecutiveLosses = 0
		case t.PnL.IsNegative():
			perf.LosingTrades++
			totalLosses = totalLosses.Add(t.PnL.Abs())
			if t.PnL.Abs().GreaterThan(perf.LargestLoss) {
				perf.LargestLoss = t.PnL.Abs()
			}
			perf.ConsecutiveLosses++
			perf.ConsecutiveWins = 0
		}
	}

	if perf.TotalTrades > 0 {
		perf.SuccessRate = float64(perf.SuccessfulTrades) / float64(perf.TotalTrades)
	}
	if decided := perf.WinningTrades + perf.LosingTrades; decided > 0 {
		perf.WinRate = float64(perf.WinningTrades) / float64(decided)
	}

	wins, _ := totalWins.Float64()
	losses, _ := totalLosses.Float64()
	switch {
	case losses > 0:
		perf.ProfitFactor = wins / losses
	case wins > 0:
		perf.ProfitFactor = math.Inf(1)
	}

	if len(sizes) > 0 {
		perf.AvgTradeSize = types.RoundAmount(sizeSum.Div(decimal.NewFromInt(int64(len(sizes)))))
		perf.MedianTradeSize = median(sizes)
	}

	return perf
}

// CheckRiskLimits compares the latest snapshot against the configured
// limits and returns one alert per violation. Alerts are informational
// only; callers must not use them to block trades.
func (a *Analytics) CheckRiskLimits(risk types.RiskSnapshot, dailyPnL, dayStartValue decimal.Decimal) []types.RiskAlert {
	if !a.risk.Enabled {
		return nil
	}
	var alerts []types.RiskAlert

	if a.risk.MaxDailyLoss > 0 && dailyPnL.IsNegative() && dayStartValue.IsPositive() {
		lossFrac, _ := dailyPnL.Neg().Div(dayStartValue).Float64()
		if lossFrac > a.risk.MaxDailyLoss {
			alerts = append(alerts, types.RiskAlert{
				Type:     "max_daily_loss",
				Severity: severity(lossFrac, a.risk.MaxDailyLoss),
				Value:    lossFrac,
				Limit:    a.risk.MaxDailyLoss,
			})
		}
	}
	if a.risk.MaxDrawdown > 0 && risk.MaxDrawdown > a.risk.MaxDrawdown {
		alerts = append(alerts, types.RiskAlert{
			Type:     "max_drawdown",
			Severity: severity(risk.MaxDrawdown, a.risk.MaxDrawdown),
			Value:    risk.MaxDrawdown,
			Limit:    a.risk.MaxDrawdown,
		})
	}
	if a.risk.ConcentrationLimit > 0 && risk.ConcentrationRisk > a.risk.ConcentrationLimit {
		alerts = append(alerts, types.RiskAlert{
			Type:     "concentration",
			Severity: severity(risk.ConcentrationRisk, a.risk.ConcentrationLimit),
			Value:    risk.ConcentrationRisk,
			Limit:    a.risk.ConcentrationLimit,
		})
	}
	if a.risk.CorrelationLimit > 0 && math.Abs(risk.Correlation) > a.risk.CorrelationLimit {
		alerts = append(alerts, types.RiskAlert{
			Type:     "correlation",
			Severity: severity(math.Abs(risk.Correlation), a.risk.CorrelationLimit),
			Value:    risk.Correlation,
			Limit:    a.risk.CorrelationLimit,
		})
	}

	for _, alert := range alerts {
		a.logger.Warn("risk limit breached",
			zap.String("type", alert.Type),
			zap.Float64("value", alert.Value),
			zap.Float64("limit", alert.Limit),
		)
	}
	return alerts
}

func severity(value, limit float64) string {
	if value > limit*1.5 {
		return "critical"
	}
	return "warning"
}

// tradeReturns yields per-trade returns (PnL over notional) of completed
// trades, in execution order.
func tradeReturns(trades []*types.Trade) []float64 {
	var returns []float64
	for _, t := range trades {
		if t.Status != types.TradeStatusCompleted || t.NotionalUSD.IsZero() {
			continue
		}
		r, _ := t.PnL.Div(t.NotionalUSD).Float64()
		returns = append(returns, r)
	}
	return returns
}

func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m := mean(returns)
	sd := stdDev(returns)
	if sd == 0 {
		return 0
	}
	return m / sd
}

// maxDrawdown walks the equity curve (initial value plus cumulative
// realized PnL of completed trades) and returns the worst peak-to-trough
// decline as a fraction of the peak. It can only grow as losing trades
// accumulate without a new peak.
func maxDrawdown(trades []*types.Trade, initialValue decimal.Decimal) float64 {
	equity := initialValue
	peak := initialValue
	var maxDD float64

	for _, t := range trades {
		if t.Status != types.TradeStatusCompleted {
			continue
		}
		equity = equity.Add(t.PnL)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if peak.IsPositive() {
			dd, _ := peak.Sub(equity).Div(peak).Float64()
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// valueAtRisk returns the q-quantile loss of the empirical return
// distribution as a positive number.
func valueAtRisk(returns []float64, q float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	loss := -sorted[idx]
	if loss < 0 {
		return 0
	}
	return loss
}

// betaCorrelation computes cov/var beta and Pearson correlation between
// the trade return series and the market reference series, aligned from
// the most recent observations.
func betaCorrelation(returns, ref []float64) (float64, float64) {
	n := len(returns)
	if len(ref) < n {
		n = len(ref)
	}
	if n < 2 {
		return 0, 0
	}
	xs := returns[len(returns)-n:]
	ys := ref[len(ref)-n:]

	mx, my := mean(xs), mean(ys)
	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := xs[i] - mx
		dy := ys[i] - my
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varY == 0 {
		return 0, 0
	}
	beta := cov / varY
	var corr float64
	if varX > 0 {
		corr = cov / math.Sqrt(varX*varY)
	}
	return beta, corr
}

// concentration computes a Herfindahl index over position value weights.
// 1/n for an evenly spread portfolio, 1.0 for a single position.
func concentration(balances, prices map[string]decimal.Decimal) float64 {
	total := decimal.Zero
	values := make(map[string]decimal.Decimal, len(balances))
	for asset, bal := range balances {
		price, ok := prices[asset]
		if !ok || bal.IsZero() {
			continue
		}
		v := bal.Mul(price)
		values[asset] = v
		total = total.Add(v)
	}
	if !total.IsPositive() {
		return 0
	}
	var hhi float64
	for _, v := range values {
		w, _ := v.Div(total).Float64()
		hhi += w * w
	}
	return hhi
}

// Exposure returns each asset's share of total portfolio value.
func Exposure(balances, prices map[string]decimal.Decimal) map[string]float64 {
	total := decimal.Zero
	values := make(map[string]decimal.Decimal, len(balances))
	for asset, bal := range balances {
		if price, ok := prices[asset]; ok {
			v := bal.Mul(price)
			values[asset] = v
			total = total.Add(v)
		}
	}
	out := make(map[string]float64, len(values))
	if !total.IsPositive() {
		return out
	}
	for asset, v := range values {
		w, _ := v.Div(total).Float64()
		out[asset] = w
	}
	return out
}

// PnLByAsset attributes realized PnL of completed trades to the asset
// bought.
func PnLByAsset(trades []*types.Trade) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, t := range trades {
		if t.Status != types.TradeStatusCompleted {
			continue
		}
		out[t.AssetOut] = out[t.AssetOut].Add(t.PnL)
	}
	return out
}

func median(values []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return types.RoundAmount(sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2)))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sumSquares float64
	for _, v := range values {
		diff := v - m
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}
