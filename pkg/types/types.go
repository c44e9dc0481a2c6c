// Package types provides shared type definitions for the trade simulator.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// AmountPrecision is the number of fractional digits carried by every
// balance and trade amount. Rounding is banker's (half to even).
const AmountPrecision = 6

// RoundAmount rounds a balance or trade amount to the ledger precision.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(AmountPrecision)
}

// TradeStatus represents the lifecycle state of a simulated trade
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusCompleted TradeStatus = "completed"
	TradeStatusFailed    TradeStatus = "failed"
	TradeStatusCancelled TradeStatus = "cancelled"
)

// MarketRegime is a coarse classification of current market behavior
type MarketRegime string

const (
	RegimeBull     MarketRegime = "bull"
	RegimeBear     MarketRegime = "bear"
	RegimeSideways MarketRegime = "sideways"
	RegimeVolatile MarketRegime = "volatile"
)

// Failure reasons recorded on a trade. Simulated failures additionally use
// the configured failure types (see FailureSimulation.FailureTypes).
const (
	FailureInsufficientBalance = "insufficient_balance"
	FailureSlippageExceeded    = "slippage_exceeded"
	FailureContextCancelled    = "context_cancelled"
)

// MarketSnapshot captures the market conditions observed when a trade was
// submitted. It is frozen on the trade and never updated afterwards.
type MarketSnapshot struct {
	Regime           MarketRegime    `json:"regime"`
	RegimeConfidence float64         `json:"regimeConfidence"`
	Spread           decimal.Decimal `json:"spread"`
	LiquidityScore   float64         `json:"liquidityScore"`
	RiskScore        float64         `json:"riskScore"`  // 0-100
	Confidence       float64         `json:"confidence"` // 0-1 execution confidence
}

// Trade represents a simulated swap. A trade is append-only: once its
// status is terminal it is never mutated again.
type Trade struct {
	ID                string          `json:"id"`
	AssetIn           string          `json:"assetIn"`
	AssetOut          string          `json:"assetOut"`
	AmountIn          decimal.Decimal `json:"amountIn"`
	AmountOut         decimal.Decimal `json:"amountOut"`
	ExpectedAmountOut decimal.Decimal `json:"expectedAmountOut"`
	MinAmountOut      decimal.Decimal `json:"minAmountOut"`
	MaxSlippage       decimal.Decimal `json:"maxSlippage"` // caller cap, fraction
	Slippage          decimal.Decimal `json:"slippage"`    // realized, fraction
	MarketImpact      decimal.Decimal `json:"marketImpact"`
	NotionalUSD       decimal.Decimal `json:"notionalUsd"`
	GasEstimate       uint64          `json:"gasEstimate"`
	GasUsed           uint64          `json:"gasUsed"`
	GasPriceGwei      decimal.Decimal `json:"gasPriceGwei"`
	GasCostUSD        decimal.Decimal `json:"gasCostUsd"`
	PnL               decimal.Decimal `json:"pnl"`
	Status            TradeStatus     `json:"status"`
	FailureReason     string          `json:"failureReason,omitempty"`
	Snapshot          MarketSnapshot  `json:"snapshot"`
	CreatedAt         time.Time       `json:"createdAt"`
	ExecutedAt        time.Time       `json:"executedAt,omitempty"`
}

// IsTerminal reports whether the trade has been resolved.
func (t *Trade) IsTerminal() bool {
	return t.Status != TradeStatusPending
}

// PerformanceStats aggregates per-trade outcomes.
// Invariant: TotalTrades == SuccessfulTrades + FailedTrades + CancelledTrades.
type PerformanceStats struct {
	TotalTrades       int             `json:"totalTrades"`
	SuccessfulTrades  int             `json:"successfulTrades"`
	FailedTrades      int             `json:"failedTrades"`
	CancelledTrades   int             `json:"cancelledTrades"`
	SuccessRate       float64         `json:"successRate"`
	WinningTrades     int             `json:"winningTrades"`
	LosingTrades      int             `json:"losingTrades"`
	WinRate           float64         `json:"winRate"`
	ProfitFactor      float64         `json:"profitFactor"` // +Inf when no losses and wins > 0
	AvgTradeSize      decimal.Decimal `json:"avgTradeSize"`
	MedianTradeSize   decimal.Decimal `json:"medianTradeSize"`
	LargestWin        decimal.Decimal `json:"largestWin"`
	LargestLoss       decimal.Decimal `json:"largestLoss"`
	ConsecutiveWins   int             `json:"consecutiveWins"`
	ConsecutiveLosses int             `json:"consecutiveLosses"`
}

// RiskSnapshot holds the derived risk metrics. Populated only when
// advanced analytics are enabled.
type RiskSnapshot struct {
	SharpeRatio       float64   `json:"sharpeRatio"`
	MaxDrawdown       float64   `json:"maxDrawdown"` // fraction of peak, never decreases between resets
	VaR95             float64   `json:"var95"`       // 5th percentile loss of the return distribution
	Beta              float64   `json:"beta"`
	Correlation       float64   `json:"correlation"`
	ConcentrationRisk float64   `json:"concentrationRisk"` // Herfindahl index over position weights
	UpdatedAt         time.Time `json:"updatedAt"`
}

// RiskAlert is emitted when a risk-management limit is breached.
// Alerts are informational; the engine never blocks trades on a breach.
type RiskAlert struct {
	Type     string  `json:"type"`
	Severity string  `json:"severity"` // "warning" or "critical"
	Value    float64 `json:"value"`
	Limit    float64 `json:"limit"`
}

// Portfolio is a point-in-time snapshot of the virtual portfolio.
type Portfolio struct {
	Balances      map[string]decimal.Decimal `json:"balances"`
	TotalValue    decimal.Decimal            `json:"totalValue"`
	RealizedPnL   decimal.Decimal            `json:"realizedPnl"`
	UnrealizedPnL decimal.Decimal            `json:"unrealizedPnl"`
	DailyPnL      decimal.Decimal            `json:"dailyPnl"`
	WeeklyPnL     decimal.Decimal            `json:"weeklyPnl"`
	MonthlyPnL    decimal.Decimal            `json:"monthlyPnl"`
	Exposure      map[string]float64         `json:"exposure"` // value weight per asset
	PnLByAsset    map[string]decimal.Decimal `json:"pnlByAsset"`
	Performance   PerformanceStats           `json:"performance"`
	Risk          RiskSnapshot               `json:"risk"`
	UpdatedAt     time.Time                  `json:"updatedAt"`
}
