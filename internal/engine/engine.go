package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dexsim/trading-sim/internal/clock"
	"github.com/dexsim/trading-sim/internal/events"
	"github.com/dexsim/trading-sim/internal/market"
	"github.com/dexsim/trading-sim/internal/metrics"
	"github.com/dexsim/trading-sim/pkg/types"
)

// ErrEngineStopped is returned by ExecuteTrade when the engine has not
// been started or has been stopped.
var ErrEngineStopped = errors.New("engine is not running")

// referenceAsset anchors the beta/correlation proxy and the volatility
// adjustment of the slippage model.
const referenceAsset = "ETH"

// Option customizes engine construction.
type Option func(*Engine)

// WithClock swaps the wall clock for an injected one. Tests use this to
// drive ticks and latency with virtual time.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clk = c }
}

// WithEventBuffer overrides the event bus buffer size.
func WithEventBuffer(n int) Option {
	return func(e *Engine) { e.busSize = n }
}

// Engine is the trade-execution simulator. It owns the market state, the
// balance ledger, the event bus and the analytics, and exposes the
// synchronous ExecuteTrade path plus a background tick scheduler.
type Engine struct {
	logger  *zap.Logger
	cfg     types.Config
	clk     clock.Clock
	busSize int

	rngMu sync.Mutex
	rng   *rand.Rand

	market    *market.State
	ledger    *Ledger
	analytics *Analytics
	bus       *events.Bus
	metrics   *metrics.Metrics

	mu            sync.RWMutex
	trades        []*types.Trade
	active        bool
	stopCh        chan struct{}
	tickCount     int
	initialValue  decimal.Decimal
	realizedPnL   decimal.Decimal
	dailyPnL      decimal.Decimal
	weeklyPnL     decimal.Decimal
	monthlyPnL    decimal.Decimal
	dayStart      time.Time
	weekStart     time.Time
	monthStart    time.Time
	dayStartValue decimal.Decimal
	lastRisk      types.RiskSnapshot

	wg sync.WaitGroup
}

// New validates the configuration and assembles the simulator. An invalid
// configuration is fatal: no engine is returned.
func New(logger *zap.Logger, cfg types.Config, opts ...Option) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Engine{
		logger: logger.Named("engine"),
		cfg:    cfg,
		clk:    clock.New(),
	}
	for _, opt := range opts {
		opt(e)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = e.clk.Now().UnixNano()
	}
	e.rng = rand.New(rand.NewSource(seed))
	marketRng := rand.New(rand.NewSource(seed + 1))

	e.market = market.NewState(logger, cfg.MarketData, cfg.StableAssets, cfg.RegimeInterval, e.clk, marketRng)
	for asset := range cfg.InitialBalances {
		if _, err := e.market.Price(asset); err != nil {
			return nil, fmt.Errorf("invalid configuration: no initial price for balance asset %s", asset)
		}
	}

	e.ledger = NewLedger(cfg.InitialBalances)
	e.analytics = NewAnalytics(logger, cfg.Analytics, cfg.Risk)
	e.bus = events.NewBus(logger, e.busSize)
	e.metrics = metrics.New()

	now := e.clk.Now()
	e.initialValue = e.ledger.Revalue(e.market.AllPrices(), now)
	e.dayStart, e.weekStart, e.monthStart = now, now, now
	e.dayStartValue = e.initialValue

	v, _ := e.initialValue.Float64()
	e.metrics.PortfolioValue.Set(v)

	e.logger.Info("engine created",
		zap.Int64("seed", seed),
		zap.Int("assets", len(cfg.MarketData.InitialPrices)),
		zap.String("initial_value", e.initialValue.String()),
	)
	return e, nil
}

// Start launches the background tick scheduler.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.active = true
	e.stopCh = make(chan struct{})
	stop := e.stopCh
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(stop)

	e.bus.Publish(events.NewLifecycle(events.TypeStarted, e.clk.Now()))
	e.logger.Info("engine started", zap.Duration("tick_interval", e.cfg.TickInterval))
	return nil
}

// Stop halts the scheduler and waits for it to exit. In-flight trades
// finish; new ExecuteTrade calls return ErrEngineStopped. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.active = false
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()
	e.bus.Publish(events.NewLifecycle(events.TypeStopped, e.clk.Now()))
	e.logger.Info("engine stopped")
}

// Close stops the engine and shuts down the event bus after draining
// pending events.
func (e *Engine) Close() {
	e.Stop()
	e.bus.Close()
}

// IsActive reports whether the scheduler is running.
func (e *Engine) IsActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

func (e *Engine) run(stop <-chan struct{}) {
	defer e.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-e.clk.After(e.cfg.TickInterval):
			e.Tick()
		}
	}
}

// Tick advances the market one step, revalues the portfolio and publishes
// a PriceUpdate per asset. The scheduler calls it on every interval;
// tests may call it directly to step virtual time.
func (e *Engine) Tick() {
	now := e.clk.Now()
	prices := e.market.Tick()
	regime, _, _ := e.market.Regime()

	value := e.ledger.Revalue(prices, now)
	v, _ := value.Float64()
	e.metrics.PortfolioValue.Set(v)
	e.metrics.TicksTotal.Inc()

	for asset, price := range prices {
		p, _ := price.Float64()
		e.metrics.AssetPrice.WithLabelValues(asset).Set(p)
		e.bus.Publish(events.NewPriceUpdate(now, asset, price, regime))
	}

	e.mu.Lock()
	e.tickCount++
	recompute := e.cfg.AnalyticsInterval > 0 && e.tickCount%e.cfg.AnalyticsInterval == 0
	y1, d1 := now.Year(), now.YearDay()
	y0, d0 := e.dayStart.Year(), e.dayStart.YearDay()
	rollDay := y1 != y0 || d1 != d0
	e.mu.Unlock()

	if rollDay {
		e.rollDay(now)
	}
	if recompute {
		e.recomputeRisk(now)
	}
}

// rollDay resets the daily PnL window at a calendar-day boundary, and the
// weekly/monthly windows when their boundaries pass too.
func (e *Engine) rollDay(now time.Time) {
	value := e.ledger.TotalValue()

	e.mu.Lock()
	e.dailyPnL = decimal.Zero
	e.dayStart = now
	e.dayStartValue = value

	ny, nw := now.ISOWeek()
	wy, ww := e.weekStart.ISOWeek()
	if ny != wy || nw != ww {
		e.weeklyPnL = decimal.Zero
		e.weekStart = now
	}
	if now.Year() != e.monthStart.Year() || now.Month() != e.monthStart.Month() {
		e.monthlyPnL = decimal.Zero
		e.monthStart = now
	}
	e.mu.Unlock()

	e.bus.Publish(events.NewLifecycle(events.TypeDailyReset, now))
	e.logger.Info("daily reset", zap.String("day_start_value", value.String()))
}

// recomputeRisk refreshes the risk snapshot from the full trade history
// and publishes one RiskAlert per breached limit.
func (e *Engine) recomputeRisk(now time.Time) {
	trades := e.tradeSnapshot()
	balances := e.ledger.Balances()
	prices := e.market.AllPrices()

	e.mu.RLock()
	initial := e.initialValue
	dailyPnL := e.dailyPnL
	dayStartValue := e.dayStartValue
	e.mu.RUnlock()

	_, risk := e.analytics.Compute(trades, balances, prices, initial, e.market.Returns(referenceAsset), now)

	e.mu.Lock()
	e.lastRisk = risk
	e.mu.Unlock()

	for _, alert := range e.analytics.CheckRiskLimits(risk, dailyPnL, dayStartValue) {
		e.metrics.RiskAlerts.Inc()
		e.bus.Publish(events.NewRiskAlert(now, alert))
	}
}

// ExecuteTrade simulates one swap synchronously: it records a pending
// trade, waits out the simulated latency, then resolves the trade to
// completed, failed or cancelled. Execution-level failures are recorded
// on the returned trade, not returned as errors; the error is non-nil
// only for a stopped engine or invalid arguments.
func (e *Engine) ExecuteTrade(ctx context.Context, assetIn, assetOut string, amountIn, minAmountOut, maxSlippage decimal.Decimal) (*types.Trade, error) {
	if !e.IsActive() {
		return nil, ErrEngineStopped
	}
	if assetIn == assetOut {
		return nil, fmt.Errorf("assetIn and assetOut must differ, got %s", assetIn)
	}
	if !amountIn.IsPositive() {
		return nil, fmt.Errorf("amountIn must be positive, got %s", amountIn)
	}
	if minAmountOut.IsNegative() {
		return nil, fmt.Errorf("minAmountOut must be non-negative, got %s", minAmountOut)
	}
	if maxSlippage.IsNegative() {
		return nil, fmt.Errorf("maxSlippage must be non-negative, got %s", maxSlippage)
	}

	priceIn, err := e.market.Price(assetIn)
	if err != nil {
		return nil, err
	}
	priceOut, err := e.market.Price(assetOut)
	if err != nil {
		return nil, err
	}

	now := e.clk.Now()
	amountIn = types.RoundAmount(amountIn)
	notional := types.RoundAmount(amountIn.Mul(priceIn))
	portfolioValue := e.ledger.Revalue(e.market.AllPrices(), now)
	snapshot := e.buildSnapshot(assetIn, assetOut, notional, portfolioValue)

	var sizeRatio float64
	if portfolioValue.IsPositive() {
		sizeRatio, _ = notional.Div(portfolioValue).Float64()
	}

	trade := &types.Trade{
		ID:                uuid.New().String(),
		AssetIn:           assetIn,
		AssetOut:          assetOut,
		AmountIn:          amountIn,
		ExpectedAmountOut: types.RoundAmount(amountIn.Mul(priceIn).Div(priceOut)),
		MinAmountOut:      minAmountOut,
		MaxSlippage:       maxSlippage,
		NotionalUSD:       notional,
		Status:            types.TradeStatusPending,
		Snapshot:          snapshot,
		CreatedAt:         now,
	}

	e.mu.Lock()
	e.trades = append(e.trades, trade)
	e.mu.Unlock()

	e.bus.Publish(events.NewTradeCreated(now, *trade))
	e.logger.Debug("trade created",
		zap.String("id", trade.ID),
		zap.String("pair", assetIn+"/"+assetOut),
		zap.String("amount_in", amountIn.String()),
		zap.Float64("risk_score", snapshot.RiskScore),
	)

	if e.cfg.Latency.Enabled {
		if err := e.clk.Sleep(ctx, e.drawLatency()); err != nil {
			return e.resolve(trade, types.TradeStatusCancelled, types.FailureContextCancelled), nil
		}
	} else if ctx.Err() != nil {
		return e.resolve(trade, types.TradeStatusCancelled, types.FailureContextCancelled), nil
	}

	if e.cfg.Failure.Enabled {
		if reason, failed := e.drawFailure(snapshot); failed {
			return e.resolve(trade, types.TradeStatusFailed, reason), nil
		}
	}

	if e.ledger.Balance(assetIn).LessThan(amountIn) {
		return e.resolve(trade, types.TradeStatusFailed, types.FailureInsufficientBalance), nil
	}

	// Prices may have drifted while the trade was in flight; settle at
	// the current ones. Both assets were validated above.
	priceIn, _ = e.market.Price(assetIn)
	priceOut, _ = e.market.Price(assetOut)
	grossOut := amountIn.Mul(priceIn).Div(priceOut)

	slip, impact := decimal.Zero, decimal.Zero
	if e.cfg.Slippage.Enabled {
		slip, impact = e.drawSlippage(snapshot, maxSlippage, sizeRatio)
	}
	e.mu.Lock()
	trade.Slippage = slip
	trade.MarketImpact = impact
	e.mu.Unlock()

	one := decimal.NewFromInt(1)
	amountOut := types.RoundAmount(grossOut.Mul(one.Sub(slip).Sub(impact)))
	if !amountOut.IsPositive() {
		return e.resolve(trade, types.TradeStatusFailed, types.FailureSlippageExceeded), nil
	}
	if minAmountOut.IsPositive() && amountOut.LessThan(minAmountOut) {
		return e.resolve(trade, types.TradeStatusFailed, types.FailureSlippageExceeded), nil
	}

	if err := e.ledger.Commit(assetIn, amountIn, assetOut, amountOut); err != nil {
		return e.resolve(trade, types.TradeStatusFailed, types.FailureInsufficientBalance), nil
	}

	gasEstimate, gasUsed, gasPrice, gasCost := e.simulateGas()
	executedAt := e.clk.Now()
	pnl := types.RoundAmount(amountOut.Mul(priceOut).Sub(amountIn.Mul(priceIn)).Sub(gasCost))

	e.mu.Lock()
	trade.AmountOut = amountOut
	trade.GasEstimate = gasEstimate
	trade.GasUsed = gasUsed
	trade.GasPriceGwei = gasPrice
	trade.GasCostUSD = gasCost
	trade.PnL = pnl
	trade.Status = types.TradeStatusCompleted
	trade.ExecutedAt = executedAt
	e.realizedPnL = e.realizedPnL.Add(pnl)
	e.dailyPnL = e.dailyPnL.Add(pnl)
	e.weeklyPnL = e.weeklyPnL.Add(pnl)
	e.monthlyPnL = e.monthlyPnL.Add(pnl)
	completed := *trade
	e.mu.Unlock()

	e.ledger.Revalue(e.market.AllPrices(), executedAt)
	e.metrics.TradesTotal.WithLabelValues(string(types.TradeStatusCompleted)).Inc()
	e.bus.Publish(events.NewTradeCompleted(executedAt, completed))
	e.logger.Info("trade completed",
		zap.String("id", trade.ID),
		zap.String("amount_out", amountOut.String()),
		zap.String("pnl", pnl.String()),
	)
	return trade, nil
}

// resolve marks a trade failed or cancelled. Every resolution path sets
// the status exactly once, so counters stay consistent with history.
func (e *Engine) resolve(trade *types.Trade, status types.TradeStatus, reason string) *types.Trade {
	now := e.clk.Now()

	e.mu.Lock()
	trade.Status = status
	trade.FailureReason = reason
	trade.ExecutedAt = now
	failed := *trade
	e.mu.Unlock()

	e.metrics.TradesTotal.WithLabelValues(string(status)).Inc()
	e.bus.Publish(events.NewTradeFailed(now, failed))
	e.logger.Debug("trade not completed",
		zap.String("id", trade.ID),
		zap.String("status", string(status)),
		zap.String("reason", reason),
	)
	return trade
}

// tradeSnapshot copies the history so readers never observe a trade
// mid-mutation.
func (e *Engine) tradeSnapshot() []*types.Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*types.Trade, 0, len(e.trades))
	for _, t := range e.trades {
		c := *t
		out = append(out, &c)
	}
	return out
}

// GetPortfolio assembles a full portfolio snapshot: balances, valuation,
// PnL windows and freshly computed performance and risk statistics.
func (e *Engine) GetPortfolio() types.Portfolio {
	now := e.clk.Now()
	prices := e.market.AllPrices()
	balances := e.ledger.Balances()
	total := e.ledger.Revalue(prices, now)
	trades := e.tradeSnapshot()

	e.mu.RLock()
	initial := e.initialValue
	realized := e.realizedPnL
	daily, weekly, monthly := e.dailyPnL, e.weeklyPnL, e.monthlyPnL
	e.mu.RUnlock()

	perf, risk := e.analytics.Compute(trades, balances, prices, initial, e.market.Returns(referenceAsset), now)

	e.mu.Lock()
	e.lastRisk = risk
	e.mu.Unlock()

	var exposure map[string]float64
	if e.cfg.Analytics.RiskAttributionAnalysis {
		exposure = Exposure(balances, prices)
	}
	var pnlByAsset map[string]decimal.Decimal
	if e.cfg.Analytics.PerformanceAttribution {
		pnlByAsset = PnLByAsset(trades)
	}

	return types.Portfolio{
		Balances:      balances,
		TotalValue:    total,
		RealizedPnL:   realized,
		UnrealizedPnL: types.RoundAmount(total.Sub(initial).Sub(realized)),
		DailyPnL:      daily,
		WeeklyPnL:     weekly,
		MonthlyPnL:    monthly,
		Exposure:      exposure,
		PnLByAsset:    pnlByAsset,
		Performance:   perf,
		Risk:          risk,
		UpdatedAt:     now,
	}
}

// GetTradeHistory returns a copy of all trades in submission order.
func (e *Engine) GetTradeHistory() []types.Trade {
	trades := e.tradeSnapshot()
	out := make([]types.Trade, len(trades))
	for i, t := range trades {
		out[i] = *t
	}
	return out
}

// GetRiskSnapshot returns the most recently computed risk metrics
// without recomputing them.
func (e *Engine) GetRiskSnapshot() types.RiskSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastRisk
}

// GetBalance returns the current balance of one asset.
func (e *Engine) GetBalance(asset string) decimal.Decimal {
	return e.ledger.Balance(asset)
}

// AddBalance credits an asset outside the trade path.
func (e *Engine) AddBalance(asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", amount)
	}
	e.ledger.AddBalance(asset, amount)
	return nil
}

// Reset restores initial balances and clears trade history and all PnL
// windows. Market prices keep evolving from their current values.
func (e *Engine) Reset() {
	now := e.clk.Now()
	e.ledger.Reset()
	value := e.ledger.Revalue(e.market.AllPrices(), now)

	e.mu.Lock()
	e.trades = nil
	e.realizedPnL = decimal.Zero
	e.dailyPnL = decimal.Zero
	e.weeklyPnL = decimal.Zero
	e.monthlyPnL = decimal.Zero
	e.initialValue = value
	e.dayStart, e.weekStart, e.monthStart = now, now, now
	e.dayStartValue = value
	e.lastRisk = types.RiskSnapshot{}
	e.mu.Unlock()

	e.bus.Publish(events.NewLifecycle(events.TypePortfolioReset, now))
	e.logger.Info("portfolio reset", zap.String("value", value.String()))
}

// GetMarketPrice returns the current simulated price of an asset.
func (e *Engine) GetMarketPrice(asset string) (decimal.Decimal, error) {
	return e.market.Price(asset)
}

// SetMarketPrice overrides an asset price.
func (e *Engine) SetMarketPrice(asset string, price decimal.Decimal) error {
	if err := e.market.SetPrice(asset, price); err != nil {
		return err
	}
	p, _ := price.Float64()
	e.metrics.AssetPrice.WithLabelValues(asset).Set(p)
	return nil
}

// GetAllPrices returns a copy of the current price map.
func (e *Engine) GetAllPrices() map[string]decimal.Decimal {
	return e.market.AllPrices()
}

// GetMarketRegime returns the current regime, its confidence and how long
// it has held.
func (e *Engine) GetMarketRegime() (types.MarketRegime, float64, time.Duration) {
	return e.market.Regime()
}

// Subscribe registers a handler for one event type.
func (e *Engine) Subscribe(t events.Type, handler events.Handler) *events.Subscription {
	return e.bus.Subscribe(t, handler)
}

// SubscribeAll registers a handler for every event type.
func (e *Engine) SubscribeAll(handler events.Handler) *events.Subscription {
	return e.bus.SubscribeAll(handler)
}

// Unsubscribe deactivates a subscription.
func (e *Engine) Unsubscribe(sub *events.Subscription) {
	e.bus.Unsubscribe(sub)
}

// EventStats returns event bus throughput counters.
func (e *Engine) EventStats() events.Stats {
	return e.bus.GetStats()
}

// Metrics exposes the Prometheus collectors for the HTTP layer.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}
