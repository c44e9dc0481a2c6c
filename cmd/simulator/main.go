// Package main provides the entry point for the trade-execution
// simulator: a synthetic market, a stochastic execution engine and an
// HTTP/WebSocket API on top.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dexsim/trading-sim/internal/api"
	"github.com/dexsim/trading-sim/internal/engine"
	"github.com/dexsim/trading-sim/pkg/types"
)

func main() {
	host := flag.String("host", "127.0.0.1", "Server host")
	port := flag.Int("port", 8080, "Server port")
	configPath := flag.String("config", "", "Path to config file (yaml)")
	seed := flag.Int64("seed", 0, "RNG seed (0 seeds from the clock)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, serverCfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	serverCfg.Host = *host
	serverCfg.Port = *port

	eng, err := engine.New(logger, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize engine", zap.Error(err))
	}
	if err := eng.Start(); err != nil {
		logger.Fatal("Failed to start engine", zap.Error(err))
	}

	server := api.NewServer(logger, serverCfg, eng)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", zap.Error(err))
		}
	}()

	logger.Info("Simulator started",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", *host, *port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", *host, *port, serverCfg.WebSocketPath)),
		zap.Int64("seed", cfg.Seed),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	eng.Close()
	logger.Info("Simulator stopped")
}

// loadConfig starts from the built-in defaults and overlays the optional
// config file. TRADESIM_* environment variables override file values.
func loadConfig(path string) (types.Config, api.Config, error) {
	cfg := types.DefaultConfig()
	serverCfg := api.DefaultServerConfig()
	if path == "" {
		return cfg, serverCfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADESIM")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return cfg, serverCfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if v.IsSet("seed") {
		cfg.Seed = v.GetInt64("seed")
	}
	if v.IsSet("tickInterval") {
		cfg.TickInterval = v.GetDuration("tickInterval")
	}
	if v.IsSet("analyticsInterval") {
		cfg.AnalyticsInterval = v.GetInt("analyticsInterval")
	}
	if v.IsSet("regimeInterval") {
		cfg.RegimeInterval = v.GetInt("regimeInterval")
	}
	if v.IsSet("stableAssets") {
		cfg.StableAssets = v.GetStringSlice("stableAssets")
	}

	balances, err := decimalMap(v, "initialBalances")
	if err != nil {
		return cfg, serverCfg, err
	}
	if balances != nil {
		cfg.InitialBalances = balances
	}
	prices, err := decimalMap(v, "marketData.initialPrices")
	if err != nil {
		return cfg, serverCfg, err
	}
	if prices != nil {
		cfg.MarketData.InitialPrices = prices
	}

	if v.IsSet("slippage.enabled") {
		cfg.Slippage.Enabled = v.GetBool("slippage.enabled")
	}
	if v.IsSet("slippage.minSlippage") {
		cfg.Slippage.MinSlippage = decimal.NewFromFloat(v.GetFloat64("slippage.minSlippage"))
	}
	if v.IsSet("slippage.maxSlippage") {
		cfg.Slippage.MaxSlippage = decimal.NewFromFloat(v.GetFloat64("slippage.maxSlippage"))
	}
	if v.IsSet("slippage.volatilityFactor") {
		cfg.Slippage.VolatilityFactor = decimal.NewFromFloat(v.GetFloat64("slippage.volatilityFactor"))
	}
	if v.IsSet("slippage.marketImpactFactor") {
		cfg.Slippage.MarketImpactFactor = decimal.NewFromFloat(v.GetFloat64("slippage.marketImpactFactor"))
	}
	if v.IsSet("slippage.liquidityThreshold") {
		cfg.Slippage.LiquidityThreshold = v.GetFloat64("slippage.liquidityThreshold")
	}

	if v.IsSet("latency.enabled") {
		cfg.Latency.Enabled = v.GetBool("latency.enabled")
	}
	if v.IsSet("latency.minLatency") {
		cfg.Latency.MinLatency = v.GetDuration("latency.minLatency")
	}
	if v.IsSet("latency.maxLatency") {
		cfg.Latency.MaxLatency = v.GetDuration("latency.maxLatency")
	}
	if v.IsSet("latency.networkVariability") {
		cfg.Latency.NetworkVariability = v.GetFloat64("latency.networkVariability")
	}

	if v.IsSet("failure.enabled") {
		cfg.Failure.Enabled = v.GetBool("failure.enabled")
	}
	if v.IsSet("failure.failureRate") {
		cfg.Failure.FailureRate = v.GetFloat64("failure.failureRate")
	}
	if v.IsSet("failure.failureTypes") {
		cfg.Failure.FailureTypes = v.GetStringSlice("failure.failureTypes")
	}
	if v.IsSet("failure.liquidityBasedFailures") {
		cfg.Failure.LiquidityBasedFailures = v.GetBool("failure.liquidityBasedFailures")
	}
	if v.IsSet("failure.timeBasedFailures") {
		cfg.Failure.TimeBasedFailures = v.GetBool("failure.timeBasedFailures")
	}

	if v.IsSet("marketData.enabled") {
		cfg.MarketData.Enabled = v.GetBool("marketData.enabled")
	}
	if v.IsSet("marketData.priceVolatility") {
		cfg.MarketData.PriceVolatility = v.GetFloat64("marketData.priceVolatility")
	}
	if v.IsSet("marketData.spreadSimulation") {
		cfg.MarketData.SpreadSimulation = v.GetBool("marketData.spreadSimulation")
	}
	if v.IsSet("marketData.spreadMin") {
		cfg.MarketData.SpreadMin = decimal.NewFromFloat(v.GetFloat64("marketData.spreadMin"))
	}
	if v.IsSet("marketData.spreadMax") {
		cfg.MarketData.SpreadMax = decimal.NewFromFloat(v.GetFloat64("marketData.spreadMax"))
	}
	if v.IsSet("marketData.marketRegimeDetection") {
		cfg.MarketData.MarketRegimeDetection = v.GetBool("marketData.marketRegimeDetection")
	}
	if v.IsSet("marketData.correlationEnabled") {
		cfg.MarketData.CorrelationEnabled = v.GetBool("marketData.correlationEnabled")
	}
	if v.IsSet("marketData.orderBookDepthSimulation") {
		cfg.MarketData.OrderBookDepthSimulation = v.GetBool("marketData.orderBookDepthSimulation")
	}

	if v.IsSet("risk.enabled") {
		cfg.Risk.Enabled = v.GetBool("risk.enabled")
	}
	if v.IsSet("risk.maxPositionSize") {
		cfg.Risk.MaxPositionSize = v.GetFloat64("risk.maxPositionSize")
	}
	if v.IsSet("risk.maxDailyLoss") {
		cfg.Risk.MaxDailyLoss = v.GetFloat64("risk.maxDailyLoss")
	}
	if v.IsSet("risk.maxDrawdown") {
		cfg.Risk.MaxDrawdown = v.GetFloat64("risk.maxDrawdown")
	}
	if v.IsSet("risk.concentrationLimit") {
		cfg.Risk.ConcentrationLimit = v.GetFloat64("risk.concentrationLimit")
	}
	if v.IsSet("risk.correlationLimit") {
		cfg.Risk.CorrelationLimit = v.GetFloat64("risk.correlationLimit")
	}

	if v.IsSet("analytics.enabled") {
		cfg.Analytics.Enabled = v.GetBool("analytics.enabled")
	}
	if v.IsSet("analytics.riskAttributionAnalysis") {
		cfg.Analytics.RiskAttributionAnalysis = v.GetBool("analytics.riskAttributionAnalysis")
	}
	if v.IsSet("analytics.performanceAttribution") {
		cfg.Analytics.PerformanceAttribution = v.GetBool("analytics.performanceAttribution")
	}

	if v.IsSet("server.webSocketPath") {
		serverCfg.WebSocketPath = v.GetString("server.webSocketPath")
	}
	if v.IsSet("server.readTimeout") {
		serverCfg.ReadTimeout = v.GetDuration("server.readTimeout")
	}
	if v.IsSet("server.writeTimeout") {
		serverCfg.WriteTimeout = v.GetDuration("server.writeTimeout")
	}

	return cfg, serverCfg, nil
}

func decimalMap(v *viper.Viper, key string) (map[string]decimal.Decimal, error) {
	if !v.IsSet(key) {
		return nil, nil
	}
	raw := v.GetStringMapString(key)
	out := make(map[string]decimal.Decimal, len(raw))
	for asset, value := range raw {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", key, asset, err)
		}
		out[asset] = d
	}
	return out, nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
