// Package metrics exposes Prometheus instrumentation for the simulator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the simulator's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	TradesTotal    *prometheus.CounterVec
	TicksTotal     prometheus.Counter
	RiskAlerts     prometheus.Counter
	PortfolioValue prometheus.Gauge
	AssetPrice     *prometheus.GaugeVec
}

// New creates the collectors and registers them.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		TradesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradesim",
			Name:      "trades_total",
			Help:      "Trades resolved, labelled by terminal status.",
		}, []string{"status"}),
		TicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tradesim",
			Name:      "market_ticks_total",
			Help:      "Market price ticks applied.",
		}),
		RiskAlerts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tradesim",
			Name:      "risk_alerts_total",
			Help:      "Risk limit violations raised.",
		}),
		PortfolioValue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradesim",
			Name:      "portfolio_value_usd",
			Help:      "Current total portfolio valuation.",
		}),
		AssetPrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tradesim",
			Name:      "asset_price_usd",
			Help:      "Current simulated asset price.",
		}, []string{"asset"}),
	}
}

// Registry returns the underlying registry for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
