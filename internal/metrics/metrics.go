// Package metrics exposes Prometheus instrumentation for the trading core:
//
//   - trader_orders_total{side,state}     – terminal order outcomes
//   - trader_order_retries_total          – transient-failure retries
//   - trader_risk_vetoes_total{rule}      – vetoed entry authorizations
//   - trader_exit_triggers_total{reason}  – stop-loss / take-profit exits
//   - trader_surge_candidates_total{outcome} – admission pipeline decisions
//   - trader_daily_pnl                    – realized P&L for the current day
//   - trader_open_positions               – positions currently held
//
// All collectors are registered in init() and served from /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_orders_total",
			Help: "Orders by side and terminal state",
		},
		[]string{"side", "state"},
	)

	OrderRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trader_order_retries_total",
			Help: "Order submissions retried after transient failures",
		},
	)

	RiskVetoes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_risk_vetoes_total",
			Help: "Entry authorizations vetoed, by rule",
		},
		[]string{"rule"},
	)

	ExitTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_exit_triggers_total",
			Help: "Risk-manager exits by reason (stop_loss, take_profit)",
		},
		[]string{"reason"},
	)

	SurgeCandidates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_surge_candidates_total",
			Help: "Surge candidates by admission outcome (approved, rejected, cooldown)",
		},
		[]string{"outcome"},
	)

	DailyPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_daily_pnl",
			Help: "Realized P&L for the current trading day",
		},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Number of open positions",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Orders,
		OrderRetries,
		RiskVetoes,
		ExitTriggers,
		SurgeCandidates,
		DailyPnL,
		OpenPositions,
	)
}
