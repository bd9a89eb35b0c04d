// Package metrics exposes Prometheus instrumentation for the trading core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TradesOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_trades_opened_total",
		Help: "Entry orders submitted, by symbol and direction",
	}, []string{"symbol", "direction"})

	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_trades_closed_total",
		Help: "Trades removed from the active set, by symbol and reason",
	}, []string{"symbol", "reason"})

	EntriesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_entries_rejected_total",
		Help: "Entry signals rejected before submission, by reason class",
	}, []string{"reason"})

	TierUpgrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_profit_lock_upgrades_total",
		Help: "Profit lock tier transitions, by symbol",
	}, []string{"symbol"})

	ProtectionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_protection_failures_total",
		Help: "Protective order placements that failed and forced a position close",
	})

	ReconcileRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_reconcile_repairs_total",
		Help: "Reconciliation actions taken, by kind (missing, redundant, hedge)",
	}, []string{"kind"})

	AccountEquity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bot_account_equity",
		Help: "Last observed account equity in quote currency",
	})

	OpenTrades = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bot_open_trades",
		Help: "Number of trades currently in the active set",
	})

	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_exchange_requests_total",
		Help: "Exchange REST calls, by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	ComplianceSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_compliance_submissions_total",
		Help: "Decision-log submissions, by outcome",
	}, []string{"outcome"})
)
