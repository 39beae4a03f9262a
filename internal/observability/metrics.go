// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Loop metrics
	TicksTotal     *prometheus.CounterVec
	TickDuration   prometheus.Histogram
	TicksSkipped   prometheus.Counter
	SignalErrors   *prometheus.CounterVec
	VetoRefreshes  *prometheus.CounterVec
	EntriesBlocked *prometheus.CounterVec

	// Execution metrics
	OrdersAttempted *prometheus.CounterVec
	OrdersFilled    *prometheus.CounterVec
	OrdersFailed    *prometheus.CounterVec
	OrderRetries    prometheus.Counter
	BrokerLatency   *prometheus.HistogramVec

	// State gauges
	EmergencyShutdown   prometheus.Gauge
	NewsVeto            prometheus.Gauge
	Paused              prometheus.Gauge
	MarketDataConnected prometheus.Gauge
	BlackoutStale       prometheus.Gauge
	VetoStale           prometheus.Gauge
	WeeklyLimitHit      prometheus.Gauge

	// Risk metrics
	DailyPnL      prometheus.Gauge
	WeeklyPnL     prometheus.Gauge
	RealizedPnL   *prometheus.CounterVec
	PositionQty   *prometheus.GaugeVec
	ShutdownTotal prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulTick prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "intraday_trader"
	}

	return &Metrics{
		// Loop metrics
		TicksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "ticks_total",
			Help:      "Total number of control loop ticks by phase",
		}, []string{"phase"}),
		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "tick_duration_seconds",
			Help:      "Control loop tick duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		TicksSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "ticks_skipped_total",
			Help:      "Ticks skipped because the previous tick was still running",
		}),
		SignalErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "signal_errors_total",
			Help:      "Signal fetch failures by symbol",
		}, []string{"symbol"}),
		VetoRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "veto_refreshes_total",
			Help:      "News veto refreshes by status",
		}, []string{"status"}),
		EntriesBlocked: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "entries_blocked_total",
			Help:      "Entries suppressed by a risk gate",
		}, []string{"gate"}),

		// Execution metrics
		OrdersAttempted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "orders_attempted_total",
			Help:      "Order intents handed to the gateway",
		}, []string{"action"}),
		OrdersFilled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "orders_filled_total",
			Help:      "Order intents filled by the broker",
		}, []string{"action"}),
		OrdersFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "orders_failed_total",
			Help:      "Order intents that failed by result kind",
		}, []string{"action", "kind"}),
		OrderRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "order_retries_total",
			Help:      "Broker submit retries after transient failures",
		}),
		BrokerLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "broker_latency_seconds",
			Help:      "Broker submit latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),

		// State gauges
		EmergencyShutdown: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "emergency_shutdown",
			Help:      "1 when emergency shutdown is active",
		}),
		NewsVeto: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "news_veto",
			Help:      "1 when a news veto is active",
		}),
		Paused: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "paused",
			Help:      "1 when the operator paused new entries",
		}),
		MarketDataConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "market_data_connected",
			Help:      "1 when the market data feed is connected",
		}),
		BlackoutStale: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "blackout_data_stale",
			Help:      "1 when earnings blackout data is stale and enforcement is degraded",
		}),
		VetoStale: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "veto_feed_stale",
			Help:      "1 when the news veto feed is stale and the veto fails open",
		}),
		WeeklyLimitHit: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "weekly_limit_hit",
			Help:      "1 when the weekly loss limit has been hit",
		}),

		// Risk metrics
		DailyPnL: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "daily_pnl",
			Help:      "Realized P&L for the current session",
		}),
		WeeklyPnL: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "weekly_pnl",
			Help:      "Realized P&L for the current week",
		}),
		RealizedPnL: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "closing_fills_total",
			Help:      "Closing fills by outcome",
		}, []string{"outcome"}),
		PositionQty: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "quantity",
			Help:      "Signed position quantity by symbol",
		}, []string{"symbol"}),
		ShutdownTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "emergency_shutdowns_total",
			Help:      "Total number of emergency shutdown transitions",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulTick: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_tick_timestamp",
			Help:      "Unix timestamp of the last completed active tick",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// RecordTick records a completed tick.
func RecordTick(phase string, seconds float64) {
	DefaultMetrics.TicksTotal.WithLabelValues(phase).Inc()
	DefaultMetrics.TickDuration.Observe(seconds)
}

// RecordTickSkipped records a tick dropped by the in-flight guard.
func RecordTickSkipped() {
	DefaultMetrics.TicksSkipped.Inc()
}

// RecordSignalError records a failed signal fetch.
func RecordSignalError(symbol string) {
	DefaultMetrics.SignalErrors.WithLabelValues(symbol).Inc()
}

// RecordVetoRefresh records a veto refresh outcome.
func RecordVetoRefresh(status string) {
	DefaultMetrics.VetoRefreshes.WithLabelValues(status).Inc()
}

// RecordEntryBlocked records an entry suppressed by a gate.
func RecordEntryBlocked(gate string) {
	DefaultMetrics.EntriesBlocked.WithLabelValues(gate).Inc()
}

// RecordOrderAttempt records an intent entering the gateway.
func RecordOrderAttempt(action string) {
	DefaultMetrics.OrdersAttempted.WithLabelValues(action).Inc()
}

// RecordOrderFilled records a filled intent.
func RecordOrderFilled(action string) {
	DefaultMetrics.OrdersFilled.WithLabelValues(action).Inc()
}

// RecordOrderFailed records a failed intent.
func RecordOrderFailed(action, kind string) {
	DefaultMetrics.OrdersFailed.WithLabelValues(action, kind).Inc()
}

// RecordOrderRetry records a retry after a transient failure.
func RecordOrderRetry() {
	DefaultMetrics.OrderRetries.Inc()
}

// RecordBrokerLatency records broker submit latency.
func RecordBrokerLatency(outcome string, seconds float64) {
	DefaultMetrics.BrokerLatency.WithLabelValues(outcome).Observe(seconds)
}

// SetShutdown updates the shutdown gauge and counts new transitions.
func SetShutdown(active, transitioned bool) {
	DefaultMetrics.EmergencyShutdown.Set(boolGauge(active))
	if transitioned {
		DefaultMetrics.ShutdownTotal.Inc()
	}
}

// SetNewsVeto updates the veto gauge.
func SetNewsVeto(active bool) {
	DefaultMetrics.NewsVeto.Set(boolGauge(active))
}

// SetPaused updates the pause gauge.
func SetPaused(paused bool) {
	DefaultMetrics.Paused.Set(boolGauge(paused))
}

// SetMarketDataConnected updates the market data gauge.
func SetMarketDataConnected(connected bool) {
	DefaultMetrics.MarketDataConnected.Set(boolGauge(connected))
}

// SetBlackoutStale updates the blackout staleness gauge.
func SetBlackoutStale(stale bool) {
	DefaultMetrics.BlackoutStale.Set(boolGauge(stale))
}

// SetVetoStale updates the veto staleness gauge.
func SetVetoStale(stale bool) {
	DefaultMetrics.VetoStale.Set(boolGauge(stale))
}

// UpdateLedger updates the P&L gauges.
func UpdateLedger(daily, weekly float64, weeklyLimitHit bool) {
	DefaultMetrics.DailyPnL.Set(daily)
	DefaultMetrics.WeeklyPnL.Set(weekly)
	DefaultMetrics.WeeklyLimitHit.Set(boolGauge(weeklyLimitHit))
}

// RecordClosingFill records the outcome class of a closing fill.
func RecordClosingFill(realized float64) {
	outcome := "win"
	if realized < 0 {
		outcome = "loss"
	} else if realized == 0 {
		outcome = "flat"
	}
	DefaultMetrics.RealizedPnL.WithLabelValues(outcome).Inc()
}

// UpdatePosition updates the position gauge for a symbol.
func UpdatePosition(symbol string, qty int64) {
	DefaultMetrics.PositionQty.WithLabelValues(symbol).Set(float64(qty))
}

// RecordTickSuccess stamps the last successful active tick.
func RecordTickSuccess(unix int64) {
	DefaultMetrics.LastSuccessfulTick.Set(float64(unix))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
