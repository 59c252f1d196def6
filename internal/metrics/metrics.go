package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the strategy engine.
type Metrics struct {
	// Data acquisition
	ProviderRequests *prometheus.CounterVec   // labels: provider, outcome
	ProviderLatency  *prometheus.HistogramVec // labels: provider
	ProviderRetries  *prometheus.CounterVec   // labels: provider
	Fallbacks        *prometheus.CounterVec   // labels: from, reason
	PartialCoverage  *prometheus.CounterVec   // labels: provider
	DataUnavailable  *prometheus.CounterVec   // labels: kind=history|live
	BreakerState     *prometheus.GaugeVec     // labels: name; 0=closed, 1=open, 2=half-open
	BreakerTrips     *prometheus.CounterVec   // labels: name

	// Indicator engine
	IndicatorComputeDur prometheus.Histogram
	IndicatorRevisions  *prometheus.CounterVec // labels: symbol

	// Orders and positions
	OrderTransitions *prometheus.CounterVec // labels: status, mode
	OrderAnomalies   *prometheus.CounterVec // labels: kind
	PositionQty      *prometheus.GaugeVec   // labels: symbol
	RealizedPnL      *prometheus.GaugeVec   // labels: symbol
	UnrealizedPnL    *prometheus.GaugeVec   // labels: symbol

	// Strategy loop
	Cycles      *prometheus.CounterVec // labels: symbol, outcome
	MarketState prometheus.Gauge       // 0=closed, 1=open

	// Stores
	RedisPublishDur prometheus.Histogram
	SQLiteWriteDur  prometheus.Histogram
	OrderFeedUp     prometheus.Gauge
}

// New creates all metrics and registers them with reg. Tests pass a fresh
// prometheus.NewRegistry(); the engine passes prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nifty_provider_requests_total",
			Help: "Provider calls by outcome (ok or failure reason)",
		}, []string{"provider", "outcome"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nifty_provider_request_duration_seconds",
			Help:    "Provider call latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
		ProviderRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nifty_provider_retries_total",
			Help: "Retries of transient provider failures",
		}, []string{"provider"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nifty_provider_fallbacks_total",
			Help: "Times the engine moved past a provider",
		}, []string{"from", "reason"}),
		PartialCoverage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nifty_provider_partial_coverage_total",
			Help: "Successful fetches that left part of the range uncovered",
		}, []string{"provider"}),
		DataUnavailable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nifty_data_unavailable_total",
			Help: "Requests no provider could serve",
		}, []string{"kind"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nifty_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nifty_circuit_breaker_trips_total",
			Help: "Times a circuit breaker tripped open",
		}, []string{"name"}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nifty_indicator_compute_duration_seconds",
			Help:    "Indicator revision build latency",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		}),
		IndicatorRevisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nifty_indicator_revisions_total",
			Help: "Indicator revisions published",
		}, []string{"symbol"}),

		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nifty_order_transitions_total",
			Help: "Applied order state transitions by target status",
		}, []string{"status", "mode"}),
		OrderAnomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nifty_order_anomalies_total",
			Help: "Ignored or clamped order events",
		}, []string{"kind"}),
		PositionQty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nifty_position_quantity",
			Help: "Signed net position",
		}, []string{"symbol"}),
		RealizedPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nifty_position_realized_pnl",
			Help: "Realized P&L in rupees",
		}, []string{"symbol"}),
		UnrealizedPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nifty_position_unrealized_pnl",
			Help: "Unrealized P&L in rupees at the last mark",
		}, []string{"symbol"}),

		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nifty_strategy_cycles_total",
			Help: "Strategy loop cycles by outcome",
		}, []string{"symbol", "outcome"}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nifty_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),

		RedisPublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nifty_redis_publish_duration_seconds",
			Help:    "Redis publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nifty_sqlite_write_duration_seconds",
			Help:    "SQLite write latency",
			Buckets: prometheus.DefBuckets,
		}),
		OrderFeedUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nifty_order_feed_connected",
			Help: "Broker order-update feed connection (0/1)",
		}),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.ProviderRequests,
		m.ProviderLatency,
		m.ProviderRetries,
		m.Fallbacks,
		m.PartialCoverage,
		m.DataUnavailable,
		m.BreakerState,
		m.BreakerTrips,
		m.IndicatorComputeDur,
		m.IndicatorRevisions,
		m.OrderTransitions,
		m.OrderAnomalies,
		m.PositionQty,
		m.RealizedPnL,
		m.UnrealizedPnL,
		m.Cycles,
		m.MarketState,
		m.RedisPublishDur,
		m.SQLiteWriteDur,
		m.OrderFeedUp,
	)
	return m
}

// Discard returns metrics registered on a private registry, for tests and
// tools that don't expose /metrics.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
